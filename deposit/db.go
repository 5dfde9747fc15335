// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package deposit

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
)

// Layout
//
//   [ns]/p  address -> pending entries, each txid (32) | amount (8)
//   [ns]/b  address -> bound account
//   [ns]/r  account -> referral, written once

const pendingEntrySize = chainhash.HashSize + 8

var byteOrder = binary.BigEndian

var (
	bucketPending   = []byte("p")
	bucketBindings  = []byte("b")
	bucketReferrals = []byte("r")
)

// PendingDeposit is a verified deposit queued under its source address.
type PendingDeposit struct {
	TxHash  chainhash.Hash
	Balance btcutil.Amount
}

func valuePending(entries []PendingDeposit) []byte {
	v := make([]byte, len(entries)*pendingEntrySize)
	for i, e := range entries {
		off := i * pendingEntrySize
		copy(v[off:], e.TxHash[:])
		byteOrder.PutUint64(v[off+chainhash.HashSize:], uint64(e.Balance))
	}
	return v
}

func readPending(v []byte) ([]PendingDeposit, error) {
	if len(v)%pendingEntrySize != 0 {
		return nil, fmt.Errorf("pending record length %d is not a "+
			"multiple of %d", len(v), pendingEntrySize)
	}
	entries := make([]PendingDeposit, len(v)/pendingEntrySize)
	for i := range entries {
		off := i * pendingEntrySize
		copy(entries[i].TxHash[:], v[off:off+chainhash.HashSize])
		entries[i].Balance = btcutil.Amount(
			byteOrder.Uint64(v[off+chainhash.HashSize:]))
	}
	return entries, nil
}

func fetchPending(ns walletdb.ReadBucket, addr string) ([]PendingDeposit, error) {
	v := ns.NestedReadBucket(bucketPending).Get([]byte(addr))
	if v == nil {
		return nil, nil
	}
	entries, err := readPending(v)
	if err != nil {
		str := fmt.Sprintf("corrupt pending deposits for %s", addr)
		return nil, newError(ErrDatabase, str, err)
	}
	return entries, nil
}

func putPending(ns walletdb.ReadWriteBucket, addr string, entries []PendingDeposit) error {
	err := ns.NestedReadWriteBucket(bucketPending).Put([]byte(addr),
		valuePending(entries))
	if err != nil {
		str := fmt.Sprintf("failed to store pending deposits for %s", addr)
		return newError(ErrDatabase, str, err)
	}
	return nil
}

func deletePending(ns walletdb.ReadWriteBucket, addr string) error {
	err := ns.NestedReadWriteBucket(bucketPending).Delete([]byte(addr))
	if err != nil {
		str := fmt.Sprintf("failed to delete pending deposits for %s", addr)
		return newError(ErrDatabase, str, err)
	}
	return nil
}

func forEachPending(ns walletdb.ReadBucket,
	f func(addr string, entries []PendingDeposit) error) error {

	return ns.NestedReadBucket(bucketPending).ForEach(func(k, v []byte) error {
		entries, err := readPending(v)
		if err != nil {
			str := fmt.Sprintf("corrupt pending deposits for %s", k)
			return newError(ErrDatabase, str, err)
		}
		return f(string(k), entries)
	})
}

func fetchString(ns walletdb.ReadBucket, bucket []byte, key string) (string, bool) {
	v := ns.NestedReadBucket(bucket).Get([]byte(key))
	if v == nil {
		return "", false
	}
	return string(v), true
}

func putString(ns walletdb.ReadWriteBucket, bucket []byte, key, value string) error {
	err := ns.NestedReadWriteBucket(bucket).Put([]byte(key), []byte(value))
	if err != nil {
		str := fmt.Sprintf("failed to store %s under %s", key, bucket)
		return newError(ErrDatabase, str, err)
	}
	return nil
}

func createBuckets(ns walletdb.ReadWriteBucket) error {
	for _, name := range [][]byte{bucketPending, bucketBindings, bucketReferrals} {
		if _, err := ns.CreateBucketIfNotExists(name); err != nil {
			str := fmt.Sprintf("failed to create bucket %s", name)
			return newError(ErrDatabase, str, err)
		}
	}
	return nil
}

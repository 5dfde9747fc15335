// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerchain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
)

// Naming
//
// The following naming conventions are used in this file:
//
//   key*:    Function returning a db key
//   value*:  Function returning a db value
//   read*:   Function reading a db value into a Go type
//   put*:    Function writing a value into the db
//   fetch*:  Function reading a value from the db
//   delete*: Function removing a value from the db
//
// Every function takes the header chain namespace bucket.  Nested buckets
// are looked up by the functions themselves.
//
// Layout
//
//   [ns]/h  header hash -> 80 byte header | height (4) | chain work
//   [ns]/i  height      -> concatenated hashes of every header at height
//   [ns]/m  height      -> hash of the main chain header at height
//   [ns]    "best", "confirmed" -> hash (32) | height (4)

const (
	// LatestVersion is the most recent header store version.
	LatestVersion = 1

	headerRecordMinSize = wire.MaxBlockHeaderPayload + 4
	indexRecordSize     = chainhash.HashSize + 4
)

var byteOrder = binary.BigEndian

var (
	bucketHeaders   = []byte("h")
	bucketHeights   = []byte("i")
	bucketMainChain = []byte("m")

	rootVersion   = []byte("ver")
	rootBest      = []byte("best")
	rootConfirmed = []byte("confirmed")
)

func keyHeight(height uint32) []byte {
	k := make([]byte, 4)
	byteOrder.PutUint32(k, height)
	return k
}

func valueHeaderRecord(info *HeaderInfo) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(headerRecordMinSize + 32)
	if err := info.Header.Serialize(&buf); err != nil {
		return nil, err
	}
	var h [4]byte
	byteOrder.PutUint32(h[:], info.Height)
	buf.Write(h[:])
	buf.Write(info.Work.Bytes())
	return buf.Bytes(), nil
}

func readHeaderRecord(v []byte, info *HeaderInfo) error {
	if len(v) < headerRecordMinSize {
		return fmt.Errorf("short header record: %d bytes", len(v))
	}
	err := info.Header.Deserialize(bytes.NewReader(v[:wire.MaxBlockHeaderPayload]))
	if err != nil {
		return err
	}
	info.Height = byteOrder.Uint32(v[wire.MaxBlockHeaderPayload:headerRecordMinSize])
	info.Work = new(big.Int).SetBytes(v[headerRecordMinSize:])
	return nil
}

func putHeader(ns walletdb.ReadWriteBucket, info *HeaderInfo) error {
	v, err := valueHeaderRecord(info)
	if err != nil {
		str := "failed to serialize header"
		return chainError(ErrDatabase, str, err)
	}
	hash := info.Header.BlockHash()
	err = ns.NestedReadWriteBucket(bucketHeaders).Put(hash[:], v)
	if err != nil {
		str := fmt.Sprintf("failed to store header %v", hash)
		return chainError(ErrDatabase, str, err)
	}
	return nil
}

func existsHeader(ns walletdb.ReadBucket, hash *chainhash.Hash) bool {
	return ns.NestedReadBucket(bucketHeaders).Get(hash[:]) != nil
}

func fetchHeader(ns walletdb.ReadBucket, hash *chainhash.Hash) (*HeaderInfo, error) {
	v := ns.NestedReadBucket(bucketHeaders).Get(hash[:])
	if v == nil {
		str := fmt.Sprintf("header %v not found", hash)
		return nil, chainError(ErrHeaderNotFound, str, nil)
	}
	info := new(HeaderInfo)
	if err := readHeaderRecord(v, info); err != nil {
		str := fmt.Sprintf("corrupt header record for %v", hash)
		return nil, chainError(ErrDatabase, str, err)
	}
	return info, nil
}

// addHeightHash records hash as one of the headers at height.  Hashes are
// kept in insertion order.
func addHeightHash(ns walletdb.ReadWriteBucket, height uint32,
	hash *chainhash.Hash) error {

	bucket := ns.NestedReadWriteBucket(bucketHeights)
	k := keyHeight(height)
	old := bucket.Get(k)
	for i := 0; i+chainhash.HashSize <= len(old); i += chainhash.HashSize {
		if bytes.Equal(old[i:i+chainhash.HashSize], hash[:]) {
			return nil
		}
	}
	v := make([]byte, len(old), len(old)+chainhash.HashSize)
	copy(v, old)
	v = append(v, hash[:]...)
	if err := bucket.Put(k, v); err != nil {
		str := fmt.Sprintf("failed to index header at height %d", height)
		return chainError(ErrDatabase, str, err)
	}
	return nil
}

func fetchHeightHashes(ns walletdb.ReadBucket, height uint32) []chainhash.Hash {
	v := ns.NestedReadBucket(bucketHeights).Get(keyHeight(height))
	hashes := make([]chainhash.Hash, 0, len(v)/chainhash.HashSize)
	for i := 0; i+chainhash.HashSize <= len(v); i += chainhash.HashSize {
		var h chainhash.Hash
		copy(h[:], v[i:i+chainhash.HashSize])
		hashes = append(hashes, h)
	}
	return hashes
}

func putMainChain(ns walletdb.ReadWriteBucket, height uint32,
	hash *chainhash.Hash) error {

	err := ns.NestedReadWriteBucket(bucketMainChain).Put(keyHeight(height), hash[:])
	if err != nil {
		str := fmt.Sprintf("failed to mark main chain at height %d", height)
		return chainError(ErrDatabase, str, err)
	}
	return nil
}

func fetchMainChain(ns walletdb.ReadBucket, height uint32) (chainhash.Hash, bool) {
	var hash chainhash.Hash
	v := ns.NestedReadBucket(bucketMainChain).Get(keyHeight(height))
	if len(v) != chainhash.HashSize {
		return hash, false
	}
	copy(hash[:], v)
	return hash, true
}

func deleteMainChain(ns walletdb.ReadWriteBucket, height uint32) error {
	err := ns.NestedReadWriteBucket(bucketMainChain).Delete(keyHeight(height))
	if err != nil {
		str := fmt.Sprintf("failed to unmark main chain at height %d", height)
		return chainError(ErrDatabase, str, err)
	}
	return nil
}

func valueIndex(idx HeaderIndex) []byte {
	v := make([]byte, indexRecordSize)
	copy(v, idx.Hash[:])
	byteOrder.PutUint32(v[chainhash.HashSize:], idx.Height)
	return v
}

func readIndex(v []byte) (HeaderIndex, error) {
	var idx HeaderIndex
	if len(v) != indexRecordSize {
		return idx, fmt.Errorf("bad index record size %d", len(v))
	}
	copy(idx.Hash[:], v)
	idx.Height = byteOrder.Uint32(v[chainhash.HashSize:])
	return idx, nil
}

func putIndex(ns walletdb.ReadWriteBucket, key []byte, idx HeaderIndex) error {
	if err := ns.Put(key, valueIndex(idx)); err != nil {
		str := fmt.Sprintf("failed to store %s index", key)
		return chainError(ErrDatabase, str, err)
	}
	return nil
}

func fetchIndex(ns walletdb.ReadBucket, key []byte) (HeaderIndex, bool, error) {
	v := ns.Get(key)
	if v == nil {
		return HeaderIndex{}, false, nil
	}
	idx, err := readIndex(v)
	if err != nil {
		str := fmt.Sprintf("corrupt %s index", key)
		return idx, false, chainError(ErrDatabase, str, err)
	}
	return idx, true, nil
}

func putVersion(ns walletdb.ReadWriteBucket, version uint32) error {
	v := make([]byte, 4)
	byteOrder.PutUint32(v, version)
	if err := ns.Put(rootVersion, v); err != nil {
		return chainError(ErrDatabase, "failed to store version", err)
	}
	return nil
}

func createBuckets(ns walletdb.ReadWriteBucket) error {
	for _, name := range [][]byte{bucketHeaders, bucketHeights, bucketMainChain} {
		if _, err := ns.CreateBucketIfNotExists(name); err != nil {
			str := fmt.Sprintf("failed to create bucket %s", name)
			return chainError(ErrDatabase, str, err)
		}
	}
	return nil
}

// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcgateway/spv"
	"github.com/btcsuite/btcwallet/walletdb"
)

// Layout
//
//   headerchain/...   header chain store
//   deposit/...       deposit ledger
//   withdrawal/...    proposal slot
//   gateway/txstate   tx hash -> type (1) | height (4) | block hash (32)
//   gateway/params    name -> value (8)

var (
	namespaceHeaders    = []byte("headerchain")
	namespaceDeposits   = []byte("deposit")
	namespaceWithdrawal = []byte("withdrawal")
	namespaceGateway    = []byte("gateway")

	bucketTxState = []byte("txstate")
	bucketParams  = []byte("params")

	keyWithdrawalFee      = []byte("withdrawalfee")
	keyMinDeposit         = []byte("mindeposit")
	keyMaxWithdrawalCount = []byte("maxwithdrawalcount")

	byteOrder = binary.BigEndian
)

const txStateSize = 1 + 4 + chainhash.HashSize

// TxState records a processed transaction.  It carries no result: a push
// that fails rolls back entirely and the transaction may be relayed again,
// so a stored TxState always means the transaction was applied.
type TxState struct {
	Type      spv.TxType
	Height    uint32
	BlockHash chainhash.Hash
}

func valueTxState(s *TxState) []byte {
	v := make([]byte, txStateSize)
	v[0] = byte(s.Type)
	byteOrder.PutUint32(v[1:5], s.Height)
	copy(v[5:], s.BlockHash[:])
	return v
}

func readTxState(v []byte) (*TxState, error) {
	if len(v) != txStateSize {
		return nil, fmt.Errorf("tx state of %d bytes", len(v))
	}
	s := &TxState{Type: spv.TxType(v[0]), Height: byteOrder.Uint32(v[1:5])}
	copy(s.BlockHash[:], v[5:])
	return s, nil
}

func fetchTxState(ns walletdb.ReadBucket, hash *chainhash.Hash) (*TxState, error) {
	v := ns.NestedReadBucket(bucketTxState).Get(hash[:])
	if v == nil {
		return nil, nil
	}
	s, err := readTxState(v)
	if err != nil {
		str := fmt.Sprintf("corrupt state of transaction %v", hash)
		return nil, gatewayError(ErrDatabase, str, err)
	}
	return s, nil
}

// putTxState records the state of a transaction.  An existing record is
// never overwritten.
func putTxState(ns walletdb.ReadWriteBucket, hash *chainhash.Hash, s *TxState) error {
	b := ns.NestedReadWriteBucket(bucketTxState)
	if b.Get(hash[:]) != nil {
		str := fmt.Sprintf("transaction %v already processed", hash)
		return gatewayError(ErrAlreadyProcessed, str, nil)
	}
	if err := b.Put(hash[:], valueTxState(s)); err != nil {
		str := fmt.Sprintf("failed to store state of transaction %v", hash)
		return gatewayError(ErrDatabase, str, err)
	}
	return nil
}

// Params are the economic parameters set by the authority.
type Params struct {
	// WithdrawalFee is deducted from every withdrawal.
	WithdrawalFee btcutil.Amount

	// MinDeposit is the smallest deposit credited.
	MinDeposit btcutil.Amount

	// MaxWithdrawalCount bounds the withdrawals in one proposal.
	MaxWithdrawalCount uint32
}

func fetchUint64(b walletdb.ReadBucket, key []byte) (uint64, error) {
	v := b.Get(key)
	if len(v) != 8 {
		str := fmt.Sprintf("missing or corrupt parameter %s", key)
		return 0, gatewayError(ErrDatabase, str, nil)
	}
	return byteOrder.Uint64(v), nil
}

func putUint64(b walletdb.ReadWriteBucket, key []byte, value uint64) error {
	var v [8]byte
	byteOrder.PutUint64(v[:], value)
	if err := b.Put(key, v[:]); err != nil {
		str := fmt.Sprintf("failed to store parameter %s", key)
		return gatewayError(ErrDatabase, str, err)
	}
	return nil
}

func fetchParams(ns walletdb.ReadBucket) (*Params, error) {
	b := ns.NestedReadBucket(bucketParams)
	fee, err := fetchUint64(b, keyWithdrawalFee)
	if err != nil {
		return nil, err
	}
	minDeposit, err := fetchUint64(b, keyMinDeposit)
	if err != nil {
		return nil, err
	}
	count, err := fetchUint64(b, keyMaxWithdrawalCount)
	if err != nil {
		return nil, err
	}
	return &Params{
		WithdrawalFee:      btcutil.Amount(fee),
		MinDeposit:         btcutil.Amount(minDeposit),
		MaxWithdrawalCount: uint32(count),
	}, nil
}

func putParams(ns walletdb.ReadWriteBucket, p *Params) error {
	b := ns.NestedReadWriteBucket(bucketParams)
	if err := putUint64(b, keyWithdrawalFee, uint64(p.WithdrawalFee)); err != nil {
		return err
	}
	if err := putUint64(b, keyMinDeposit, uint64(p.MinDeposit)); err != nil {
		return err
	}
	return putUint64(b, keyMaxWithdrawalCount, uint64(p.MaxWithdrawalCount))
}

func createBuckets(ns walletdb.ReadWriteBucket) error {
	for _, key := range [][]byte{bucketTxState, bucketParams} {
		if _, err := ns.CreateBucketIfNotExists(key); err != nil {
			str := fmt.Sprintf("failed to create bucket %s", key)
			return gatewayError(ErrDatabase, str, err)
		}
	}
	return nil
}

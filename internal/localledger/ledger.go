// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package localledger implements the account ledger, withdrawal store and
// trustee registry the gateway consumes, on top of the gateway database.
// It serves standalone runs and tests in place of a host ledger.
package localledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/walletdb"
)

// Layout
//
//   localledger/balances     account -> amount (8)
//   localledger/withdrawals  id (4) -> state (1) | balance (8) |
//                            account length (1) | account | address
//   localledger/withdrawals  "nextid" -> next id (4)

var (
	// NamespaceKey is the top level bucket of the local ledger.
	NamespaceKey = []byte("localledger")

	bucketBalances    = []byte("balances")
	bucketWithdrawals = []byte("withdrawals")
	keyNextID         = []byte("nextid")

	byteOrder = binary.BigEndian
)

var (
	// ErrInsufficientBalance is returned when an account cannot cover a
	// withdrawal.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnknownWithdrawal is returned for a withdrawal id that was never
	// applied for.
	ErrUnknownWithdrawal = errors.New("unknown withdrawal")
)

// Create creates the local ledger buckets.  It is a no-op when they exist.
func Create(dbtx walletdb.ReadWriteTx) error {
	ns, err := dbtx.CreateTopLevelBucket(NamespaceKey)
	if err != nil {
		return err
	}
	if _, err := ns.CreateBucketIfNotExists(bucketBalances); err != nil {
		return err
	}
	_, err = ns.CreateBucketIfNotExists(bucketWithdrawals)
	return err
}

func bucket(dbtx walletdb.ReadTx, key []byte) (walletdb.ReadBucket, error) {
	ns := dbtx.ReadBucket(NamespaceKey)
	if ns == nil {
		return nil, errors.New("local ledger not created")
	}
	return ns.NestedReadBucket(key), nil
}

func rwBucket(dbtx walletdb.ReadWriteTx, key []byte) (walletdb.ReadWriteBucket, error) {
	ns := dbtx.ReadWriteBucket(NamespaceKey)
	if ns == nil {
		return nil, errors.New("local ledger not created")
	}
	return ns.NestedReadWriteBucket(key), nil
}

// Ledger keeps one BTC balance per account.
type Ledger struct{}

// Balance returns the balance of account.
func (Ledger) Balance(dbtx walletdb.ReadTx, account string) (btcutil.Amount, error) {
	b, err := bucket(dbtx, bucketBalances)
	if err != nil {
		return 0, err
	}
	v := b.Get([]byte(account))
	if v == nil {
		return 0, nil
	}
	return btcutil.Amount(byteOrder.Uint64(v)), nil
}

func (l Ledger) putBalance(dbtx walletdb.ReadWriteTx, account string,
	amount btcutil.Amount) error {

	b, err := rwBucket(dbtx, bucketBalances)
	if err != nil {
		return err
	}
	var v [8]byte
	byteOrder.PutUint64(v[:], uint64(amount))
	return b.Put([]byte(account), v[:])
}

// Deposit credits amount to account.
func (l Ledger) Deposit(dbtx walletdb.ReadWriteTx, account string,
	amount btcutil.Amount) error {

	if amount <= 0 {
		return fmt.Errorf("cannot deposit %v", amount)
	}
	balance, err := l.Balance(dbtx, account)
	if err != nil {
		return err
	}
	if err := l.putBalance(dbtx, account, balance+amount); err != nil {
		return err
	}
	log.Debugf("Deposited %v to %s", amount, account)
	return nil
}

// Withdraw debits amount from account.
func (l Ledger) Withdraw(dbtx walletdb.ReadWriteTx, account string,
	amount btcutil.Amount) error {

	if amount <= 0 {
		return fmt.Errorf("cannot withdraw %v", amount)
	}
	balance, err := l.Balance(dbtx, account)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: %s holds %v, withdrawing %v",
			ErrInsufficientBalance, account, balance, amount)
	}
	if err := l.putBalance(dbtx, account, balance-amount); err != nil {
		return err
	}
	log.Debugf("Withdrew %v from %s", amount, account)
	return nil
}

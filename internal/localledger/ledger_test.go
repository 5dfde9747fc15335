// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package localledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) walletdb.DB {
	t.Helper()

	db, err := walletdb.Create("bdb", filepath.Join(t.TempDir(), "ledger.db"),
		true, 10*time.Second, false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, walletdb.Update(db, Create))
	return db
}

func TestLedgerBalances(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	var l Ledger

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		require.NoError(t, l.Deposit(tx, "alice", 5000))
		require.NoError(t, l.Deposit(tx, "alice", 2500))
		require.NoError(t, l.Withdraw(tx, "alice", 1500))
		require.Error(t, l.Deposit(tx, "alice", 0))
		return nil
	})
	require.NoError(t, err)

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return l.Withdraw(tx, "alice", 10000)
	})
	require.True(t, errors.Is(err, ErrInsufficientBalance))

	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		balance, err := l.Balance(tx, "alice")
		require.NoError(t, err)
		require.Equal(t, btcutil.Amount(6000), balance)

		balance, err = l.Balance(tx, "nobody")
		require.NoError(t, err)
		require.Zero(t, balance)
		return nil
	})
	require.NoError(t, err)
}

func TestWithdrawalStore(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	params := &chaincfg.RegressionNetParams
	store := &WithdrawalStore{ChainParams: params}

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160([]byte("dest")),
		params)
	require.NoError(t, err)

	var first, second uint32
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		if err := store.Ledger.Deposit(tx, "bob", 300000); err != nil {
			return err
		}
		if first, err = store.Apply(tx, "bob", addr.EncodeAddress(), 100000); err != nil {
			return err
		}
		second, err = store.Apply(tx, "bob", addr.EncodeAddress(), 150000)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, uint32(0), first)
	require.Equal(t, uint32(1), second)

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := store.Apply(tx, "bob", addr.EncodeAddress(), 100000)
		return err
	})
	require.True(t, errors.Is(err, ErrInsufficientBalance))

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := store.Apply(tx, "bob", "bogus", 1000)
		return err
	})
	require.Error(t, err)

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		if err := store.SetState(tx, first, withdrawal.StateProcessing); err != nil {
			return err
		}
		return store.Cancel(tx, second)
	})
	require.NoError(t, err)

	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		rec, err := store.Record(tx, first)
		require.NoError(t, err)
		require.Equal(t, &withdrawal.Record{
			ID:      first,
			Account: "bob",
			Addr:    addr.EncodeAddress(),
			Balance: 100000,
			State:   withdrawal.StateProcessing,
		}, rec)

		applying, err := store.Applying(tx)
		require.NoError(t, err)
		require.Empty(t, applying)

		_, err = store.Record(tx, 7)
		require.True(t, errors.Is(err, ErrUnknownWithdrawal))

		balance, err := store.Ledger.Balance(tx, "bob")
		require.NoError(t, err)
		require.Equal(t, btcutil.Amount(200000), balance)
		return nil
	})
	require.NoError(t, err)

	// Only applying withdrawals can be canceled.
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return store.Cancel(tx, first)
	})
	require.Error(t, err)
}

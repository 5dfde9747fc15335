// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// The collaborators below receive the database transaction of the running
// entry point, so their writes commit or roll back along with the gateway's.

// AccountLedger is the host ledger holding account balances.
type AccountLedger interface {
	Deposit(dbtx walletdb.ReadWriteTx, account string, amount btcutil.Amount) error
}

// WithdrawalStore holds the withdrawal requests proposals pay out.
type WithdrawalStore interface {
	Record(dbtx walletdb.ReadTx, id uint32) (*withdrawal.Record, error)
	SetState(dbtx walletdb.ReadWriteTx, id uint32, state withdrawal.RecordState) error
}

// TrusteeRegistry supplies the trustee sets.
type TrusteeRegistry interface {
	Current(dbtx walletdb.ReadTx) (*withdrawal.TrusteeSet, error)
	Previous(dbtx walletdb.ReadTx) (fn.Option[*withdrawal.TrusteeSet], error)
}

// boundRecords binds a WithdrawalStore to a database transaction.
type boundRecords struct {
	dbtx  walletdb.ReadWriteTx
	store WithdrawalStore
}

func (r boundRecords) Record(id uint32) (*withdrawal.Record, error) {
	return r.store.Record(r.dbtx, id)
}

func (r boundRecords) SetState(id uint32, state withdrawal.RecordState) error {
	return r.store.SetState(r.dbtx, id, state)
}

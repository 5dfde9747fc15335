// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package gateway exposes the entry points of the Bitcoin gateway.
//
// Every entry point runs as a single database transaction over the header
// chain, the deposit ledger, the withdrawal proposal and the collaborators
// handed the transaction.  Either all of its effects are committed or the
// call fails and none are.
package gateway

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcgateway/deposit"
	"github.com/btcsuite/btcgateway/headerchain"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Config holds the components and collaborators of a Gateway.
type Config struct {
	DB          walletdb.DB
	ChainParams *chaincfg.Params

	Chain       *headerchain.Chain
	Deposits    *deposit.Ledger
	Coordinator *withdrawal.Coordinator

	Ledger      AccountLedger
	Withdrawals WithdrawalStore
	Trustees    TrusteeRegistry

	// Authority is the account allowed to call the override entry
	// points.
	Authority string

	// Params are stored by Create when the database holds none yet.
	Params Params
}

// Gateway is the Bitcoin gateway.
type Gateway struct {
	cfg Config

	// mtx serializes entry points.
	mtx sync.Mutex
}

// New returns a Gateway.  Create must have run against the database once.
func New(cfg *Config) *Gateway {
	return &Gateway{cfg: *cfg}
}

// Create initializes the database with the trusted start header and the
// configured parameters.  Existing state is left untouched.
func (g *Gateway) Create(start *wire.BlockHeader, height uint32) error {
	return g.update(func(dbtx walletdb.ReadWriteTx) error {
		headers, err := dbtx.CreateTopLevelBucket(namespaceHeaders)
		if err != nil {
			return gatewayError(ErrDatabase, "create header namespace", err)
		}
		if err := g.cfg.Chain.Create(headers, start, height); err != nil {
			return err
		}

		deposits, err := dbtx.CreateTopLevelBucket(namespaceDeposits)
		if err != nil {
			return gatewayError(ErrDatabase, "create deposit namespace", err)
		}
		if err := g.cfg.Deposits.Create(deposits); err != nil {
			return err
		}

		if _, err := dbtx.CreateTopLevelBucket(namespaceWithdrawal); err != nil {
			return gatewayError(ErrDatabase, "create withdrawal namespace", err)
		}

		ns, err := dbtx.CreateTopLevelBucket(namespaceGateway)
		if err != nil {
			return gatewayError(ErrDatabase, "create gateway namespace", err)
		}
		if err := createBuckets(ns); err != nil {
			return err
		}
		if _, err := fetchParams(ns); err == nil {
			return nil
		}
		return putParams(ns, &g.cfg.Params)
	})
}

// update runs f in a read-write transaction.  The header cache is dropped
// when the transaction rolls back.
func (g *Gateway) update(f func(dbtx walletdb.ReadWriteTx) error) error {
	err := walletdb.Update(g.cfg.DB, f)
	if err != nil {
		g.cfg.Chain.ResetCache()
	}
	return err
}

func (g *Gateway) view(f func(dbtx walletdb.ReadTx) error) error {
	return walletdb.View(g.cfg.DB, f)
}

// namespaces are the buckets of one database transaction.
type namespaces struct {
	headers    walletdb.ReadWriteBucket
	deposits   walletdb.ReadWriteBucket
	withdrawal walletdb.ReadWriteBucket
	gateway    walletdb.ReadWriteBucket
}

func rwNamespaces(dbtx walletdb.ReadWriteTx) namespaces {
	return namespaces{
		headers:    dbtx.ReadWriteBucket(namespaceHeaders),
		deposits:   dbtx.ReadWriteBucket(namespaceDeposits),
		withdrawal: dbtx.ReadWriteBucket(namespaceWithdrawal),
		gateway:    dbtx.ReadWriteBucket(namespaceGateway),
	}
}

// isAuthority checks caller against the configured authority.
func (g *Gateway) isAuthority(caller string) error {
	if g.cfg.Authority == "" || caller != g.cfg.Authority {
		return gatewayError(ErrUnauthorized,
			caller+" is not the gateway authority", nil)
	}
	return nil
}

// BestIndex returns the best header index.
func (g *Gateway) BestIndex() (headerchain.HeaderIndex, error) {
	var idx headerchain.HeaderIndex
	err := g.view(func(dbtx walletdb.ReadTx) error {
		var err error
		idx, err = g.cfg.Chain.BestIndex(dbtx.ReadBucket(namespaceHeaders))
		return err
	})
	return idx, err
}

// ConfirmedIndex returns the confirmed header index, if one was set.
func (g *Gateway) ConfirmedIndex() (fn.Option[headerchain.HeaderIndex], error) {
	idx := fn.None[headerchain.HeaderIndex]()
	err := g.view(func(dbtx walletdb.ReadTx) error {
		confirmed, ok, err := g.cfg.Chain.ConfirmedIndex(
			dbtx.ReadBucket(namespaceHeaders))
		if ok {
			idx = fn.Some(confirmed)
		}
		return err
	})
	return idx, err
}

// Header returns the stored header with the given hash.
func (g *Gateway) Header(hash *chainhash.Hash) (*headerchain.HeaderInfo, error) {
	var info *headerchain.HeaderInfo
	err := g.view(func(dbtx walletdb.ReadTx) error {
		var err error
		info, err = g.cfg.Chain.Header(dbtx.ReadBucket(namespaceHeaders), hash)
		return err
	})
	return info, err
}

// HeaderByHeight returns the main chain header at height.
func (g *Gateway) HeaderByHeight(height uint32) (*headerchain.HeaderInfo, error) {
	var info *headerchain.HeaderInfo
	err := g.view(func(dbtx walletdb.ReadTx) error {
		var err error
		info, err = g.cfg.Chain.HeaderByHeight(
			dbtx.ReadBucket(namespaceHeaders), height)
		return err
	})
	return info, err
}

// TxState returns the state of a processed transaction.
func (g *Gateway) TxState(hash *chainhash.Hash) (fn.Option[*TxState], error) {
	state := fn.None[*TxState]()
	err := g.view(func(dbtx walletdb.ReadTx) error {
		s, err := fetchTxState(dbtx.ReadBucket(namespaceGateway), hash)
		if s != nil {
			state = fn.Some(s)
		}
		return err
	})
	return state, err
}

// Proposal returns the outstanding withdrawal proposal.
func (g *Gateway) Proposal() (fn.Option[*withdrawal.Proposal], error) {
	p := fn.None[*withdrawal.Proposal]()
	err := g.view(func(dbtx walletdb.ReadTx) error {
		var err error
		p, err = g.cfg.Coordinator.Proposal(dbtx.ReadBucket(namespaceWithdrawal))
		return err
	})
	return p, err
}

// PendingDeposits returns the deposits queued under addr.
func (g *Gateway) PendingDeposits(addr string) ([]deposit.PendingDeposit, error) {
	var entries []deposit.PendingDeposit
	err := g.view(func(dbtx walletdb.ReadTx) error {
		var err error
		entries, err = g.cfg.Deposits.Pending(
			dbtx.ReadBucket(namespaceDeposits), addr)
		return err
	})
	return entries, err
}

// Binding returns the account addr is bound to.
func (g *Gateway) Binding(addr string) (fn.Option[string], error) {
	account := fn.None[string]()
	err := g.view(func(dbtx walletdb.ReadTx) error {
		account = g.cfg.Deposits.Binding(dbtx.ReadBucket(namespaceDeposits),
			addr)
		return nil
	})
	return account, err
}

// Params returns the economic parameters.
func (g *Gateway) Params() (*Params, error) {
	var p *Params
	err := g.view(func(dbtx walletdb.ReadTx) error {
		var err error
		p, err = fetchParams(dbtx.ReadBucket(namespaceGateway))
		return err
	})
	return p, err
}

// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcgateway/deposit"
	"github.com/btcsuite/btcgateway/headerchain"
	"github.com/btcsuite/btcgateway/spv"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// PushHeader decodes an 80 byte block header and inserts it into the header
// chain.  Any caller may push headers.
func (g *Gateway) PushHeader(caller string, b []byte) (*headerchain.HeaderInfo, error) {
	var header wire.BlockHeader
	r := bytes.NewReader(b)
	if err := header.Deserialize(r); err != nil {
		return nil, gatewayError(ErrDeserialize, "cannot decode header", err)
	}
	if r.Len() != 0 {
		str := fmt.Sprintf("%d trailing bytes after header", r.Len())
		return nil, gatewayError(ErrDeserialize, str, nil)
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	var info *headerchain.HeaderInfo
	err := g.update(func(dbtx walletdb.ReadWriteTx) error {
		var err error
		info, err = g.cfg.Chain.InsertHeader(
			dbtx.ReadWriteBucket(namespaceHeaders), &header)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("Header %d (%v) pushed by %s", info.Height,
		header.BlockHash(), caller)
	return info, nil
}

// detector builds a classifier for the registered trustee sets.
func (g *Gateway) detector(dbtx walletdb.ReadTx) (*spv.Detector, error) {
	current, err := g.cfg.Trustees.Current(dbtx)
	if err != nil {
		return nil, err
	}
	previous, err := g.cfg.Trustees.Previous(dbtx)
	if err != nil {
		return nil, err
	}
	prevPair := fn.None[spv.TrusteePair]()
	previous.WhenSome(func(s *withdrawal.TrusteeSet) {
		prevPair = fn.Some(spv.TrusteePair{
			Hot:  s.Hot.Address,
			Cold: s.Cold.Address,
		})
	})
	return spv.NewDetector(g.cfg.ChainParams, spv.TrusteePair{
		Hot:  current.Hot.Address,
		Cold: current.Cold.Address,
	}, prevPair)
}

// PushTransaction verifies a relayed transaction against the confirmed
// header chain and applies it: deposits are credited or queued, and a
// settlement of the outstanding proposal finishes its withdrawals.  prevTx,
// when not nil, is the transaction spent by the first input.  A transaction
// is processed at most once.
func (g *Gateway) PushTransaction(caller string, txBytes []byte,
	info spv.RelayedTxInfo, prevTxBytes []byte) (*TxState, error) {

	tx, err := spv.DecodeTx(txBytes)
	if err != nil {
		return nil, err
	}
	var prevTx *wire.MsgTx
	if prevTxBytes != nil {
		prevTx, err = spv.DecodeTx(prevTxBytes)
		if err != nil {
			return nil, err
		}
	}
	txHash := tx.TxHash()

	g.mtx.Lock()
	defer g.mtx.Unlock()

	var state *TxState
	err = g.update(func(dbtx walletdb.ReadWriteTx) error {
		ns := rwNamespaces(dbtx)

		header, err := g.cfg.Chain.Header(ns.headers, &info.BlockHash)
		if headerchain.IsError(err, headerchain.ErrHeaderNotFound) {
			str := fmt.Sprintf("block %v of transaction %v is unknown",
				info.BlockHash, txHash)
			return gatewayError(ErrUnknownBlock, str, err)
		}
		if err != nil {
			return err
		}

		if err := spv.Verify(tx, info.Proof, &header.Header.MerkleRoot); err != nil {
			return err
		}

		confirmed, ok, err := g.cfg.Chain.ConfirmedIndex(ns.headers)
		if err != nil {
			return err
		}
		if !g.cfg.Chain.IsMainChain(ns.headers, &info.BlockHash) ||
			!ok || header.Height > confirmed.Height {

			str := fmt.Sprintf("block %d (%v) is not a confirmed main "+
				"chain block", header.Height, info.BlockHash)
			return gatewayError(ErrUnknownBlock, str, nil)
		}

		existing, err := fetchTxState(ns.gateway, &txHash)
		if err != nil {
			return err
		}
		if existing != nil {
			str := fmt.Sprintf("transaction %v already processed as %v",
				txHash, existing.Type)
			return gatewayError(ErrAlreadyProcessed, str, nil)
		}

		detector, err := g.detector(dbtx)
		if err != nil {
			return err
		}
		slot, err := g.cfg.Coordinator.Proposal(ns.withdrawal)
		if err != nil {
			return err
		}
		var outpoints []wire.OutPoint
		slot.WhenSome(func(p *withdrawal.Proposal) {
			outpoints = p.Outpoints()
		})
		class, err := detector.Classify(tx, prevTx, outpoints)
		if err != nil {
			return err
		}

		if err := g.apply(dbtx, ns, tx, class); err != nil {
			str := fmt.Sprintf("cannot process %v transaction %v",
				class.Type, txHash)
			return gatewayError(ErrProcessTxFailed, str, err)
		}

		state = &TxState{
			Type:      class.Type,
			Height:    header.Height,
			BlockHash: info.BlockHash,
		}
		return putTxState(ns.gateway, &txHash, state)
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Processed %v transaction %v from block %d, relayed by %s",
		state.Type, txHash, state.Height, caller)
	return state, nil
}

// apply carries out the effects of a classified transaction.
func (g *Gateway) apply(dbtx walletdb.ReadWriteTx, ns namespaces,
	tx *wire.MsgTx, class *spv.Classification) error {

	switch class.Type {
	case spv.Deposit:
		params, err := fetchParams(ns.gateway)
		if err != nil {
			return err
		}
		_, err = g.cfg.Deposits.Credit(ns.deposits, g.crediter(dbtx),
			&deposit.Deposit{
				TxHash:   tx.TxHash(),
				Value:    class.DepositValue,
				OpReturn: class.OpReturn,
				Source:   class.InputAddr,
			}, params.MinDeposit)
		return err

	case spv.Withdrawal:
		_, err := g.cfg.Coordinator.Settle(ns.withdrawal,
			boundRecords{dbtx: dbtx, store: g.cfg.Withdrawals}, tx)
		switch {
		// The spend is final on chain, so it is recorded even though no
		// withdrawal can be finished by it.
		case withdrawal.IsError(err, withdrawal.ErrNoProposal),
			withdrawal.IsError(err, withdrawal.ErrMismatchedTx):

			log.Errorf("Trustee spend %v settles no proposal: %v",
				tx.TxHash(), err)
			return nil
		}
		return err

	case spv.HotAndCold:
		log.Infof("Trustee hot/cold transfer %v", tx.TxHash())

	case spv.TrusteeTransition:
		log.Infof("Trustee transition %v moved funds to the current "+
			"trustees", tx.TxHash())

	default:
		log.Debugf("Ignoring irrelevant transaction %v", tx.TxHash())
	}
	return nil
}

// crediter binds the account ledger to a database transaction.
func (g *Gateway) crediter(dbtx walletdb.ReadWriteTx) deposit.Crediter {
	return deposit.CrediterFunc(func(account string, amount btcutil.Amount) error {
		return g.cfg.Ledger.Deposit(dbtx, account, amount)
	})
}

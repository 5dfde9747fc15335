// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcgateway/spv"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// decodeSettlement decodes a settlement transaction and the outputs it
// spends.
func decodeSettlement(txBytes, spentBytes []byte) (*wire.MsgTx, []*wire.TxOut, error) {
	tx, err := spv.DecodeTx(txBytes)
	if err != nil {
		return nil, nil, gatewayError(ErrDeserialize,
			"cannot decode settlement transaction", err)
	}
	spent, err := withdrawal.DeserializeSpentOutputs(spentBytes)
	if err != nil {
		return nil, nil, gatewayError(ErrDeserialize,
			"cannot decode spent outputs", err)
	}
	return tx, spent, nil
}

// trusteeSet returns the current trustee set, which must contain caller.
func (g *Gateway) trusteeSet(dbtx walletdb.ReadTx, caller string) (*withdrawal.TrusteeSet, error) {
	set, err := g.cfg.Trustees.Current(dbtx)
	if err != nil {
		return nil, err
	}
	if !set.Contains(caller) {
		str := fmt.Sprintf("%s is not a current trustee", caller)
		return nil, gatewayError(ErrUnauthorized, str, nil)
	}
	return set, nil
}

// CreateWithdrawTx starts a withdrawal proposal paying the withdrawals ids
// with the settlement transaction tx.  spentBytes holds the output spent by
// each input, encoded by withdrawal.SerializeSpentOutputs.  Trustees only.
func (g *Gateway) CreateWithdrawTx(caller string, ids []uint32, txBytes,
	spentBytes []byte) (*withdrawal.Proposal, error) {

	tx, spent, err := decodeSettlement(txBytes, spentBytes)
	if err != nil {
		return nil, err
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	var p *withdrawal.Proposal
	err = g.update(func(dbtx walletdb.ReadWriteTx) error {
		set, err := g.trusteeSet(dbtx, caller)
		if err != nil {
			return err
		}
		ns := rwNamespaces(dbtx)
		params, err := fetchParams(ns.gateway)
		if err != nil {
			return err
		}
		p, err = g.cfg.Coordinator.Create(ns.withdrawal,
			boundRecords{dbtx: dbtx, store: g.cfg.Withdrawals}, set,
			caller, ids, tx, spent, withdrawal.Limits{
				WithdrawalFee:      params.WithdrawalFee,
				MaxWithdrawalCount: params.MaxWithdrawalCount,
			})
		return err
	})
	return p, err
}

// SignWithdrawTx records the vote of a trustee on the outstanding proposal.
// signedTx carries the previous signatures plus the caller's; nil rejects
// the proposal.  The result is None when the rejection dropped the
// proposal.  Trustees only.
func (g *Gateway) SignWithdrawTx(caller string,
	signedTx []byte) (fn.Option[*withdrawal.Proposal], error) {

	none := fn.None[*withdrawal.Proposal]()
	signed := fn.None[*wire.MsgTx]()
	if signedTx != nil {
		tx, err := spv.DecodeTx(signedTx)
		if err != nil {
			return none, gatewayError(ErrDeserialize,
				"cannot decode signed transaction", err)
		}
		signed = fn.Some(tx)
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	p := none
	err := g.update(func(dbtx walletdb.ReadWriteTx) error {
		set, err := g.trusteeSet(dbtx, caller)
		if err != nil {
			return err
		}
		p, err = g.cfg.Coordinator.Sign(
			dbtx.ReadWriteBucket(namespaceWithdrawal),
			boundRecords{dbtx: dbtx, store: g.cfg.Withdrawals}, set,
			caller, signed)
		return err
	})
	return p, err
}

// RemoveProposal drops the outstanding proposal whatever its state.  Its
// withdrawals return to Applying.  Authority only.
func (g *Gateway) RemoveProposal(caller string) error {
	if err := g.isAuthority(caller); err != nil {
		return err
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	return g.update(func(dbtx walletdb.ReadWriteTx) error {
		return g.cfg.Coordinator.Remove(
			dbtx.ReadWriteBucket(namespaceWithdrawal),
			boundRecords{dbtx: dbtx, store: g.cfg.Withdrawals})
	})
}

// ForceReplaceProposalTx swaps the proposal transaction for one paying the
// same outputs, discarding the votes collected so far.  Authority only.
func (g *Gateway) ForceReplaceProposalTx(caller string, txBytes,
	spentBytes []byte) (*withdrawal.Proposal, error) {

	if err := g.isAuthority(caller); err != nil {
		return nil, err
	}
	tx, spent, err := decodeSettlement(txBytes, spentBytes)
	if err != nil {
		return nil, err
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	var p *withdrawal.Proposal
	err = g.update(func(dbtx walletdb.ReadWriteTx) error {
		set, err := g.cfg.Trustees.Current(dbtx)
		if err != nil {
			return err
		}
		p, err = g.cfg.Coordinator.ForceReplace(
			dbtx.ReadWriteBucket(namespaceWithdrawal), set, tx, spent)
		return err
	})
	return p, err
}

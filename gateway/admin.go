// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcgateway/headerchain"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// SetBestIndex overrides the best header index.  Authority only.
func (g *Gateway) SetBestIndex(caller string, idx headerchain.HeaderIndex) error {
	if err := g.isAuthority(caller); err != nil {
		return err
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	return g.update(func(dbtx walletdb.ReadWriteTx) error {
		return g.cfg.Chain.SetBestIndex(
			dbtx.ReadWriteBucket(namespaceHeaders), idx)
	})
}

// SetConfirmedIndex overrides the confirmed header index.  Authority only.
func (g *Gateway) SetConfirmedIndex(caller string, idx headerchain.HeaderIndex) error {
	if err := g.isAuthority(caller); err != nil {
		return err
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	return g.update(func(dbtx walletdb.ReadWriteTx) error {
		return g.cfg.Chain.SetConfirmedIndex(
			dbtx.ReadWriteBucket(namespaceHeaders), idx)
	})
}

// RemovePending resolves the deposits queued under addr.  With an account
// they are credited to it, otherwise they are discarded.  The amount
// resolved is returned.  Authority only.
func (g *Gateway) RemovePending(caller, addr string,
	account fn.Option[string]) (btcutil.Amount, error) {

	if err := g.isAuthority(caller); err != nil {
		return 0, err
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	var total btcutil.Amount
	err := g.update(func(dbtx walletdb.ReadWriteTx) error {
		ns := dbtx.ReadWriteBucket(namespaceDeposits)
		if account.IsSome() {
			var err error
			total, err = g.cfg.Deposits.DrainPending(ns, g.crediter(dbtx),
				addr, account.UnwrapOr(""))
			return err
		}

		removed, err := g.cfg.Deposits.RemovePending(ns, addr)
		for _, e := range removed {
			total += e.Balance
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// BindAddress binds a source address to an account and credits the
// deposits queued under it.  Authority only.
func (g *Gateway) BindAddress(caller, addr, account string) (btcutil.Amount, error) {
	if err := g.isAuthority(caller); err != nil {
		return 0, err
	}
	if _, err := btcutil.DecodeAddress(addr, g.cfg.ChainParams); err != nil {
		str := fmt.Sprintf("invalid address %q", addr)
		return 0, gatewayError(ErrDeserialize, str, err)
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	var total btcutil.Amount
	err := g.update(func(dbtx walletdb.ReadWriteTx) error {
		var err error
		total, err = g.cfg.Deposits.Bind(
			dbtx.ReadWriteBucket(namespaceDeposits), g.crediter(dbtx),
			addr, account)
		return err
	})
	return total, err
}

// updateParams applies f to the stored parameters.
func (g *Gateway) updateParams(f func(p *Params)) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	return g.update(func(dbtx walletdb.ReadWriteTx) error {
		ns := dbtx.ReadWriteBucket(namespaceGateway)
		p, err := fetchParams(ns)
		if err != nil {
			return err
		}
		f(p)
		return putParams(ns, p)
	})
}

// SetWithdrawalFee sets the fee deducted from every withdrawal.  Authority
// only.
func (g *Gateway) SetWithdrawalFee(caller string, fee btcutil.Amount) error {
	if err := g.isAuthority(caller); err != nil {
		return err
	}
	if fee < 0 {
		str := fmt.Sprintf("negative withdrawal fee %v", fee)
		return gatewayError(ErrInvalidParam, str, nil)
	}
	log.Infof("Withdrawal fee set to %v", fee)
	return g.updateParams(func(p *Params) { p.WithdrawalFee = fee })
}

// SetDepositLimit sets the minimum deposit.  Authority only.
func (g *Gateway) SetDepositLimit(caller string, minDeposit btcutil.Amount) error {
	if err := g.isAuthority(caller); err != nil {
		return err
	}
	if minDeposit < 0 {
		str := fmt.Sprintf("negative deposit limit %v", minDeposit)
		return gatewayError(ErrInvalidParam, str, nil)
	}
	log.Infof("Minimum deposit set to %v", minDeposit)
	return g.updateParams(func(p *Params) { p.MinDeposit = minDeposit })
}

// SetMaxWithdrawalCount bounds the withdrawals in one proposal.  Authority
// only.
func (g *Gateway) SetMaxWithdrawalCount(caller string, count uint32) error {
	if err := g.isAuthority(caller); err != nil {
		return err
	}
	if count == 0 {
		return gatewayError(ErrInvalidParam,
			"withdrawal count limit must be positive", nil)
	}
	log.Infof("Withdrawal count limit set to %d", count)
	return g.updateParams(func(p *Params) { p.MaxWithdrawalCount = count })
}

// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package deposit credits verified deposits to ledger accounts.
//
// A deposit is credited to the account named by its null data output, or
// else to the account its source address is bound to.  Deposits from
// unbound addresses are queued under the address until it is bound or an
// authority drains the queue.
package deposit

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultMinDeposit is the smallest deposit accepted unless configured
// otherwise.
const DefaultMinDeposit btcutil.Amount = 100000

// Crediter credits an amount to a ledger account.
type Crediter interface {
	Credit(account string, amount btcutil.Amount) error
}

// CrediterFunc is an adapter to allow the use of ordinary functions as a
// Crediter.
type CrediterFunc func(account string, amount btcutil.Amount) error

// Credit calls f(account, amount).
func (f CrediterFunc) Credit(account string, amount btcutil.Amount) error {
	return f(account, amount)
}

// Deposit is a verified transaction paying the trustee hot address.
type Deposit struct {
	TxHash   chainhash.Hash
	Value    btcutil.Amount
	OpReturn fn.Option[[]byte]
	Source   fn.Option[btcutil.Address]
}

// Result describes what was done with a deposit.
type Result struct {
	// Account is the credited account, None when the deposit was queued.
	Account fn.Option[string]

	// Credited is the total credited, queued deposits drained into the
	// account included.
	Credited btcutil.Amount
}

// Ledger is the deposit ledger.  Like the header chain, every method takes
// the namespace bucket of the caller's transaction.
type Ledger struct {
	extractor AccountExtractor
}

// New returns a Ledger using extractor to parse null data payloads.  A nil
// extractor selects DefaultExtractor.
func New(extractor AccountExtractor) *Ledger {
	if extractor == nil {
		extractor = DefaultExtractor
	}
	return &Ledger{extractor: extractor}
}

// Create creates the ledger buckets in ns.
func (l *Ledger) Create(ns walletdb.ReadWriteBucket) error {
	return createBuckets(ns)
}

// Credit credits or queues a deposit.
func (l *Ledger) Credit(ns walletdb.ReadWriteBucket, c Crediter, d *Deposit,
	minDeposit btcutil.Amount) (*Result, error) {

	if d.Value < minDeposit {
		str := fmt.Sprintf("deposit %v of %v is below the minimum of %v",
			d.TxHash, d.Value, minDeposit)
		return nil, newError(ErrDepositTooLow, str, nil)
	}

	var source string
	d.Source.WhenSome(func(a btcutil.Address) {
		source = a.EncodeAddress()
	})

	var (
		info  AccountInfo
		named bool
	)
	d.OpReturn.WhenSome(func(payload []byte) {
		info, named = l.extractor.ExtractAccount(payload)
	})

	switch {
	case named:
		credited := d.Value
		if source != "" {
			drained, err := l.drain(ns, c, source, info.Account)
			if err != nil {
				return nil, err
			}
			credited += drained
			if err := l.bind(ns, source, info.Account); err != nil {
				return nil, err
			}
		}
		if err := l.setReferral(ns, info); err != nil {
			return nil, err
		}
		if err := c.Credit(info.Account, d.Value); err != nil {
			return nil, err
		}
		log.Infof("Credited deposit %v of %v to %s", d.TxHash, d.Value,
			info.Account)
		return &Result{Account: fn.Some(info.Account), Credited: credited}, nil

	case source == "":
		str := fmt.Sprintf("deposit %v names no account and has no "+
			"known source address", d.TxHash)
		return nil, newError(ErrNoSourceAddress, str, nil)
	}

	if account, ok := fetchString(ns, bucketBindings, source); ok {
		if err := c.Credit(account, d.Value); err != nil {
			return nil, err
		}
		log.Infof("Credited deposit %v of %v to %s bound to %s",
			d.TxHash, d.Value, account, source)
		return &Result{Account: fn.Some(account), Credited: d.Value}, nil
	}

	if err := l.queue(ns, source, d); err != nil {
		return nil, err
	}
	log.Infof("Queued deposit %v of %v from unbound address %s",
		d.TxHash, d.Value, source)
	return &Result{Account: fn.None[string]()}, nil
}

func (l *Ledger) queue(ns walletdb.ReadWriteBucket, source string, d *Deposit) error {
	entries, err := fetchPending(ns, source)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.TxHash == d.TxHash {
			str := fmt.Sprintf("deposit %v is already queued under %s",
				d.TxHash, source)
			return newError(ErrDuplicatePending, str, nil)
		}
	}
	entries = append(entries, PendingDeposit{TxHash: d.TxHash, Balance: d.Value})
	return putPending(ns, source, entries)
}

func (l *Ledger) drain(ns walletdb.ReadWriteBucket, c Crediter, addr,
	account string) (btcutil.Amount, error) {

	entries, err := fetchPending(ns, addr)
	if err != nil || len(entries) == 0 {
		return 0, err
	}
	var total btcutil.Amount
	for _, e := range entries {
		total += e.Balance
	}
	if err := c.Credit(account, total); err != nil {
		return 0, err
	}
	if err := deletePending(ns, addr); err != nil {
		return 0, err
	}
	log.Infof("Drained %d pending deposits (%v) from %s to %s",
		len(entries), total, addr, account)
	return total, nil
}

func (l *Ledger) bind(ns walletdb.ReadWriteBucket, addr, account string) error {
	if old, ok := fetchString(ns, bucketBindings, addr); ok && old == account {
		return nil
	} else if ok {
		log.Infof("Rebinding %s from %s to %s", addr, old, account)
	}
	return putString(ns, bucketBindings, addr, account)
}

func (l *Ledger) setReferral(ns walletdb.ReadWriteBucket, info AccountInfo) error {
	var referral string
	info.Referral.WhenSome(func(r string) { referral = r })
	if referral == "" || referral == info.Account {
		return nil
	}
	if _, ok := fetchString(ns, bucketReferrals, info.Account); ok {
		return nil
	}
	return putString(ns, bucketReferrals, info.Account, referral)
}

// DrainPending credits every deposit queued under addr to account and
// clears the queue.
func (l *Ledger) DrainPending(ns walletdb.ReadWriteBucket, c Crediter, addr,
	account string) (btcutil.Amount, error) {

	if err := ValidateAccount(account); err != nil {
		return 0, err
	}
	entries, err := fetchPending(ns, addr)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		str := fmt.Sprintf("no pending deposits for %s", addr)
		return 0, newError(ErrNoPending, str, nil)
	}
	return l.drain(ns, c, addr, account)
}

// RemovePending discards the deposits queued under addr without crediting
// them and returns what was discarded.
func (l *Ledger) RemovePending(ns walletdb.ReadWriteBucket, addr string) ([]PendingDeposit, error) {
	entries, err := fetchPending(ns, addr)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		str := fmt.Sprintf("no pending deposits for %s", addr)
		return nil, newError(ErrNoPending, str, nil)
	}
	if err := deletePending(ns, addr); err != nil {
		return nil, err
	}
	log.Warnf("Discarded %d pending deposits from %s", len(entries), addr)
	return entries, nil
}

// Bind binds addr to account and credits the deposits queued under addr.
func (l *Ledger) Bind(ns walletdb.ReadWriteBucket, c Crediter, addr,
	account string) (btcutil.Amount, error) {

	if err := ValidateAccount(account); err != nil {
		return 0, err
	}
	if err := l.bind(ns, addr, account); err != nil {
		return 0, err
	}
	return l.drain(ns, c, addr, account)
}

// Binding returns the account addr is bound to.
func (l *Ledger) Binding(ns walletdb.ReadBucket, addr string) fn.Option[string] {
	if account, ok := fetchString(ns, bucketBindings, addr); ok {
		return fn.Some(account)
	}
	return fn.None[string]()
}

// Referral returns the referral recorded for account.
func (l *Ledger) Referral(ns walletdb.ReadBucket, account string) fn.Option[string] {
	if referral, ok := fetchString(ns, bucketReferrals, account); ok {
		return fn.Some(referral)
	}
	return fn.None[string]()
}

// Pending returns the deposits queued under addr.
func (l *Ledger) Pending(ns walletdb.ReadBucket, addr string) ([]PendingDeposit, error) {
	return fetchPending(ns, addr)
}

// ForEachPending calls f for every address with queued deposits.
func (l *Ledger) ForEachPending(ns walletdb.ReadBucket,
	f func(addr string, entries []PendingDeposit) error) error {

	return forEachPending(ns, f)
}

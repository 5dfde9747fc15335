// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package localledger

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

func keyID(id uint32) []byte {
	var k [4]byte
	byteOrder.PutUint32(k[:], id)
	return k[:]
}

func valueRecord(rec *withdrawal.Record) []byte {
	v := make([]byte, 10, 10+len(rec.Account)+len(rec.Addr))
	v[0] = byte(rec.State)
	byteOrder.PutUint64(v[1:9], uint64(rec.Balance))
	v[9] = byte(len(rec.Account))
	v = append(v, rec.Account...)
	return append(v, rec.Addr...)
}

func readRecord(id uint32, v []byte) (*withdrawal.Record, error) {
	if len(v) < 10 || len(v) < 10+int(v[9]) {
		return nil, fmt.Errorf("withdrawal %d: short record", id)
	}
	n := 10 + int(v[9])
	return &withdrawal.Record{
		ID:      id,
		State:   withdrawal.RecordState(v[0]),
		Balance: btcutil.Amount(byteOrder.Uint64(v[1:9])),
		Account: string(v[10:n]),
		Addr:    string(v[n:]),
	}, nil
}

// WithdrawalStore keeps withdrawal records.  Applying for a withdrawal
// debits the ledger; canceling refunds it.
type WithdrawalStore struct {
	Ledger      Ledger
	ChainParams *chaincfg.Params
}

// Apply debits amount from account and records a withdrawal to addr.
func (s *WithdrawalStore) Apply(dbtx walletdb.ReadWriteTx, account,
	addr string, amount btcutil.Amount) (uint32, error) {

	if len(account) == 0 || len(account) > 255 {
		return 0, fmt.Errorf("invalid account %q", account)
	}
	decoded, err := btcutil.DecodeAddress(addr, s.ChainParams)
	if err != nil {
		return 0, fmt.Errorf("invalid withdrawal address %q: %w", addr, err)
	}
	if !decoded.IsForNet(s.ChainParams) {
		return 0, fmt.Errorf("address %s is not for %s", addr,
			s.ChainParams.Name)
	}
	if err := s.Ledger.Withdraw(dbtx, account, amount); err != nil {
		return 0, err
	}

	b, err := rwBucket(dbtx, bucketWithdrawals)
	if err != nil {
		return 0, err
	}
	var id uint32
	if v := b.Get(keyNextID); v != nil {
		id = byteOrder.Uint32(v)
	}
	rec := &withdrawal.Record{
		ID:      id,
		Account: account,
		Addr:    decoded.EncodeAddress(),
		Balance: amount,
		State:   withdrawal.StateApplying,
	}
	if err := b.Put(keyID(id), valueRecord(rec)); err != nil {
		return 0, err
	}
	if err := b.Put(keyNextID, keyID(id+1)); err != nil {
		return 0, err
	}

	log.Infof("Withdrawal %d of %v from %s to %s applied", id, amount,
		account, rec.Addr)
	return id, nil
}

// Cancel refunds an Applying withdrawal.
func (s *WithdrawalStore) Cancel(dbtx walletdb.ReadWriteTx, id uint32) error {
	rec, err := s.Record(dbtx, id)
	if err != nil {
		return err
	}
	if rec.State != withdrawal.StateApplying {
		return fmt.Errorf("withdrawal %d is %v", id, rec.State)
	}
	if err := s.SetState(dbtx, id, withdrawal.StateCanceled); err != nil {
		return err
	}
	return s.Ledger.Deposit(dbtx, rec.Account, rec.Balance)
}

// Record returns the withdrawal with the given id.
func (s *WithdrawalStore) Record(dbtx walletdb.ReadTx, id uint32) (*withdrawal.Record, error) {
	b, err := bucket(dbtx, bucketWithdrawals)
	if err != nil {
		return nil, err
	}
	v := b.Get(keyID(id))
	if v == nil {
		return nil, fmt.Errorf("%w %d", ErrUnknownWithdrawal, id)
	}
	return readRecord(id, v)
}

// SetState moves a withdrawal to state.
func (s *WithdrawalStore) SetState(dbtx walletdb.ReadWriteTx, id uint32,
	state withdrawal.RecordState) error {

	rec, err := s.Record(dbtx, id)
	if err != nil {
		return err
	}
	b, err := rwBucket(dbtx, bucketWithdrawals)
	if err != nil {
		return err
	}
	log.Debugf("Withdrawal %d: %v -> %v", id, rec.State, state)
	rec.State = state
	return b.Put(keyID(id), valueRecord(rec))
}

// Applying returns the withdrawals waiting for a proposal, by id.
func (s *WithdrawalStore) Applying(dbtx walletdb.ReadTx) ([]*withdrawal.Record, error) {
	b, err := bucket(dbtx, bucketWithdrawals)
	if err != nil {
		return nil, err
	}
	var recs []*withdrawal.Record
	err = b.ForEach(func(k, v []byte) error {
		if len(k) != 4 {
			return nil
		}
		rec, err := readRecord(byteOrder.Uint32(k), v)
		if err != nil {
			return err
		}
		if rec.State == withdrawal.StateApplying {
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

// TrusteeRegistry serves a fixed trustee set, optionally along with the set
// it replaced.
type TrusteeRegistry struct {
	current  *withdrawal.TrusteeSet
	previous fn.Option[*withdrawal.TrusteeSet]
}

// NewTrusteeRegistry returns a registry for current and previous.
func NewTrusteeRegistry(current *withdrawal.TrusteeSet,
	previous fn.Option[*withdrawal.TrusteeSet]) *TrusteeRegistry {

	return &TrusteeRegistry{current: current, previous: previous}
}

// Current returns the signing trustee set.
func (r *TrusteeRegistry) Current(walletdb.ReadTx) (*withdrawal.TrusteeSet, error) {
	return r.current, nil
}

// Previous returns the trustee set before the current one.
func (r *TrusteeRegistry) Previous(walletdb.ReadTx) (fn.Option[*withdrawal.TrusteeSet], error) {
	return r.previous, nil
}

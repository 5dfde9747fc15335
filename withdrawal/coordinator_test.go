// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdrawal

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

func TestProposalLifecycle(t *testing.T) {
	t.Parallel()

	for _, witness := range []bool{true, false} {
		witness := witness
		name := "p2sh"
		if witness {
			name = "p2wsh"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newTestHarness(t, witness)
			s := h.settlement(1, 2)

			p, err := h.create("alice", []uint32{2, 1, 2}, s.Tx, s.SpentOutputs)
			require.NoError(t, err)
			require.Equal(t, []uint32{1, 2}, p.WithdrawalIDs)
			require.Equal(t, Unfinished, p.SigState)
			h.requireStates(StateProcessing, 1, 2)

			// Only one proposal may be outstanding.
			_, err = h.create("bob", []uint32{1}, s.Tx, s.SpentOutputs)
			require.True(t, IsError(err, ErrProposalAlreadyExists))

			signedA := h.sign("alice", s.Tx, s.SpentOutputs)
			res, err := h.vote("alice", fn.Some(signedA))
			require.NoError(t, err)
			p = res.UnwrapOr(nil)
			require.Equal(t, []string{"alice"}, p.Approvals())
			require.Equal(t, Unfinished, p.SigState)

			_, err = h.vote("alice", fn.Some(signedA))
			require.True(t, IsError(err, ErrDuplicateVote))

			// Bob must sign on top of alice's signatures.
			signedB := h.sign("bob", s.Tx, s.SpentOutputs)
			_, err = h.vote("bob", fn.Some(signedB))
			require.True(t, IsError(err, ErrInvalidSignCount))

			_, err = h.vote("mallory", fn.None[*wire.MsgTx]())
			require.True(t, IsError(err, ErrNotTrustee))

			signedAB := h.sign("bob", signedA, s.SpentOutputs)
			res, err = h.vote("bob", fn.Some(signedAB))
			require.NoError(t, err)
			p = res.UnwrapOr(nil)
			require.NotNil(t, p)
			require.Equal(t, Finished, p.SigState)
			require.Equal(t, signedAB.WitnessHash(), p.Tx.WitnessHash())

			_, err = h.vote("carol", fn.None[*wire.MsgTx]())
			require.True(t, IsError(err, ErrProposalFinished))

			stored := h.proposal().UnwrapOr(nil)
			require.NotNil(t, stored)
			require.Equal(t, Finished, stored.SigState)
			require.Equal(t, []string{"alice", "bob"}, stored.Approvals())

			// A different transaction does not settle the proposal.
			other := s.Tx.Copy()
			other.LockTime++
			err = h.update(func(ns walletdb.ReadWriteBucket) error {
				_, err := h.coord.Settle(ns, h.records, other)
				return err
			})
			require.True(t, IsError(err, ErrMismatchedTx))

			err = h.update(func(ns walletdb.ReadWriteBucket) error {
				_, err := h.coord.Settle(ns, h.records, signedAB)
				return err
			})
			require.NoError(t, err)
			h.requireStates(StateFinished, 1, 2)
			require.True(t, h.proposal().IsNone())
		})
	}
}

func TestProposerSignature(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true)
	s := h.settlement(1)
	signedA := h.sign("alice", s.Tx, s.SpentOutputs)

	// The signatures on a new proposal must be the proposer's.
	_, err := h.create("bob", []uint32{1}, signedA, s.SpentOutputs)
	require.True(t, IsError(err, ErrInvalidSignCount))
	h.requireStates(StateApplying, 1)

	p, err := h.create("alice", []uint32{1}, signedA, s.SpentOutputs)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, p.Approvals())

	res, err := h.vote("carol", fn.Some(h.sign("carol", signedA, s.SpentOutputs)))
	require.NoError(t, err)
	require.Equal(t, Finished, res.UnwrapOr(nil).SigState)
}

func TestRejectDropsProposal(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true)
	s := h.settlement(1, 2)
	_, err := h.create("alice", []uint32{1, 2}, s.Tx, s.SpentOutputs)
	require.NoError(t, err)

	res, err := h.vote("bob", fn.None[*wire.MsgTx]())
	require.NoError(t, err)
	require.Equal(t, 1, res.UnwrapOr(nil).Rejections())
	h.requireStates(StateProcessing, 1, 2)

	// Two of three rejecting leaves too few trustees to sign.
	res, err = h.vote("carol", fn.None[*wire.MsgTx]())
	require.NoError(t, err)
	require.True(t, res.IsNone())
	require.True(t, h.proposal().IsNone())
	h.requireStates(StateApplying, 1, 2)

	// The withdrawals can be proposed again.
	_, err = h.create("carol", []uint32{1, 2}, s.Tx, s.SpentOutputs)
	require.NoError(t, err)
}

func TestRemoveProposal(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true)
	remove := func() error {
		return h.update(func(ns walletdb.ReadWriteBucket) error {
			return h.coord.Remove(ns, h.records)
		})
	}
	require.True(t, IsError(remove(), ErrNoProposal))

	s := h.settlement(2)
	_, err := h.create("bob", []uint32{2}, s.Tx, s.SpentOutputs)
	require.NoError(t, err)
	h.requireStates(StateProcessing, 2)

	require.NoError(t, remove())
	h.requireStates(StateApplying, 2)
	require.True(t, h.proposal().IsNone())

	_, err = h.vote("alice", fn.None[*wire.MsgTx]())
	require.True(t, IsError(err, ErrNoProposal))
}

func TestForceReplace(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true)
	s := h.settlement(1)
	signedA := h.sign("alice", s.Tx, s.SpentOutputs)
	_, err := h.create("alice", []uint32{1}, signedA, s.SpentOutputs)
	require.NoError(t, err)

	// Same payments funded by a different output.
	replacement := s.Tx.Copy()
	replacement.TxIn[0].PreviousOutPoint.Hash = chainhash.HashH([]byte("other"))
	spent := []*wire.TxOut{wire.NewTxOut(s.SpentOutputs[0].Value,
		h.set.Hot.PkScript)}

	var p *Proposal
	err = h.update(func(ns walletdb.ReadWriteBucket) error {
		var err error
		p, err = h.coord.ForceReplace(ns, h.set, replacement, spent)
		return err
	})
	require.NoError(t, err)
	require.Empty(t, p.Votes)
	require.Equal(t, replacement.TxHash(), p.Tx.TxHash())

	changed := replacement.Copy()
	changed.TxOut[0].Value--
	err = h.update(func(ns walletdb.ReadWriteBucket) error {
		_, err := h.coord.ForceReplace(ns, h.set, changed, spent)
		return err
	})
	require.True(t, IsError(err, ErrMismatchedTx))

	// Signatures over the old transaction no longer count.
	_, err = h.vote("bob", fn.Some(h.sign("bob", signedA, s.SpentOutputs)))
	require.True(t, IsError(err, ErrMismatchedTx))
}

func TestCreateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		proposer string
		ids      []uint32
		mutate   func(h *testHarness, tx *wire.MsgTx, spent []*wire.TxOut) []*wire.TxOut
		code     ErrorCode
	}{{
		name:     "not trustee",
		proposer: "mallory",
		ids:      []uint32{1},
		code:     ErrNotTrustee,
	}, {
		name:     "no withdrawals",
		proposer: "alice",
		code:     ErrWithdrawalCount,
	}, {
		name:     "unknown withdrawal",
		proposer: "alice",
		ids:      []uint32{1, 9},
		code:     ErrInvalidWithdrawal,
	}, {
		name:     "withdrawal not applying",
		proposer: "alice",
		ids:      []uint32{1},
		mutate: func(h *testHarness, _ *wire.MsgTx, spent []*wire.TxOut) []*wire.TxOut {
			h.records[1].State = StateCanceled
			return spent
		},
		code: ErrInvalidWithdrawal,
	}, {
		name:     "wrong amount",
		proposer: "alice",
		ids:      []uint32{1},
		mutate: func(_ *testHarness, tx *wire.MsgTx, spent []*wire.TxOut) []*wire.TxOut {
			tx.TxOut[0].Value++
			return spent
		},
		code: ErrMismatchedTx,
	}, {
		name:     "foreign output",
		proposer: "alice",
		ids:      []uint32{1},
		mutate: func(h *testHarness, tx *wire.MsgTx, spent []*wire.TxOut) []*wire.TxOut {
			tx.AddTxOut(wire.NewTxOut(50000, tx.TxOut[0].PkScript))
			return spent
		},
		code: ErrMismatchedTx,
	}, {
		name:     "dust change",
		proposer: "alice",
		ids:      []uint32{1},
		mutate: func(h *testHarness, tx *wire.MsgTx, spent []*wire.TxOut) []*wire.TxOut {
			tx.AddTxOut(wire.NewTxOut(10, h.set.Cold.PkScript))
			return spent
		},
		code: ErrDustOutput,
	}, {
		name:     "spends non trustee output",
		proposer: "alice",
		ids:      []uint32{1},
		mutate: func(h *testHarness, tx *wire.MsgTx, spent []*wire.TxOut) []*wire.TxOut {
			return []*wire.TxOut{wire.NewTxOut(spent[0].Value,
				tx.TxOut[0].PkScript)}
		},
		code: ErrInvalidSpentOutputs,
	}, {
		name:     "missing spent output",
		proposer: "alice",
		ids:      []uint32{1},
		mutate: func(_ *testHarness, _ *wire.MsgTx, _ []*wire.TxOut) []*wire.TxOut {
			return nil
		},
		code: ErrInvalidSpentOutputs,
	}, {
		name:     "overspends",
		proposer: "alice",
		ids:      []uint32{1},
		mutate: func(h *testHarness, tx *wire.MsgTx, _ []*wire.TxOut) []*wire.TxOut {
			return []*wire.TxOut{wire.NewTxOut(tx.TxOut[0].Value,
				h.set.Hot.PkScript)}
		},
		code: ErrInsufficientFunds,
	}}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			h := newTestHarness(t, true)
			s := h.settlement(1)
			tx, spent := s.Tx.Copy(), s.SpentOutputs
			if test.mutate != nil {
				spent = test.mutate(h, tx, spent)
			}
			_, err := h.create(test.proposer, test.ids, tx, spent)
			require.Error(t, err)
			require.True(t, IsError(err, test.code), "got %v", err)
			require.True(t, h.proposal().IsNone())
		})
	}
}

func TestWithdrawalCountLimit(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true)
	s := h.settlement(1, 2)
	err := h.update(func(ns walletdb.ReadWriteBucket) error {
		_, err := h.coord.Create(ns, h.records, h.set, "alice",
			[]uint32{1, 2}, s.Tx, s.SpentOutputs,
			Limits{WithdrawalFee: 1000, MaxWithdrawalCount: 1})
		return err
	})
	require.True(t, IsError(err, ErrWithdrawalCount))
	h.requireStates(StateApplying, 1, 2)
}

func TestProposalEncoding(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true)
	s := h.settlement(1, 2)
	p := &Proposal{
		SigState:      Finished,
		WithdrawalIDs: []uint32{1, 2},
		Tx:            h.sign("alice", s.Tx, s.SpentOutputs),
		SpentOutputs:  s.SpentOutputs,
		Votes: []Vote{
			{Trustee: "alice", Approve: true},
			{Trustee: "bob"},
		},
	}

	b, err := encodeProposal(p)
	require.NoError(t, err)
	got, err := decodeProposal(b)
	require.NoError(t, err)

	require.Equal(t, p.SigState, got.SigState)
	require.Equal(t, p.WithdrawalIDs, got.WithdrawalIDs)
	require.Equal(t, p.Tx.WitnessHash(), got.Tx.WitnessHash())
	require.Equal(t, p.SpentOutputs, got.SpentOutputs)
	require.Equal(t, p.Votes, got.Votes)

	_, err = decodeProposal(b[:len(b)-1])
	require.Error(t, err)
}

func TestThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct{ n, m int }{
		{1, 1}, {2, 2}, {3, 2}, {4, 3}, {5, 4}, {6, 4}, {7, 5}, {15, 10},
	}
	for _, test := range tests {
		require.Equal(t, test.m, Threshold(test.n), "n=%d", test.n)
	}
}

func TestRecordStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Processing", StateProcessing.String())
	require.Equal(t, "RecordState(9)", RecordState(9).String())
	require.Equal(t, "Finished", Finished.String())
	require.Equal(t, "SigState(7)", SigState(7).String())
}

// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerchain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/stretchr/testify/require"
)

func TestInsertHeaderChain(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 3, ForkChoiceWork)
	headers := mineChain(h.genesis, 10, regtestBits, "main")
	h.insertAll(headers)

	best := h.best()
	require.Equal(t, uint32(10), best.Height)
	require.Equal(t, headers[9].BlockHash(), best.Hash)

	confirmed, ok := h.confirmed()
	require.True(t, ok)
	require.Equal(t, uint32(7), confirmed.Height)
	require.Equal(t, headers[6].BlockHash(), confirmed.Hash)

	err := walletdb.View(h.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(namespaceKey)
		info, err := h.chain.HeaderByHeight(ns, 4)
		require.NoError(t, err)
		require.Equal(t, headers[3].BlockHash(), info.Header.BlockHash())
		return h.chain.CheckConnectivity(ns)
	})
	require.NoError(t, err)
}

func TestConfirmedIndexNotSetBelowDepth(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 6, ForkChoiceWork)
	h.insertAll(mineChain(h.genesis, 5, regtestBits, "short"))

	_, ok := h.confirmed()
	require.False(t, ok)

	h.insertAll(mineChain(bestHeader(h), 1, regtestBits, "sixth"))
	confirmed, ok := h.confirmed()
	require.True(t, ok)
	require.Equal(t, uint32(0), confirmed.Height)
	require.Equal(t, h.genesis.BlockHash(), confirmed.Hash)
}

// bestHeader returns the current best header of the harness.
func bestHeader(h *testHarness) *wire.BlockHeader {
	h.t.Helper()
	var header wire.BlockHeader
	best := h.best()
	err := walletdb.View(h.db, func(tx walletdb.ReadTx) error {
		info, err := h.chain.Header(tx.ReadBucket(namespaceKey), &best.Hash)
		if err != nil {
			return err
		}
		header = info.Header
		return nil
	})
	require.NoError(h.t, err)
	return &header
}

func TestInsertHeaderRejects(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 2, ForkChoiceWork)
	headers := mineChain(h.genesis, 3, regtestBits, "main")
	h.insertAll(headers)

	tests := []struct {
		name   string
		header func() *wire.BlockHeader
		code   ErrorCode
	}{{
		name: "duplicate",
		header: func() *wire.BlockHeader {
			return headers[1]
		},
		code: ErrExistingHeader,
	}, {
		name: "orphan",
		header: func() *wire.BlockHeader {
			orphanParent := nextHeader(headers[2], regtestBits, "never pushed")
			return nextHeader(orphanParent, regtestBits, "orphan")
		},
		code: ErrPrevHeaderNotFound,
	}, {
		name: "target above limit",
		header: func() *wire.BlockHeader {
			header := nextHeader(headers[2], regtestBits, "limit")
			header.Bits = 0x2100ffff
			return header
		},
		code: ErrInvalidPoW,
	}, {
		name: "hash above target",
		header: func() *wire.BlockHeader {
			header := nextHeader(headers[2], regtestBits, "unsolved")
			header.Bits = 0x1d00ffff
			return header
		},
		code: ErrInvalidPoW,
	}, {
		name: "future timestamp",
		header: func() *wire.BlockHeader {
			header := &wire.BlockHeader{
				Version:   4,
				PrevBlock: headers[2].BlockHash(),
				Timestamp: testNow.Add(3 * time.Hour),
				Bits:      regtestBits,
			}
			solveHeader(header)
			return header
		},
		code: ErrFuturisticTimestamp,
	}}

	for _, test := range tests {
		err := h.insert(test.header())
		require.Error(t, err, test.name)
		require.True(t, IsError(err, test.code), "%s: got %v, want %v",
			test.name, err, test.code)
	}

	// Nothing above changed the tip.
	require.Equal(t, headers[2].BlockHash(), h.best().Hash)
}

func TestForkChoiceWork(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 10, ForkChoiceWork)
	mainChain := mineChain(h.genesis, 5, regtestBits, "main")
	h.insertAll(mainChain)

	// Equal work keeps the first seen tip.
	tie := nextHeader(mainChain[3], regtestBits, "tie")
	require.NoError(t, h.insert(tie))
	require.Equal(t, mainChain[4].BlockHash(), h.best().Hash)

	// A single header at a harder target outweighs five easy ones.
	heavy := nextHeader(h.genesis, heavyBits, "heavy")
	require.NoError(t, h.insert(heavy))

	best := h.best()
	require.Equal(t, uint32(1), best.Height)
	require.Equal(t, heavy.BlockHash(), best.Hash)
	require.True(t, h.isMainChain(heavy))
	require.False(t, h.isMainChain(mainChain[0]))
	require.False(t, h.isMainChain(mainChain[4]))

	err := walletdb.View(h.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(namespaceKey)
		hashes := h.chain.BlockHashes(ns, 1)
		require.Equal(t, []chainhash.Hash{
			mainChain[0].BlockHash(), heavy.BlockHash(),
		}, hashes)
		require.Len(t, h.chain.BlockHashes(ns, 5), 2)

		_, err := h.chain.HeaderByHeight(ns, 3)
		require.True(t, IsError(err, ErrHeaderNotFound))
		return h.chain.CheckConnectivity(ns)
	})
	require.NoError(t, err)

	// Extending the old chain with more work moves the tip back.
	heavier := mineChain(mainChain[4], 1, heavyBits, "back")
	h.insertAll(heavier)
	require.Equal(t, heavier[0].BlockHash(), h.best().Hash)
	require.True(t, h.isMainChain(mainChain[2]))
	require.False(t, h.isMainChain(heavy))
}

func TestForkChoiceHeight(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 10, ForkChoiceHeight)
	mainChain := mineChain(h.genesis, 5, regtestBits, "main")
	h.insertAll(mainChain)
	h.insertAll(mineChain(h.genesis, 2, heavyBits, "heavy"))

	require.Equal(t, mainChain[4].BlockHash(), h.best().Hash)

	// A longer fork wins under the height rule.
	fork := mineChain(mainChain[2], 3, regtestBits, "long")
	h.insertAll(fork)
	best := h.best()
	require.Equal(t, uint32(6), best.Height)
	require.Equal(t, fork[2].BlockHash(), best.Hash)
	require.False(t, h.isMainChain(mainChain[3]))
	require.True(t, h.isMainChain(mainChain[2]))
}

func TestAncientFork(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 2, ForkChoiceWork)
	mainChain := mineChain(h.genesis, 6, regtestBits, "main")
	h.insertAll(mainChain)

	confirmed, ok := h.confirmed()
	require.True(t, ok)
	require.Equal(t, uint32(4), confirmed.Height)

	// Forking off at height 2 would rewrite confirmed history.
	err := h.insert(nextHeader(mainChain[1], regtestBits, "ancient"))
	require.True(t, IsError(err, ErrAncientFork), "got %v", err)

	// A fork off a sibling of the confirmed header is rejected as well.
	sibling := nextHeader(mainChain[2], regtestBits, "sibling")
	err = h.insert(sibling)
	require.True(t, IsError(err, ErrAncientFork), "got %v", err)

	// Forking at the confirmed header is fine and kept as a side chain.
	side := nextHeader(mainChain[3], regtestBits, "side")
	require.NoError(t, h.insert(side))
	require.False(t, h.isMainChain(side))
	require.Equal(t, mainChain[5].BlockHash(), h.best().Hash)
}

func TestConfirmedIndexMonotonic(t *testing.T) {
	t.Parallel()

	const depth = 3
	h := newTestHarness(t, depth, ForkChoiceWork)

	mainChain := mineChain(h.genesis, 8, regtestBits, "main")
	forkA := mineChain(mainChain[5], 4, regtestBits, "forka")
	forkB := mineChain(forkA[1], 3, heavyBits, "forkb")
	ancient := mineChain(mainChain[2], 2, heavyBits, "ancient")

	var sequence []*wire.BlockHeader
	sequence = append(sequence, mainChain...)
	sequence = append(sequence, forkA...)
	sequence = append(sequence, ancient...)
	sequence = append(sequence, forkB...)

	var lastConfirmed uint32
	for _, header := range sequence {
		// The ancient fork is rejected.
		_ = h.insert(header)

		best := h.best()
		confirmed, ok := h.confirmed()
		if !ok {
			continue
		}
		require.GreaterOrEqual(t, confirmed.Height, lastConfirmed)
		require.LessOrEqual(t, confirmed.Height, best.Height-depth)
		lastConfirmed = confirmed.Height
	}

	require.Equal(t, forkB[2].BlockHash(), h.best().Hash)
	confirmed, ok := h.confirmed()
	require.True(t, ok)
	require.Equal(t, forkA[1].BlockHash(), confirmed.Hash)
	require.False(t, h.isMainChain(ancient[0]))
}

func TestIndexOverrides(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 2, ForkChoiceWork)
	mainChain := mineChain(h.genesis, 5, regtestBits, "main")
	h.insertAll(mainChain)
	side := nextHeader(mainChain[3], regtestBits, "side")
	require.NoError(t, h.insert(side))

	unknown := HeaderIndex{Hash: chainhash.HashH([]byte("x")), Height: 1}
	err := walletdb.Update(h.db, func(tx walletdb.ReadWriteTx) error {
		return h.chain.SetBestIndex(tx.ReadWriteBucket(namespaceKey), unknown)
	})
	require.True(t, IsError(err, ErrInvalidIndex))

	wrongHeight := HeaderIndex{Hash: side.BlockHash(), Height: 2}
	err = walletdb.Update(h.db, func(tx walletdb.ReadWriteTx) error {
		return h.chain.SetConfirmedIndex(tx.ReadWriteBucket(namespaceKey), wrongHeight)
	})
	require.True(t, IsError(err, ErrInvalidIndex))

	sideIdx := HeaderIndex{Hash: side.BlockHash(), Height: 5}
	err = walletdb.Update(h.db, func(tx walletdb.ReadWriteTx) error {
		return h.chain.SetBestIndex(tx.ReadWriteBucket(namespaceKey), sideIdx)
	})
	require.NoError(t, err)
	require.Equal(t, sideIdx, h.best())
	require.True(t, h.isMainChain(side))
	require.False(t, h.isMainChain(mainChain[4]))

	lowIdx := HeaderIndex{Hash: mainChain[0].BlockHash(), Height: 1}
	err = walletdb.Update(h.db, func(tx walletdb.ReadWriteTx) error {
		return h.chain.SetConfirmedIndex(tx.ReadWriteBucket(namespaceKey), lowIdx)
	})
	require.NoError(t, err)
	confirmed, ok := h.confirmed()
	require.True(t, ok)
	require.Equal(t, lowIdx, confirmed)
}

func TestParseForkChoice(t *testing.T) {
	t.Parallel()

	f, err := ParseForkChoice("height")
	require.NoError(t, err)
	require.Equal(t, ForkChoiceHeight, f)

	f, err = ParseForkChoice("")
	require.NoError(t, err)
	require.Equal(t, ForkChoiceWork, f)

	_, err = ParseForkChoice("longest")
	require.Error(t, err)
}

func TestErrorCodeStringer(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ErrAncientFork", ErrAncientFork.String())
	require.Equal(t, "Unknown ErrorCode (99)", ErrorCode(99).String())
}

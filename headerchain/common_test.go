// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerchain

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/stretchr/testify/require"
)

const (
	// regtestBits is the easiest target allowed on regtest.
	regtestBits = 0x207fffff

	// heavyBits is a target roughly 128 times harder than regtestBits.
	heavyBits = 0x2000ffff
)

var (
	namespaceKey = []byte("headerchain")

	testNow = time.Unix(1700000000, 0)
)

// solveHeader increments the nonce until the header satisfies its target.
func solveHeader(header *wire.BlockHeader) {
	target := blockchain.CompactToBig(header.Bits)
	for {
		hash := header.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return
		}
		header.Nonce++
	}
}

// nextHeader mines a header on top of prev.  The tag is folded into the
// merkle root so sibling headers differ.
func nextHeader(prev *wire.BlockHeader, bits uint32, tag string) *wire.BlockHeader {
	header := &wire.BlockHeader{
		Version:    4,
		PrevBlock:  prev.BlockHash(),
		MerkleRoot: chainhash.HashH([]byte(tag)),
		Timestamp:  prev.Timestamp.Add(10 * time.Minute),
		Bits:       bits,
	}
	solveHeader(header)
	return header
}

// mineChain mines n headers on top of prev.
func mineChain(prev *wire.BlockHeader, n int, bits uint32, tag string) []*wire.BlockHeader {
	headers := make([]*wire.BlockHeader, 0, n)
	for i := 0; i < n; i++ {
		prev = nextHeader(prev, bits, tag+string(rune('a'+i)))
		headers = append(headers, prev)
	}
	return headers
}

type testHarness struct {
	t       *testing.T
	db      walletdb.DB
	chain   *Chain
	genesis *wire.BlockHeader
}

func newTestHarness(t *testing.T, depth uint32, forkChoice ForkChoice) *testHarness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "headers.db")
	db, err := walletdb.Create("bdb", dbPath, true, time.Second*10, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	chain := New(&Config{
		ChainParams:       &chaincfg.RegressionNetParams,
		ConfirmationDepth: depth,
		ForkChoice:        forkChoice,
		TimeSource: func() time.Time {
			return testNow
		},
	})

	genesis := chaincfg.RegressionNetParams.GenesisBlock.Header
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(namespaceKey)
		if err != nil {
			return err
		}
		return chain.Create(ns, &genesis, 0)
	})
	require.NoError(t, err)

	return &testHarness{t: t, db: db, chain: chain, genesis: &genesis}
}

func (h *testHarness) insert(header *wire.BlockHeader) error {
	err := walletdb.Update(h.db, func(tx walletdb.ReadWriteTx) error {
		_, err := h.chain.InsertHeader(tx.ReadWriteBucket(namespaceKey), header)
		return err
	})
	if err != nil {
		h.chain.ResetCache()
	}
	return err
}

func (h *testHarness) insertAll(headers []*wire.BlockHeader) {
	h.t.Helper()
	for _, header := range headers {
		require.NoError(h.t, h.insert(header))
	}
}

func (h *testHarness) best() HeaderIndex {
	h.t.Helper()
	var idx HeaderIndex
	err := walletdb.View(h.db, func(tx walletdb.ReadTx) error {
		var err error
		idx, err = h.chain.BestIndex(tx.ReadBucket(namespaceKey))
		return err
	})
	require.NoError(h.t, err)
	return idx
}

func (h *testHarness) confirmed() (HeaderIndex, bool) {
	h.t.Helper()
	var (
		idx HeaderIndex
		ok  bool
	)
	err := walletdb.View(h.db, func(tx walletdb.ReadTx) error {
		var err error
		idx, ok, err = h.chain.ConfirmedIndex(tx.ReadBucket(namespaceKey))
		return err
	})
	require.NoError(h.t, err)
	return idx, ok
}

func (h *testHarness) isMainChain(header *wire.BlockHeader) bool {
	h.t.Helper()
	var main bool
	hash := header.BlockHash()
	err := walletdb.View(h.db, func(tx walletdb.ReadTx) error {
		main = h.chain.IsMainChain(tx.ReadBucket(namespaceKey), &hash)
		return nil
	})
	require.NoError(h.t, err)
	return main
}

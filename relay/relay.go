// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package relay feeds a gateway from a btcd node.
//
// Headers are pushed as soon as the node knows them.  Once the gateway
// considers a block confirmed, the transactions in it that pay a watched
// trustee script or spend an input of the outstanding withdrawal proposal
// are pushed along with a merkle proof and, when the node can serve it, the
// transaction spent by their first input.  A node without a transaction
// index serves only mempool and wallet transactions; the rest are pushed
// without the previous transaction and the gateway classifies them from the
// transaction alone.
package relay

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcgateway/gateway"
	"github.com/btcsuite/btcgateway/headerchain"
	"github.com/btcsuite/btcgateway/spv"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPollInterval is how often the node is polled.
	DefaultPollInterval = 30 * time.Second

	// DefaultMaxReorgDepth bounds the search for the header the node and
	// the gateway agree on.
	DefaultMaxReorgDepth = 100

	// DefaultFetchWorkers is the number of previous transactions fetched
	// concurrently.
	DefaultFetchWorkers = 4

	// maxHeadersPerPoll bounds the headers pushed per poll so that
	// confirmed blocks are relayed while a long chain syncs.
	maxHeadersPerPoll = 2000
)

// ChainSource is the part of a btcd RPC client the relayer reads from.
// *rpcclient.Client implements it.
type ChainSource interface {
	GetBestBlock() (*chainhash.Hash, int32, error)
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetBlockHeader(hash *chainhash.Hash) (*wire.BlockHeader, error)
	GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error)
	GetRawTransaction(hash *chainhash.Hash) (*btcutil.Tx, error)
}

// Gateway is the part of *gateway.Gateway the relayer drives.
type Gateway interface {
	BestIndex() (headerchain.HeaderIndex, error)
	ConfirmedIndex() (fn.Option[headerchain.HeaderIndex], error)
	HeaderByHeight(height uint32) (*headerchain.HeaderInfo, error)
	Proposal() (fn.Option[*withdrawal.Proposal], error)
	PushHeader(caller string, b []byte) (*headerchain.HeaderInfo, error)
	PushTransaction(caller string, txBytes []byte, info spv.RelayedTxInfo,
		prevTxBytes []byte) (*gateway.TxState, error)
}

// Config holds the parameters of a Relayer.
type Config struct {
	Chain   ChainSource
	Gateway Gateway

	// Caller is the account the relayer pushes as.
	Caller string

	// WatchScripts are the output scripts whose payments are relayed.
	WatchScripts [][]byte

	// StartHeight is the first block scanned for transactions.
	StartHeight uint32

	// PollTicker triggers polls.  Nil selects a ticker firing every
	// DefaultPollInterval.
	PollTicker ticker.Ticker

	// MaxReorgDepth of zero selects DefaultMaxReorgDepth.
	MaxReorgDepth uint32

	// FetchWorkers of zero selects DefaultFetchWorkers.
	FetchWorkers int
}

// Relayer polls a node and pushes what it finds to a gateway.
type Relayer struct {
	cfg   Config
	watch map[string]struct{}

	// nextHeight is the next confirmed block to scan.  Only the poll
	// goroutine touches it.
	nextHeight uint32

	quit chan struct{}
	wg   sync.WaitGroup
}

// New returns a Relayer.
func New(cfg *Config) *Relayer {
	r := &Relayer{
		cfg:        *cfg,
		watch:      make(map[string]struct{}, len(cfg.WatchScripts)),
		nextHeight: cfg.StartHeight,
		quit:       make(chan struct{}),
	}
	for _, script := range cfg.WatchScripts {
		r.watch[string(script)] = struct{}{}
	}
	if r.cfg.PollTicker == nil {
		r.cfg.PollTicker = ticker.New(DefaultPollInterval)
	}
	if r.cfg.MaxReorgDepth == 0 {
		r.cfg.MaxReorgDepth = DefaultMaxReorgDepth
	}
	if r.cfg.FetchWorkers <= 0 {
		r.cfg.FetchWorkers = DefaultFetchWorkers
	}
	return r
}

// Start begins polling.
func (r *Relayer) Start() {
	log.Infof("Relaying to the gateway from height %d", r.nextHeight)

	r.wg.Add(1)
	go r.pollLoop()
}

// Stop stops polling and waits for a running poll to finish.
func (r *Relayer) Stop() {
	close(r.quit)
	r.wg.Wait()
}

func (r *Relayer) pollLoop() {
	defer r.wg.Done()

	if err := r.poll(); err != nil {
		log.Errorf("Relay failed: %v", err)
	}

	r.cfg.PollTicker.Resume()
	defer r.cfg.PollTicker.Stop()

	for {
		select {
		case <-r.cfg.PollTicker.Ticks():
			if err := r.poll(); err != nil {
				log.Errorf("Relay failed: %v", err)
			}

		case <-r.quit:
			return
		}
	}
}

func (r *Relayer) poll() error {
	if err := r.syncHeaders(); err != nil {
		return err
	}
	return r.relayConfirmed()
}

// forkPoint returns the highest height at which the node's main chain and
// the gateway's agree.
func (r *Relayer) forkPoint(best headerchain.HeaderIndex, nodeHeight uint32) (uint32, error) {
	height := best.Height
	if nodeHeight < height {
		height = nodeHeight
	}
	for depth := uint32(0); depth <= r.cfg.MaxReorgDepth; depth++ {
		info, err := r.cfg.Gateway.HeaderByHeight(height)
		if err != nil {
			return 0, fmt.Errorf("gateway header %d: %w", height, err)
		}
		nodeHash, err := r.cfg.Chain.GetBlockHash(int64(height))
		if err != nil {
			return 0, fmt.Errorf("node block hash %d: %w", height, err)
		}
		if *nodeHash == info.Header.BlockHash() {
			return height, nil
		}
		if height == 0 {
			break
		}
		height--
	}
	return 0, fmt.Errorf("node and gateway disagree on every header "+
		"within %d blocks of %v", r.cfg.MaxReorgDepth, best)
}

// syncHeaders pushes the node's main chain headers the gateway lacks.
func (r *Relayer) syncHeaders() error {
	best, err := r.cfg.Gateway.BestIndex()
	if err != nil {
		return err
	}
	_, nodeHeight, err := r.cfg.Chain.GetBestBlock()
	if err != nil {
		return fmt.Errorf("node best block: %w", err)
	}
	if nodeHeight < 0 {
		return nil
	}

	height, err := r.forkPoint(best, uint32(nodeHeight))
	if err != nil {
		return err
	}
	if height != best.Height {
		log.Infof("Gateway tip %v is not on the node's main chain, "+
			"syncing from height %d", best, height)
	}

	end := uint32(nodeHeight)
	if end > height+maxHeadersPerPoll {
		end = height + maxHeadersPerPoll
	}

	var pushed int
	for h := height + 1; h <= end; h++ {
		hash, err := r.cfg.Chain.GetBlockHash(int64(h))
		if err != nil {
			return fmt.Errorf("node block hash %d: %w", h, err)
		}
		header, err := r.cfg.Chain.GetBlockHeader(hash)
		if err != nil {
			return fmt.Errorf("node header %v: %w", hash, err)
		}
		var buf bytes.Buffer
		if err := header.Serialize(&buf); err != nil {
			return err
		}

		_, err = r.cfg.Gateway.PushHeader(r.cfg.Caller, buf.Bytes())
		switch {
		case headerchain.IsError(err, headerchain.ErrExistingHeader):
			continue
		case err != nil:
			return fmt.Errorf("push header %d (%v): %w", h, hash, err)
		}
		pushed++
	}
	if pushed > 0 {
		log.Infof("Pushed %d headers up to height %d", pushed, end)
	}
	return nil
}

// relayConfirmed scans the confirmed blocks not scanned yet.
func (r *Relayer) relayConfirmed() error {
	confirmed, err := r.cfg.Gateway.ConfirmedIndex()
	if err != nil {
		return err
	}
	if confirmed.IsNone() {
		return nil
	}
	idx := confirmed.UnwrapOr(headerchain.HeaderIndex{})

	for r.nextHeight <= idx.Height {
		if err := r.relayBlock(r.nextHeight); err != nil {
			return err
		}
		r.nextHeight++
	}
	return nil
}

// relevant reports whether tx pays a watched script or spends one of
// outpoints.
func (r *Relayer) relevant(tx *wire.MsgTx, outpoints []wire.OutPoint) bool {
	for _, out := range tx.TxOut {
		if _, ok := r.watch[string(out.PkScript)]; ok {
			return true
		}
	}
	for _, in := range tx.TxIn {
		for _, op := range outpoints {
			if in.PreviousOutPoint == op {
				return true
			}
		}
	}
	return false
}

// fetchPrevTxs fetches the transaction spent by the first input of each of
// txs.  Entries the node cannot serve are left nil.
func (r *Relayer) fetchPrevTxs(txs []*wire.MsgTx) []*wire.MsgTx {
	prevTxs := make([]*wire.MsgTx, len(txs))

	var g errgroup.Group
	g.SetLimit(r.cfg.FetchWorkers)
	for i, tx := range txs {
		g.Go(func() error {
			hash := tx.TxIn[0].PreviousOutPoint.Hash
			prev, err := r.cfg.Chain.GetRawTransaction(&hash)
			if err != nil {
				log.Warnf("Relaying %v without its previous "+
					"transaction %v: %v", tx.TxHash(), hash, err)
				return nil
			}
			prevTxs[i] = prev.MsgTx()
			return nil
		})
	}
	_ = g.Wait()
	return prevTxs
}

// relayBlock pushes the relevant transactions of the main chain block at
// height.
func (r *Relayer) relayBlock(height uint32) error {
	info, err := r.cfg.Gateway.HeaderByHeight(height)
	if err != nil {
		return err
	}
	hash := info.Header.BlockHash()
	block, err := r.cfg.Chain.GetBlock(&hash)
	if err != nil {
		return fmt.Errorf("node block %v: %w", hash, err)
	}
	if block.Header.BlockHash() != hash {
		return fmt.Errorf("node returned block %v for %v",
			block.Header.BlockHash(), hash)
	}

	slot, err := r.cfg.Gateway.Proposal()
	if err != nil {
		return err
	}
	var outpoints []wire.OutPoint
	slot.WhenSome(func(p *withdrawal.Proposal) {
		outpoints = p.Outpoints()
	})

	txHashes := make([]chainhash.Hash, len(block.Transactions))
	var relevant []*wire.MsgTx
	for i, tx := range block.Transactions {
		txHashes[i] = tx.TxHash()
		if i > 0 && r.relevant(tx, outpoints) {
			relevant = append(relevant, tx)
		}
	}
	if len(relevant) == 0 {
		return nil
	}

	prevTxs := r.fetchPrevTxs(relevant)

	for i, tx := range relevant {
		txHash := tx.TxHash()
		proof, err := spv.NewMerkleProof(txHashes, []chainhash.Hash{txHash})
		if err != nil {
			return err
		}
		var txBuf bytes.Buffer
		if err := tx.Serialize(&txBuf); err != nil {
			return err
		}
		var prevBytes []byte
		if prevTxs[i] != nil {
			var prevBuf bytes.Buffer
			if err := prevTxs[i].Serialize(&prevBuf); err != nil {
				return err
			}
			prevBytes = prevBuf.Bytes()
		}

		state, err := r.cfg.Gateway.PushTransaction(r.cfg.Caller,
			txBuf.Bytes(), spv.RelayedTxInfo{BlockHash: hash, Proof: proof},
			prevBytes)

		var spvErr spv.Error
		switch {
		case gateway.IsError(err, gateway.ErrAlreadyProcessed):
			log.Debugf("Transaction %v already processed", txHash)

		case gateway.IsError(err, gateway.ErrProcessTxFailed),
			errors.As(err, &spvErr):

			log.Warnf("Gateway refused transaction %v: %v", txHash, err)

		case err != nil:
			return fmt.Errorf("push transaction %v: %w", txHash, err)

		default:
			log.Infof("Relayed %v transaction %v from block %d",
				state.Type, txHash, height)
		}
	}
	return nil
}

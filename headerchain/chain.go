// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerchain

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightninglabs/neutrino/cache/lru"
)

const (
	// DefaultMaxFutureBlockTime is how far ahead of the local clock a
	// header timestamp may be.
	DefaultMaxFutureBlockTime = 2 * time.Hour

	// DefaultCacheSize is the number of decoded headers kept in memory.
	DefaultCacheSize = 2016
)

// ForkChoice selects which of two competing tips becomes the best tip.
type ForkChoice uint8

const (
	// ForkChoiceWork prefers the tip with the greatest cumulative work.
	ForkChoiceWork ForkChoice = iota

	// ForkChoiceHeight prefers the tallest tip.
	ForkChoiceHeight
)

// String returns the flag form of the fork choice rule.
func (f ForkChoice) String() string {
	switch f {
	case ForkChoiceWork:
		return "work"
	case ForkChoiceHeight:
		return "height"
	default:
		return fmt.Sprintf("ForkChoice(%d)", uint8(f))
	}
}

// ParseForkChoice parses the flag form of a fork choice rule.
func ParseForkChoice(s string) (ForkChoice, error) {
	switch s {
	case "work", "":
		return ForkChoiceWork, nil
	case "height":
		return ForkChoiceHeight, nil
	}
	return 0, fmt.Errorf("unknown fork choice rule %q", s)
}

// HeaderIndex points at a stored header.
type HeaderIndex struct {
	Hash   chainhash.Hash
	Height uint32
}

// String returns the index as height/hash.
func (i HeaderIndex) String() string {
	return fmt.Sprintf("%d/%v", i.Height, i.Hash)
}

// HeaderInfo is a stored header along with its height and the cumulative
// work of the chain ending at it.
type HeaderInfo struct {
	Header wire.BlockHeader
	Height uint32
	Work   *big.Int
}

// Index returns the HeaderIndex of the header.
func (h *HeaderInfo) Index() HeaderIndex {
	return HeaderIndex{Hash: h.Header.BlockHash(), Height: h.Height}
}

// Size implements cache.Value.  Every entry counts as one against the cache
// capacity.
func (h *HeaderInfo) Size() (uint64, error) {
	return 1, nil
}

// Config holds the parameters of a header chain.
type Config struct {
	// ChainParams supplies the proof of work limit.
	ChainParams *chaincfg.Params

	// ConfirmationDepth is how far below the best tip the confirmed
	// index sits.
	ConfirmationDepth uint32

	// ForkChoice is the rule used to pick the best tip.
	ForkChoice ForkChoice

	// MaxFutureBlockTime bounds header timestamps against TimeSource.
	// Zero selects DefaultMaxFutureBlockTime.
	MaxFutureBlockTime time.Duration

	// TimeSource returns the current time.  Nil selects time.Now.
	TimeSource func() time.Time

	// CacheSize is the number of headers cached in memory.  Zero selects
	// DefaultCacheSize.
	CacheSize uint64
}

// Chain is the header chain store.  All methods take the namespace bucket the
// chain lives in; the caller owns the database transaction so a header push
// and its dependent updates commit or roll back together.
type Chain struct {
	cfg Config

	cacheMtx sync.Mutex
	cache    *lru.Cache[chainhash.Hash, *HeaderInfo]
}

// New returns a Chain for the given configuration.
func New(cfg *Config) *Chain {
	c := &Chain{cfg: *cfg}
	if c.cfg.MaxFutureBlockTime == 0 {
		c.cfg.MaxFutureBlockTime = DefaultMaxFutureBlockTime
	}
	if c.cfg.TimeSource == nil {
		c.cfg.TimeSource = time.Now
	}
	if c.cfg.CacheSize == 0 {
		c.cfg.CacheSize = DefaultCacheSize
	}
	c.cache = lru.NewCache[chainhash.Hash, *HeaderInfo](c.cfg.CacheSize)
	return c
}

// ConfirmationDepth returns the configured confirmation depth.
func (c *Chain) ConfirmationDepth() uint32 {
	return c.cfg.ConfirmationDepth
}

// Create initializes the namespace with the trusted start header.  The start
// header becomes the best index.  It is not checked against proof of work.
func (c *Chain) Create(ns walletdb.ReadWriteBucket, genesis *wire.BlockHeader,
	height uint32) error {

	if err := createBuckets(ns); err != nil {
		return err
	}
	if _, ok, err := fetchIndex(ns, rootBest); err != nil {
		return err
	} else if ok {
		log.Debugf("Header chain already initialized")
		return nil
	}

	info := &HeaderInfo{
		Header: *genesis,
		Height: height,
		Work:   blockchain.CalcWork(genesis.Bits),
	}
	hash := genesis.BlockHash()
	if err := putHeader(ns, info); err != nil {
		return err
	}
	if err := addHeightHash(ns, height, &hash); err != nil {
		return err
	}
	if err := putMainChain(ns, height, &hash); err != nil {
		return err
	}
	if err := putIndex(ns, rootBest, info.Index()); err != nil {
		return err
	}
	if err := putVersion(ns, LatestVersion); err != nil {
		return err
	}

	log.Infof("Initialized header chain at height %d (%v)", height, hash)
	return nil
}

// ResetCache drops every cached header.  Callers invoke it after a database
// transaction that touched the chain was rolled back.
func (c *Chain) ResetCache() {
	c.cacheMtx.Lock()
	c.cache = lru.NewCache[chainhash.Hash, *HeaderInfo](c.cfg.CacheSize)
	c.cacheMtx.Unlock()
}

// Header returns the stored header with the given hash.
func (c *Chain) Header(ns walletdb.ReadBucket, hash *chainhash.Hash) (*HeaderInfo, error) {
	c.cacheMtx.Lock()
	info, err := c.cache.Get(*hash)
	c.cacheMtx.Unlock()
	if err == nil {
		return info, nil
	}

	info, err = fetchHeader(ns, hash)
	if err != nil {
		return nil, err
	}

	c.cacheMtx.Lock()
	_, _ = c.cache.Put(*hash, info)
	c.cacheMtx.Unlock()

	return info, nil
}

// HasHeader returns whether a header with the given hash is stored.
func (c *Chain) HasHeader(ns walletdb.ReadBucket, hash *chainhash.Hash) bool {
	return existsHeader(ns, hash)
}

// HeaderByHeight returns the main chain header at height.
func (c *Chain) HeaderByHeight(ns walletdb.ReadBucket, height uint32) (*HeaderInfo, error) {
	hash, ok := fetchMainChain(ns, height)
	if !ok {
		str := fmt.Sprintf("no main chain header at height %d", height)
		return nil, chainError(ErrHeaderNotFound, str, nil)
	}
	return c.Header(ns, &hash)
}

// BlockHashes returns the hashes of every stored header at height, forks
// included, in insertion order.
func (c *Chain) BlockHashes(ns walletdb.ReadBucket, height uint32) []chainhash.Hash {
	return fetchHeightHashes(ns, height)
}

// IsMainChain returns whether the stored header with the given hash is on
// the chain ending at the best index.
func (c *Chain) IsMainChain(ns walletdb.ReadBucket, hash *chainhash.Hash) bool {
	info, err := c.Header(ns, hash)
	if err != nil {
		return false
	}
	main, ok := fetchMainChain(ns, info.Height)
	return ok && main == *hash
}

// BestIndex returns the best tip.
func (c *Chain) BestIndex(ns walletdb.ReadBucket) (HeaderIndex, error) {
	idx, ok, err := fetchIndex(ns, rootBest)
	if err != nil {
		return idx, err
	}
	if !ok {
		return idx, chainError(ErrNotInitialized, "no best index", nil)
	}
	return idx, nil
}

// ConfirmedIndex returns the confirmed index.  The boolean is false until
// the best tip is ConfirmationDepth headers above the start header.
func (c *Chain) ConfirmedIndex(ns walletdb.ReadBucket) (HeaderIndex, bool, error) {
	return fetchIndex(ns, rootConfirmed)
}

// InsertHeader validates and stores a header, then runs fork choice and
// advances the confirmed index.
func (c *Chain) InsertHeader(ns walletdb.ReadWriteBucket,
	header *wire.BlockHeader) (*HeaderInfo, error) {

	hash := header.BlockHash()
	if existsHeader(ns, &hash) {
		str := fmt.Sprintf("header %v already exists", hash)
		return nil, chainError(ErrExistingHeader, str, nil)
	}

	prev, err := c.Header(ns, &header.PrevBlock)
	if IsError(err, ErrHeaderNotFound) {
		str := fmt.Sprintf("previous header %v of %v not found",
			header.PrevBlock, hash)
		return nil, chainError(ErrPrevHeaderNotFound, str, nil)
	}
	if err != nil {
		return nil, err
	}

	if err := c.checkHeaderSanity(header); err != nil {
		return nil, err
	}

	confirmed, hasConfirmed, err := fetchIndex(ns, rootConfirmed)
	if err != nil {
		return nil, err
	}
	if hasConfirmed {
		if err := c.checkAncientFork(ns, prev, confirmed); err != nil {
			return nil, err
		}
	}

	info := &HeaderInfo{
		Header: *header,
		Height: prev.Height + 1,
		Work:   new(big.Int).Add(prev.Work, blockchain.CalcWork(header.Bits)),
	}
	if err := putHeader(ns, info); err != nil {
		return nil, err
	}
	if err := addHeightHash(ns, info.Height, &hash); err != nil {
		return nil, err
	}

	bestIdx, err := c.BestIndex(ns)
	if err != nil {
		return nil, err
	}
	best, err := c.Header(ns, &bestIdx.Hash)
	if err != nil {
		return nil, err
	}

	if !c.better(info, best, confirmed, hasConfirmed) {
		log.Debugf("Stored side chain header %d (%v), best is %v",
			info.Height, hash, bestIdx)
		return info, nil
	}

	if err := c.reorganize(ns, info, best); err != nil {
		return nil, err
	}
	if err := putIndex(ns, rootBest, info.Index()); err != nil {
		return nil, err
	}
	if err := c.advanceConfirmed(ns, info.Index()); err != nil {
		return nil, err
	}

	if header.PrevBlock != bestIdx.Hash {
		log.Infof("Reorganized best tip from %v to %d (%v)", bestIdx,
			info.Height, hash)
	} else {
		log.Debugf("New best header %d (%v)", info.Height, hash)
	}

	return info, nil
}

// better returns whether candidate should replace best as the best tip.
func (c *Chain) better(candidate, best *HeaderInfo, confirmed HeaderIndex,
	hasConfirmed bool) bool {

	switch c.cfg.ForkChoice {
	case ForkChoiceHeight:
		if candidate.Height <= best.Height {
			return false
		}
	default:
		if candidate.Work.Cmp(best.Work) <= 0 {
			return false
		}
	}

	// A tip may never drop below the confirmation horizon.
	if hasConfirmed && candidate.Height < confirmed.Height+c.cfg.ConfirmationDepth {
		log.Warnf("Ignoring tip %d with more work: below confirmation "+
			"horizon of %v", candidate.Height, confirmed)
		return false
	}
	return true
}

// checkAncientFork ensures the chain ending at prev contains the confirmed
// header.
func (c *Chain) checkAncientFork(ns walletdb.ReadBucket, prev *HeaderInfo,
	confirmed HeaderIndex) error {

	if prev.Height < confirmed.Height {
		str := fmt.Sprintf("header forks at height %d below confirmed "+
			"index %v", prev.Height+1, confirmed)
		return chainError(ErrAncientFork, str, nil)
	}

	cur := prev
	for cur.Height > confirmed.Height {
		hash := cur.Header.BlockHash()
		if main, ok := fetchMainChain(ns, cur.Height); ok && main == hash {
			// The main chain always contains the confirmed header.
			return nil
		}
		parent, err := c.Header(ns, &cur.Header.PrevBlock)
		if err != nil {
			return err
		}
		cur = parent
	}
	if cur.Header.BlockHash() != confirmed.Hash {
		str := fmt.Sprintf("header forks off below confirmed index %v",
			confirmed)
		return chainError(ErrAncientFork, str, nil)
	}
	return nil
}

// reorganize rewrites the main chain marks so they describe the chain ending
// at tip.  oldTip is the previous best header.
func (c *Chain) reorganize(ns walletdb.ReadWriteBucket, tip, oldTip *HeaderInfo) error {
	for h := oldTip.Height; h > tip.Height; h-- {
		if err := deleteMainChain(ns, h); err != nil {
			return err
		}
	}

	cur := tip
	for {
		hash := cur.Header.BlockHash()
		if main, ok := fetchMainChain(ns, cur.Height); ok && main == hash {
			return nil
		}
		if err := putMainChain(ns, cur.Height, &hash); err != nil {
			return err
		}
		parent, err := c.Header(ns, &cur.Header.PrevBlock)
		if IsError(err, ErrHeaderNotFound) {
			// Walked past the start header.
			return nil
		}
		if err != nil {
			return err
		}
		cur = parent
	}
}

// advanceConfirmed moves the confirmed index to the main chain header
// ConfirmationDepth below best.  The index only ever moves forward.
func (c *Chain) advanceConfirmed(ns walletdb.ReadWriteBucket, best HeaderIndex) error {
	depth := c.cfg.ConfirmationDepth
	if best.Height < depth {
		return nil
	}
	target := best.Height - depth

	confirmed, ok, err := fetchIndex(ns, rootConfirmed)
	if err != nil {
		return err
	}
	if ok && target <= confirmed.Height {
		return nil
	}

	hash, found := fetchMainChain(ns, target)
	if !found {
		// Below the start header.
		return nil
	}

	next := HeaderIndex{Hash: hash, Height: target}
	if err := putIndex(ns, rootConfirmed, next); err != nil {
		return err
	}
	log.Debugf("Confirmed index advanced to %v", next)
	return nil
}

// AdvanceConfirmed recomputes the confirmed index from the best index.
func (c *Chain) AdvanceConfirmed(ns walletdb.ReadWriteBucket) error {
	best, err := c.BestIndex(ns)
	if err != nil {
		return err
	}
	return c.advanceConfirmed(ns, best)
}

func (c *Chain) checkIndex(ns walletdb.ReadBucket, idx HeaderIndex) (*HeaderInfo, error) {
	info, err := c.Header(ns, &idx.Hash)
	if IsError(err, ErrHeaderNotFound) {
		str := fmt.Sprintf("index %v references unknown header", idx)
		return nil, chainError(ErrInvalidIndex, str, nil)
	}
	if err != nil {
		return nil, err
	}
	if info.Height != idx.Height {
		str := fmt.Sprintf("index %v does not match stored height %d",
			idx, info.Height)
		return nil, chainError(ErrInvalidIndex, str, nil)
	}
	return info, nil
}

// SetBestIndex overrides the best index.  Fork choice is bypassed; the main
// chain marks follow the new tip.
func (c *Chain) SetBestIndex(ns walletdb.ReadWriteBucket, idx HeaderIndex) error {
	info, err := c.checkIndex(ns, idx)
	if err != nil {
		return err
	}
	oldIdx, err := c.BestIndex(ns)
	if err != nil {
		return err
	}
	old, err := c.Header(ns, &oldIdx.Hash)
	if err != nil {
		return err
	}
	if err := c.reorganize(ns, info, old); err != nil {
		return err
	}
	if err := putIndex(ns, rootBest, idx); err != nil {
		return err
	}
	log.Warnf("Best index overridden from %v to %v", oldIdx, idx)
	return nil
}

// SetConfirmedIndex overrides the confirmed index.  No ordering against the
// current confirmed index is enforced.
func (c *Chain) SetConfirmedIndex(ns walletdb.ReadWriteBucket, idx HeaderIndex) error {
	if _, err := c.checkIndex(ns, idx); err != nil {
		return err
	}
	if err := putIndex(ns, rootConfirmed, idx); err != nil {
		return err
	}
	log.Warnf("Confirmed index overridden to %v", idx)
	return nil
}

// CheckConnectivity walks the main chain from the best index down to the
// start header and makes sure every header connects to its parent.
func (c *Chain) CheckConnectivity(ns walletdb.ReadBucket) error {
	bestIdx, err := c.BestIndex(ns)
	if err != nil {
		return err
	}
	cur, err := c.Header(ns, &bestIdx.Hash)
	if err != nil {
		return err
	}
	for {
		hash := cur.Header.BlockHash()
		main, ok := fetchMainChain(ns, cur.Height)
		if !ok || main != hash {
			return fmt.Errorf("header %v at height %d is not marked "+
				"as main chain", hash, cur.Height)
		}
		parent, err := c.Header(ns, &cur.Header.PrevBlock)
		if IsError(err, ErrHeaderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if parent.Height != cur.Height-1 {
			return fmt.Errorf("header %v doesn't have correct height: "+
				"want %d, got %d", cur.Header.PrevBlock,
				cur.Height-1, parent.Height)
		}
		cur = parent
	}
}

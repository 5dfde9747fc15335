// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spv

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// maxProofTransactions bounds the leaf count of a partial merkle tree by the
// most minimal transactions (240 weight units) fitting in a 4M weight block.
const maxProofTransactions = 4000000 / 240

// MerkleProof is a partial merkle tree, the transaction commitment carried
// by a merkleblock message.  Flags are read least significant bit first.
type MerkleProof struct {
	Transactions uint32
	Hashes       []chainhash.Hash
	Flags        []byte
}

// ParseMerkleBlock decodes a serialized merkleblock message, as returned by
// a node's gettxoutproof call, into its header and partial merkle tree.
func ParseMerkleBlock(b []byte) (*wire.BlockHeader, *MerkleProof, error) {
	var msg wire.MsgMerkleBlock
	r := bytes.NewReader(b)
	err := msg.BtcDecode(r, wire.ProtocolVersion, wire.BaseEncoding)
	if err != nil {
		return nil, nil, spvError(ErrBadMerkleProof,
			"cannot decode merkle block", err)
	}
	if r.Len() != 0 {
		str := fmt.Sprintf("%d trailing bytes after merkle block", r.Len())
		return nil, nil, spvError(ErrBadMerkleProof, str, nil)
	}

	proof := &MerkleProof{
		Transactions: msg.Transactions,
		Hashes:       make([]chainhash.Hash, len(msg.Hashes)),
		Flags:        msg.Flags,
	}
	for i, h := range msg.Hashes {
		proof.Hashes[i] = *h
	}
	return &msg.Header, proof, nil
}

// MerkleBlock returns the proof as a merkleblock message for header.
func (p *MerkleProof) MerkleBlock(header *wire.BlockHeader) *wire.MsgMerkleBlock {
	msg := wire.NewMsgMerkleBlock(header)
	msg.Transactions = p.Transactions
	msg.Hashes = make([]*chainhash.Hash, len(p.Hashes))
	for i := range p.Hashes {
		h := p.Hashes[i]
		msg.Hashes[i] = &h
	}
	msg.Flags = append([]byte(nil), p.Flags...)
	return msg
}

// treeWidth returns the number of nodes at height in a tree with n leaves.
func treeWidth(n uint32, height uint) uint32 {
	return uint32((uint64(n) + (1 << height) - 1) >> height)
}

func treeHeight(n uint32) uint {
	var height uint
	for treeWidth(n, height) > 1 {
		height++
	}
	return height
}

type partialTreeReader struct {
	proof    *MerkleProof
	bitsUsed int
	hashUsed int
	matches  []chainhash.Hash
	indexes  []uint32
	bad      error
}

func (r *partialTreeReader) nextBit() (bool, bool) {
	if r.bitsUsed >= len(r.proof.Flags)*8 {
		return false, false
	}
	bit := r.proof.Flags[r.bitsUsed/8]>>(uint(r.bitsUsed)%8)&1 == 1
	r.bitsUsed++
	return bit, true
}

func (r *partialTreeReader) traverse(height uint, pos uint32) chainhash.Hash {
	if r.bad != nil {
		return chainhash.Hash{}
	}
	parentOfMatch, ok := r.nextBit()
	if !ok {
		r.bad = fmt.Errorf("ran out of flag bits")
		return chainhash.Hash{}
	}

	if height == 0 || !parentOfMatch {
		if r.hashUsed >= len(r.proof.Hashes) {
			r.bad = fmt.Errorf("ran out of hashes")
			return chainhash.Hash{}
		}
		hash := r.proof.Hashes[r.hashUsed]
		r.hashUsed++
		if height == 0 && parentOfMatch {
			r.matches = append(r.matches, hash)
			r.indexes = append(r.indexes, pos)
		}
		return hash
	}

	left := r.traverse(height-1, pos*2)
	right := left
	if pos*2+1 < treeWidth(r.proof.Transactions, height-1) {
		right = r.traverse(height-1, pos*2+1)
		if r.bad == nil && right == left {
			// Identical siblings let two different transaction lists
			// share a root.
			r.bad = fmt.Errorf("duplicate node at height %d", height-1)
		}
	}
	return blockchain.HashMerkleBranches(&left, &right)
}

// Extract walks the partial tree and returns the merkle root it commits to,
// the matched transaction hashes and their positions in the block.
func (p *MerkleProof) Extract() (chainhash.Hash, []chainhash.Hash, []uint32, error) {
	var root chainhash.Hash
	switch {
	case p.Transactions == 0:
		return root, nil, nil, spvError(ErrBadMerkleProof,
			"merkle proof commits to no transactions", nil)
	case p.Transactions > maxProofTransactions:
		str := fmt.Sprintf("merkle proof claims %d transactions",
			p.Transactions)
		return root, nil, nil, spvError(ErrBadMerkleProof, str, nil)
	case uint32(len(p.Hashes)) > p.Transactions:
		str := fmt.Sprintf("merkle proof has %d hashes for %d "+
			"transactions", len(p.Hashes), p.Transactions)
		return root, nil, nil, spvError(ErrBadMerkleProof, str, nil)
	case len(p.Flags)*8 < len(p.Hashes):
		return root, nil, nil, spvError(ErrBadMerkleProof,
			"merkle proof has fewer flag bits than hashes", nil)
	}

	r := &partialTreeReader{proof: p}
	root = r.traverse(treeHeight(p.Transactions), 0)
	if r.bad != nil {
		return root, nil, nil, spvError(ErrBadMerkleProof,
			"malformed partial merkle tree", r.bad)
	}
	if (r.bitsUsed+7)/8 != len(p.Flags) {
		return root, nil, nil, spvError(ErrBadMerkleProof,
			"unused flag bytes in merkle proof", nil)
	}
	for i := r.bitsUsed; i < len(p.Flags)*8; i++ {
		if p.Flags[i/8]>>(uint(i)%8)&1 == 1 {
			return root, nil, nil, spvError(ErrBadMerkleProof,
				"nonzero padding in merkle proof flags", nil)
		}
	}
	if r.hashUsed != len(p.Hashes) {
		return root, nil, nil, spvError(ErrBadMerkleProof,
			"unused hashes in merkle proof", nil)
	}
	return root, r.matches, r.indexes, nil
}

type partialTreeBuilder struct {
	txHashes []chainhash.Hash
	matched  []bool
	proof    *MerkleProof
	bits     []bool
}

func (b *partialTreeBuilder) hashAt(height uint, pos uint32) chainhash.Hash {
	if height == 0 {
		return b.txHashes[pos]
	}
	left := b.hashAt(height-1, pos*2)
	right := left
	if pos*2+1 < treeWidth(b.proof.Transactions, height-1) {
		right = b.hashAt(height-1, pos*2+1)
	}
	return blockchain.HashMerkleBranches(&left, &right)
}

func (b *partialTreeBuilder) build(height uint, pos uint32) {
	parentOfMatch := false
	n := b.proof.Transactions
	for p := pos << height; p < (pos+1)<<height && p < n; p++ {
		if b.matched[p] {
			parentOfMatch = true
			break
		}
	}
	b.bits = append(b.bits, parentOfMatch)

	if height == 0 || !parentOfMatch {
		b.proof.Hashes = append(b.proof.Hashes, b.hashAt(height, pos))
		return
	}
	b.build(height-1, pos*2)
	if pos*2+1 < treeWidth(n, height-1) {
		b.build(height-1, pos*2+1)
	}
}

// NewMerkleProof builds the partial merkle tree over the block's transaction
// hashes that proves inclusion of every transaction in matches.
func NewMerkleProof(txHashes []chainhash.Hash, matches []chainhash.Hash) (*MerkleProof, error) {
	if len(txHashes) == 0 {
		return nil, spvError(ErrBadMerkleProof,
			"cannot build a merkle proof over no transactions", nil)
	}

	b := &partialTreeBuilder{
		txHashes: txHashes,
		matched:  make([]bool, len(txHashes)),
		proof:    &MerkleProof{Transactions: uint32(len(txHashes))},
	}
	for _, m := range matches {
		found := false
		for i := range txHashes {
			if txHashes[i] == m {
				b.matched[i] = true
				found = true
			}
		}
		if !found {
			str := fmt.Sprintf("transaction %v is not in the block", m)
			return nil, spvError(ErrBadMerkleProof, str, nil)
		}
	}

	b.build(treeHeight(b.proof.Transactions), 0)

	b.proof.Flags = make([]byte, (len(b.bits)+7)/8)
	for i, bit := range b.bits {
		if bit {
			b.proof.Flags[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return b.proof, nil
}

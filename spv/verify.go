// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spv

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// RelayedTxInfo accompanies a relayed transaction: the block claimed to
// contain it and the partial merkle tree proving it.
type RelayedTxInfo struct {
	BlockHash chainhash.Hash
	Proof     *MerkleProof
}

// DecodeTx decodes a transaction in either the legacy or the witness
// serialization.  Trailing bytes are an error.
func DecodeTx(b []byte) (*wire.MsgTx, error) {
	tx := new(wire.MsgTx)
	r := bytes.NewReader(b)
	if err := tx.Deserialize(r); err != nil {
		return nil, spvError(ErrMalformedTx, "cannot decode transaction", err)
	}
	if r.Len() != 0 {
		str := fmt.Sprintf("%d trailing bytes after transaction %v",
			r.Len(), tx.TxHash())
		return nil, spvError(ErrMalformedTx, str, nil)
	}
	if len(tx.TxIn) == 0 {
		str := fmt.Sprintf("transaction %v has no inputs", tx.TxHash())
		return nil, spvError(ErrMalformedTx, str, nil)
	}
	return tx, nil
}

// Verify checks that proof commits tx, and no other transaction, to
// merkleRoot.
func Verify(tx *wire.MsgTx, proof *MerkleProof, merkleRoot *chainhash.Hash) error {
	if proof == nil {
		return spvError(ErrBadMerkleProof, "missing merkle proof", nil)
	}
	root, matches, indexes, err := proof.Extract()
	if err != nil {
		return err
	}
	if root != *merkleRoot {
		str := fmt.Sprintf("merkle proof commits to root %v, header has %v",
			root, merkleRoot)
		return spvError(ErrBadMerkleProof, str, nil)
	}

	txHash := tx.TxHash()
	if len(matches) != 1 || matches[0] != txHash {
		str := fmt.Sprintf("merkle proof does not match transaction %v "+
			"alone (%d matches)", txHash, len(matches))
		return spvError(ErrBadMerkleProof, str, nil)
	}

	log.Debugf("Verified transaction %v at position %d of %d", txHash,
		indexes[0], proof.Transactions)
	return nil
}

// CheckPrevTx ensures prevTx is the transaction spent by the first input of
// tx and returns the output being spent.
func CheckPrevTx(tx, prevTx *wire.MsgTx) (*wire.TxOut, error) {
	if len(tx.TxIn) == 0 {
		str := fmt.Sprintf("transaction %v has no inputs", tx.TxHash())
		return nil, spvError(ErrInvalidPrevTx, str, nil)
	}
	outpoint := tx.TxIn[0].PreviousOutPoint
	prevHash := prevTx.TxHash()
	if prevHash != outpoint.Hash {
		str := fmt.Sprintf("previous transaction %v is not spent by the "+
			"first input of %v (%v)", prevHash, tx.TxHash(), outpoint)
		return nil, spvError(ErrInvalidPrevTx, str, nil)
	}
	if int(outpoint.Index) >= len(prevTx.TxOut) {
		str := fmt.Sprintf("outpoint %v is out of range", outpoint)
		return nil, spvError(ErrInvalidPrevTx, str, nil)
	}
	return prevTx.TxOut[outpoint.Index], nil
}

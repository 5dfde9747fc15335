// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdrawal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// SigState is the signing state of a proposal.
type SigState uint8

const (
	// Unfinished proposals are still collecting signatures.
	Unfinished SigState = iota

	// Finished proposals carry enough signatures to be broadcast.
	Finished
)

func (s SigState) String() string {
	switch s {
	case Unfinished:
		return "Unfinished"
	case Finished:
		return "Finished"
	}
	return fmt.Sprintf("SigState(%d)", uint8(s))
}

// Vote is a trustee's decision on a proposal.
type Vote struct {
	Trustee string
	Approve bool
}

// Proposal is the outstanding settlement transaction and the withdrawals it
// pays.
type Proposal struct {
	SigState      SigState
	WithdrawalIDs []uint32
	Tx            *wire.MsgTx

	// SpentOutputs holds the output spent by each input of Tx.
	SpentOutputs []*wire.TxOut

	Votes []Vote
}

// Approvals returns the trustees that signed the proposal.
func (p *Proposal) Approvals() []string {
	var accounts []string
	for _, v := range p.Votes {
		if v.Approve {
			accounts = append(accounts, v.Trustee)
		}
	}
	return accounts
}

// Rejections returns the number of reject votes.
func (p *Proposal) Rejections() int {
	n := 0
	for _, v := range p.Votes {
		if !v.Approve {
			n++
		}
	}
	return n
}

func (p *Proposal) hasVoted(trustee string) bool {
	for _, v := range p.Votes {
		if v.Trustee == trustee {
			return true
		}
	}
	return false
}

// Outpoints returns the outpoints spent by the proposal.
func (p *Proposal) Outpoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, len(p.Tx.TxIn))
	for i, in := range p.Tx.TxIn {
		ops[i] = in.PreviousOutPoint
	}
	return ops
}

func newPrevOutFetcher(tx *wire.MsgTx, spent []*wire.TxOut) *txscript.MultiPrevOutFetcher {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(spent))
	for i, in := range tx.TxIn {
		prevOuts[in.PreviousOutPoint] = spent[i]
	}
	return txscript.NewMultiPrevOutFetcher(prevOuts)
}

const (
	typeSigState      tlv.Type = 0
	typeWithdrawalIDs tlv.Type = 1
	typeTx            tlv.Type = 2
	typeSpentOutputs  tlv.Type = 3
	typeVotes         tlv.Type = 4
)

var byteOrder = binary.BigEndian

func serializeIDs(ids []uint32) []byte {
	b := make([]byte, 4*len(ids))
	for i, id := range ids {
		byteOrder.PutUint32(b[i*4:], id)
	}
	return b
}

func deserializeIDs(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("withdrawal id list of %d bytes", len(b))
	}
	ids := make([]uint32, len(b)/4)
	for i := range ids {
		ids[i] = byteOrder.Uint32(b[i*4:])
	}
	return ids, nil
}

// SerializeSpentOutputs encodes the outputs spent by a settlement as a
// compact size count followed by the outputs in transaction encoding.
func SerializeSpentOutputs(outs []*wire.TxOut) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(outs))); err != nil {
		return nil, err
	}
	for _, out := range outs {
		err := wire.WriteTxOut(&buf, 0, wire.TxVersion, out)
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DeserializeSpentOutputs decodes outputs written by SerializeSpentOutputs.
func DeserializeSpentOutputs(b []byte) ([]*wire.TxOut, error) {
	r := bytes.NewReader(b)
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if n > uint64(len(b)) {
		return nil, fmt.Errorf("spent output count %d too large", n)
	}
	outs := make([]*wire.TxOut, n)
	for i := range outs {
		outs[i] = new(wire.TxOut)
		if err := wire.ReadTxOut(r, 0, wire.TxVersion, outs[i]); err != nil {
			return nil, err
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after spent outputs", r.Len())
	}
	return outs, nil
}

func serializeVotes(votes []Vote) []byte {
	var buf bytes.Buffer
	for _, v := range votes {
		approve := byte(0)
		if v.Approve {
			approve = 1
		}
		buf.WriteByte(approve)
		buf.WriteByte(byte(len(v.Trustee)))
		buf.WriteString(v.Trustee)
	}
	return buf.Bytes()
}

func deserializeVotes(b []byte) ([]Vote, error) {
	var votes []Vote
	r := bytes.NewReader(b)
	for r.Len() > 0 {
		var hdr [2]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		name := make([]byte, hdr[1])
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		votes = append(votes, Vote{Trustee: string(name), Approve: hdr[0] == 1})
	}
	return votes, nil
}

// encodeProposal encodes p as a TLV stream.
func encodeProposal(p *Proposal) ([]byte, error) {
	if p == nil || p.Tx == nil {
		return nil, errors.New("cannot encode empty proposal")
	}
	for _, v := range p.Votes {
		if len(v.Trustee) > 255 {
			return nil, fmt.Errorf("trustee name %q too long", v.Trustee)
		}
	}

	state := uint8(p.SigState)
	ids := serializeIDs(p.WithdrawalIDs)
	var txBuf bytes.Buffer
	if err := p.Tx.Serialize(&txBuf); err != nil {
		return nil, err
	}
	txBytes := txBuf.Bytes()
	spent, err := SerializeSpentOutputs(p.SpentOutputs)
	if err != nil {
		return nil, err
	}
	votes := serializeVotes(p.Votes)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeSigState, &state),
		tlv.MakePrimitiveRecord(typeWithdrawalIDs, &ids),
		tlv.MakePrimitiveRecord(typeTx, &txBytes),
		tlv.MakePrimitiveRecord(typeSpentOutputs, &spent),
		tlv.MakePrimitiveRecord(typeVotes, &votes),
	)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeProposal decodes a TLV stream written by encodeProposal.
func decodeProposal(b []byte) (*Proposal, error) {
	var state uint8
	var ids, txBytes, spent, votes []byte
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeSigState, &state),
		tlv.MakePrimitiveRecord(typeWithdrawalIDs, &ids),
		tlv.MakePrimitiveRecord(typeTx, &txBytes),
		tlv.MakePrimitiveRecord(typeSpentOutputs, &spent),
		tlv.MakePrimitiveRecord(typeVotes, &votes),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	p := &Proposal{SigState: SigState(state), Tx: new(wire.MsgTx)}
	if p.WithdrawalIDs, err = deserializeIDs(ids); err != nil {
		return nil, err
	}
	if err := p.Tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return nil, err
	}
	if p.SpentOutputs, err = DeserializeSpentOutputs(spent); err != nil {
		return nil, err
	}
	if p.Votes, err = deserializeVotes(votes); err != nil {
		return nil, err
	}
	return p, nil
}

var keyProposal = []byte("proposal")

// fetchProposal reads the proposal slot.
func fetchProposal(ns walletdb.ReadBucket) (fn.Option[*Proposal], error) {
	v := ns.Get(keyProposal)
	if v == nil {
		return fn.None[*Proposal](), nil
	}
	p, err := decodeProposal(v)
	if err != nil {
		return fn.None[*Proposal](), newError(ErrDatabase,
			"corrupt withdrawal proposal", err)
	}
	return fn.Some(p), nil
}

func putProposal(ns walletdb.ReadWriteBucket, p *Proposal) error {
	v, err := encodeProposal(p)
	if err != nil {
		return newError(ErrDatabase, "cannot encode withdrawal proposal", err)
	}
	if err := ns.Put(keyProposal, v); err != nil {
		return newError(ErrDatabase, "failed to store withdrawal proposal", err)
	}
	return nil
}

func deleteProposal(ns walletdb.ReadWriteBucket) error {
	if err := ns.Delete(keyProposal); err != nil {
		return newError(ErrDatabase, "failed to delete withdrawal proposal", err)
	}
	return nil
}

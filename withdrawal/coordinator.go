// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package withdrawal coordinates the trustees paying out withdrawals.
//
// At most one settlement transaction, the proposal, is outstanding at a
// time.  A trustee creates it from a batch of applying withdrawal records,
// the other trustees add their signatures to it one call at a time, and it
// is cleared once the settlement confirms on chain, enough trustees reject
// it, or an authority removes it.
package withdrawal

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// RecordState is the state of a withdrawal record.
type RecordState uint8

const (
	// StateApplying records wait to be picked up by a proposal.
	StateApplying RecordState = iota

	// StateProcessing records are paid by the outstanding proposal.
	StateProcessing

	// StateFinished records were paid by a confirmed settlement.
	StateFinished

	// StateCanceled records were withdrawn by their owner.
	StateCanceled
)

func (s RecordState) String() string {
	switch s {
	case StateApplying:
		return "Applying"
	case StateProcessing:
		return "Processing"
	case StateFinished:
		return "Finished"
	case StateCanceled:
		return "Canceled"
	}
	return fmt.Sprintf("RecordState(%d)", uint8(s))
}

// Record is a withdrawal request.
type Record struct {
	ID      uint32
	Account string
	Addr    string
	Balance btcutil.Amount
	State   RecordState
}

// RecordStore holds withdrawal records.
type RecordStore interface {
	Record(id uint32) (*Record, error)
	SetState(id uint32, state RecordState) error
}

// Limits are the economic parameters a proposal is checked against.
type Limits struct {
	// WithdrawalFee is deducted from every withdrawal.
	WithdrawalFee btcutil.Amount

	// MaxWithdrawalCount bounds the withdrawals in one proposal.
	MaxWithdrawalCount uint32
}

// Config configures a Coordinator.
type Config struct {
	ChainParams *chaincfg.Params

	// Verifier checks trustee signatures.  Nil selects ECDSAVerifier.
	Verifier SignatureVerifier

	// RelayFeePerKb sets the dust limit for settlement outputs.  Zero
	// selects txrules.DefaultRelayFeePerKb.
	RelayFeePerKb btcutil.Amount
}

// Coordinator runs the proposal state machine.  The proposal lives in the
// namespace bucket passed to each method.
type Coordinator struct {
	cfg Config
}

// New returns a Coordinator.
func New(cfg *Config) *Coordinator {
	c := &Coordinator{cfg: *cfg}
	if c.cfg.Verifier == nil {
		c.cfg.Verifier = ECDSAVerifier{}
	}
	if c.cfg.RelayFeePerKb == 0 {
		c.cfg.RelayFeePerKb = txrules.DefaultRelayFeePerKb
	}
	return c
}

// Proposal returns the outstanding proposal, if any.
func (c *Coordinator) Proposal(ns walletdb.ReadBucket) (fn.Option[*Proposal], error) {
	return fetchProposal(ns)
}

func (c *Coordinator) mustProposal(ns walletdb.ReadBucket) (*Proposal, error) {
	slot, err := fetchProposal(ns)
	if err != nil {
		return nil, err
	}
	p := slot.UnwrapOr(nil)
	if p == nil {
		return nil, newError(ErrNoProposal, "no withdrawal proposal", nil)
	}
	return p, nil
}

// normalizeIDs sorts ids and removes duplicates.
func normalizeIDs(ids []uint32) []uint32 {
	sorted := make([]uint32, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := sorted[:0]
	for i, id := range sorted {
		if i == 0 || id != sorted[i-1] {
			out = append(out, id)
		}
	}
	return out
}

// checkSpentOutputs ensures spent holds one trustee output per input of tx.
func checkSpentOutputs(tx *wire.MsgTx, spent []*wire.TxOut, set *TrusteeSet) error {
	if len(tx.TxIn) == 0 {
		return newError(ErrMismatchedTx, "settlement spends nothing", nil)
	}
	if len(spent) != len(tx.TxIn) {
		str := fmt.Sprintf("%d spent outputs for %d inputs", len(spent),
			len(tx.TxIn))
		return newError(ErrInvalidSpentOutputs, str, nil)
	}
	seen := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	for i, in := range tx.TxIn {
		if _, ok := seen[in.PreviousOutPoint]; ok {
			str := fmt.Sprintf("outpoint %v spent twice", in.PreviousOutPoint)
			return newError(ErrMismatchedTx, str, nil)
		}
		seen[in.PreviousOutPoint] = struct{}{}

		if spent[i] == nil || set.AddressFor(spent[i].PkScript) == nil {
			str := fmt.Sprintf("input %d does not spend a trustee output", i)
			return newError(ErrInvalidSpentOutputs, str, nil)
		}
	}
	return nil
}

// checkOutputs matches every record to an output paying its balance less
// the withdrawal fee.  Any other output must return change to the trustees.
func (c *Coordinator) checkOutputs(tx *wire.MsgTx, recs []*Record,
	set *TrusteeSet, fee btcutil.Amount) error {

	used := make([]bool, len(tx.TxOut))
	for _, rec := range recs {
		if rec.Balance <= fee {
			str := fmt.Sprintf("withdrawal %d of %v does not cover the "+
				"fee of %v", rec.ID, rec.Balance, fee)
			return newError(ErrInvalidWithdrawal, str, nil)
		}
		addr, err := btcutil.DecodeAddress(rec.Addr, c.cfg.ChainParams)
		if err != nil {
			str := fmt.Sprintf("withdrawal %d has invalid address %q",
				rec.ID, rec.Addr)
			return newError(ErrInvalidWithdrawal, str, err)
		}
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			str := fmt.Sprintf("withdrawal %d pays unsupported address %v",
				rec.ID, addr)
			return newError(ErrInvalidWithdrawal, str, err)
		}

		want := int64(rec.Balance - fee)
		matched := false
		for i, out := range tx.TxOut {
			if used[i] || out.Value != want || string(out.PkScript) != string(pkScript) {
				continue
			}
			used[i] = true
			matched = true
			break
		}
		if !matched {
			str := fmt.Sprintf("no output pays %v to %v for withdrawal %d",
				btcutil.Amount(want), addr, rec.ID)
			return newError(ErrMismatchedTx, str, nil)
		}
	}

	for i, out := range tx.TxOut {
		if !used[i] && set.AddressFor(out.PkScript) == nil {
			str := fmt.Sprintf("output %d pays neither a withdrawal nor "+
				"the trustees", i)
			return newError(ErrMismatchedTx, str, nil)
		}
		if txrules.IsDustOutput(out, c.cfg.RelayFeePerKb) {
			str := fmt.Sprintf("output %d of %v is dust", i,
				btcutil.Amount(out.Value))
			return newError(ErrDustOutput, str, nil)
		}
	}
	return nil
}

// Create stores a new proposal paying the withdrawals ids with tx.  spent
// holds the trustee output spent by each input.  Signatures already on tx
// must be the proposer's and count as their approval.
func (c *Coordinator) Create(ns walletdb.ReadWriteBucket, records RecordStore,
	set *TrusteeSet, proposer string, ids []uint32, tx *wire.MsgTx,
	spent []*wire.TxOut, limits Limits) (*Proposal, error) {

	slot, err := fetchProposal(ns)
	if err != nil {
		return nil, err
	}
	if slot.IsSome() {
		return nil, newError(ErrProposalAlreadyExists,
			"a withdrawal proposal is already outstanding", nil)
	}
	if !set.Contains(proposer) {
		str := fmt.Sprintf("%s is not a trustee", proposer)
		return nil, newError(ErrNotTrustee, str, nil)
	}

	ids = normalizeIDs(ids)
	if len(ids) == 0 || uint32(len(ids)) > limits.MaxWithdrawalCount {
		str := fmt.Sprintf("proposal pays %d withdrawals, limit is %d",
			len(ids), limits.MaxWithdrawalCount)
		return nil, newError(ErrWithdrawalCount, str, nil)
	}

	if err := checkSpentOutputs(tx, spent, set); err != nil {
		return nil, err
	}

	recs := make([]*Record, len(ids))
	for i, id := range ids {
		rec, err := records.Record(id)
		if err != nil {
			str := fmt.Sprintf("withdrawal %d", id)
			return nil, newError(ErrInvalidWithdrawal, str, err)
		}
		if rec.State != StateApplying {
			str := fmt.Sprintf("withdrawal %d is %v, not Applying", id,
				rec.State)
			return nil, newError(ErrInvalidWithdrawal, str, nil)
		}
		recs[i] = rec
	}

	if err := c.checkOutputs(tx, recs, set, limits.WithdrawalFee); err != nil {
		return nil, err
	}

	var totalIn, totalOut int64
	for _, out := range spent {
		totalIn += out.Value
	}
	for _, out := range tx.TxOut {
		totalOut += out.Value
	}
	if totalOut > totalIn {
		str := fmt.Sprintf("settlement pays %v but spends %v",
			btcutil.Amount(totalOut), btcutil.Amount(totalIn))
		return nil, newError(ErrInsufficientFunds, str, nil)
	}

	p := &Proposal{
		SigState:      Unfinished,
		WithdrawalIDs: ids,
		Tx:            tx.Copy(),
		SpentOutputs:  spent,
	}

	signers, err := txSigners(p.Tx, spent, set, c.cfg.Verifier)
	if err != nil {
		return nil, err
	}
	switch {
	case len(signers) == 0:
	case len(signers) == 1 && signers[0] == proposer:
		if err := c.approve(p, set, proposer); err != nil {
			return nil, err
		}
	default:
		str := fmt.Sprintf("proposal carries signatures of %v, only the "+
			"proposer %s may sign on creation", signers, proposer)
		return nil, newError(ErrInvalidSignCount, str, nil)
	}

	for _, id := range ids {
		if err := records.SetState(id, StateProcessing); err != nil {
			return nil, err
		}
	}
	if err := putProposal(ns, p); err != nil {
		return nil, err
	}

	log.Infof("Trustee %s proposed settlement %v for withdrawals %v",
		proposer, p.Tx.TxHash(), ids)
	return p, nil
}

// approve records an approval and finishes the proposal once the threshold
// is reached.
func (c *Coordinator) approve(p *Proposal, set *TrusteeSet, trustee string) error {
	p.Votes = append(p.Votes, Vote{Trustee: trustee, Approve: true})
	if len(p.Approvals()) < set.Threshold() {
		return nil
	}
	if err := validateTx(p.Tx, p.SpentOutputs); err != nil {
		return err
	}
	p.SigState = Finished
	log.Infof("Settlement %v collected %d of %d signatures and is ready "+
		"for broadcast", p.Tx.TxHash(), len(p.Approvals()), len(set.Trustees))
	return nil
}

// Sign records the vote of trustee.  A Some signed tx is an approval and
// must carry the previous signatures plus the trustee's own; None is a
// rejection.  The returned option is None when enough rejections dropped
// the proposal.
func (c *Coordinator) Sign(ns walletdb.ReadWriteBucket, records RecordStore,
	set *TrusteeSet, trustee string,
	signed fn.Option[*wire.MsgTx]) (fn.Option[*Proposal], error) {

	none := fn.None[*Proposal]()

	p, err := c.mustProposal(ns)
	if err != nil {
		return none, err
	}
	if p.SigState == Finished {
		return none, newError(ErrProposalFinished,
			"withdrawal proposal already finished", nil)
	}
	if !set.Contains(trustee) {
		str := fmt.Sprintf("%s is not a trustee", trustee)
		return none, newError(ErrNotTrustee, str, nil)
	}
	if p.hasVoted(trustee) {
		str := fmt.Sprintf("trustee %s already voted", trustee)
		return none, newError(ErrDuplicateVote, str, nil)
	}

	tx := signed.UnwrapOr(nil)
	if tx == nil {
		p.Votes = append(p.Votes, Vote{Trustee: trustee})
		limit := len(set.Trustees) - set.Threshold() + 1
		if p.Rejections() >= limit {
			log.Infof("Trustee %s rejected settlement %v, %d rejections "+
				"drop it", trustee, p.Tx.TxHash(), limit)
			return none, c.clear(ns, records, p)
		}
		log.Infof("Trustee %s rejected settlement %v (%d of %d)", trustee,
			p.Tx.TxHash(), p.Rejections(), limit)
		return fn.Some(p), putProposal(ns, p)
	}

	if !sameUnsignedTx(p.Tx, tx) {
		str := fmt.Sprintf("transaction %v differs from proposal %v",
			tx.TxHash(), p.Tx.TxHash())
		return none, newError(ErrMismatchedTx, str, nil)
	}
	signers, err := txSigners(tx, p.SpentOutputs, set, c.cfg.Verifier)
	if err != nil {
		return none, err
	}
	want := append(p.Approvals(), trustee)
	sort.Strings(want)
	if !equalStrings(signers, want) {
		str := fmt.Sprintf("transaction is signed by %v, want %v",
			signers, want)
		return none, newError(ErrInvalidSignCount, str, nil)
	}

	p.Tx = tx.Copy()
	if err := c.approve(p, set, trustee); err != nil {
		return none, err
	}
	if err := putProposal(ns, p); err != nil {
		return none, err
	}
	log.Infof("Trustee %s signed settlement %v (%d of %d)", trustee,
		p.Tx.TxHash(), len(p.Approvals()), set.Threshold())
	return fn.Some(p), nil
}

// clear returns the records of p to Applying and deletes the proposal.
func (c *Coordinator) clear(ns walletdb.ReadWriteBucket, records RecordStore,
	p *Proposal) error {

	for _, id := range p.WithdrawalIDs {
		rec, err := records.Record(id)
		if err != nil {
			return err
		}
		if rec.State != StateProcessing {
			log.Warnf("Withdrawal %d of dropped proposal is %v", id,
				rec.State)
			continue
		}
		if err := records.SetState(id, StateApplying); err != nil {
			return err
		}
	}
	return deleteProposal(ns)
}

// Remove drops the proposal whatever its signing state.  Its withdrawals
// become Applying again.
func (c *Coordinator) Remove(ns walletdb.ReadWriteBucket, records RecordStore) error {
	p, err := c.mustProposal(ns)
	if err != nil {
		return err
	}
	log.Warnf("Removing %v settlement %v for withdrawals %v", p.SigState,
		p.Tx.TxHash(), p.WithdrawalIDs)
	return c.clear(ns, records, p)
}

// ForceReplace replaces the proposal transaction with tx, which must pay the
// same outputs.  Votes are discarded.
func (c *Coordinator) ForceReplace(ns walletdb.ReadWriteBucket, set *TrusteeSet,
	tx *wire.MsgTx, spent []*wire.TxOut) (*Proposal, error) {

	p, err := c.mustProposal(ns)
	if err != nil {
		return nil, err
	}
	if !sameOutputs(p.Tx, tx) {
		str := fmt.Sprintf("replacement %v pays different outputs than %v",
			tx.TxHash(), p.Tx.TxHash())
		return nil, newError(ErrMismatchedTx, str, nil)
	}
	if err := checkSpentOutputs(tx, spent, set); err != nil {
		return nil, err
	}

	old := p.Tx.TxHash()
	p.Tx = stripSigs(tx)
	p.SpentOutputs = spent
	p.Votes = nil
	p.SigState = Unfinished
	if err := putProposal(ns, p); err != nil {
		return nil, err
	}
	log.Warnf("Settlement %v replaced by %v", old, p.Tx.TxHash())
	return p, nil
}

// Settle handles a confirmed settlement transaction.  tx must be the
// proposal transaction; its withdrawals become Finished and the proposal is
// cleared.
func (c *Coordinator) Settle(ns walletdb.ReadWriteBucket, records RecordStore,
	tx *wire.MsgTx) (*Proposal, error) {

	p, err := c.mustProposal(ns)
	if err != nil {
		return nil, err
	}
	if !sameUnsignedTx(p.Tx, tx) {
		str := fmt.Sprintf("confirmed transaction %v does not match "+
			"proposal %v", tx.TxHash(), p.Tx.TxHash())
		return nil, newError(ErrMismatchedTx, str, nil)
	}
	for _, id := range p.WithdrawalIDs {
		if err := records.SetState(id, StateFinished); err != nil {
			return nil, err
		}
	}
	if err := deleteProposal(ns); err != nil {
		return nil, err
	}
	log.Infof("Settlement %v confirmed, withdrawals %v finished",
		tx.TxHash(), p.WithdrawalIDs)
	return p, nil
}

// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spv

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// TxType is the purpose of a relayed transaction.
type TxType uint8

const (
	// Irrelevance is a verified transaction the gateway ignores.
	Irrelevance TxType = iota

	// Deposit pays the trustee hot address.
	Deposit

	// Withdrawal spends trustee funds to users.
	Withdrawal

	// HotAndCold moves funds between the trustee hot and cold addresses.
	HotAndCold

	// TrusteeTransition moves funds from the previous trustee set to the
	// current one.
	TrusteeTransition
)

var txTypeStrings = [...]string{
	Irrelevance:       "Irrelevance",
	Deposit:           "Deposit",
	Withdrawal:        "Withdrawal",
	HotAndCold:        "HotAndCold",
	TrusteeTransition: "TrusteeTransition",
}

func (t TxType) String() string {
	if int(t) < len(txTypeStrings) {
		return txTypeStrings[t]
	}
	return fmt.Sprintf("TxType(%d)", uint8(t))
}

// TrusteePair is the hot and cold address of one trustee set.
type TrusteePair struct {
	Hot  btcutil.Address
	Cold btcutil.Address
}

type pairScripts struct {
	hot  []byte
	cold []byte
}

func newPairScripts(p TrusteePair) (pairScripts, error) {
	hot, err := txscript.PayToAddrScript(p.Hot)
	if err != nil {
		return pairScripts{}, fmt.Errorf("hot address %v: %w", p.Hot, err)
	}
	cold, err := txscript.PayToAddrScript(p.Cold)
	if err != nil {
		return pairScripts{}, fmt.Errorf("cold address %v: %w", p.Cold, err)
	}
	return pairScripts{hot: hot, cold: cold}, nil
}

func (s pairScripts) contains(pkScript []byte) bool {
	return bytes.Equal(s.hot, pkScript) || bytes.Equal(s.cold, pkScript)
}

// Classification is the result of classifying a transaction.
type Classification struct {
	Type TxType

	// The remaining fields are only set for deposits.

	// DepositValue is the sum of the outputs paying the hot address.
	DepositValue btcutil.Amount

	// OpReturn is the payload of the first null data output.
	OpReturn fn.Option[[]byte]

	// InputAddr is the address spent by the first input, known only when
	// the previous transaction was supplied.
	InputAddr fn.Option[btcutil.Address]
}

// Detector classifies transactions against the current and previous trustee
// sets.
type Detector struct {
	params   *chaincfg.Params
	current  pairScripts
	previous fn.Option[pairScripts]
}

// NewDetector returns a Detector for the given trustee sets.
func NewDetector(params *chaincfg.Params, current TrusteePair,
	previous fn.Option[TrusteePair]) (*Detector, error) {

	cur, err := newPairScripts(current)
	if err != nil {
		return nil, err
	}
	d := &Detector{
		params:   params,
		current:  cur,
		previous: fn.None[pairScripts](),
	}

	var prevErr error
	previous.WhenSome(func(p TrusteePair) {
		var s pairScripts
		s, prevErr = newPairScripts(p)
		d.previous = fn.Some(s)
	})
	if prevErr != nil {
		return nil, prevErr
	}
	return d, nil
}

// Classify returns the purpose of tx.  prevTx, when not nil, must be the
// transaction spent by the first input.  Without it the first input is only
// attributed to a trustee set when it reveals the trustee redeem script, and
// deposits keep an unknown source address.
func (d *Detector) Classify(tx, prevTx *wire.MsgTx,
	proposal []wire.OutPoint) (*Classification, error) {

	log.Tracef("Classifying transaction %v", newLogClosure(func() string {
		return spew.Sdump(tx)
	}))

	var inputScript []byte
	switch {
	case prevTx != nil:
		prevOut, err := CheckPrevTx(tx, prevTx)
		if err != nil {
			return nil, err
		}
		inputScript = prevOut.PkScript

	case len(tx.TxIn) > 0:
		inputScript = d.redeemedTrusteeScript(tx.TxIn[0])
	}

	if inputScript != nil {
		allToCurrent := true
		for _, out := range tx.TxOut {
			if !d.current.contains(out.PkScript) {
				allToCurrent = false
				break
			}
		}

		if d.current.contains(inputScript) {
			if allToCurrent {
				return &Classification{Type: HotAndCold}, nil
			}
			return &Classification{Type: Withdrawal}, nil
		}

		isPrevious := false
		d.previous.WhenSome(func(s pairScripts) {
			isPrevious = s.contains(inputScript)
		})
		if isPrevious && allToCurrent {
			return &Classification{Type: TrusteeTransition}, nil
		}
	}

	if spendsAny(tx, proposal) {
		return &Classification{Type: Withdrawal}, nil
	}

	return d.classifyDeposit(tx, inputScript), nil
}

// classifyDeposit recognizes deposits: two or three outputs, at least one
// paying the hot address, usually along with a null data output carrying
// the account and an optional change output.
func (d *Detector) classifyDeposit(tx *wire.MsgTx, inputScript []byte) *Classification {
	txHash := tx.TxHash()
	if len(tx.TxOut) != 2 && len(tx.TxOut) != 3 {
		log.Debugf("Transaction %v has %d outputs, not a deposit",
			txHash, len(tx.TxOut))
		return &Classification{Type: Irrelevance}
	}

	c := &Classification{
		Type:      Deposit,
		OpReturn:  fn.None[[]byte](),
		InputAddr: fn.None[btcutil.Address](),
	}
	for _, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, d.current.hot) {
			c.DepositValue += btcutil.Amount(out.Value)
			continue
		}
		if c.OpReturn.IsNone() &&
			txscript.GetScriptClass(out.PkScript) == txscript.NullDataTy {

			c.OpReturn = fn.Some(nullDataPayload(out.PkScript))
		}
	}
	if c.DepositValue == 0 {
		log.Debugf("Transaction %v pays nothing to the hot address", txHash)
		return &Classification{Type: Irrelevance}
	}

	if addr := scriptAddress(inputScript, d.params); addr != nil {
		c.InputAddr = fn.Some(addr)
	}
	return c
}

func (d *Detector) isTrustee(pkScript []byte) bool {
	if d.current.contains(pkScript) {
		return true
	}
	found := false
	d.previous.WhenSome(func(s pairScripts) {
		found = s.contains(pkScript)
	})
	return found
}

// redeemedTrusteeScript returns the trustee output script spent by in when
// the input reveals a redeem script hashing to it, as P2WSH witness script
// or as the last push of a P2SH signature script.  It returns nil otherwise.
func (d *Detector) redeemedTrusteeScript(in *wire.TxIn) []byte {
	if n := len(in.Witness); n > 0 {
		h := sha256.Sum256(in.Witness[n-1])
		pkScript, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).AddData(h[:]).Script()
		if err == nil && d.isTrustee(pkScript) {
			return pkScript
		}
	}
	if redeem := lastPush(in.SignatureScript); redeem != nil {
		pkScript, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_HASH160).AddData(btcutil.Hash160(redeem)).
			AddOp(txscript.OP_EQUAL).Script()
		if err == nil && d.isTrustee(pkScript) {
			return pkScript
		}
	}
	return nil
}

// lastPush returns the data of the final push of a push only script.
func lastPush(script []byte) []byte {
	if len(script) == 0 || !txscript.IsPushOnlyScript(script) {
		return nil
	}
	var data []byte
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		data = tokenizer.Data()
	}
	if tokenizer.Err() != nil {
		return nil
	}
	return data
}

func spendsAny(tx *wire.MsgTx, outpoints []wire.OutPoint) bool {
	for _, in := range tx.TxIn {
		for _, op := range outpoints {
			if in.PreviousOutPoint == op {
				return true
			}
		}
	}
	return false
}

// scriptAddress returns the single address paid by pkScript, or nil.
func scriptAddress(pkScript []byte, params *chaincfg.Params) btcutil.Address {
	if len(pkScript) == 0 {
		return nil
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return nil
	}
	return addrs[0]
}

// nullDataPayload concatenates the data pushes following OP_RETURN.
func nullDataPayload(pkScript []byte) []byte {
	var payload []byte
	tokenizer := txscript.MakeScriptTokenizer(0, pkScript)
	for tokenizer.Next() {
		if tokenizer.Opcode() == txscript.OP_RETURN {
			continue
		}
		payload = append(payload, tokenizer.Data()...)
	}
	return payload
}

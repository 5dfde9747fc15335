// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdrawal

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// inputSigs are the signatures and redeem script carried by one input.
type inputSigs struct {
	redeemScript []byte
	sigs         [][]byte
}

// extractInputSigs returns the signatures on input idx of tx, which spends
// the trustee address addr.  An input without signature data yields no
// signatures.
func extractInputSigs(tx *wire.MsgTx, idx int, addr *TrusteeAddress) (*inputSigs, error) {
	txIn := tx.TxIn[idx]

	var pushes [][]byte
	switch {
	case addr.Witness:
		if len(txIn.SignatureScript) != 0 {
			str := fmt.Sprintf("witness input %d has a signature script", idx)
			return nil, newError(ErrBadRedeemScript, str, nil)
		}
		pushes = txIn.Witness

	default:
		if len(txIn.Witness) != 0 {
			str := fmt.Sprintf("legacy input %d has witness data", idx)
			return nil, newError(ErrBadRedeemScript, str, nil)
		}
		tokenizer := txscript.MakeScriptTokenizer(0, txIn.SignatureScript)
		for tokenizer.Next() {
			if tokenizer.Opcode() > txscript.OP_16 {
				str := fmt.Sprintf("input %d signature script is not "+
					"push only", idx)
				return nil, newError(ErrBadRedeemScript, str, nil)
			}
			pushes = append(pushes, tokenizer.Data())
		}
		if err := tokenizer.Err(); err != nil {
			str := fmt.Sprintf("cannot parse signature script of input %d", idx)
			return nil, newError(ErrBadRedeemScript, str, err)
		}
	}

	if len(pushes) == 0 {
		return &inputSigs{}, nil
	}

	s := &inputSigs{redeemScript: pushes[len(pushes)-1]}
	if !bytes.Equal(s.redeemScript, addr.RedeemScript) {
		str := fmt.Sprintf("input %d redeem script is not the trustee "+
			"multisig script", idx)
		return nil, newError(ErrBadRedeemScript, str, nil)
	}
	for _, push := range pushes[:len(pushes)-1] {
		if len(push) != 0 {
			s.sigs = append(s.sigs, push)
		}
	}
	return s, nil
}

// sigDigest returns the digest signed by a SigHashAll signature on input idx.
func sigDigest(tx *wire.MsgTx, idx int, addr *TrusteeAddress, spent *wire.TxOut,
	sigHashes *txscript.TxSigHashes) ([]byte, error) {

	if addr.Witness {
		return txscript.CalcWitnessSigHash(addr.RedeemScript, sigHashes,
			txscript.SigHashAll, tx, idx, spent.Value)
	}
	return txscript.CalcSignatureHash(addr.RedeemScript, txscript.SigHashAll,
		tx, idx)
}

// matchInputSigs verifies every signature on input idx and maps the index of
// the trustee key that made it to the signature, hash type included.
func matchInputSigs(tx *wire.MsgTx, idx int, addr *TrusteeAddress,
	spent *wire.TxOut, sigHashes *txscript.TxSigHashes,
	verifier SignatureVerifier) (map[int][]byte, error) {

	s, err := extractInputSigs(tx, idx, addr)
	if err != nil {
		return nil, err
	}
	matched := make(map[int][]byte, len(s.sigs))
	if len(s.sigs) == 0 {
		return matched, nil
	}

	digest, err := sigDigest(tx, idx, addr, spent, sigHashes)
	if err != nil {
		str := fmt.Sprintf("cannot compute signature hash of input %d", idx)
		return nil, newError(ErrInvalidSignature, str, err)
	}

	for _, sig := range s.sigs {
		hashType := txscript.SigHashType(sig[len(sig)-1])
		if hashType != txscript.SigHashAll {
			str := fmt.Sprintf("input %d carries a signature with hash "+
				"type %v", idx, hashType)
			return nil, newError(ErrInvalidSignature, str, nil)
		}
		der := sig[:len(sig)-1]

		found := -1
		for k, pubKey := range addr.PubKeys {
			if _, ok := matched[k]; ok {
				continue
			}
			if verifier.VerifySignature(pubKey, digest, der) {
				found = k
				break
			}
		}
		if found < 0 {
			str := fmt.Sprintf("signature on input %d does not verify "+
				"against any unused trustee key", idx)
			return nil, newError(ErrInvalidSignature, str, nil)
		}
		matched[found] = sig
	}
	return matched, nil
}

// inputSigners returns the key indexes that signed input idx in ascending
// order.
func inputSigners(tx *wire.MsgTx, idx int, addr *TrusteeAddress,
	spent *wire.TxOut, sigHashes *txscript.TxSigHashes,
	verifier SignatureVerifier) ([]int, error) {

	matched, err := matchInputSigs(tx, idx, addr, spent, sigHashes, verifier)
	if err != nil {
		return nil, err
	}
	signers := make([]int, 0, len(matched))
	for k := range matched {
		signers = append(signers, k)
	}
	sort.Ints(signers)
	return signers, nil
}

// txSigners verifies the signatures on every input of tx and returns the
// trustees that signed.  Every input must be signed by the same trustees.
func txSigners(tx *wire.MsgTx, spent []*wire.TxOut, set *TrusteeSet,
	verifier SignatureVerifier) ([]string, error) {

	sigHashes := txscript.NewTxSigHashes(tx, newPrevOutFetcher(tx, spent))

	var signers []string
	for idx := range tx.TxIn {
		addr := set.AddressFor(spent[idx].PkScript)
		if addr == nil {
			str := fmt.Sprintf("input %d does not spend a trustee output", idx)
			return nil, newError(ErrInvalidSpentOutputs, str, nil)
		}
		keys, err := inputSigners(tx, idx, addr, spent[idx], sigHashes, verifier)
		if err != nil {
			return nil, err
		}
		accounts := make([]string, len(keys))
		for i, k := range keys {
			accounts[i] = addr.Accounts[k]
		}
		sort.Strings(accounts)

		if idx == 0 {
			signers = accounts
			continue
		}
		if !equalStrings(signers, accounts) {
			str := fmt.Sprintf("input %d is signed by %v, input 0 by %v",
				idx, accounts, signers)
			return nil, newError(ErrInvalidSignCount, str, nil)
		}
	}
	return signers, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// validateTx runs every input of a fully signed tx through the script
// engine.
func validateTx(tx *wire.MsgTx, spent []*wire.TxOut) error {
	fetcher := newPrevOutFetcher(tx, spent)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for idx := range tx.TxIn {
		vm, err := txscript.NewEngine(spent[idx].PkScript, tx, idx,
			txscript.StandardVerifyFlags, nil, sigHashes,
			spent[idx].Value, fetcher)
		if err != nil {
			str := fmt.Sprintf("cannot create script engine for input %d", idx)
			return newError(ErrInvalidSignature, str, err)
		}
		if err := vm.Execute(); err != nil {
			str := fmt.Sprintf("cannot validate signatures of input %d", idx)
			return newError(ErrInvalidSignature, str, err)
		}
	}
	return nil
}

// stripSigs returns a copy of tx without signature scripts or witnesses.
func stripSigs(tx *wire.MsgTx) *wire.MsgTx {
	stripped := tx.Copy()
	for _, in := range stripped.TxIn {
		in.SignatureScript = nil
		in.Witness = nil
	}
	return stripped
}

// sameUnsignedTx returns whether a and b only differ in signature data.
func sameUnsignedTx(a, b *wire.MsgTx) bool {
	return stripSigs(a).TxHash() == stripSigs(b).TxHash()
}

// sameOutputs returns whether a and b pay the same outputs in the same
// order.
func sameOutputs(a, b *wire.MsgTx) bool {
	if len(a.TxOut) != len(b.TxOut) {
		return false
	}
	for i := range a.TxOut {
		if a.TxOut[i].Value != b.TxOut[i].Value ||
			!bytes.Equal(a.TxOut[i].PkScript, b.TxOut[i].PkScript) {

			return false
		}
	}
	return true
}

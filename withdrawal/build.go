// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdrawal

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// Utxo is a trustee output available to fund a settlement.
type Utxo struct {
	OutPoint wire.OutPoint
	Output   *wire.TxOut
}

// Settlement is an unsigned settlement transaction and the outputs it
// spends.
type Settlement struct {
	Tx           *wire.MsgTx
	SpentOutputs []*wire.TxOut
	Fee          btcutil.Amount
	ChangeIndex  int
}

// maxSigSize is the size of a DER signature with its hash type byte.
const maxSigSize = 73

// multisigInputSize estimates the serialized size of an input spending addr
// with a threshold of signatures, split into base and witness bytes.
func multisigInputSize(addr *TrusteeAddress) (base, witness int) {
	m := Threshold(len(addr.PubKeys))
	script := len(addr.RedeemScript)

	// outpoint, sequence
	base = 36 + 4
	if addr.Witness {
		// empty sig script; item count, dummy, sigs, script
		base++
		witness = 1 + 1 + m*(1+maxSigSize) +
			wire.VarIntSerializeSize(uint64(script)) + script
		return base, witness
	}

	// OP_0, sigs, script push
	sigScript := 1 + m*(1+maxSigSize) + 3 + script
	base += wire.VarIntSerializeSize(uint64(sigScript)) + sigScript
	return base, 0
}

// estimateVirtualSize estimates the virtual size of a fully signed
// settlement.
func estimateVirtualSize(inputs []*TrusteeAddress, outputs []*wire.TxOut) int {
	size := 4 + 4 + wire.VarIntSerializeSize(uint64(len(inputs))) +
		wire.VarIntSerializeSize(uint64(len(outputs))) +
		txsizes.SumOutputSerializeSizes(outputs)

	witness := 0
	for _, addr := range inputs {
		b, w := multisigInputSize(addr)
		size += b
		witness += w
	}
	if witness == 0 {
		return size
	}

	// marker and flag
	witness += 2
	return size + (witness+3)/4
}

// BuildSettlementTx builds the unsigned settlement paying every record its
// balance less fee.  utxos are spent in order until the payments and the
// transaction fee at feeRatePerKb are covered; change returns to the hot
// address.
func BuildSettlementTx(set *TrusteeSet, records []*Record, utxos []Utxo,
	fee, feeRatePerKb btcutil.Amount, params *chaincfg.Params) (*Settlement, error) {

	outputs := make([]*wire.TxOut, 0, len(records))
	for _, rec := range records {
		if rec.Balance <= fee {
			str := fmt.Sprintf("withdrawal %d of %v does not cover the "+
				"fee of %v", rec.ID, rec.Balance, fee)
			return nil, newError(ErrInvalidWithdrawal, str, nil)
		}
		addr, err := btcutil.DecodeAddress(rec.Addr, params)
		if err != nil {
			str := fmt.Sprintf("withdrawal %d has invalid address %q",
				rec.ID, rec.Addr)
			return nil, newError(ErrInvalidWithdrawal, str, err)
		}
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, newError(ErrInvalidWithdrawal, addr.String(), err)
		}
		out := wire.NewTxOut(int64(rec.Balance-fee), pkScript)
		if txrules.IsDustOutput(out, txrules.DefaultRelayFeePerKb) {
			str := fmt.Sprintf("withdrawal %d pays dust", rec.ID)
			return nil, newError(ErrDustOutput, str, nil)
		}
		outputs = append(outputs, out)
	}

	var used []Utxo
	spentAddrs := func() []*TrusteeAddress {
		addrs := make([]*TrusteeAddress, len(used))
		for i, u := range used {
			addrs[i] = set.AddressFor(u.Output.PkScript)
		}
		return addrs
	}
	inputSource := func(target btcutil.Amount) (btcutil.Amount,
		[]*wire.TxIn, []btcutil.Amount, [][]byte, error) {

		used = used[:0]
		var total btcutil.Amount
		var inputs []*wire.TxIn
		var values []btcutil.Amount
		var scripts [][]byte
		for _, u := range utxos {
			if set.AddressFor(u.Output.PkScript) == nil {
				continue
			}

			// Cover the multisig inputs the size estimate knows
			// nothing about.
			need := target + txrules.FeeForSerializeSize(feeRatePerKb,
				estimateVirtualSize(spentAddrs(), outputs))
			if total >= need && len(inputs) > 0 {
				break
			}
			op := u.OutPoint
			used = append(used, u)
			inputs = append(inputs, wire.NewTxIn(&op, nil, nil))
			values = append(values, btcutil.Amount(u.Output.Value))
			scripts = append(scripts, u.Output.PkScript)
			total += btcutil.Amount(u.Output.Value)
		}
		return total, inputs, values, scripts, nil
	}
	changeSource := &txauthor.ChangeSource{
		NewScript: func() ([]byte, error) {
			return set.Hot.PkScript, nil
		},
		ScriptSize: len(set.Hot.PkScript),
	}

	authored, err := txauthor.NewUnsignedTransaction(outputs, feeRatePerKb,
		inputSource, changeSource)
	if err != nil {
		return nil, newError(ErrInsufficientFunds,
			"trustee outputs cannot fund the settlement", err)
	}

	// Move the fee to what the signed transaction will need.
	tx := authored.Tx
	spent := make([]*wire.TxOut, len(tx.TxIn))
	addrs := make([]*TrusteeAddress, len(tx.TxIn))
	for i := range tx.TxIn {
		spent[i] = wire.NewTxOut(int64(authored.PrevInputValues[i]),
			authored.PrevScripts[i])
		addrs[i] = set.AddressFor(authored.PrevScripts[i])
	}
	required := txrules.FeeForSerializeSize(feeRatePerKb,
		estimateVirtualSize(addrs, tx.TxOut))
	paid := authored.TotalInput - txauthor.SumOutputValues(tx.TxOut)
	changeIndex := authored.ChangeIndex
	if paid < required {
		if changeIndex < 0 {
			return nil, newError(ErrInsufficientFunds, fmt.Sprintf(
				"settlement pays fee %v, needs %v", paid, required), nil)
		}
		change := tx.TxOut[changeIndex]
		change.Value -= int64(required - paid)
		if change.Value < 0 ||
			txrules.IsDustOutput(change, txrules.DefaultRelayFeePerKb) {

			tx.TxOut = append(tx.TxOut[:changeIndex],
				tx.TxOut[changeIndex+1:]...)
			changeIndex = -1
		}
		if changeIndex < 0 && authored.TotalInput-
			txauthor.SumOutputValues(tx.TxOut) < required {

			return nil, newError(ErrInsufficientFunds, fmt.Sprintf(
				"settlement needs fee %v", required), nil)
		}
	}

	return &Settlement{
		Tx:           tx,
		SpentOutputs: spent,
		Fee:          authored.TotalInput - txauthor.SumOutputValues(tx.TxOut),
		ChangeIndex:  changeIndex,
	}, nil
}

// SignSettlementTx adds the signature of privKey to every input of tx and
// returns the signed copy.  Existing signatures are kept in key order.
func SignSettlementTx(tx *wire.MsgTx, spent []*wire.TxOut, set *TrusteeSet,
	privKey *btcec.PrivateKey) (*wire.MsgTx, error) {

	if err := checkSpentOutputs(tx, spent, set); err != nil {
		return nil, err
	}

	signed := tx.Copy()
	fetcher := newPrevOutFetcher(signed, spent)
	sigHashes := txscript.NewTxSigHashes(signed, fetcher)
	pubKey := privKey.PubKey().SerializeCompressed()

	for idx, txIn := range signed.TxIn {
		addr := set.AddressFor(spent[idx].PkScript)
		own := -1
		for k, key := range addr.PubKeys {
			if bytes.Equal(key, pubKey) {
				own = k
				break
			}
		}
		if own < 0 {
			str := fmt.Sprintf("key %x is not a trustee key of input %d",
				pubKey, idx)
			return nil, newError(ErrNotTrustee, str, nil)
		}

		sigs, err := matchInputSigs(signed, idx, addr, spent[idx],
			sigHashes, ECDSAVerifier{})
		if err != nil {
			return nil, err
		}
		if _, ok := sigs[own]; ok {
			str := fmt.Sprintf("input %d already carries this signature", idx)
			return nil, newError(ErrSigning, str, nil)
		}
		if len(sigs) >= Threshold(len(addr.PubKeys)) {
			str := fmt.Sprintf("input %d is already fully signed", idx)
			return nil, newError(ErrSigning, str, nil)
		}

		var sig []byte
		if addr.Witness {
			sig, err = txscript.RawTxInWitnessSignature(signed, sigHashes,
				idx, spent[idx].Value, addr.RedeemScript,
				txscript.SigHashAll, privKey)
		} else {
			sig, err = txscript.RawTxInSignature(signed, idx,
				addr.RedeemScript, txscript.SigHashAll, privKey)
		}
		if err != nil {
			str := fmt.Sprintf("cannot sign input %d", idx)
			return nil, newError(ErrSigning, str, err)
		}
		sigs[own] = sig

		keys := make([]int, 0, len(sigs))
		for k := range sigs {
			keys = append(keys, k)
		}
		sort.Ints(keys)

		if addr.Witness {
			witness := wire.TxWitness{nil}
			for _, k := range keys {
				witness = append(witness, sigs[k])
			}
			txIn.Witness = append(witness, addr.RedeemScript)
			continue
		}

		builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
		for _, k := range keys {
			builder.AddData(sigs[k])
		}
		sigScript, err := builder.AddData(addr.RedeemScript).Script()
		if err != nil {
			str := fmt.Sprintf("cannot build signature script of input %d", idx)
			return nil, newError(ErrSigning, str, err)
		}
		txIn.SignatureScript = sigScript
	}
	return signed, nil
}

// ToPSBT exports tx and the signatures it carries as a base64 PSBT.
func ToPSBT(tx *wire.MsgTx, spent []*wire.TxOut, set *TrusteeSet) (string, error) {
	if err := checkSpentOutputs(tx, spent, set); err != nil {
		return "", err
	}
	packet, err := psbt.NewFromUnsignedTx(stripSigs(tx))
	if err != nil {
		return "", err
	}

	sigHashes := txscript.NewTxSigHashes(tx, newPrevOutFetcher(tx, spent))
	for idx := range tx.TxIn {
		addr := set.AddressFor(spent[idx].PkScript)
		in := &packet.Inputs[idx]
		in.SighashType = txscript.SigHashAll
		if addr.Witness {
			in.WitnessUtxo = spent[idx]
			in.WitnessScript = addr.RedeemScript
		} else {
			in.RedeemScript = addr.RedeemScript
		}

		sigs, err := matchInputSigs(tx, idx, addr, spent[idx], sigHashes,
			ECDSAVerifier{})
		if err != nil {
			return "", err
		}
		keys := make([]int, 0, len(sigs))
		for k := range sigs {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
				PubKey:    addr.PubKeys[k],
				Signature: sigs[k],
			})
		}
	}
	return packet.B64Encode()
}

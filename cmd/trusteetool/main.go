// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command trusteetool builds and signs gateway settlement transactions
// offline.  It holds no state: the trustee set is given by --trustee flags
// and every transaction travels as hex on the command line.
package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcgateway/internal/cfgutil"
	"github.com/btcsuite/btcgateway/internal/prompt"
	"github.com/btcsuite/btcgateway/netparams"
	"github.com/btcsuite/btcgateway/spv"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/jessevdk/go-flags"
	"golang.org/x/term"
)

var newlineBytes = []byte{'\n'}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Stderr.Write(newlineBytes)
	os.Exit(1)
}

func errContext(err error, context string) error {
	return fmt.Errorf("%s: %v", context, err)
}

// Global flags.
var opts struct {
	TestNet3 bool                   `long:"testnet" description:"Use the test bitcoin network (version 3)"`
	TestNet4 bool                   `long:"testnet4" description:"Use the test bitcoin network (version 4)"`
	SimNet   bool                   `long:"simnet" description:"Use the simulation bitcoin network"`
	SigNet   bool                   `long:"signet" description:"Use the signet bitcoin network"`
	RegTest  bool                   `long:"regtest" description:"Use the regression test bitcoin network"`
	Trustees []*cfgutil.TrusteeFlag `long:"trustee" description:"Trustee as account:hotpubkey:coldpubkey (repeatable)" required:"true"`
	P2SH     bool                   `long:"p2sh" description:"Trustee addresses are P2SH instead of P2WSH"`
}

func trusteeSet() (*withdrawal.TrusteeSet, *netparams.Params, error) {
	activeNet, err := netparams.Select(opts.TestNet3, opts.TestNet4,
		opts.SimNet, opts.SigNet, opts.RegTest)
	if err != nil {
		return nil, nil, err
	}
	set, err := withdrawal.NewTrusteeSet(activeNet.Params,
		cfgutil.Trustees(opts.Trustees), !opts.P2SH)
	if err != nil {
		return nil, nil, errContext(err, "trustee set")
	}
	return set, activeNet, nil
}

type addressesCommand struct{}

func (addressesCommand) Execute([]string) error {
	set, _, err := trusteeSet()
	if err != nil {
		return err
	}
	fmt.Printf("threshold: %d of %d\n", set.Threshold(), len(set.Trustees))
	fmt.Printf("hot:       %v\n", set.Hot.Address)
	fmt.Printf("cold:      %v\n", set.Cold.Address)
	return nil
}

type buildCommand struct {
	Withdrawals   []string            `long:"withdrawal" description:"Withdrawal as ID:ADDRESS:AMOUNT (repeatable)" required:"true"`
	Utxos         []string            `long:"utxo" description:"Trustee output as TXID:VOUT:AMOUNT[:cold] (repeatable)" required:"true"`
	FeeRate       *cfgutil.AmountFlag `long:"feerate" description:"Transaction fee per kilobyte"`
	WithdrawalFee *cfgutil.AmountFlag `long:"withdrawalfee" description:"Fee deducted from every withdrawal"`
}

func parseAmount(s string) (btcutil.Amount, error) {
	var a cfgutil.AmountFlag
	if err := a.UnmarshalFlag(s); err != nil {
		return 0, err
	}
	return a.Amount, nil
}

func parseWithdrawal(s string) (*withdrawal.Record, error) {
	fields := strings.Split(s, ":")
	if len(fields) != 3 {
		return nil, fmt.Errorf("withdrawal %q is not ID:ADDRESS:AMOUNT", s)
	}
	id, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return nil, errContext(err, "withdrawal id")
	}
	amount, err := parseAmount(fields[2])
	if err != nil {
		return nil, errContext(err, "withdrawal amount")
	}
	return &withdrawal.Record{
		ID:      uint32(id),
		Addr:    fields[1],
		Balance: amount,
		State:   withdrawal.StateApplying,
	}, nil
}

func parseUtxo(s string, set *withdrawal.TrusteeSet) (withdrawal.Utxo, error) {
	var u withdrawal.Utxo
	fields := strings.Split(s, ":")
	if len(fields) != 3 && (len(fields) != 4 || fields[3] != "cold") {
		return u, fmt.Errorf("utxo %q is not TXID:VOUT:AMOUNT[:cold]", s)
	}
	hash, err := chainhash.NewHashFromStr(fields[0])
	if err != nil {
		return u, errContext(err, "utxo txid")
	}
	vout, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return u, errContext(err, "utxo index")
	}
	amount, err := parseAmount(fields[2])
	if err != nil {
		return u, errContext(err, "utxo amount")
	}
	pkScript := set.Hot.PkScript
	if len(fields) == 4 {
		pkScript = set.Cold.PkScript
	}
	u.OutPoint = *wire.NewOutPoint(hash, uint32(vout))
	u.Output = wire.NewTxOut(int64(amount), pkScript)
	return u, nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func printSettlement(tx *wire.MsgTx, spent []*wire.TxOut,
	set *withdrawal.TrusteeSet) error {

	txHex, err := serializeTx(tx)
	if err != nil {
		return errContext(err, "serialize transaction")
	}
	spentBytes, err := withdrawal.SerializeSpentOutputs(spent)
	if err != nil {
		return errContext(err, "serialize spent outputs")
	}
	packet, err := withdrawal.ToPSBT(tx, spent, set)
	if err != nil {
		return errContext(err, "export psbt")
	}
	fmt.Printf("txid:  %v\n", tx.TxHash())
	fmt.Printf("tx:    %s\n", txHex)
	fmt.Printf("spent: %x\n", spentBytes)
	fmt.Printf("psbt:  %s\n", packet)
	return nil
}

func (c *buildCommand) Execute([]string) error {
	set, activeNet, err := trusteeSet()
	if err != nil {
		return err
	}
	if c.FeeRate.Amount > 1e6 {
		return fmt.Errorf("fee rate `%v/kB` is exceptionally high",
			c.FeeRate.Amount)
	}

	records := make([]*withdrawal.Record, len(c.Withdrawals))
	for i, s := range c.Withdrawals {
		if records[i], err = parseWithdrawal(s); err != nil {
			return err
		}
	}
	utxos := make([]withdrawal.Utxo, len(c.Utxos))
	for i, s := range c.Utxos {
		if utxos[i], err = parseUtxo(s, set); err != nil {
			return err
		}
	}

	settlement, err := withdrawal.BuildSettlementTx(set, records, utxos,
		c.WithdrawalFee.Amount, c.FeeRate.Amount, activeNet.Params)
	if err != nil {
		return err
	}
	fmt.Printf("fee:   %v\n", settlement.Fee)
	return printSettlement(settlement.Tx, settlement.SpentOutputs, set)
}

type signCommand struct {
	Tx    string `long:"tx" description:"Hex encoded settlement transaction" required:"true"`
	Spent string `long:"spent" description:"Hex encoded spent outputs" required:"true"`
}

// printOutputs shows where tx pays to.
func printOutputs(tx *wire.MsgTx, set *withdrawal.TrusteeSet,
	activeNet *netparams.Params) {

	for i, out := range tx.TxOut {
		var dest string
		switch {
		case bytes.Equal(out.PkScript, set.Hot.PkScript):
			dest = "change to the hot address"
		case bytes.Equal(out.PkScript, set.Cold.PkScript):
			dest = "cold address"
		default:
			_, addrs, _, err := txscript.ExtractPkScriptAddrs(
				out.PkScript, activeNet.Params)
			if err != nil || len(addrs) != 1 {
				dest = fmt.Sprintf("script %x", out.PkScript)
			} else {
				dest = addrs[0].String()
			}
		}
		fmt.Fprintf(os.Stderr, "output %d: %v to %s\n", i,
			btcutil.Amount(out.Value), dest)
	}
}

func (c *signCommand) Execute([]string) error {
	set, activeNet, err := trusteeSet()
	if err != nil {
		return err
	}
	txBytes, err := hex.DecodeString(c.Tx)
	if err != nil {
		return errContext(err, "decode transaction")
	}
	tx, err := spv.DecodeTx(txBytes)
	if err != nil {
		return err
	}
	spentBytes, err := hex.DecodeString(c.Spent)
	if err != nil {
		return errContext(err, "decode spent outputs")
	}
	spent, err := withdrawal.DeserializeSpentOutputs(spentBytes)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		printOutputs(tx, set, activeNet)
		ok, err := prompt.Confirm(reader, "Sign this settlement?", false)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("signing declined")
		}
	}
	wif, err := prompt.PrivateKey(reader, activeNet.Params)
	if err != nil {
		return err
	}

	signed, err := withdrawal.SignSettlementTx(tx, spent, set, wif.PrivKey)
	if err != nil {
		return err
	}
	return printSettlement(signed, spent, set)
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	commands := []struct {
		name, short string
		data        interface{}
	}{
		{"addresses", "Show the trustee multisig addresses",
			&addressesCommand{}},
		{"build", "Build an unsigned settlement transaction",
			&buildCommand{
				FeeRate:       cfgutil.NewAmountFlag(txrules.DefaultRelayFeePerKb),
				WithdrawalFee: cfgutil.NewAmountFlag(0),
			}},
		{"sign", "Add a trustee signature to a settlement transaction",
			&signCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.short,
			c.data); err != nil {

			fatalf("%v", err)
		}
	}

	// The parser prints its own errors, including command failures.
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}

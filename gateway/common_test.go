// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcgateway/deposit"
	"github.com/btcsuite/btcgateway/headerchain"
	"github.com/btcsuite/btcgateway/internal/localledger"
	"github.com/btcsuite/btcgateway/spv"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const (
	authority = "admin"
	relayer   = "relayer"

	confirmationDepth = 2
)

var (
	netParams = &chaincfg.RegressionNetParams

	testParams = Params{
		WithdrawalFee:      1000,
		MinDeposit:         100000,
		MaxWithdrawalCount: 10,
	}
)

// solveHeader increments the nonce until the header satisfies its target.
func solveHeader(header *wire.BlockHeader) {
	target := blockchain.CompactToBig(header.Bits)
	for {
		hash := header.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return
		}
		header.Nonce++
	}
}

func testKey(tag string) *btcec.PrivateKey {
	key, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(tag)))
	return key
}

func userAddr(t *testing.T, tag string) btcutil.Address {
	t.Helper()
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160([]byte(tag)),
		netParams)
	require.NoError(t, err)
	return addr
}

func payTo(t *testing.T, addr btcutil.Address) []byte {
	t.Helper()
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return pkScript
}

func serializeTx(t *testing.T, tx *wire.MsgTx) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return buf.Bytes()
}

// block is a mined header along with the hashes of its transactions.
type block struct {
	header   *wire.BlockHeader
	txHashes []chainhash.Hash
}

type testHarness struct {
	t           *testing.T
	db          walletdb.DB
	gw          *Gateway
	set         *withdrawal.TrusteeSet
	keys        map[string]*btcec.PrivateKey
	ledger      localledger.Ledger
	withdrawals *localledger.WithdrawalStore
	tip         *wire.BlockHeader
}

// newTestHarness starts a gateway on regtest with the trustees alice, bob
// and carol using P2WSH addresses.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := walletdb.Create("bdb", filepath.Join(t.TempDir(), "gw.db"),
		true, 10*time.Second, false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, walletdb.Update(db, localledger.Create))

	h := &testHarness{
		t:    t,
		db:   db,
		keys: make(map[string]*btcec.PrivateKey),
	}

	var trustees []withdrawal.Trustee
	for _, name := range []string{"alice", "bob", "carol"} {
		hot := testKey(name + "/hot")
		cold := testKey(name + "/cold")
		h.keys[name] = hot
		trustees = append(trustees, withdrawal.Trustee{
			Account:    name,
			HotPubKey:  hot.PubKey().SerializeCompressed(),
			ColdPubKey: cold.PubKey().SerializeCompressed(),
		})
	}
	h.set, err = withdrawal.NewTrusteeSet(netParams, trustees, true)
	require.NoError(t, err)

	h.withdrawals = &localledger.WithdrawalStore{
		Ledger:      h.ledger,
		ChainParams: netParams,
	}
	h.gw = New(&Config{
		DB:          db,
		ChainParams: netParams,
		Chain: headerchain.New(&headerchain.Config{
			ChainParams:       netParams,
			ConfirmationDepth: confirmationDepth,
		}),
		Deposits:    deposit.New(nil),
		Coordinator: withdrawal.New(&withdrawal.Config{ChainParams: netParams}),
		Ledger:      h.ledger,
		Withdrawals: h.withdrawals,
		Trustees: localledger.NewTrusteeRegistry(h.set,
			fn.None[*withdrawal.TrusteeSet]()),
		Authority: authority,
		Params:    testParams,
	})

	genesis := netParams.GenesisBlock.Header
	require.NoError(t, h.gw.Create(&genesis, 0))
	h.tip = &genesis

	return h
}

// mine builds a block holding a coinbase and txs on top of the current tip
// and pushes its header.
func (h *testHarness) mine(txs ...*wire.MsgTx) *block {
	h.t.Helper()

	prevHash := h.tip.BlockHash()
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{},
			wire.MaxPrevOutIndex),
		SignatureScript: prevHash[:],
	})
	coinbase.AddTxOut(wire.NewTxOut(50e8, []byte{txscript.OP_TRUE}))

	all := append([]*btcutil.Tx{btcutil.NewTx(coinbase)}, wrapTxs(txs)...)
	merkles := blockchain.BuildMerkleTreeStore(all, false)
	b := &block{
		header: &wire.BlockHeader{
			Version:    4,
			PrevBlock:  prevHash,
			MerkleRoot: *merkles[len(merkles)-1],
			Timestamp:  h.tip.Timestamp.Add(10 * time.Minute),
			Bits:       0x207fffff,
		},
	}
	for _, tx := range all {
		b.txHashes = append(b.txHashes, *tx.Hash())
	}
	solveHeader(b.header)

	var buf bytes.Buffer
	require.NoError(h.t, b.header.Serialize(&buf))
	_, err := h.gw.PushHeader(relayer, buf.Bytes())
	require.NoError(h.t, err)
	h.tip = b.header
	return b
}

func wrapTxs(txs []*wire.MsgTx) []*btcutil.Tx {
	wrapped := make([]*btcutil.Tx, len(txs))
	for i, tx := range txs {
		wrapped[i] = btcutil.NewTx(tx)
	}
	return wrapped
}

// confirm mines empty blocks until every block so far is confirmed.
func (h *testHarness) confirm() {
	h.t.Helper()
	for i := 0; i < confirmationDepth; i++ {
		h.mine()
	}
}

// relay pushes tx as contained in b.
func (h *testHarness) relay(b *block, tx, prevTx *wire.MsgTx) (*TxState, error) {
	h.t.Helper()

	proof, err := spv.NewMerkleProof(b.txHashes,
		[]chainhash.Hash{tx.TxHash()})
	require.NoError(h.t, err)

	var prevBytes []byte
	if prevTx != nil {
		prevBytes = serializeTx(h.t, prevTx)
	}
	return h.gw.PushTransaction(relayer, serializeTx(h.t, tx),
		spv.RelayedTxInfo{BlockHash: b.header.BlockHash(), Proof: proof},
		prevBytes)
}

// depositTx returns a deposit of value from the address tagged src along
// with the transaction funding it.  A nil payload replaces the null data
// output with change back to src.
func (h *testHarness) depositTx(src string, value int64,
	payload []byte) (*wire.MsgTx, *wire.MsgTx) {

	h.t.Helper()
	srcScript := payTo(h.t, userAddr(h.t, src))

	prevTx := wire.NewMsgTx(wire.TxVersion)
	prevTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte(src))},
	})
	prevTx.AddTxOut(wire.NewTxOut(value+1e6, srcScript))

	prevHash := prevTx.TxHash()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&prevHash, 0),
		SignatureScript:  []byte{txscript.OP_TRUE},
	})
	tx.AddTxOut(wire.NewTxOut(value, h.set.Hot.PkScript))
	if payload != nil {
		nullData, err := txscript.NullDataScript(payload)
		require.NoError(h.t, err)
		tx.AddTxOut(wire.NewTxOut(0, nullData))
	} else {
		tx.AddTxOut(wire.NewTxOut(5e5, srcScript))
	}
	return tx, prevTx
}

func (h *testHarness) balance(account string) btcutil.Amount {
	h.t.Helper()
	var balance btcutil.Amount
	err := walletdb.View(h.db, func(tx walletdb.ReadTx) error {
		var err error
		balance, err = h.ledger.Balance(tx, account)
		return err
	})
	require.NoError(h.t, err)
	return balance
}

func (h *testHarness) record(id uint32) *withdrawal.Record {
	h.t.Helper()
	var rec *withdrawal.Record
	err := walletdb.View(h.db, func(tx walletdb.ReadTx) error {
		var err error
		rec, err = h.withdrawals.Record(tx, id)
		return err
	})
	require.NoError(h.t, err)
	return rec
}

// applyWithdrawal funds account and has it apply for a withdrawal of
// amount.
func (h *testHarness) applyWithdrawal(account string, amount btcutil.Amount) uint32 {
	h.t.Helper()
	var id uint32
	err := walletdb.Update(h.db, func(tx walletdb.ReadWriteTx) error {
		if err := h.ledger.Deposit(tx, account, amount); err != nil {
			return err
		}
		var err error
		id, err = h.withdrawals.Apply(tx, account,
			userAddr(h.t, account+"/out").EncodeAddress(), amount)
		return err
	})
	require.NoError(h.t, err)
	return id
}

// fundingTx returns the transaction paying the hot output settlements spend.
func (h *testHarness) fundingTx() *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte("funding"))},
	})
	tx.AddTxOut(wire.NewTxOut(1e9, h.set.Hot.PkScript))
	return tx
}

// settlement builds the settlement of ids from the funding output.
func (h *testHarness) settlement(ids ...uint32) *withdrawal.Settlement {
	h.t.Helper()

	recs := make([]*withdrawal.Record, len(ids))
	for i, id := range ids {
		recs[i] = h.record(id)
	}
	funding := h.fundingTx()
	fundingHash := funding.TxHash()
	utxo := withdrawal.Utxo{
		OutPoint: *wire.NewOutPoint(&fundingHash, 0),
		Output:   funding.TxOut[0],
	}
	s, err := withdrawal.BuildSettlementTx(h.set, recs,
		[]withdrawal.Utxo{utxo}, testParams.WithdrawalFee, 1000, netParams)
	require.NoError(h.t, err)
	return s
}

// propose creates a proposal for s on behalf of proposer.
func (h *testHarness) propose(proposer string, ids []uint32,
	s *withdrawal.Settlement) (*withdrawal.Proposal, error) {

	h.t.Helper()
	spent, err := withdrawal.SerializeSpentOutputs(s.SpentOutputs)
	require.NoError(h.t, err)
	return h.gw.CreateWithdrawTx(proposer, ids, serializeTx(h.t, s.Tx), spent)
}

// sign adds the signatures of trustee to tx and submits the result.
func (h *testHarness) sign(trustee string, tx *wire.MsgTx,
	spent []*wire.TxOut) (*wire.MsgTx, fn.Option[*withdrawal.Proposal]) {

	h.t.Helper()
	signed, err := withdrawal.SignSettlementTx(tx, spent, h.set,
		h.keys[trustee])
	require.NoError(h.t, err)
	p, err := h.gw.SignWithdrawTx(trustee, serializeTx(h.t, signed))
	require.NoError(h.t, err)
	return signed, p
}

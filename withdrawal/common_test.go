// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdrawal

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var (
	namespaceKey = []byte("withdrawal")

	netParams = &chaincfg.RegressionNetParams

	testLimits = Limits{WithdrawalFee: 1000, MaxWithdrawalCount: 10}
)

// recordStore is an in-memory RecordStore.
type recordStore map[uint32]*Record

func (s recordStore) Record(id uint32) (*Record, error) {
	rec, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("no withdrawal %d", id)
	}
	c := *rec
	return &c, nil
}

func (s recordStore) SetState(id uint32, state RecordState) error {
	rec, ok := s[id]
	if !ok {
		return fmt.Errorf("no withdrawal %d", id)
	}
	rec.State = state
	return nil
}

func testKey(tag string) *btcec.PrivateKey {
	key, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(tag)))
	return key
}

func userAddr(t *testing.T, tag string) string {
	t.Helper()
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160([]byte(tag)),
		netParams)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

type testHarness struct {
	t       *testing.T
	db      walletdb.DB
	coord   *Coordinator
	set     *TrusteeSet
	keys    map[string]*btcec.PrivateKey
	records recordStore
}

// newTestHarness creates a coordinator for the trustees alice, bob and
// carol, who need two signatures, and two applying withdrawals.
func newTestHarness(t *testing.T, witness bool) *testHarness {
	t.Helper()

	db, err := walletdb.Create("bdb", filepath.Join(t.TempDir(), "wdrl.db"),
		true, 10*time.Second, false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(namespaceKey)
		return err
	})
	require.NoError(t, err)

	h := &testHarness{
		t:     t,
		db:    db,
		coord: New(&Config{ChainParams: netParams}),
		keys:  make(map[string]*btcec.PrivateKey),
		records: recordStore{
			1: {ID: 1, Account: "dave", Addr: userAddr(t, "dave"),
				Balance: 100000000},
			2: {ID: 2, Account: "erin", Addr: userAddr(t, "erin"),
				Balance: 200000000},
		},
	}

	var trustees []Trustee
	for _, name := range []string{"alice", "bob", "carol"} {
		hot := testKey(name + "/hot")
		cold := testKey(name + "/cold")
		h.keys[name] = hot
		trustees = append(trustees, Trustee{
			Account:    name,
			HotPubKey:  hot.PubKey().SerializeCompressed(),
			ColdPubKey: cold.PubKey().SerializeCompressed(),
		})
	}
	h.set, err = NewTrusteeSet(netParams, trustees, witness)
	require.NoError(t, err)

	return h
}

// utxo returns a hot output of value funded by a made up transaction.
func (h *testHarness) utxo(tag string, value int64) Utxo {
	return Utxo{
		OutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte(tag))},
		Output:   wire.NewTxOut(value, h.set.Hot.PkScript),
	}
}

// settlement builds the settlement for the given withdrawals from a single
// 10 BTC hot output.
func (h *testHarness) settlement(ids ...uint32) *Settlement {
	h.t.Helper()

	recs := make([]*Record, len(ids))
	for i, id := range ids {
		recs[i] = h.records[id]
	}
	s, err := BuildSettlementTx(h.set, recs, []Utxo{h.utxo("funding", 1e9)},
		testLimits.WithdrawalFee, 1000, netParams)
	require.NoError(h.t, err)
	return s
}

func (h *testHarness) sign(trustee string, tx *wire.MsgTx,
	spent []*wire.TxOut) *wire.MsgTx {

	h.t.Helper()
	signed, err := SignSettlementTx(tx, spent, h.set, h.keys[trustee])
	require.NoError(h.t, err)
	return signed
}

func (h *testHarness) update(f func(ns walletdb.ReadWriteBucket) error) error {
	return walletdb.Update(h.db, func(tx walletdb.ReadWriteTx) error {
		return f(tx.ReadWriteBucket(namespaceKey))
	})
}

func (h *testHarness) create(proposer string, ids []uint32, tx *wire.MsgTx,
	spent []*wire.TxOut) (*Proposal, error) {

	var p *Proposal
	err := h.update(func(ns walletdb.ReadWriteBucket) error {
		var err error
		p, err = h.coord.Create(ns, h.records, h.set, proposer, ids, tx,
			spent, testLimits)
		return err
	})
	return p, err
}

func (h *testHarness) vote(trustee string,
	signed fn.Option[*wire.MsgTx]) (fn.Option[*Proposal], error) {

	var p fn.Option[*Proposal]
	err := h.update(func(ns walletdb.ReadWriteBucket) error {
		var err error
		p, err = h.coord.Sign(ns, h.records, h.set, trustee, signed)
		return err
	})
	return p, err
}

func (h *testHarness) proposal() fn.Option[*Proposal] {
	h.t.Helper()
	var p fn.Option[*Proposal]
	err := walletdb.View(h.db, func(tx walletdb.ReadTx) error {
		var err error
		p, err = h.coord.Proposal(tx.ReadBucket(namespaceKey))
		return err
	})
	require.NoError(h.t, err)
	return p
}

func (h *testHarness) requireStates(state RecordState, ids ...uint32) {
	h.t.Helper()
	for _, id := range ids {
		require.Equal(h.t, state, h.records[id].State, "withdrawal %d", id)
	}
}

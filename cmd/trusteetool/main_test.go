// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/stretchr/testify/require"
)

func testSet(t *testing.T) *withdrawal.TrusteeSet {
	var trustees []withdrawal.Trustee
	for _, name := range []string{"alice", "bob"} {
		hot, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(name + "/hot")))
		cold, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(name + "/cold")))
		trustees = append(trustees, withdrawal.Trustee{
			Account:    name,
			HotPubKey:  hot.PubKey().SerializeCompressed(),
			ColdPubKey: cold.PubKey().SerializeCompressed(),
		})
	}
	set, err := withdrawal.NewTrusteeSet(&chaincfg.RegressionNetParams,
		trustees, true)
	require.NoError(t, err)
	return set
}

func TestParseWithdrawal(t *testing.T) {
	rec, err := parseWithdrawal("7:bcrt1qexample:0.5")
	require.NoError(t, err)
	require.Equal(t, uint32(7), rec.ID)
	require.Equal(t, "bcrt1qexample", rec.Addr)
	require.Equal(t, btcutil.Amount(5e7), rec.Balance)

	rec, err = parseWithdrawal("8:addr:2500 sat")
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(2500), rec.Balance)

	for _, bad := range []string{"7:addr", "x:addr:1", "7:addr:-1"} {
		_, err := parseWithdrawal(bad)
		require.Error(t, err, bad)
	}
}

func TestParseUtxo(t *testing.T) {
	set := testSet(t)
	txid := chainhash.HashH([]byte("funding"))

	u, err := parseUtxo(txid.String()+":1:1", set)
	require.NoError(t, err)
	require.Equal(t, txid, u.OutPoint.Hash)
	require.Equal(t, uint32(1), u.OutPoint.Index)
	require.Equal(t, int64(1e8), u.Output.Value)
	require.Equal(t, set.Hot.PkScript, u.Output.PkScript)

	u, err = parseUtxo(txid.String()+":0:1:cold", set)
	require.NoError(t, err)
	require.Equal(t, set.Cold.PkScript, u.Output.PkScript)

	for _, bad := range []string{
		txid.String() + ":0",
		txid.String() + ":0:1:warm",
		"zz:0:1",
		txid.String() + ":-1:1",
	} {
		_, err := parseUtxo(bad, set)
		require.Error(t, err, bad)
	}
}

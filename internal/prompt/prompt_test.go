// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prompt

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func init() {
	Output = io.Discard
}

func TestConfirm(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("maybe\ny\n\nNO\n"))

	// Invalid replies are asked again.
	ok, err := Confirm(reader, "Sign?", false)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Confirm(reader, "Sign?", true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Confirm(reader, "Sign?", true)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = Confirm(reader, "Sign?", true)
	require.ErrorIs(t, err, io.EOF)
}

func testWIF(t *testing.T, params *chaincfg.Params) *btcutil.WIF {
	key, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte("trustee")))
	wif, err := btcutil.NewWIF(key, params, true)
	require.NoError(t, err)
	return wif
}

func TestPrivateKeyFromReader(t *testing.T) {
	isTerminal = func() bool { return false }

	wif := testWIF(t, &chaincfg.RegressionNetParams)
	reader := bufio.NewReader(strings.NewReader(wif.String() + "\n"))
	got, err := PrivateKey(reader, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	require.Equal(t, wif.PrivKey.Serialize(), got.PrivKey.Serialize())

	// Without a trailing newline.
	reader = bufio.NewReader(strings.NewReader(wif.String()))
	_, err = PrivateKey(reader, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	reader = bufio.NewReader(strings.NewReader(wif.String()))
	_, err = PrivateKey(reader, &chaincfg.MainNetParams)
	require.Error(t, err)

	reader = bufio.NewReader(strings.NewReader("not a key\n"))
	_, err = PrivateKey(reader, &chaincfg.RegressionNetParams)
	require.Error(t, err)
}

func TestPrivateKeyFromTerminal(t *testing.T) {
	isTerminal = func() bool { return true }
	defer func() { isTerminal = func() bool { return false } }()

	wif := testWIF(t, &chaincfg.RegressionNetParams)
	replies := []string{"garbage", wif.String()}
	readPassword = func() ([]byte, error) {
		reply := replies[0]
		replies = replies[1:]
		return []byte(reply), nil
	}

	got, err := PrivateKey(nil, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	require.Equal(t, wif.PrivKey.Serialize(), got.PrivKey.Serialize())
	require.Empty(t, replies)
}

// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTestNet4Genesis(t *testing.T) {
	require.Equal(t,
		"7aa0a7ae1e223414cb807e40cd57e667b718e42aaf9306db9102fe28912b7b4e",
		testNet4GenesisBlock.Header.MerkleRoot.String())
	require.Equal(t,
		"00000000da84f2bafbbc53dee25a72ae507ff4914b867c565be350b0da8bf043",
		TestNet4ChainParams.GenesisHash.String())
	require.Equal(t, "tb", TestNet4ChainParams.Bech32HRPSegwit)
}

func TestSelect(t *testing.T) {
	p, err := Select(false, false, false, false, false)
	require.NoError(t, err)
	require.Equal(t, &MainNetParams, p)

	p, err = Select(false, true, false, false, false)
	require.NoError(t, err)
	require.Equal(t, "testnet4", p.Name)

	_, err = Select(true, false, true, false, false)
	require.Error(t, err)
}

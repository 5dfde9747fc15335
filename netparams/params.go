// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// RPCClientPort is the default btcd RPC port of the network.
	RPCClientPort string
}

// MainNetParams contains parameters specific to running the gateway against
// btcd on the main network (wire.MainNet).
var MainNetParams = Params{
	Params:        &chaincfg.MainNetParams,
	RPCClientPort: "8334",
}

// TestNet3Params contains parameters specific to the test network (version
// 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:        &chaincfg.TestNet3Params,
	RPCClientPort: "18334",
}

// TestNet4Params contains parameters specific to the test network (version
// 4).
var TestNet4Params = Params{
	Params:        &TestNet4ChainParams,
	RPCClientPort: "48334",
}

// SimNetParams contains parameters specific to the simulation test network
// (wire.SimNet).
var SimNetParams = Params{
	Params:        &chaincfg.SimNetParams,
	RPCClientPort: "18556",
}

// SigNetParams contains parameters specific to the default signet.
var SigNetParams = Params{
	Params:        &chaincfg.SigNetParams,
	RPCClientPort: "38334",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:        &chaincfg.RegressionNetParams,
	RPCClientPort: "18334",
}

// Select returns the parameters of the network chosen by the flags.  At most
// one flag may be set; none selects the main network.
func Select(testnet3, testnet4, simnet, signet, regtest bool) (*Params, error) {
	active := &MainNetParams
	n := 0
	for _, net := range []struct {
		set    bool
		params *Params
	}{
		{testnet3, &TestNet3Params},
		{testnet4, &TestNet4Params},
		{simnet, &SimNetParams},
		{signet, &SigNetParams},
		{regtest, &RegressionNetParams},
	} {
		if net.set {
			active = net.params
			n++
		}
	}
	if n > 1 {
		return nil, fmt.Errorf("multiple bitcoin networks may not be " +
			"used simultaneously")
	}
	return active, nil
}

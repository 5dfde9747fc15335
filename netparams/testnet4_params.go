// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// TestNet4 is the network magic of the test network (version 4).
const TestNet4 wire.BitcoinNet = 0x1c163f28

// TestNet4ChainParams are the chain parameters of the test network (version
// 4).  Everything not listed here matches the version 3 test network.
var TestNet4ChainParams = func() chaincfg.Params {
	p := chaincfg.TestNet3Params
	p.Name = "testnet4"
	p.Net = TestNet4
	p.DefaultPort = "48333"
	p.DNSSeeds = []chaincfg.DNSSeed{
		{Host: "seed.testnet4.bitcoin.sprovoost.nl", HasFiltering: true},
		{Host: "seed.testnet4.wiz.biz", HasFiltering: true},
	}
	p.GenesisBlock = &testNet4GenesisBlock
	genesisHash := testNet4GenesisBlock.BlockHash()
	p.GenesisHash = &genesisHash
	p.BIP0034Height = 1
	p.BIP0065Height = 1
	p.BIP0066Height = 1
	p.Checkpoints = nil
	return p
}()

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

var testNet4GenesisCoinbase = wire.MsgTx{
	Version: 1,
	TxIn: []*wire.TxIn{{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript: mustDecodeHex("04ffff001d01044c4c30332f4d61792f3230" +
			"32342030303030303030303030303030303030303030303165626435" +
			"386332343439373062336161396437383362623030313031316662" +
			"653865613865393865303065"),
		Sequence: wire.MaxTxInSequenceNum,
	}},
	TxOut: []*wire.TxOut{{
		Value: 50 * 1e8,
		PkScript: mustDecodeHex("2100000000000000000000000000000000000000" +
			"0000000000000000000000000000ac"),
	}},
}

var testNet4GenesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		MerkleRoot: testNet4GenesisCoinbase.TxHash(),
		Timestamp:  time.Unix(1714777860, 0),
		Bits:       0x1d00ffff,
		Nonce:      393743547,
	},
	Transactions: []*wire.MsgTx{&testNet4GenesisCoinbase},
}

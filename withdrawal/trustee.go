// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdrawal

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Trustee is a member of a trustee set.  Every trustee holds one key for the
// hot multisig address and one for the cold one.
type Trustee struct {
	Account    string
	HotPubKey  []byte
	ColdPubKey []byte
}

// TrusteeAddress is one of the multisig addresses of a trustee set.
type TrusteeAddress struct {
	Address      btcutil.Address
	PkScript     []byte
	RedeemScript []byte
	Witness      bool

	// PubKeys are the multisig keys in redeem script order, Accounts the
	// trustee holding each of them.
	PubKeys  [][]byte
	Accounts []string
}

// TrusteeSet is a trustee set along with its hot and cold addresses.
type TrusteeSet struct {
	Trustees []Trustee
	Hot      *TrusteeAddress
	Cold     *TrusteeAddress
}

// Threshold returns the number of signatures a set of n trustees requires,
// two thirds rounded up.
func Threshold(n int) int {
	return (2*n + 2) / 3
}

// NewTrusteeSet builds the hot and cold Threshold-of-n multisig addresses of
// trustees.  Keys are sorted in the redeem scripts.  Witness selects P2WSH
// over P2SH.
func NewTrusteeSet(params *chaincfg.Params, trustees []Trustee,
	witness bool) (*TrusteeSet, error) {

	if len(trustees) == 0 {
		return nil, fmt.Errorf("empty trustee set")
	}
	seen := make(map[string]struct{}, len(trustees))
	for _, t := range trustees {
		if _, ok := seen[t.Account]; ok {
			return nil, fmt.Errorf("duplicate trustee %s", t.Account)
		}
		seen[t.Account] = struct{}{}
	}

	hot, err := newTrusteeAddress(params, trustees, witness,
		func(t Trustee) []byte { return t.HotPubKey })
	if err != nil {
		return nil, fmt.Errorf("hot address: %w", err)
	}
	cold, err := newTrusteeAddress(params, trustees, witness,
		func(t Trustee) []byte { return t.ColdPubKey })
	if err != nil {
		return nil, fmt.Errorf("cold address: %w", err)
	}
	return &TrusteeSet{Trustees: trustees, Hot: hot, Cold: cold}, nil
}

func newTrusteeAddress(params *chaincfg.Params, trustees []Trustee,
	witness bool, key func(Trustee) []byte) (*TrusteeAddress, error) {

	sorted := make([]Trustee, len(trustees))
	copy(sorted, trustees)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(key(sorted[i]), key(sorted[j])) < 0
	})

	a := &TrusteeAddress{Witness: witness}
	pubKeys := make([]*btcutil.AddressPubKey, len(sorted))
	for i, t := range sorted {
		pk, err := btcutil.NewAddressPubKey(key(t), params)
		if err != nil {
			return nil, fmt.Errorf("trustee %s: %w", t.Account, err)
		}
		pubKeys[i] = pk
		a.PubKeys = append(a.PubKeys, pk.PubKey().SerializeCompressed())
		a.Accounts = append(a.Accounts, t.Account)
	}

	script, err := txscript.MultiSigScript(pubKeys, Threshold(len(sorted)))
	if err != nil {
		return nil, err
	}
	a.RedeemScript = script

	if witness {
		h := sha256.Sum256(script)
		a.Address, err = btcutil.NewAddressWitnessScriptHash(h[:], params)
	} else {
		a.Address, err = btcutil.NewAddressScriptHash(script, params)
	}
	if err != nil {
		return nil, err
	}
	a.PkScript, err = txscript.PayToAddrScript(a.Address)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Threshold returns the number of signatures the set requires.
func (s *TrusteeSet) Threshold() int {
	return Threshold(len(s.Trustees))
}

// Contains returns whether account is a member of the set.
func (s *TrusteeSet) Contains(account string) bool {
	for _, t := range s.Trustees {
		if t.Account == account {
			return true
		}
	}
	return false
}

// AddressFor returns the trustee address paid by pkScript, or nil.
func (s *TrusteeSet) AddressFor(pkScript []byte) *TrusteeAddress {
	switch {
	case bytes.Equal(pkScript, s.Hot.PkScript):
		return s.Hot
	case bytes.Equal(pkScript, s.Cold.PkScript):
		return s.Cold
	}
	return nil
}

// SignatureVerifier verifies a DER encoded signature over digest.
type SignatureVerifier interface {
	VerifySignature(pubKey, digest, sig []byte) bool
}

// ECDSAVerifier verifies secp256k1 ECDSA signatures.
type ECDSAVerifier struct{}

// VerifySignature implements SignatureVerifier.
func (ECDSAVerifier) VerifySignature(pubKey, digest, sig []byte) bool {
	key, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return s.Verify(digest, key)
}

// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcgateway/withdrawal"
)

// TrusteeFlag is a trustee given as account:hotpubkey:coldpubkey with hex
// encoded public keys.  It implements the flags.Marshaler and Unmarshaler
// interfaces so it can be used as a config struct field.
type TrusteeFlag struct {
	withdrawal.Trustee
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (t *TrusteeFlag) MarshalFlag() (string, error) {
	return fmt.Sprintf("%s:%x:%x", t.Account, t.HotPubKey, t.ColdPubKey), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (t *TrusteeFlag) UnmarshalFlag(value string) error {
	fields := strings.Split(value, ":")
	if len(fields) != 3 || fields[0] == "" {
		return fmt.Errorf("trustee %q is not account:hotpubkey:coldpubkey",
			value)
	}
	hot, err := parsePubKey(fields[1])
	if err != nil {
		return fmt.Errorf("trustee %s hot key: %v", fields[0], err)
	}
	cold, err := parsePubKey(fields[2])
	if err != nil {
		return fmt.Errorf("trustee %s cold key: %v", fields[0], err)
	}
	t.Trustee = withdrawal.Trustee{
		Account:    fields[0],
		HotPubKey:  hot,
		ColdPubKey: cold,
	}
	return nil
}

func parsePubKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	key, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, err
	}
	return key.SerializeCompressed(), nil
}

// Trustees returns the trustees of flags.
func Trustees(flags []*TrusteeFlag) []withdrawal.Trustee {
	trustees := make([]withdrawal.Trustee, len(flags))
	for i, f := range flags {
		trustees[i] = f.Trustee
	}
	return trustees
}

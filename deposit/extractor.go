// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package deposit

import (
	"bytes"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// MaxAccountLen is the longest account name or referral accepted.
const MaxAccountLen = 64

// AccountInfo is the destination named by a deposit's null data output.
type AccountInfo struct {
	Account  string
	Referral fn.Option[string]
}

// AccountExtractor parses the null data payload of a deposit.
type AccountExtractor interface {
	ExtractAccount(payload []byte) (AccountInfo, bool)
}

// AccountExtractorFunc is an adapter to allow the use of ordinary functions
// as an AccountExtractor.
type AccountExtractorFunc func(payload []byte) (AccountInfo, bool)

// ExtractAccount calls f(payload).
func (f AccountExtractorFunc) ExtractAccount(payload []byte) (AccountInfo, bool) {
	return f(payload)
}

// DefaultExtractor parses payloads of the form account[@referral].
var DefaultExtractor AccountExtractor = AccountExtractorFunc(ExtractAccount)

// ExtractAccount parses a payload of the form account[@referral].  Both
// parts must be printable ASCII without spaces, 1 to MaxAccountLen
// characters long.
func ExtractAccount(payload []byte) (AccountInfo, bool) {
	account, referral, hasReferral := bytes.Cut(payload, []byte("@"))
	if ValidateAccount(string(account)) != nil {
		return AccountInfo{}, false
	}
	info := AccountInfo{
		Account:  string(account),
		Referral: fn.None[string](),
	}
	if hasReferral {
		if ValidateAccount(string(referral)) != nil {
			return AccountInfo{}, false
		}
		info.Referral = fn.Some(string(referral))
	}
	return info, true
}

// ValidateAccount checks an account name.
func ValidateAccount(account string) error {
	if len(account) == 0 || len(account) > MaxAccountLen {
		str := fmt.Sprintf("account name length %d out of range",
			len(account))
		return newError(ErrInvalidAccount, str, nil)
	}
	for i := 0; i < len(account); i++ {
		if c := account[i]; c <= ' ' || c > '~' || c == '@' {
			str := fmt.Sprintf("account name %q contains invalid "+
				"character %q", account, c)
			return newError(ErrInvalidAccount, str, nil)
		}
	}
	return nil
}

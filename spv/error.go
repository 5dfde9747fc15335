// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spv

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrMalformedTx indicates the transaction bytes could not be decoded.
	ErrMalformedTx ErrorCode = iota

	// ErrBadMerkleProof indicates the partial merkle tree is malformed, or
	// does not commit the transaction to the expected merkle root.
	ErrBadMerkleProof

	// ErrInvalidPrevTx indicates the supplied previous transaction is not
	// the one spent by the first input.
	ErrInvalidPrevTx
)

var errorCodeStrings = map[ErrorCode]string{
	ErrMalformedTx:    "ErrMalformedTx",
	ErrBadMerkleProof: "ErrBadMerkleProof",
	ErrInvalidPrevTx:  "ErrInvalidPrevTx",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error describes an SPV verification failure.
type Error struct {
	ErrorCode   ErrorCode
	Description string
	Err         error
}

func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

func spvError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether err, or any error it wraps, is an Error with the
// given code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.ErrorCode == code
}

// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package deposit

import "fmt"

// ErrorCode identifies a kind of error
type ErrorCode int

const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrInvalidAccount indicates an account name that fails validation.
	ErrInvalidAccount

	// ErrDepositTooLow indicates a deposit below the minimum deposit.
	ErrDepositTooLow

	// ErrNoSourceAddress indicates a deposit that names no account and
	// whose source address is unknown, so it can neither be credited nor
	// queued.
	ErrNoSourceAddress

	// ErrDuplicatePending indicates the transaction is already queued
	// under the source address.
	ErrDuplicatePending

	// ErrNoPending indicates there are no queued deposits for an address.
	ErrNoPending
)

var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:         "ErrDatabase",
	ErrInvalidAccount:   "ErrInvalidAccount",
	ErrDepositTooLow:    "ErrDepositTooLow",
	ErrNoSourceAddress:  "ErrNoSourceAddress",
	ErrDuplicatePending: "ErrDuplicatePending",
	ErrNoPending:        "ErrNoPending",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error is an error returned by the deposit ledger.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error, optional
}

// Error satisfies the error interface and prints human-readable errors.
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

func newError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(Error)
	return ok && e.ErrorCode == code
}

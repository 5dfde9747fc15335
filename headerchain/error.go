// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerchain

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the Error will be set to the
	// underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrExistingHeader indicates a header with the same hash is already
	// stored.
	ErrExistingHeader

	// ErrPrevHeaderNotFound indicates the parent of a pushed header is
	// unknown, i.e. the header is an orphan.
	ErrPrevHeaderNotFound

	// ErrHeaderNotFound indicates the requested header is not stored.
	ErrHeaderNotFound

	// ErrInvalidPoW indicates the header hash does not satisfy its target,
	// or the target is above the network proof of work limit.
	ErrInvalidPoW

	// ErrFuturisticTimestamp indicates the header timestamp is too far
	// ahead of the local clock.
	ErrFuturisticTimestamp

	// ErrAncientFork indicates the header forks off below the confirmed
	// index.
	ErrAncientFork

	// ErrInvalidIndex indicates an index override references a header that
	// is not stored at the given height.
	ErrInvalidIndex

	// ErrNotInitialized indicates the store has no genesis header.
	ErrNotInitialized
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:            "ErrDatabase",
	ErrExistingHeader:      "ErrExistingHeader",
	ErrPrevHeaderNotFound:  "ErrPrevHeaderNotFound",
	ErrHeaderNotFound:      "ErrHeaderNotFound",
	ErrInvalidPoW:          "ErrInvalidPoW",
	ErrFuturisticTimestamp: "ErrFuturisticTimestamp",
	ErrAncientFork:         "ErrAncientFork",
	ErrInvalidIndex:        "ErrInvalidIndex",
	ErrNotInitialized:      "ErrNotInitialized",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen during header chain
// operation.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
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

func chainError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(Error)
	return ok && e.ErrorCode == code
}

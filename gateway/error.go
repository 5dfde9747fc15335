// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import "fmt"

// ErrorCode identifies a kind of error
type ErrorCode int

const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrDeserialize indicates caller supplied bytes that do not decode.
	ErrDeserialize

	// ErrUnknownBlock indicates a transaction relayed from a block that is
	// unknown, not on the main chain or not yet confirmed.
	ErrUnknownBlock

	// ErrAlreadyProcessed indicates a transaction that was already
	// processed.
	ErrAlreadyProcessed

	// ErrUnauthorized indicates a caller lacking the authority or trustee
	// role an entry point requires.
	ErrUnauthorized

	// ErrProcessTxFailed indicates a verified transaction whose deposit or
	// settlement could not be applied.
	ErrProcessTxFailed

	// ErrInvalidParam indicates an economic parameter out of range.
	ErrInvalidParam
)

var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:         "ErrDatabase",
	ErrDeserialize:      "ErrDeserialize",
	ErrUnknownBlock:     "ErrUnknownBlock",
	ErrAlreadyProcessed: "ErrAlreadyProcessed",
	ErrUnauthorized:     "ErrUnauthorized",
	ErrProcessTxFailed:  "ErrProcessTxFailed",
	ErrInvalidParam:     "ErrInvalidParam",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error is an error returned by a gateway entry point.
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

func gatewayError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(Error)
	return ok && e.ErrorCode == code
}

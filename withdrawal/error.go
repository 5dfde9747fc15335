// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdrawal

import "fmt"

// ErrorCode identifies a kind of error
type ErrorCode int

const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrProposalAlreadyExists indicates a proposal is outstanding.
	ErrProposalAlreadyExists

	// ErrNoProposal indicates there is no outstanding proposal.
	ErrNoProposal

	// ErrProposalFinished indicates the proposal already collected enough
	// signatures.
	ErrProposalFinished

	// ErrNotTrustee indicates the caller is not in the current trustee set.
	ErrNotTrustee

	// ErrDuplicateVote indicates the trustee already voted on the proposal.
	ErrDuplicateVote

	// ErrMismatchedTx indicates a transaction that does not match the
	// proposal or the withdrawal records it settles.
	ErrMismatchedTx

	// ErrInvalidSpentOutputs indicates the spent outputs do not cover the
	// transaction inputs, or spend outputs not held by the trustees.
	ErrInvalidSpentOutputs

	// ErrInvalidSignature indicates a signature that does not verify.
	ErrInvalidSignature

	// ErrInvalidSignCount indicates the signers on a transaction are not
	// the previous signers plus the caller.
	ErrInvalidSignCount

	// ErrBadRedeemScript indicates an input whose redeem script is not the
	// trustee multisig script.
	ErrBadRedeemScript

	// ErrWithdrawalCount indicates an empty proposal, or one with more
	// withdrawals than allowed.
	ErrWithdrawalCount

	// ErrInvalidWithdrawal indicates a withdrawal record that is missing
	// or not in the state the operation requires.
	ErrInvalidWithdrawal

	// ErrDustOutput indicates an output too small to relay.
	ErrDustOutput

	// ErrInsufficientFunds indicates the available inputs cannot pay for
	// the requested outputs.
	ErrInsufficientFunds

	// ErrSigning indicates a failure producing a signature.
	ErrSigning
)

var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:              "ErrDatabase",
	ErrProposalAlreadyExists: "ErrProposalAlreadyExists",
	ErrNoProposal:            "ErrNoProposal",
	ErrProposalFinished:      "ErrProposalFinished",
	ErrNotTrustee:            "ErrNotTrustee",
	ErrDuplicateVote:         "ErrDuplicateVote",
	ErrMismatchedTx:          "ErrMismatchedTx",
	ErrInvalidSpentOutputs:   "ErrInvalidSpentOutputs",
	ErrInvalidSignature:      "ErrInvalidSignature",
	ErrInvalidSignCount:      "ErrInvalidSignCount",
	ErrBadRedeemScript:       "ErrBadRedeemScript",
	ErrWithdrawalCount:       "ErrWithdrawalCount",
	ErrInvalidWithdrawal:     "ErrInvalidWithdrawal",
	ErrDustOutput:            "ErrDustOutput",
	ErrInsufficientFunds:     "ErrInsufficientFunds",
	ErrSigning:               "ErrSigning",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error is an error returned by the withdrawal coordinator.
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

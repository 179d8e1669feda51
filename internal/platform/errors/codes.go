// Package errors provides structured error handling for the engine core.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Ledger errors
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeUnknownCurrency    Code = "UNKNOWN_CURRENCY"
	CodeDuplicateOperation Code = "DUPLICATE_OPERATION"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeTransferDisallowed Code = "TRANSFER_DISALLOWED"

	// Session errors
	CodeSessionAlreadyActive Code = "SESSION_ALREADY_ACTIVE"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionFailed        Code = "SESSION_FAILED"
	CodeStaleRevision        Code = "STALE_REVISION"

	// Game-rule errors
	CodeInvalidAction Code = "INVALID_ACTION"
	CodeNotYourTurn   Code = "NOT_YOUR_TURN"

	// Policy errors
	CodeGrantDisallowed Code = "GRANT_DISALLOWED"
	CodeInvalidCode     Code = "INVALID_CODE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

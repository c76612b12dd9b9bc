// Package errors holds the error identities shared by the ledger, chain and
// withdrawal layers. Callers match them with errors.Is and read DomainError
// codes when presenting user-facing messages.
package errors

import (
	"errors"
	"fmt"
)

// Standard error categories
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInternal      = errors.New("internal error")
)

// Ledger errors
var (
	ErrInsufficientPoints     = errors.New("insufficient points")
	ErrConsistencyFault       = errors.New("ledger consistency fault")
	ErrConcurrentModification = errors.New("ledger entry modified concurrently")
	ErrPartialDeduction       = errors.New("deduction failed part-way")
)

// Withdrawal errors
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrZeroCollateral    = errors.New("no collateral to withdraw")
	ErrWithdrawalPending = errors.New("withdrawal already pending")
)

// Chain errors
var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidABI          = errors.New("invalid abi")
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrReceiptMismatch     = errors.New("receipt does not match transaction")
	ErrSimulationReverted  = errors.New("gas estimation simulation reverted")
	ErrGasEstimation       = errors.New("gas estimation failed")
	ErrPriceUnavailable    = errors.New("usd price unavailable")
	ErrInvalidBlockRange   = errors.New("invalid block range")
	ErrUndecodableLog      = errors.New("undecodable log")
)

// DomainError represents a domain-specific error with a machine-readable code
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(err error, code, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Code:    code,
		Message: message,
	}
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// ValidationError creates a validation error for a single field
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("%s: %s", field, message),
		Details: map[string]interface{}{"field": field},
	}
}

// InsufficientPointsError reports a spend that exceeds the wallet balance
func InsufficientPointsError(wallet string, requested, available int64) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientPoints,
		Code:    "INSUFFICIENT_POINTS",
		Message: fmt.Sprintf("insufficient points: requested %d, available %d", requested, available),
		Details: map[string]interface{}{
			"wallet_address": wallet,
			"requested":      requested,
			"available":      available,
		},
	}
}

// ConsistencyFaultError reports a decrement loop that ran out of deposits
// after the balance check passed.
func ConsistencyFaultError(wallet string, remaining int64) *DomainError {
	return &DomainError{
		Err:     ErrConsistencyFault,
		Code:    "LEDGER_CONSISTENCY_FAULT",
		Message: fmt.Sprintf("ledger consistency fault: %d points left undeducted", remaining),
		Details: map[string]interface{}{
			"wallet_address": wallet,
			"remaining":      remaining,
		},
	}
}

// AccountNotFoundError reports a wallet with no internal account
func AccountNotFoundError(wallet string) *DomainError {
	return &DomainError{
		Err:     ErrAccountNotFound,
		Code:    "ACCOUNT_NOT_FOUND",
		Message: "no account is linked to this wallet",
		Details: map[string]interface{}{"wallet_address": wallet},
	}
}

// Code extracts the DomainError code from an error chain, or "" when absent.
func Code(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsDomainError reports whether err is an expected, user-facing condition
// rather than an infrastructure failure.
func IsDomainError(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	return !errors.Is(err, ErrConsistencyFault) && !errors.Is(err, ErrInternal)
}

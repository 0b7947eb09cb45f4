package token

import (
	"errors"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// Ledger errors. Every error aborts the operation with no state change.
var (
	// ErrUnauthorized is returned when the caller lacks the required capability.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrContractPaused is returned for gated operations while the pause guard is engaged.
	ErrContractPaused = errors.New("contract paused")

	// ErrInsufficientBalance is returned when a transfer or burn exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance is returned when a delegated spend exceeds the live allowance.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrInvalidAmount is returned for negative or out-of-range amount inputs.
	ErrInvalidAmount = domain.ErrInvalidAmount

	// ErrInvalidExpiration is returned when a non-zero approval expires in the past.
	ErrInvalidExpiration = errors.New("invalid expiration")

	// ErrOverflow is returned when a balance or the supply would exceed 2^128-1.
	ErrOverflow = domain.ErrAmountOverflow
)

// Error codes reported to clients and used as metric labels.
const (
	CodeSuccess               = "success"
	CodeUnauthorized          = "unauthorized"
	CodeContractPaused        = "contract_paused"
	CodeInsufficientBalance   = "insufficient_balance"
	CodeInsufficientAllowance = "insufficient_allowance"
	CodeInvalidAmount         = "invalid_amount"
	CodeInvalidExpiration     = "invalid_expiration"
	CodeOverflow              = "overflow"
	CodeNotDeployed           = "not_deployed"
	CodeAlreadyDeployed       = "already_deployed"
	CodeInvalidAddress        = "invalid_address"
	CodeInternal              = "internal"
)

// ErrorCode maps an error returned by this package to a stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrContractPaused):
		return CodeContractPaused
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrInsufficientAllowance):
		return CodeInsufficientAllowance
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrInvalidExpiration):
		return CodeInvalidExpiration
	case errors.Is(err, ErrOverflow):
		return CodeOverflow
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotDeployed
	case errors.Is(err, storage.ErrDuplicateKey):
		return CodeAlreadyDeployed
	case errors.Is(err, domain.ErrInvalidAddress):
		return CodeInvalidAddress
	default:
		return CodeInternal
	}
}

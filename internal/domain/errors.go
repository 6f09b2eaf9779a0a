package domain

import "errors"

// Error categories. Every specific error unwraps to exactly one of them.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrUpstream   = errors.New("upstream failure")
)

// Error is a categorized domain error with a stable code.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Unwrap returns the category so errors.Is(err, ErrConflict) works.
func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// NotFound.
var (
	ErrFundNotFound      = newError(ErrNotFound, "FUND_NOT_FOUND", "fund not found")
	ErrApplicantNotFound = newError(ErrNotFound, "APPLICANT_NOT_FOUND", "applicant not found")
)

// Conflict.
var (
	ErrFundClosed             = newError(ErrConflict, "FUND_CLOSED", "fund is not accepting this operation")
	ErrDuplicateApplication   = newError(ErrConflict, "DUPLICATE_APPLICATION", "wallet already applied to this fund")
	ErrDuplicateVote          = newError(ErrConflict, "DUPLICATE_VOTE", "wallet already voted for this applicant")
	ErrNotOwner               = newError(ErrConflict, "NOT_OWNER", "caller is not the fund owner")
	ErrDistributionInProgress = newError(ErrConflict, "DISTRIBUTION_IN_PROGRESS", "another distribution run holds the lease")
	ErrWinnerMismatch         = newError(ErrConflict, "WINNER_MISMATCH", "submitted winner list does not match the computed ranking")
)

// Validation.
var (
	ErrInvalidAmount  = newError(ErrValidation, "INVALID_AMOUNT", "total amount must be positive")
	ErrInvalidSlots   = newError(ErrValidation, "INVALID_SLOTS", "slots must be at least 1")
	ErrInvalidGPA     = newError(ErrValidation, "INVALID_GPA", "gpa must be within [0, 4]")
	ErrNameRequired   = newError(ErrValidation, "NAME_REQUIRED", "name is required")
	ErrWalletRequired = newError(ErrValidation, "WALLET_REQUIRED", "wallet is required")
	ErrVoterRequired  = newError(ErrValidation, "VOTER_REQUIRED", "voter wallet is required")
	ErrNoApplicants   = newError(ErrValidation, "NO_APPLICANTS", "fund has no applicants")
	ErrShareTooSmall  = newError(ErrValidation, "SHARE_TOO_SMALL", "per-winner share truncates to zero")
	ErrInvalidAddress = newError(ErrValidation, "INVALID_ADDRESS", "wallet address is not valid for the ledger")
)

// Upstream.
var (
	ErrTransferFailed = newError(ErrUpstream, "TRANSFER_FAILED", "one or more ledger transfers failed")
)

// Code returns the stable code of err, or "" if err is not a domain error.
func Code(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

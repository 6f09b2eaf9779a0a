package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// GPA bounds.
const (
	MinGPA = 0.0
	MaxGPA = 4.0
)

// ValidateFundParams checks the inputs of fund creation.
func ValidateFundParams(name string, totalAmount decimal.Decimal, slots int, owner string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(owner) == "" {
		return ErrWalletRequired
	}
	if !totalAmount.IsPositive() {
		return ErrInvalidAmount
	}
	if slots < 1 {
		return ErrInvalidSlots
	}
	return nil
}

// ValidateApplication checks the inputs of a candidacy submission.
func ValidateApplication(name string, gpa float64, wallet string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(wallet) == "" {
		return ErrWalletRequired
	}
	// NaN fails both comparisons and is rejected.
	if !(gpa >= MinGPA && gpa <= MaxGPA) {
		return ErrInvalidGPA
	}
	return nil
}

// Package matcher implements the reconciliation passes that associate
// shipping orders, invoices and bank statement lines.
//
// Every pass is a pure in-memory computation over record slices the caller
// has already loaded. Passes never touch storage; they return the rows the
// caller must write. Running a pass twice over the same input yields the
// same output.
//
// Order matching runs three tiers per order:
//  1. exact name + equal cents within the date window (score 100)
//  2. close name + equal cents within the date window (score 90)
//  3. weighted scoring that keeps the best few candidates for review
//
// Orders left with no candidate are flagged as needing an invoice.
package matcher

import (
	"fmt"

	"cod-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// MatchingConfig holds the order↔invoice matching parameters
type MatchingConfig struct {
	// DateWindowDays is the ± window between pickup date and invoice turnover date
	DateWindowDays int `json:"date_window_days"`

	// ExactScore and CloseNameScore are recorded for tier 1 and tier 2 matches
	ExactScore     int `json:"exact_score"`
	CloseNameScore int `json:"close_name_score"`

	// Candidate scoring weights. The name weight is awarded once, for either
	// an exact or a close name.
	DateWeight   int `json:"date_weight"`
	AmountWeight int `json:"amount_weight"`
	NameWeight   int `json:"name_weight"`

	// MaxCandidates is how many ranked candidates are kept per order
	MaxCandidates int `json:"max_candidates"`

	// Score thresholds deciding a match's status
	AutoThreshold   int `json:"auto_threshold"`
	ReviewThreshold int `json:"review_threshold"`
}

// DefaultMatchingConfig returns the production order matching settings
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateWindowDays:  10,
		ExactScore:      100,
		CloseNameScore:  90,
		DateWeight:      30,
		AmountWeight:    40,
		NameWeight:      30,
		MaxCandidates:   3,
		AutoThreshold:   70,
		ReviewThreshold: 50,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateWindowDays < 0 {
		return fmt.Errorf("date window days cannot be negative: %d", mc.DateWindowDays)
	}
	if mc.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive: %d", mc.MaxCandidates)
	}
	if mc.DateWeight < 0 || mc.AmountWeight < 0 || mc.NameWeight < 0 {
		return fmt.Errorf("candidate weights cannot be negative")
	}
	if mc.ReviewThreshold > mc.AutoThreshold {
		return fmt.Errorf("review threshold %d exceeds auto threshold %d", mc.ReviewThreshold, mc.AutoThreshold)
	}
	if mc.CloseNameScore > mc.ExactScore {
		return fmt.Errorf("close-name score %d exceeds exact score %d", mc.CloseNameScore, mc.ExactScore)
	}
	return nil
}

// StatusForScore maps a match score to its review status
func (mc *MatchingConfig) StatusForScore(score int) models.MatchStatus {
	switch {
	case score >= mc.AutoThreshold:
		return models.StatusAuto
	case score >= mc.ReviewThreshold:
		return models.StatusReview
	default:
		return models.StatusNeedsInvoice
	}
}

// Clone creates a copy of the configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	c := *mc
	return &c
}

func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Window: ±%d days, Scores: %d/%d, Weights: date %d amount %d name %d, Candidates: %d, Thresholds: auto %d review %d}",
		mc.DateWindowDays, mc.ExactScore, mc.CloseNameScore, mc.DateWeight, mc.AmountWeight, mc.NameWeight,
		mc.MaxCandidates, mc.AutoThreshold, mc.ReviewThreshold)
}

// BankConfig holds the bank transaction matching parameters
type BankConfig struct {
	// DayTolerance is the default window between posting date and order pickup
	DayTolerance int `json:"day_tolerance"`

	ExactTolerance decimal.Decimal `json:"exact_tolerance"`
	CloseTolerance decimal.Decimal `json:"close_tolerance"`

	ExactScore int `json:"exact_score"`
	CloseScore int `json:"close_score"`
	DateBonus  int `json:"date_bonus"`

	// ReversalScore is recorded for refunds matched through the purpose text
	ReversalScore int `json:"reversal_score"`

	// ProviderPayee restricts the payment pass to credits whose payee name
	// contains it. Empty disables the filter.
	ProviderPayee string `json:"provider_payee"`
}

// DefaultBankConfig returns the production bank matching settings
func DefaultBankConfig() *BankConfig {
	return &BankConfig{
		DayTolerance:   2,
		ExactTolerance: decimal.RequireFromString("0.01"),
		CloseTolerance: decimal.RequireFromString("2.00"),
		ExactScore:     60,
		CloseScore:     40,
		DateBonus:      20,
		ReversalScore:  100,
	}
}

// Validate checks if the bank configuration is valid
func (bc *BankConfig) Validate() error {
	if bc.DayTolerance < 0 {
		return fmt.Errorf("day tolerance cannot be negative: %d", bc.DayTolerance)
	}
	if bc.ExactTolerance.IsNegative() || bc.CloseTolerance.IsNegative() {
		return fmt.Errorf("amount tolerances cannot be negative")
	}
	if bc.CloseTolerance.LessThan(bc.ExactTolerance) {
		return fmt.Errorf("close tolerance %s is below exact tolerance %s", bc.CloseTolerance, bc.ExactTolerance)
	}
	return nil
}

// Clone creates a copy of the configuration
func (bc *BankConfig) Clone() *BankConfig {
	if bc == nil {
		return nil
	}
	c := *bc
	return &c
}

// ReversalConfig holds the storno linking parameters
type ReversalConfig struct {
	// SnapTolerance absorbs rounding noise: a remaining open balance within
	// this many units of zero becomes exactly zero.
	SnapTolerance decimal.Decimal `json:"snap_tolerance"`
}

// DefaultReversalConfig returns the production reversal settings
func DefaultReversalConfig() *ReversalConfig {
	return &ReversalConfig{SnapTolerance: decimal.NewFromInt(2)}
}

// Validate checks if the reversal configuration is valid
func (rc *ReversalConfig) Validate() error {
	if rc.SnapTolerance.IsNegative() {
		return fmt.Errorf("snap tolerance cannot be negative: %s", rc.SnapTolerance)
	}
	return nil
}

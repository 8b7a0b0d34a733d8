package matcher

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"cod-reconciler/internal/models"
	"cod-reconciler/internal/textnorm"
)

// bankRefPattern finds an invoice number in bank free text, where case is
// not reliable
var bankRefPattern = regexp.MustCompile(`(?i)\b[A-Z]{2}-[A-Z]{2}-\d+\b`)

// Reference sources, in the order they are searched
const (
	SourcePurpose        = "purpose"
	SourceRefNumber      = "ref_number"
	SourcePayeeRefNumber = "payee_ref_number"
)

// BankMatchResult is what one bank pass produces
type BankMatchResult struct {
	Matches []models.BankMatchRecord

	// Considered counts transactions that passed the pass's filters
	Considered int

	// Unmatched counts considered transactions left without a match
	Unmatched int
}

// BankMatcher matches bank statement lines to provider payouts and to
// reversal invoices
type BankMatcher struct {
	config *BankConfig
	now    func() time.Time
}

// NewBankMatcher creates a bank matcher. A nil config selects the defaults.
func NewBankMatcher(config *BankConfig) *BankMatcher {
	if config == nil {
		config = DefaultBankConfig()
	}
	return &BankMatcher{config: config, now: time.Now}
}

// Config returns a copy of the matcher configuration
func (b *BankMatcher) Config() *BankConfig {
	return b.config.Clone()
}

// MatchPayments pairs each unmatched credit with the payout record closest
// in amount. pickups maps an order number to its pickup date and is used for
// the date bonus. A negative dayTolerance selects the configured one.
//
// A payout may be matched by several credits; only the transaction side is
// unique.
func (b *BankMatcher) MatchPayments(ctx context.Context, txns []*models.BankTransaction, payments []*models.PaymentRecord, pickups map[string]time.Time, dayTolerance int, progressFn ProgressFunc) (*BankMatchResult, error) {
	if dayTolerance < 0 {
		dayTolerance = b.config.DayTolerance
	}

	eligible := make([]*models.BankTransaction, 0, len(txns))
	for _, t := range txns {
		if b.isProviderCredit(t) {
			eligible = append(eligible, t)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	pays := make([]*models.PaymentRecord, 0, len(payments))
	for _, p := range payments {
		if p != nil && p.Amount.Valid {
			pays = append(pays, p)
		}
	}
	sort.Slice(pays, func(i, j int) bool { return pays[i].ID < pays[j].ID })

	result := &BankMatchResult{Considered: len(eligible)}
	matchedAt := b.now().UTC()
	prog := newProgress(progressFn, len(eligible))

	for _, t := range eligible {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prog.step()

		if !t.Amount.Valid {
			result.Unmatched++
			continue
		}

		var (
			best       *models.PaymentRecord
			bestScore  int
			bestMethod string
		)
		for _, p := range pays {
			score, method := b.scorePayment(t, p, pickups, dayTolerance)
			// pays is sorted by id, so strict > keeps the lowest id on ties
			if score > bestScore {
				best, bestScore, bestMethod = p, score, method
			}
		}

		if best == nil {
			result.Unmatched++
			continue
		}
		result.Matches = append(result.Matches, models.BankMatchRecord{
			BankTxnID: t.ID,
			Kind:      models.BankMatchPayment,
			RefID:     best.ID,
			Score:     bestScore,
			Method:    bestMethod,
			Detail:    "order_no=" + best.OrderNo,
			MatchedAt: matchedAt,
		})
	}

	prog.finish()
	return result, nil
}

func (b *BankMatcher) isProviderCredit(t *models.BankTransaction) bool {
	if t == nil || t.Direction != models.DirectionCredit {
		return false
	}
	if b.config.ProviderPayee == "" {
		return true
	}
	return strings.Contains(strings.ToUpper(t.PayeeName), strings.ToUpper(b.config.ProviderPayee))
}

// scorePayment returns 0 when the amounts are too far apart
func (b *BankMatcher) scorePayment(t *models.BankTransaction, p *models.PaymentRecord, pickups map[string]time.Time, dayTolerance int) (int, string) {
	diff := t.Amount.Decimal.Sub(p.Amount.Decimal).Abs()

	var score int
	switch {
	case diff.LessThanOrEqual(b.config.ExactTolerance):
		score = b.config.ExactScore
	case diff.LessThanOrEqual(b.config.CloseTolerance):
		score = b.config.CloseScore
	default:
		return 0, ""
	}

	method := models.MethodAmount
	if t.PostedAt != nil && !t.PostedAt.IsZero() {
		if pickedUp, ok := pickups[p.OrderNo]; ok && !pickedUp.IsZero() {
			if models.AbsDays(*t.PostedAt, pickedUp) <= dayTolerance {
				score += b.config.DateBonus
				method = models.MethodAmountDate
			}
		}
	}
	return score, method
}

// MatchReversals links refund debits to the invoice named in their free text.
// settlements maps invoice number to invoice.
func (b *BankMatcher) MatchReversals(ctx context.Context, txns []*models.BankTransaction, settlements map[string]*models.SettlementRecord, progressFn ProgressFunc) (*BankMatchResult, error) {
	eligible := make([]*models.BankTransaction, 0, len(txns))
	for _, t := range txns {
		if t != nil && t.Direction == models.DirectionDebit {
			eligible = append(eligible, t)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	result := &BankMatchResult{Considered: len(eligible)}
	matchedAt := b.now().UTC()
	prog := newProgress(progressFn, len(eligible))

	for _, t := range eligible {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prog.step()

		reason := textnorm.ClassifyRefundReason(strings.Join([]string{t.Purpose, t.RefNumber, t.PayeeRefNumber}, " "))
		if reason == textnorm.ReasonNone {
			result.Unmatched++
			continue
		}

		number, source := ExtractBankReference(t)
		inv, ok := settlements[number]
		if number == "" || !ok || inv == nil {
			result.Unmatched++
			continue
		}

		result.Matches = append(result.Matches, models.BankMatchRecord{
			BankTxnID: t.ID,
			Kind:      models.BankMatchReversal,
			RefID:     inv.ID,
			Score:     b.config.ReversalScore,
			Method:    models.MethodPurpose,
			Detail:    fmt.Sprintf("reason=%s;source=%s", reason, source),
			MatchedAt: matchedAt,
		})
	}

	prog.finish()
	return result, nil
}

// ExtractBankReference returns the first invoice number found in the purpose,
// the reference number or the payee reference number, upper-cased, together
// with the field it came from.
func ExtractBankReference(t *models.BankTransaction) (string, string) {
	fields := []struct {
		text   string
		source string
	}{
		{t.Purpose, SourcePurpose},
		{t.RefNumber, SourceRefNumber},
		{t.PayeeRefNumber, SourcePayeeRefNumber},
	}
	for _, f := range fields {
		if m := bankRefPattern.FindString(f.text); m != "" {
			return strings.ToUpper(m), f.source
		}
	}
	return "", ""
}

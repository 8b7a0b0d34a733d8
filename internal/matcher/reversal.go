package matcher

import (
	"context"
	"regexp"
	"sort"
	"time"

	"cod-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// invoiceRefPattern finds an invoice number such as "SP-MM-1234" in the basis
// text of a reversal invoice.
var invoiceRefPattern = regexp.MustCompile(`\b([A-Z]{2}-[A-Z]{2}-\d+)\b`)

// ExtractInvoiceRef returns the first invoice number in text, or "".
func ExtractInvoiceRef(text string) string {
	m := invoiceRefPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// ReversalResult is what one reversal linking run produces
type ReversalResult struct {
	// Links has one entry per reversal invoice whose original was found
	Links []models.ReversalLink

	// OpenBalances maps original invoice id to its new open balance
	OpenBalances map[int64]decimal.Decimal

	// Reversals counts invoices recognised as reversals
	Reversals int

	// Unresolved counts reversals with no usable back reference
	Unresolved int
}

// ReversalLinker links storno invoices to the invoices they cancel
type ReversalLinker struct {
	config *ReversalConfig
	now    func() time.Time
}

// NewReversalLinker creates a linker. A nil config selects the defaults.
func NewReversalLinker(config *ReversalConfig) *ReversalLinker {
	if config == nil {
		config = DefaultReversalConfig()
	}
	return &ReversalLinker{config: config, now: time.Now}
}

// Link scans every invoice for reversals and links each to its original.
// A link's open balance is the original amount less that reversal's own
// amount. Reversals are visited in id order, so when an original has several
// the highest reversal id sets its open balance.
func (l *ReversalLinker) Link(ctx context.Context, settlements []*models.SettlementRecord, progressFn ProgressFunc) (*ReversalResult, error) {
	byNumber := make(map[string]*models.SettlementRecord, len(settlements))
	var reversals []*models.SettlementRecord
	for _, s := range settlements {
		if s == nil {
			continue
		}
		if s.Number != "" {
			if prev, ok := byNumber[s.Number]; !ok || s.ID < prev.ID {
				byNumber[s.Number] = s
			}
		}
		if s.IsReversal() {
			reversals = append(reversals, s)
		}
	}
	sort.Slice(reversals, func(i, j int) bool { return reversals[i].ID < reversals[j].ID })

	result := &ReversalResult{
		OpenBalances: make(map[int64]decimal.Decimal),
		Reversals:    len(reversals),
	}
	linkedAt := l.now().UTC()
	prog := newProgress(progressFn, len(reversals))

	for _, rev := range reversals {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prog.step()

		ref := ExtractInvoiceRef(rev.Basis)
		orig, ok := byNumber[ref]
		if ref == "" || !ok || orig.ID == rev.ID || !orig.AmountDue.Valid {
			result.Unresolved++
			continue
		}

		revAmount := reversalAmount(rev)
		origAmount := orig.AmountDue.Decimal
		open := l.remainingOpen(origAmount, revAmount)

		result.Links = append(result.Links, models.ReversalLink{
			ReversalID:     rev.ID,
			OriginalID:     orig.ID,
			ReversalAmount: revAmount,
			OriginalAmount: origAmount,
			OpenBalance:    open,
			Partial:        open.IsPositive(),
			LinkedAt:       linkedAt,
		})
		result.OpenBalances[orig.ID] = open
	}

	prog.finish()
	return result, nil
}

// reversalAmount is |amount due|, falling back to |revenue| when the amount
// due is missing or zero
func reversalAmount(s *models.SettlementRecord) decimal.Decimal {
	if s.AmountDue.Valid && !s.AmountDue.Decimal.IsZero() {
		return s.AmountDue.Decimal.Abs()
	}
	if s.Revenue.Valid {
		return s.Revenue.Decimal.Abs()
	}
	return decimal.Zero
}

// remainingOpen is max(0, original-reversed), snapped to zero when the
// difference is within the snap tolerance
func (l *ReversalLinker) remainingOpen(original, reversed decimal.Decimal) decimal.Decimal {
	diff := original.Sub(reversed)
	if diff.Abs().LessThanOrEqual(l.config.SnapTolerance) || diff.IsNegative() {
		return decimal.Zero
	}
	return diff
}

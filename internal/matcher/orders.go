package matcher

import (
	"context"
	"sort"
	"time"

	"cod-reconciler/internal/amount"
	"cod-reconciler/internal/models"
	"cod-reconciler/internal/textnorm"
)

// OrderMatchResult is everything one order matching run produces
type OrderMatchResult struct {
	// Matches are new order↔invoice associations from the exact and
	// close-name tiers
	Matches []models.MatchRecord

	// SoftState replaces all previous candidates and needs-invoice flags
	SoftState *models.SoftState

	// Considered counts orders that passed the exclusion rules
	Considered int

	// Excluded counts orders skipped as cancelled, in progress, unknown or
	// zero amount, or fully comped
	Excluded int
}

// nameCheck compares an order's customer name with an invoice's
type nameCheck func(a, b string) bool

// OrderMatcher runs the tiered order↔invoice matching
type OrderMatcher struct {
	config *MatchingConfig
	now    func() time.Time
}

// NewOrderMatcher creates an order matcher. A nil config selects the defaults.
func NewOrderMatcher(config *MatchingConfig) *OrderMatcher {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &OrderMatcher{config: config, now: time.Now}
}

// Config returns a copy of the matcher configuration
func (m *OrderMatcher) Config() *MatchingConfig {
	return m.config.Clone()
}

// Match runs the exact and close-name tiers over the unmatched orders and
// invoices, then derives candidates and needs-invoice flags for whatever is
// left. Both inputs must already exclude records that have a MatchRecord.
//
// The only error returned is the context's, checked between orders.
func (m *OrderMatcher) Match(ctx context.Context, demands []*models.DemandRecord, settlements []*models.SettlementRecord, progressFn ProgressFunc) (*OrderMatchResult, error) {
	views, excluded := m.prepare(demands)
	idx := NewSettlementIndex(settlements)
	prog := newProgress(progressFn, 3*len(views))

	result := &OrderMatchResult{Considered: len(views), Excluded: excluded}
	matched := make(map[int64]bool)
	matchedAt := m.now().UTC()

	tiers := []struct {
		check  nameCheck
		score  int
		method string
	}{
		{textnorm.NamesEqual, m.config.ExactScore, models.MethodExact},
		{textnorm.NamesMatchClose, m.config.CloseNameScore, models.MethodCloseName},
	}

	for _, tier := range tiers {
		for _, d := range views {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			prog.step()
			if matched[d.rec.ID] {
				continue
			}

			best := m.bestTierCandidate(d, idx, tier.check)
			if best == nil {
				continue
			}

			result.Matches = append(result.Matches, models.MatchRecord{
				DemandID:     d.rec.ID,
				SettlementID: best.rec.ID,
				Score:        tier.score,
				Status:       m.config.StatusForScore(tier.score),
				Method:       tier.method,
				MatchedAt:    matchedAt,
			})
			matched[d.rec.ID] = true
			idx.Remove(best.rec.ID)
		}
	}

	var unmatched []*demandView
	for _, d := range views {
		if !matched[d.rec.ID] {
			unmatched = append(unmatched, d)
		}
	}

	soft, err := m.deriveSoftState(ctx, unmatched, idx.Remaining(), prog)
	if err != nil {
		return nil, err
	}
	result.SoftState = soft

	prog.finish()
	return result, nil
}

// prepare drops excluded orders and sorts the rest by id
func (m *OrderMatcher) prepare(demands []*models.DemandRecord) ([]*demandView, int) {
	views := make([]*demandView, 0, len(demands))
	excluded := 0
	for _, d := range demands {
		v, ok := eligibleDemand(d)
		if !ok {
			excluded++
			continue
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].rec.ID < views[j].rec.ID })
	return views, excluded
}

// bestTierCandidate picks the invoice for a tier: same cents, passing the
// name check, inside the window. An undated order only matches when exactly
// one invoice qualifies. Ties go to the smallest day delta, then the lowest
// invoice id.
func (m *OrderMatcher) bestTierCandidate(d *demandView, idx *SettlementIndex, check nameCheck) *settlementView {
	var candidates []*settlementView
	for _, s := range idx.Window(d, m.config.DateWindowDays) {
		if !s.hasAmount || !amount.CentsEqual(d.net, s.amount) {
			continue
		}
		if !check(d.rec.CustomerName, s.rec.CustomerName) {
			continue
		}
		candidates = append(candidates, s)
	}

	if len(candidates) == 0 {
		return nil
	}
	if !d.hasDate && len(candidates) != 1 {
		return nil
	}

	best := candidates[0]
	bestDelta := dayDelta(d, best)
	for _, s := range candidates[1:] {
		delta := dayDelta(d, s)
		if delta < bestDelta || (delta == bestDelta && s.rec.ID < best.rec.ID) {
			best, bestDelta = s, delta
		}
	}
	return best
}

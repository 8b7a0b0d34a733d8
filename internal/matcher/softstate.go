package matcher

import (
	"context"
	"sort"

	"cod-reconciler/internal/amount"
	"cod-reconciler/internal/models"
	"cod-reconciler/internal/textnorm"
)

// Candidate reason tags
const (
	ReasonDateWindow  = "date_window"
	ReasonAmountExact = "amount_exact"
	ReasonNameExact   = "name_exact"
	ReasonNameClose   = "name_close"
)

// DeriveSoftState computes candidate lists and needs-invoice flags for the
// given unmatched orders against the given unmatched invoices. The result is
// meant to replace, not merge with, any previously stored soft state.
// Excluded orders get neither candidates nor a flag.
func (m *OrderMatcher) DeriveSoftState(demands []*models.DemandRecord, settlements []*models.SettlementRecord) *models.SoftState {
	views, _ := m.prepare(demands)
	idx := NewSettlementIndex(settlements)
	soft, _ := m.deriveSoftState(context.Background(), views, idx.Remaining(), nil)
	return soft
}

func (m *OrderMatcher) deriveSoftState(ctx context.Context, demands []*demandView, pool []*settlementView, prog *progress) (*models.SoftState, error) {
	soft := models.NewSoftState()
	idx := indexViews(pool)

	for _, d := range demands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if prog != nil {
			prog.step()
		}

		ranked := m.rankCandidates(d, idx.Window(d, m.config.DateWindowDays))
		if len(ranked) == 0 {
			soft.NeedsInvoice = append(soft.NeedsInvoice, d.rec.ID)
			continue
		}
		soft.Candidates[d.rec.ID] = ranked
	}

	sort.Slice(soft.NeedsInvoice, func(i, j int) bool { return soft.NeedsInvoice[i] < soft.NeedsInvoice[j] })
	return soft, nil
}

// rankCandidates scores every invoice in the pool and keeps the best
// MaxCandidates with a positive score, highest score first, ties broken by
// lowest invoice id.
func (m *OrderMatcher) rankCandidates(d *demandView, pool []*settlementView) []models.CandidateRecord {
	var scored []models.CandidateRecord
	for _, s := range pool {
		score, reasons := m.scoreCandidate(d, s)
		if score <= 0 {
			continue
		}
		scored = append(scored, models.CandidateRecord{
			DemandID:     d.rec.ID,
			SettlementID: s.rec.ID,
			Score:        score,
			Reasons:      reasons,
			Method:       models.MethodFuzzy,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].SettlementID < scored[j].SettlementID
	})

	if len(scored) > m.config.MaxCandidates {
		scored = scored[:m.config.MaxCandidates]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored
}

func (m *OrderMatcher) scoreCandidate(d *demandView, s *settlementView) (int, []string) {
	score := 0
	var reasons []string

	if withinWindow(d, s, m.config.DateWindowDays) {
		score += m.config.DateWeight
		reasons = append(reasons, ReasonDateWindow)
	}
	if s.hasAmount && amount.CentsEqual(d.net, s.amount) {
		score += m.config.AmountWeight
		reasons = append(reasons, ReasonAmountExact)
	}

	switch {
	case textnorm.NamesEqual(d.rec.CustomerName, s.rec.CustomerName):
		score += m.config.NameWeight
		reasons = append(reasons, ReasonNameExact)
	case textnorm.NamesMatchClose(d.rec.CustomerName, s.rec.CustomerName):
		score += m.config.NameWeight
		reasons = append(reasons, ReasonNameClose)
	}

	return score, reasons
}

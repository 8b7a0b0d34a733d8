package matcher

import (
	"sort"
	"time"

	"cod-reconciler/internal/amount"
	"cod-reconciler/internal/models"
	"cod-reconciler/internal/textnorm"

	"github.com/shopspring/decimal"
)

// undatedDelta ranks candidates without a usable date after every dated one
const undatedDelta = 9999

// demandView is an order prepared for matching
type demandView struct {
	rec     *models.DemandRecord
	net     decimal.Decimal
	date    time.Time
	hasDate bool
}

// settlementView is an invoice prepared for matching
type settlementView struct {
	rec       *models.SettlementRecord
	amount    decimal.Decimal
	hasAmount bool
	date      time.Time
	hasDate   bool
}

// eligibleDemand prepares an order, or returns false if it is excluded from
// matching: cancelled or in progress, amount unknown, net exactly zero, or
// fully comped.
func eligibleDemand(d *models.DemandRecord) (*demandView, bool) {
	if d == nil {
		return nil, false
	}
	switch d.Lifecycle() {
	case textnorm.LifecycleCancelled, textnorm.LifecycleInProgress:
		return nil, false
	}
	if amount.IsFullyComped(d.Items) {
		return nil, false
	}
	net, ok := amount.Net(d.Items)
	if !ok || net.IsZero() {
		return nil, false
	}

	v := &demandView{rec: d, net: net}
	v.date, v.hasDate = d.MatchDate()
	return v, true
}

func newSettlementView(s *models.SettlementRecord) *settlementView {
	v := &settlementView{rec: s}
	if s.AmountDue.Valid {
		v.amount, v.hasAmount = s.AmountDue.Decimal, true
	}
	v.date, v.hasDate = s.MatchDate()
	return v
}

// dayDelta is the absolute day distance, or undatedDelta if either side has no date
func dayDelta(d *demandView, s *settlementView) int {
	if !d.hasDate || !s.hasDate {
		return undatedDelta
	}
	return models.AbsDays(d.date, s.date)
}

func withinWindow(d *demandView, s *settlementView, days int) bool {
	return d.hasDate && s.hasDate && models.AbsDays(d.date, s.date) <= days
}

// SettlementIndex buckets invoices by turnover day so that a dated order only
// looks at invoices inside its window. Invoices without a date are kept
// apart and offered to every order.
type SettlementIndex struct {
	// DateIndex maps YYYY-MM-DD to the invoices turned over that day
	DateIndex map[string][]*settlementView

	// Undated holds invoices whose turnover date is missing
	Undated []*settlementView

	// All holds every indexed invoice ordered by id
	All []*settlementView

	removed map[int64]bool
}

// NewSettlementIndex builds an index over the given invoices
func NewSettlementIndex(settlements []*models.SettlementRecord) *SettlementIndex {
	views := make([]*settlementView, 0, len(settlements))
	for _, s := range settlements {
		if s != nil {
			views = append(views, newSettlementView(s))
		}
	}
	return indexViews(views)
}

func indexViews(views []*settlementView) *SettlementIndex {
	idx := &SettlementIndex{
		DateIndex: make(map[string][]*settlementView),
		All:       append([]*settlementView(nil), views...),
		removed:   make(map[int64]bool),
	}
	sort.Slice(idx.All, func(i, j int) bool { return idx.All[i].rec.ID < idx.All[j].rec.ID })

	for _, v := range idx.All {
		if !v.hasDate {
			idx.Undated = append(idx.Undated, v)
			continue
		}
		key := v.date.Format(models.DateLayout)
		idx.DateIndex[key] = append(idx.DateIndex[key], v)
	}
	return idx
}

// Remove takes an invoice out of every later lookup
func (idx *SettlementIndex) Remove(id int64) {
	idx.removed[id] = true
}

// Removed reports whether the invoice was taken by an earlier match
func (idx *SettlementIndex) Removed(id int64) bool {
	return idx.removed[id]
}

// Window returns the remaining invoices an order may match: for a dated
// order those within ±days of its date plus all undated invoices, for an
// undated order every remaining invoice.
func (idx *SettlementIndex) Window(d *demandView, days int) []*settlementView {
	if !d.hasDate {
		return idx.remaining(idx.All)
	}

	var out []*settlementView
	for offset := -days; offset <= days; offset++ {
		key := d.date.AddDate(0, 0, offset).Format(models.DateLayout)
		out = append(out, idx.remaining(idx.DateIndex[key])...)
	}
	out = append(out, idx.remaining(idx.Undated)...)
	return out
}

// Remaining returns every invoice not yet removed
func (idx *SettlementIndex) Remaining() []*settlementView {
	return idx.remaining(idx.All)
}

func (idx *SettlementIndex) remaining(in []*settlementView) []*settlementView {
	out := make([]*settlementView, 0, len(in))
	for _, v := range in {
		if !idx.removed[v.rec.ID] {
			out = append(out, v)
		}
	}
	return out
}

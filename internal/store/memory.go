package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"cod-reconciler/internal/models"
	"cod-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store. It enforces the same unique
// constraints as the SQL schema and gives WithinTx all-or-nothing semantics
// by working on a copy.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
}

type memData struct {
	demands      map[int64]*models.DemandRecord
	settlements  map[int64]*models.SettlementRecord
	txns         map[int64]*models.BankTransaction
	payments     map[int64]*models.PaymentRecord
	matches      map[int64]models.MatchRecord
	nextMatchID  int64
	candidates   map[int64][]models.CandidateRecord
	needsInvoice map[int64]bool
	reversals    map[int64]models.ReversalLink
	bankMatches  map[int64]models.BankMatchRecord
	actions      []Action
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memData{
			demands:      make(map[int64]*models.DemandRecord),
			settlements:  make(map[int64]*models.SettlementRecord),
			txns:         make(map[int64]*models.BankTransaction),
			payments:     make(map[int64]*models.PaymentRecord),
			matches:      make(map[int64]models.MatchRecord),
			candidates:   make(map[int64][]models.CandidateRecord),
			needsInvoice: make(map[int64]bool),
			reversals:    make(map[int64]models.ReversalLink),
			bankMatches:  make(map[int64]models.BankMatchRecord),
		},
	}
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// AddDemands loads orders as the import pipeline would
func (s *MemoryStore) AddDemands(demands ...*models.DemandRecord) {
	defer s.lock()()
	for _, d := range demands {
		c := *d
		c.Items = append([]models.LineItem(nil), d.Items...)
		s.data.demands[d.ID] = &c
	}
}

// AddSettlements loads invoices
func (s *MemoryStore) AddSettlements(settlements ...*models.SettlementRecord) {
	defer s.lock()()
	for _, st := range settlements {
		c := *st
		s.data.settlements[st.ID] = &c
	}
}

// AddBankTransactions loads bank statement lines
func (s *MemoryStore) AddBankTransactions(txns ...*models.BankTransaction) {
	defer s.lock()()
	for _, t := range txns {
		c := *t
		s.data.txns[t.ID] = &c
	}
}

// AddPayments loads payout records
func (s *MemoryStore) AddPayments(payments ...*models.PaymentRecord) {
	defer s.lock()()
	for _, p := range payments {
		c := *p
		s.data.payments[p.ID] = &c
	}
}

// Settlement returns a copy of one invoice, or nil
func (s *MemoryStore) Settlement(id int64) *models.SettlementRecord {
	defer s.lock()()
	st, ok := s.data.settlements[id]
	if !ok {
		return nil
	}
	c := *st
	return &c
}

func (s *MemoryStore) matchedSides() (map[int64]bool, map[int64]bool) {
	demands := make(map[int64]bool, len(s.data.matches))
	settlements := make(map[int64]bool, len(s.data.matches))
	for _, m := range s.data.matches {
		demands[m.DemandID] = true
		settlements[m.SettlementID] = true
	}
	return demands, settlements
}

func (s *MemoryStore) UnmatchedDemands(ctx context.Context) ([]*models.DemandRecord, error) {
	defer s.lock()()
	matched, _ := s.matchedSides()
	var out []*models.DemandRecord
	for id, d := range s.data.demands {
		if matched[id] {
			continue
		}
		c := *d
		c.Items = append([]models.LineItem(nil), d.Items...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Demands(ctx context.Context) ([]*models.DemandRecord, error) {
	defer s.lock()()
	out := make([]*models.DemandRecord, 0, len(s.data.demands))
	for _, d := range s.data.demands {
		c := *d
		c.Items = nil
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Demand returns a copy of one order, or nil
func (s *MemoryStore) Demand(id int64) *models.DemandRecord {
	defer s.lock()()
	d, ok := s.data.demands[id]
	if !ok {
		return nil
	}
	c := *d
	c.Items = append([]models.LineItem(nil), d.Items...)
	return &c
}

func (s *MemoryStore) UnmatchedSettlements(ctx context.Context) ([]*models.SettlementRecord, error) {
	defer s.lock()()
	_, matched := s.matchedSides()
	return s.settlementCopies(func(id int64) bool { return !matched[id] }), nil
}

func (s *MemoryStore) Settlements(ctx context.Context) ([]*models.SettlementRecord, error) {
	defer s.lock()()
	return s.settlementCopies(func(int64) bool { return true }), nil
}

func (s *MemoryStore) settlementCopies(keep func(int64) bool) []*models.SettlementRecord {
	var out []*models.SettlementRecord
	for id, st := range s.data.settlements {
		if keep(id) {
			c := *st
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) UnmatchedBankTransactions(ctx context.Context) ([]*models.BankTransaction, error) {
	defer s.lock()()
	var out []*models.BankTransaction
	for id, t := range s.data.txns {
		if _, ok := s.data.bankMatches[id]; ok {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Payments(ctx context.Context) ([]*models.PaymentRecord, error) {
	defer s.lock()()
	out := make([]*models.PaymentRecord, 0, len(s.data.payments))
	for _, p := range s.data.payments {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PickupDates(ctx context.Context) (map[string]time.Time, error) {
	defer s.lock()()
	out := make(map[string]time.Time)
	for _, d := range s.data.demands {
		if d.OrderNo != "" && d.PickedUpAt != nil && !d.PickedUpAt.IsZero() {
			out[d.OrderNo] = *d.PickedUpAt
		}
	}
	return out, nil
}

func (s *MemoryStore) Match(ctx context.Context, id int64) (*models.MatchRecord, error) {
	defer s.lock()()
	m, ok := s.data.matches[id]
	if !ok {
		return nil, errors.ReconciliationError(errors.CodeRecordNotFound, "match lookup", nil).
			WithContext("match_id", id)
	}
	return &m, nil
}

func (s *MemoryStore) Matches(ctx context.Context) ([]models.MatchRecord, error) {
	defer s.lock()()
	out := make([]models.MatchRecord, 0, len(s.data.matches))
	for _, m := range s.data.matches {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Candidates(ctx context.Context) ([]models.CandidateRecord, error) {
	defer s.lock()()
	soft := &models.SoftState{Candidates: s.data.candidates}
	return soft.AllCandidates(), nil
}

func (s *MemoryStore) NeedsInvoice(ctx context.Context) ([]int64, error) {
	defer s.lock()()
	out := make([]int64, 0, len(s.data.needsInvoice))
	for id := range s.data.needsInvoice {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) ReversalLinks(ctx context.Context) ([]models.ReversalLink, error) {
	defer s.lock()()
	out := make([]models.ReversalLink, 0, len(s.data.reversals))
	for _, l := range s.data.reversals {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReversalID < out[j].ReversalID })
	return out, nil
}

func (s *MemoryStore) BankMatches(ctx context.Context) ([]models.BankMatchRecord, error) {
	defer s.lock()()
	out := make([]models.BankMatchRecord, 0, len(s.data.bankMatches))
	for _, m := range s.data.bankMatches {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankTxnID < out[j].BankTxnID })
	return out, nil
}

func (s *MemoryStore) Actions(ctx context.Context) ([]Action, error) {
	defer s.lock()()
	return append([]Action(nil), s.data.actions...), nil
}

func (s *MemoryStore) InsertMatches(ctx context.Context, matches []models.MatchRecord) (int, error) {
	defer s.lock()()
	demands, settlements := s.matchedSides()
	inserted := 0
	for _, m := range matches {
		if demands[m.DemandID] || settlements[m.SettlementID] {
			continue
		}
		s.data.nextMatchID++
		m.ID = s.data.nextMatchID
		s.data.matches[m.ID] = m
		demands[m.DemandID] = true
		settlements[m.SettlementID] = true
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) ReplaceSoftState(ctx context.Context, soft *models.SoftState) error {
	defer s.lock()()
	s.data.candidates = make(map[int64][]models.CandidateRecord)
	s.data.needsInvoice = make(map[int64]bool)
	if soft == nil {
		return nil
	}
	for id, cands := range soft.Candidates {
		s.data.candidates[id] = append([]models.CandidateRecord(nil), cands...)
	}
	for _, id := range soft.NeedsInvoice {
		s.data.needsInvoice[id] = true
	}
	return nil
}

func (s *MemoryStore) UpsertReversalLinks(ctx context.Context, links []models.ReversalLink) (int, error) {
	defer s.lock()()
	for _, l := range links {
		s.data.reversals[l.ReversalID] = l
	}
	return len(links), nil
}

func (s *MemoryStore) UpdateOpenBalances(ctx context.Context, balances map[int64]decimal.Decimal) error {
	defer s.lock()()
	for id, open := range balances {
		if st, ok := s.data.settlements[id]; ok {
			st.OpenBalance = decimal.NewNullDecimal(open)
		}
	}
	return nil
}

func (s *MemoryStore) InsertBankMatches(ctx context.Context, matches []models.BankMatchRecord) (int, error) {
	defer s.lock()()
	inserted := 0
	for _, m := range matches {
		if _, ok := s.data.bankMatches[m.BankTxnID]; ok {
			continue
		}
		s.data.bankMatches[m.BankTxnID] = m
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) UpdateMatchStatus(ctx context.Context, matchID int64, status models.MatchStatus) error {
	defer s.lock()()
	m, ok := s.data.matches[matchID]
	if !ok {
		return errors.ReconciliationError(errors.CodeRecordNotFound, "match status update", nil).
			WithContext("match_id", matchID)
	}
	m.Status = status
	s.data.matches[matchID] = m
	return nil
}

func (s *MemoryStore) SettleInvoice(ctx context.Context, settlementID int64) error {
	defer s.lock()()
	st, ok := s.data.settlements[settlementID]
	if !ok {
		return nil
	}
	st.OpenBalance = decimal.NewNullDecimal(decimal.Zero)
	if !st.PaymentAmount.Valid {
		st.PaymentAmount = st.AmountDue
	}
	return nil
}

func (s *MemoryStore) UpdateCustomerKeys(ctx context.Context, keys map[int64]string) (int, error) {
	defer s.lock()()
	updated := 0
	for id, key := range keys {
		d, ok := s.data.demands[id]
		if !ok || d.CustomerKey == key {
			continue
		}
		// orders are shared with snapshots, so replace rather than mutate
		c := *d
		c.CustomerKey = key
		s.data.demands[id] = &c
		updated++
	}
	return updated, nil
}

func (s *MemoryStore) LogAction(ctx context.Context, action Action) error {
	defer s.lock()()
	s.data.actions = append(s.data.actions, action)
	return nil
}

// WithinTx runs fn on a copy of the data and swaps it in on success
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &MemoryStore{mu: s.mu, data: s.data.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.StorageError(errors.CodeStorageTransaction, "commit", err)
	}
	s.data = tx.data
	return nil
}

func (d *memData) clone() *memData {
	c := &memData{
		demands:      make(map[int64]*models.DemandRecord, len(d.demands)),
		txns:         d.txns,
		payments:     d.payments,
		settlements:  make(map[int64]*models.SettlementRecord, len(d.settlements)),
		matches:      make(map[int64]models.MatchRecord, len(d.matches)),
		nextMatchID:  d.nextMatchID,
		candidates:   make(map[int64][]models.CandidateRecord, len(d.candidates)),
		needsInvoice: make(map[int64]bool, len(d.needsInvoice)),
		reversals:    make(map[int64]models.ReversalLink, len(d.reversals)),
		bankMatches:  make(map[int64]models.BankMatchRecord, len(d.bankMatches)),
		actions:      append([]Action(nil), d.actions...),
	}
	for id, dm := range d.demands {
		c.demands[id] = dm
	}
	// only settlements are mutated in place
	for id, st := range d.settlements {
		cp := *st
		c.settlements[id] = &cp
	}
	for id, m := range d.matches {
		c.matches[id] = m
	}
	for id, cands := range d.candidates {
		c.candidates[id] = cands
	}
	for id := range d.needsInvoice {
		c.needsInvoice[id] = true
	}
	for id, l := range d.reversals {
		c.reversals[id] = l
	}
	for id, m := range d.bankMatches {
		c.bankMatches[id] = m
	}
	return c
}

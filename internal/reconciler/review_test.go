package reconciler

import (
	"context"
	"testing"

	"cod-reconciler/internal/models"
	"cod-reconciler/internal/store"
	"cod-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

// createMatchedService returns a service whose store has been through one
// order matching pass: match 1 is order 1 -> invoice 10, match 2 is
// order 2 -> invoice 11.
func createMatchedService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := createTestStore()
	svc := createTestService(t, st)
	if _, err := svc.MatchOrdersToInvoices(context.Background(), nil); err != nil {
		t.Fatalf("MatchOrdersToInvoices failed: %v", err)
	}
	return svc, st
}

func TestService_ConfirmMatch(t *testing.T) {
	ctx := context.Background()
	svc, st := createMatchedService(t)

	m, err := svc.ConfirmMatch(ctx, 2)
	if err != nil {
		t.Fatalf("ConfirmMatch failed: %v", err)
	}
	if m.Status != models.StatusAuto || m.SettlementID != 11 {
		t.Errorf("Expected auto match on invoice 11, got %+v", m)
	}

	inv := st.Settlement(11)
	if !inv.OpenBalance.Valid || !inv.OpenBalance.Decimal.IsZero() {
		t.Errorf("Expected open balance 0, got %v", inv.OpenBalance)
	}
	if !inv.PaymentAmount.Decimal.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("Expected payment amount 1500, got %s", inv.PaymentAmount.Decimal)
	}

	actions, _ := st.Actions(ctx)
	if len(actions) != 1 || actions[0].Action != store.ActionConfirmMatch || actions[0].RefID != 2 {
		t.Errorf("Expected one confirm action for match 2, got %+v", actions)
	}
	if !actions[0].CreatedAt.Equal(fixedNow) {
		t.Errorf("Expected action time %v, got %v", fixedNow, actions[0].CreatedAt)
	}
}

func TestService_MarkNeedsInvoice(t *testing.T) {
	ctx := context.Background()
	svc, st := createMatchedService(t)

	m, err := svc.MarkNeedsInvoice(ctx, 1)
	if err != nil {
		t.Fatalf("MarkNeedsInvoice failed: %v", err)
	}
	if m.Status != models.StatusNeedsInvoice {
		t.Errorf("Expected needs_invoice, got %s", m.Status)
	}

	stored, _ := st.Match(ctx, 1)
	if stored.Status != models.StatusNeedsInvoice {
		t.Errorf("Expected stored status needs_invoice, got %s", stored.Status)
	}
	if st.Settlement(10).OpenBalance.Valid {
		t.Error("Expected invoice 10 to stay unsettled")
	}
}

func TestService_ReviewUnknownMatch(t *testing.T) {
	ctx := context.Background()
	svc, st := createMatchedService(t)

	tests := []struct {
		name   string
		review func(context.Context, int64) (*models.MatchRecord, error)
	}{
		{"confirm", svc.ConfirmMatch},
		{"needs invoice", svc.MarkNeedsInvoice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.review(ctx, 99)
			re, ok := errors.AsReconcilerError(err)
			if !ok || re.Code != errors.CodeRecordNotFound {
				t.Errorf("Expected record_not_found, got %v", err)
			}
		})
	}

	actions, _ := st.Actions(ctx)
	if len(actions) != 0 {
		t.Errorf("Expected no actions logged, got %d", len(actions))
	}
}

func TestService_AcceptCandidate(t *testing.T) {
	ctx := context.Background()
	svc, st := createMatchedService(t)

	m, err := svc.AcceptCandidate(ctx, 3, 12)
	if err != nil {
		t.Fatalf("AcceptCandidate failed: %v", err)
	}
	if m.Score != 70 || m.Method != models.MethodFuzzy || m.Status != models.StatusAuto {
		t.Errorf("Expected auto fuzzy match at 70, got %+v", m)
	}

	matches, _ := st.Matches(ctx)
	if len(matches) != 3 {
		t.Errorf("Expected 3 matches, got %d", len(matches))
	}
	cands, _ := st.Candidates(ctx)
	if len(cands) != 0 {
		t.Errorf("Expected candidates of order 3 to be dropped, got %+v", cands)
	}
	flags, _ := st.NeedsInvoice(ctx)
	if len(flags) != 1 || flags[0] != 4 {
		t.Errorf("Expected order 4 to stay flagged, got %v", flags)
	}
	if !st.Settlement(12).OpenBalance.Valid {
		t.Error("Expected invoice 12 to be settled")
	}

	actions, _ := st.Actions(ctx)
	if len(actions) != 1 || actions[0].Action != store.ActionAcceptCandidate || actions[0].Note != "invoice_id=12" {
		t.Errorf("Expected one accept action, got %+v", actions)
	}

	if _, err := svc.AcceptCandidate(ctx, 3, 12); !errors.IsCategory(err, errors.CategoryReconciliation) {
		t.Errorf("Expected a second accept to find no candidate, got %v", err)
	}
}

func TestService_AcceptCandidateUnknown(t *testing.T) {
	ctx := context.Background()
	svc, st := createMatchedService(t)

	_, err := svc.AcceptCandidate(ctx, 4, 12)
	re, ok := errors.AsReconcilerError(err)
	if !ok || re.Code != errors.CodeRecordNotFound {
		t.Fatalf("Expected record_not_found, got %v", err)
	}

	cands, _ := st.Candidates(ctx)
	if len(cands) != 1 {
		t.Errorf("Expected soft state untouched, got %d candidates", len(cands))
	}
}

func TestPruneSoftState(t *testing.T) {
	cands := []models.CandidateRecord{
		{DemandID: 1, SettlementID: 10, Rank: 1},
		{DemandID: 1, SettlementID: 11, Rank: 2},
		{DemandID: 2, SettlementID: 10, Rank: 1},
		{DemandID: 2, SettlementID: 12, Rank: 2},
		{DemandID: 3, SettlementID: 13, Rank: 1},
	}

	soft := pruneSoftState(cands, []int64{1, 4}, 1, 10)
	if _, ok := soft.Candidates[1]; ok {
		t.Error("Expected accepted order to be dropped")
	}
	if got := soft.Candidates[2]; len(got) != 1 || got[0].SettlementID != 12 {
		t.Errorf("Expected order 2 to keep only invoice 12, got %+v", got)
	}
	if len(soft.Candidates[3]) != 1 {
		t.Errorf("Expected order 3 untouched, got %+v", soft.Candidates[3])
	}
	if len(soft.NeedsInvoice) != 1 || soft.NeedsInvoice[0] != 4 {
		t.Errorf("Expected flags [4], got %v", soft.NeedsInvoice)
	}
}

func TestService_CloseInvoices(t *testing.T) {
	ctx := context.Background()
	svc, st := createMatchedService(t)

	if _, err := svc.MarkNeedsInvoice(ctx, 1); err != nil {
		t.Fatalf("MarkNeedsInvoice failed: %v", err)
	}

	closed, err := svc.CloseInvoices(ctx)
	if err != nil {
		t.Fatalf("CloseInvoices failed: %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected 1 invoice closed, got %d", closed)
	}
	if !st.Settlement(11).OpenBalance.Valid {
		t.Error("Expected invoice 11 to be closed")
	}
	if st.Settlement(10).OpenBalance.Valid {
		t.Error("Expected invoice 10 to stay open")
	}
}

func TestService_PendingReview(t *testing.T) {
	ctx := context.Background()
	svc, _ := createMatchedService(t)

	cands, flagged, err := svc.PendingReview(ctx)
	if err != nil {
		t.Fatalf("PendingReview failed: %v", err)
	}
	if len(cands) != 1 || cands[0].DemandID != 3 || cands[0].SettlementID != 12 {
		t.Errorf("Expected one candidate 3 -> 12, got %+v", cands)
	}
	if len(flagged) != 1 || flagged[0] != 4 {
		t.Errorf("Expected order 4 flagged, got %v", flagged)
	}

	failing := createTestService(t, &failingStore{Store: createTestStore(), readErr: context.Canceled})
	_, _, err = failing.PendingReview(ctx)
	re, ok := errors.AsReconcilerError(err)
	if !ok || re.Code != errors.CodeRunCancelled {
		t.Errorf("Expected run_cancelled, got %v", err)
	}
}

package gormstore

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"cod-reconciler/internal/amount"
	"cod-reconciler/internal/models"
	"cod-reconciler/pkg/errors"
	"cod-reconciler/pkg/logger"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// newDryRunStore builds a Store whose statements are rendered but never sent.
// Default transactions would open a connection, so they are skipped.
func newDryRunStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "cod:cod@tcp(127.0.0.1:3306)/cod?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("failed to open dry-run database: %v", err)
	}
	return New(db, logger.NewNopLogger())
}

func TestOrderRowToModel(t *testing.T) {
	picked := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	row := orderRow{
		ID:           7,
		SpOrderNo:    "SP7",
		CustomerName: "Ana Anić",
		Status:       "Preuzeto",
		PickedUpAt:   &picked,
		Items: []orderItemRow{
			{ID: 1, OrderID: 7, Qty: nd("2"), CodAmount: nd("500"), Discount: nd("10"), AddonCod: nd("300")},
		},
	}

	d := row.toModel()
	if d.ID != 7 || d.OrderNo != "SP7" {
		t.Errorf("Expected order 7/SP7, got %d/%s", d.ID, d.OrderNo)
	}
	if len(d.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(d.Items))
	}
	item := d.Items[0]
	if !item.UnitPrice.Decimal.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected unit price 500, got %s", item.UnitPrice.Decimal)
	}
	if !item.ShippingAddon.Decimal.Equal(decimal.NewFromInt(300)) {
		t.Errorf("Expected shipping addon 300, got %s", item.ShippingAddon.Decimal)
	}
	if item.Advance.Valid {
		t.Error("Expected missing advance to stay invalid")
	}
	if d.PickedUpAt == nil || !d.PickedUpAt.Equal(picked) {
		t.Errorf("Expected pickup %v, got %v", picked, d.PickedUpAt)
	}
}

func TestOrderRowDiscountColumns(t *testing.T) {
	tests := []struct {
		name     string
		items    []orderItemRow
		expected string
		comped   bool
	}{
		{
			name:     "order discount reaches the shipping add-on",
			items:    []orderItemRow{{Qty: nd("1"), CodAmount: nd("1000"), Discount: nd("10"), ExtraDiscount: nd("0"), AddonCod: nd("300")}},
			expected: "1170",
		},
		{
			name:     "item discount stays on the item",
			items:    []orderItemRow{{Qty: nd("1"), CodAmount: nd("1000"), Discount: nd("10"), ExtraDiscount: nd("50"), AddonCod: nd("300")}},
			expected: "720",
		},
		{
			name: "order discount of 100 on every row",
			items: []orderItemRow{
				{Qty: nd("1"), CodAmount: nd("1000"), Discount: nd("100")},
				{Qty: nd("2"), CodAmount: nd("50"), Discount: nd("100"), ExtraDiscount: nd("20")},
			},
			expected: "0",
			comped:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := (&orderRow{ID: 1, Items: tt.items}).toModel()

			net, ok := amount.Net(d.Items)
			if !ok {
				t.Fatal("Expected a known net amount")
			}
			if !net.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("Expected net %s, got %s", tt.expected, net)
			}
			if got := amount.IsFullyComped(d.Items); got != tt.comped {
				t.Errorf("Expected comped %v, got %v", tt.comped, got)
			}
		})
	}
}

func TestBankTransactionRowDirection(t *testing.T) {
	tests := []struct {
		benefit  string
		expected models.Direction
	}{
		{"credit", models.DirectionCredit},
		{" Credit ", models.DirectionCredit},
		{"DEBIT", models.DirectionDebit},
	}

	for _, tt := range tests {
		t.Run(tt.benefit, func(t *testing.T) {
			row := bankTransactionRow{ID: 1, Benefit: tt.benefit}
			if got := row.toModel().Direction; got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestCandidateRowReasons(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c := models.CandidateRecord{
		DemandID: 1, SettlementID: 2, Score: 70, Rank: 1,
		Reasons: []string{"amount_exact", "name_fuzzy"}, Method: models.MethodFuzzy,
	}

	row := candidateFromModel(c, now)
	if row.Detail != "amount_exact,name_fuzzy" {
		t.Errorf("Expected joined reasons, got %q", row.Detail)
	}
	if !row.CreatedAt.Equal(now) {
		t.Errorf("Expected created_at %v, got %v", now, row.CreatedAt)
	}

	back := row.toModel()
	if len(back.Reasons) != 2 || back.Reasons[1] != "name_fuzzy" {
		t.Errorf("Expected reasons to round trip, got %v", back.Reasons)
	}

	empty := candidateRow{OrderID: 1, InvoiceID: 2}
	if got := empty.toModel().Reasons; got != nil {
		t.Errorf("Expected no reasons for empty detail, got %v", got)
	}
}

func TestBankMatchRowKind(t *testing.T) {
	tests := []struct {
		kind      models.BankMatchKind
		matchType string
	}{
		{models.BankMatchPayment, matchTypePayment},
		{models.BankMatchReversal, matchTypeStorno},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			row := bankMatchFromModel(models.BankMatchRecord{BankTxnID: 9, Kind: tt.kind, RefID: 3})
			if row.MatchType != tt.matchType {
				t.Errorf("Expected match_type %s, got %s", tt.matchType, row.MatchType)
			}
			if got := row.toModel().Kind; got != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, got)
			}
		})
	}
}

func TestStornoRowFromModel(t *testing.T) {
	link := models.ReversalLink{
		ReversalID:     11,
		OriginalID:     10,
		ReversalAmount: decimal.NewFromInt(400),
		OriginalAmount: decimal.NewFromInt(1000),
		OpenBalance:    decimal.NewFromInt(600),
		Partial:        true,
	}

	row := stornoFromModel(link)
	if row.StornoInvoiceID != 11 || row.OriginalInvoiceID != 10 || !row.IsPartial {
		t.Errorf("Unexpected storno row %+v", row)
	}
	if !row.RemainingOpen.Equal(decimal.NewFromInt(600)) {
		t.Errorf("Expected remaining 600, got %s", row.RemainingOpen)
	}
}

func TestStorageErr(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category errors.ErrorCategory
		code     errors.ErrorCode
	}{
		{"duplicate", gorm.ErrDuplicatedKey, errors.CategoryStorage, errors.CodeStorageConstraint},
		{"not found", gorm.ErrRecordNotFound, errors.CategoryReconciliation, errors.CodeRecordNotFound},
		{"cancelled", context.Canceled, errors.CategoryReconciliation, errors.CodeRunCancelled},
		{"other", stderrors.New("connection reset"), errors.CategoryStorage, errors.CodeStorageWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storageErr(errors.CodeStorageWrite, "insert matches", tt.err)
			re, ok := errors.AsReconcilerError(err)
			if !ok {
				t.Fatalf("Expected ReconcilerError, got %T", err)
			}
			if re.Category != tt.category || re.Code != tt.code {
				t.Errorf("Expected %s/%s, got %s/%s", tt.category, tt.code, re.Category, re.Code)
			}
			if !stderrors.Is(err, tt.err) {
				t.Error("Expected cause to be preserved")
			}
		})
	}

	if err := storageErr(errors.CodeStorageWrite, "noop", nil); err != nil {
		t.Errorf("Expected nil for nil error, got %v", err)
	}
}

func TestUnmatchedQueries(t *testing.T) {
	s := newDryRunStore(t)

	sql := s.db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []invoiceRow
		return tx.Where("id NOT IN (?)", s.matchedInvoiceIDs()).Order("id ASC").Find(&rows)
	})
	if !strings.Contains(sql, "FROM `invoices`") || !strings.Contains(sql, "NOT IN (SELECT") {
		t.Errorf("Expected invoice subquery, got %s", sql)
	}
	if !strings.Contains(sql, "invoice_matches") {
		t.Errorf("Expected invoice_matches in subquery, got %s", sql)
	}
}

func TestDryRunWrites(t *testing.T) {
	ctx := context.Background()
	s := newDryRunStore(t)

	if _, err := s.InsertMatches(ctx, nil); err != nil {
		t.Errorf("Expected empty insert to succeed, got %v", err)
	}
	if n, err := s.UpsertReversalLinks(ctx, []models.ReversalLink{{ReversalID: 11, OriginalID: 10}}); err != nil || n != 1 {
		t.Errorf("Expected 1 upserted link, got %d (%v)", n, err)
	}
	if err := s.SettleInvoice(ctx, 10); err != nil {
		t.Errorf("Expected settle to render, got %v", err)
	}
	if _, err := s.UpdateCustomerKeys(ctx, map[int64]string{1: "phone:0641234567"}); err != nil {
		t.Errorf("Expected customer key update to render, got %v", err)
	}
}

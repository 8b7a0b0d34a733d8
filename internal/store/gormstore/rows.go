package gormstore

import (
	"strings"
	"time"

	"cod-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// bank_matches.match_type values
const (
	matchTypePayment = "sp_payment"
	matchTypeStorno  = "storno"
)

type orderRow struct {
	ID           int64      `gorm:"column:id;primaryKey"`
	SpOrderNo    string     `gorm:"column:sp_order_no;uniqueIndex:idx_orders_sp_order_no;size:64"`
	CustomerName string     `gorm:"column:customer_name"`
	Phone        string     `gorm:"column:phone"`
	Email        string     `gorm:"column:email"`
	City         string     `gorm:"column:city"`
	CustomerKey  string     `gorm:"column:customer_key"`
	Status       string     `gorm:"column:status"`
	CreatedAt    *time.Time `gorm:"column:created_at;autoCreateTime:false"`
	PickedUpAt   *time.Time `gorm:"column:picked_up_at"`
	DeliveredAt  *time.Time `gorm:"column:delivered_at"`

	Items []orderItemRow `gorm:"foreignKey:OrderID"`
}

func (orderRow) TableName() string { return "orders" }

type orderItemRow struct {
	ID            int64               `gorm:"column:id;primaryKey"`
	OrderID       int64               `gorm:"column:order_id;index:idx_order_items_order"`
	Qty           decimal.NullDecimal `gorm:"column:qty;type:decimal(12,3)"`
	CodAmount     decimal.NullDecimal `gorm:"column:cod_amount;type:decimal(14,2)"`
	AdvanceAmount decimal.NullDecimal `gorm:"column:advance_amount;type:decimal(14,2)"`
	// discount is the order-level percentage repeated on every row,
	// extra_discount the row's own
	Discount      decimal.NullDecimal `gorm:"column:discount;type:decimal(7,3)"`
	AddonCod      decimal.NullDecimal `gorm:"column:addon_cod;type:decimal(14,2)"`
	AddonAdvance  decimal.NullDecimal `gorm:"column:addon_advance;type:decimal(14,2)"`
	ExtraDiscount decimal.NullDecimal `gorm:"column:extra_discount;type:decimal(7,3)"`
}

func (orderItemRow) TableName() string { return "order_items" }

type invoiceRow struct {
	ID            int64               `gorm:"column:id;primaryKey"`
	Number        string              `gorm:"column:number;uniqueIndex:idx_invoices_number;size:64"`
	CustomerName  string              `gorm:"column:customer_name"`
	Turnover      *time.Time          `gorm:"column:turnover"`
	AmountDue     decimal.NullDecimal `gorm:"column:amount_due;type:decimal(14,2)"`
	Revenue       decimal.NullDecimal `gorm:"column:revenue;type:decimal(14,2)"`
	Basis         string              `gorm:"column:basis"`
	Note          string              `gorm:"column:note"`
	PaymentAmount decimal.NullDecimal `gorm:"column:payment_amount;type:decimal(14,2)"`
	OpenAmount    decimal.NullDecimal `gorm:"column:open_amount;type:decimal(14,2)"`
}

func (invoiceRow) TableName() string { return "invoices" }

type bankTransactionRow struct {
	ID             int64               `gorm:"column:id;primaryKey"`
	FitID          string              `gorm:"column:fitid;uniqueIndex:idx_bank_fitid;size:128"`
	Benefit        string              `gorm:"column:benefit"`
	DtPosted       *time.Time          `gorm:"column:dtposted"`
	Amount         decimal.NullDecimal `gorm:"column:amount;type:decimal(14,2)"`
	Purpose        string              `gorm:"column:purpose"`
	RefNumber      string              `gorm:"column:refnumber"`
	PayeeRefNumber string              `gorm:"column:payeerefnumber"`
	PayeeName      string              `gorm:"column:payee_name"`
}

func (bankTransactionRow) TableName() string { return "bank_transactions" }

type paymentRow struct {
	ID           int64               `gorm:"column:id;primaryKey"`
	SpOrderNo    string              `gorm:"column:sp_order_no;index:idx_payments_sp_order_no;size:64"`
	CustomerName string              `gorm:"column:customer_name"`
	Amount       decimal.NullDecimal `gorm:"column:amount;type:decimal(14,2)"`
}

func (paymentRow) TableName() string { return "payments" }

type matchRow struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	OrderID   int64     `gorm:"column:order_id;uniqueIndex:idx_invoice_matches_order"`
	InvoiceID int64     `gorm:"column:invoice_id;uniqueIndex:idx_invoice_matches_invoice"`
	Score     int       `gorm:"column:score"`
	Status    string    `gorm:"column:status;size:16"`
	Method    string    `gorm:"column:method;size:32"`
	MatchedAt time.Time `gorm:"column:matched_at"`
}

func (matchRow) TableName() string { return "invoice_matches" }

type candidateRow struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	OrderID   int64     `gorm:"column:order_id;uniqueIndex:idx_invoice_candidates_pair"`
	InvoiceID int64     `gorm:"column:invoice_id;uniqueIndex:idx_invoice_candidates_pair"`
	Score     int       `gorm:"column:score"`
	Detail    string    `gorm:"column:detail"`
	Method    string    `gorm:"column:method;size:32"`
	Rank      int       `gorm:"column:candidate_rank"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (candidateRow) TableName() string { return "invoice_candidates" }

type orderFlagRow struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	OrderID   int64     `gorm:"column:order_id;uniqueIndex:idx_order_flags_unique"`
	Flag      string    `gorm:"column:flag;uniqueIndex:idx_order_flags_unique;size:32"`
	Note      string    `gorm:"column:note"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (orderFlagRow) TableName() string { return "order_flags" }

type stornoRow struct {
	ID                int64           `gorm:"column:id;primaryKey"`
	StornoInvoiceID   int64           `gorm:"column:storno_invoice_id;uniqueIndex:idx_invoice_storno_unique"`
	OriginalInvoiceID int64           `gorm:"column:original_invoice_id"`
	StornoAmount      decimal.Decimal `gorm:"column:storno_amount;type:decimal(14,2)"`
	OriginalAmount    decimal.Decimal `gorm:"column:original_amount;type:decimal(14,2)"`
	RemainingOpen     decimal.Decimal `gorm:"column:remaining_open;type:decimal(14,2)"`
	IsPartial         bool            `gorm:"column:is_partial"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
}

func (stornoRow) TableName() string { return "invoice_storno" }

type bankMatchRow struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	BankTxnID int64     `gorm:"column:bank_txn_id;uniqueIndex:idx_bank_matches_txn"`
	MatchType string    `gorm:"column:match_type;size:16"`
	RefID     int64     `gorm:"column:ref_id"`
	Score     int       `gorm:"column:score"`
	Method    string    `gorm:"column:method;size:32"`
	Detail    string    `gorm:"column:detail"`
	MatchedAt time.Time `gorm:"column:matched_at"`
}

func (bankMatchRow) TableName() string { return "bank_matches" }

type actionLogRow struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	Action    string    `gorm:"column:action;size:32"`
	RefType   string    `gorm:"column:ref_type;index:idx_action_log_ref;size:32"`
	RefID     int64     `gorm:"column:ref_id;index:idx_action_log_ref"`
	Note      string    `gorm:"column:note"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (actionLogRow) TableName() string { return "action_log" }

// allRows lists every table for Migrate
func allRows() []interface{} {
	return []interface{}{
		&orderRow{}, &orderItemRow{}, &invoiceRow{}, &bankTransactionRow{}, &paymentRow{},
		&matchRow{}, &candidateRow{}, &orderFlagRow{}, &stornoRow{}, &bankMatchRow{}, &actionLogRow{},
	}
}

func (r *orderRow) toModel() *models.DemandRecord {
	d := &models.DemandRecord{
		ID:           r.ID,
		OrderNo:      r.SpOrderNo,
		CustomerName: r.CustomerName,
		Phone:        r.Phone,
		Email:        r.Email,
		City:         r.City,
		CustomerKey:  r.CustomerKey,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		PickedUpAt:   r.PickedUpAt,
		DeliveredAt:  r.DeliveredAt,
	}
	for _, it := range r.Items {
		d.Items = append(d.Items, models.LineItem{
			Quantity:      it.Qty,
			UnitPrice:     it.CodAmount,
			OrderDiscount: it.Discount,
			LineDiscount:  it.ExtraDiscount,
			ShippingAddon: it.AddonCod,
			Advance:       it.AdvanceAmount,
			AddonAdvance:  it.AddonAdvance,
		})
	}
	return d
}

func (r *invoiceRow) toModel() *models.SettlementRecord {
	return &models.SettlementRecord{
		ID:            r.ID,
		Number:        r.Number,
		CustomerName:  r.CustomerName,
		TurnoverDate:  r.Turnover,
		AmountDue:     r.AmountDue,
		Revenue:       r.Revenue,
		Basis:         r.Basis,
		Note:          r.Note,
		OpenBalance:   r.OpenAmount,
		PaymentAmount: r.PaymentAmount,
	}
}

func (r *bankTransactionRow) toModel() *models.BankTransaction {
	return &models.BankTransaction{
		ID:             r.ID,
		TransactionID:  r.FitID,
		PostedAt:       r.DtPosted,
		Amount:         r.Amount,
		Direction:      models.Direction(strings.ToLower(strings.TrimSpace(r.Benefit))),
		Purpose:        r.Purpose,
		RefNumber:      r.RefNumber,
		PayeeRefNumber: r.PayeeRefNumber,
		PayeeName:      r.PayeeName,
	}
}

func (r *paymentRow) toModel() *models.PaymentRecord {
	return &models.PaymentRecord{
		ID:           r.ID,
		OrderNo:      r.SpOrderNo,
		CustomerName: r.CustomerName,
		Amount:       r.Amount,
	}
}

func matchFromModel(m models.MatchRecord) matchRow {
	return matchRow{
		OrderID:   m.DemandID,
		InvoiceID: m.SettlementID,
		Score:     m.Score,
		Status:    string(m.Status),
		Method:    m.Method,
		MatchedAt: m.MatchedAt,
	}
}

func (r *matchRow) toModel() models.MatchRecord {
	return models.MatchRecord{
		ID:           r.ID,
		DemandID:     r.OrderID,
		SettlementID: r.InvoiceID,
		Score:        r.Score,
		Status:       models.MatchStatus(r.Status),
		Method:       r.Method,
		MatchedAt:    r.MatchedAt,
	}
}

// candidate reasons are stored comma separated in detail
func candidateFromModel(c models.CandidateRecord, createdAt time.Time) candidateRow {
	return candidateRow{
		OrderID:   c.DemandID,
		InvoiceID: c.SettlementID,
		Score:     c.Score,
		Detail:    strings.Join(c.Reasons, ","),
		Method:    c.Method,
		Rank:      c.Rank,
		CreatedAt: createdAt,
	}
}

func (r *candidateRow) toModel() models.CandidateRecord {
	var reasons []string
	if r.Detail != "" {
		reasons = strings.Split(r.Detail, ",")
	}
	return models.CandidateRecord{
		DemandID:     r.OrderID,
		SettlementID: r.InvoiceID,
		Score:        r.Score,
		Reasons:      reasons,
		Rank:         r.Rank,
		Method:       r.Method,
	}
}

func stornoFromModel(l models.ReversalLink) stornoRow {
	return stornoRow{
		StornoInvoiceID:   l.ReversalID,
		OriginalInvoiceID: l.OriginalID,
		StornoAmount:      l.ReversalAmount,
		OriginalAmount:    l.OriginalAmount,
		RemainingOpen:     l.OpenBalance,
		IsPartial:         l.Partial,
		CreatedAt:         l.LinkedAt,
	}
}

func (r *stornoRow) toModel() models.ReversalLink {
	return models.ReversalLink{
		ReversalID:     r.StornoInvoiceID,
		OriginalID:     r.OriginalInvoiceID,
		ReversalAmount: r.StornoAmount,
		OriginalAmount: r.OriginalAmount,
		OpenBalance:    r.RemainingOpen,
		Partial:        r.IsPartial,
		LinkedAt:       r.CreatedAt,
	}
}

func bankMatchFromModel(m models.BankMatchRecord) bankMatchRow {
	matchType := matchTypePayment
	if m.Kind == models.BankMatchReversal {
		matchType = matchTypeStorno
	}
	return bankMatchRow{
		BankTxnID: m.BankTxnID,
		MatchType: matchType,
		RefID:     m.RefID,
		Score:     m.Score,
		Method:    m.Method,
		Detail:    m.Detail,
		MatchedAt: m.MatchedAt,
	}
}

func (r *bankMatchRow) toModel() models.BankMatchRecord {
	kind := models.BankMatchPayment
	if r.MatchType == matchTypeStorno {
		kind = models.BankMatchReversal
	}
	return models.BankMatchRecord{
		BankTxnID: r.BankTxnID,
		Kind:      kind,
		RefID:     r.RefID,
		Score:     r.Score,
		Method:    r.Method,
		Detail:    r.Detail,
		MatchedAt: r.MatchedAt,
	}
}

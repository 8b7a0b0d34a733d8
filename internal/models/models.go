package models

import (
	"fmt"
	"sort"
	"time"

	"cod-reconciler/internal/textnorm"

	"github.com/shopspring/decimal"
)

// DateLayout is the day granularity used for every date comparison.
const DateLayout = "2006-01-02"

// MatchStatus is the review state of an order↔invoice match
type MatchStatus string

const (
	StatusAuto         MatchStatus = "auto"
	StatusReview       MatchStatus = "review"
	StatusNeedsInvoice MatchStatus = "needs_invoice"
)

// IsValid checks if the status is one of the known values
func (s MatchStatus) IsValid() bool {
	return s == StatusAuto || s == StatusReview || s == StatusNeedsInvoice
}

// Match methods recorded on MatchRecord, CandidateRecord and BankMatchRecord
const (
	MethodExact      = "exact"
	MethodCloseName  = "close-name"
	MethodFuzzy      = "fuzzy"
	MethodAmount     = "amount"
	MethodAmountDate = "amount+date"
	MethodPurpose    = "purpose"
)

// Direction is the side of a bank statement line
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// BankMatchKind tells what a bank transaction was matched to
type BankMatchKind string

const (
	BankMatchPayment  BankMatchKind = "payment"
	BankMatchReversal BankMatchKind = "reversal"
)

// FlagNeedsInvoice is the order flag set when no invoice could be associated
const FlagNeedsInvoice = "needs_invoice"

// LineItem is one row of a shipping order. Any field may be missing.
type LineItem struct {
	Quantity      decimal.NullDecimal `json:"quantity"`
	UnitPrice     decimal.NullDecimal `json:"unit_price"`
	// OrderDiscount is the order-level percentage, repeated on every row.
	// LineDiscount applies to this row only.
	OrderDiscount decimal.NullDecimal `json:"order_discount"`
	LineDiscount  decimal.NullDecimal `json:"line_discount"`
	ShippingAddon decimal.NullDecimal `json:"shipping_addon"`
	Advance       decimal.NullDecimal `json:"advance"`
	AddonAdvance  decimal.NullDecimal `json:"addon_advance"`
}

// DemandRecord is a shipping-provider order
type DemandRecord struct {
	ID           int64      `json:"id"`
	OrderNo      string     `json:"order_no"`
	CustomerName string     `json:"customer_name"`
	Phone        string     `json:"phone,omitempty"`
	Email        string     `json:"email,omitempty"`
	City         string     `json:"city,omitempty"`
	CustomerKey  string     `json:"customer_key,omitempty"`
	Status       string     `json:"status,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	PickedUpAt   *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	Items        []LineItem `json:"items"`
}

// Lifecycle classifies the free-text status
func (d *DemandRecord) Lifecycle() textnorm.Lifecycle {
	return textnorm.ClassifyStatus(d.Status)
}

// MatchDate is the pickup date, falling back to the creation date, truncated
// to the day. ok is false when the order carries neither.
func (d *DemandRecord) MatchDate() (time.Time, bool) {
	if d.PickedUpAt != nil && !d.PickedUpAt.IsZero() {
		return Day(*d.PickedUpAt), true
	}
	if d.CreatedAt != nil && !d.CreatedAt.IsZero() {
		return Day(*d.CreatedAt), true
	}
	return time.Time{}, false
}

func (d *DemandRecord) String() string {
	return fmt.Sprintf("DemandRecord{ID: %d, OrderNo: %s, Customer: %s}", d.ID, d.OrderNo, d.CustomerName)
}

// SettlementRecord is an accounting invoice. A negative AmountDue or Revenue
// marks a reversal.
type SettlementRecord struct {
	ID            int64               `json:"id"`
	Number        string              `json:"number"`
	CustomerName  string              `json:"customer_name"`
	TurnoverDate  *time.Time          `json:"turnover_date,omitempty"`
	AmountDue     decimal.NullDecimal `json:"amount_due"`
	Revenue       decimal.NullDecimal `json:"revenue"`
	Basis         string              `json:"basis,omitempty"`
	Note          string              `json:"note,omitempty"`
	OpenBalance   decimal.NullDecimal `json:"open_balance"`
	PaymentAmount decimal.NullDecimal `json:"payment_amount"`
}

// MatchDate returns the turnover date truncated to the day
func (s *SettlementRecord) MatchDate() (time.Time, bool) {
	if s.TurnoverDate == nil || s.TurnoverDate.IsZero() {
		return time.Time{}, false
	}
	return Day(*s.TurnoverDate), true
}

// IsReversal reports whether the invoice cancels another one
func (s *SettlementRecord) IsReversal() bool {
	return (s.AmountDue.Valid && s.AmountDue.Decimal.IsNegative()) ||
		(s.Revenue.Valid && s.Revenue.Decimal.IsNegative())
}

func (s *SettlementRecord) String() string {
	return fmt.Sprintf("SettlementRecord{ID: %d, Number: %s, Customer: %s}", s.ID, s.Number, s.CustomerName)
}

// BankTransaction is one bank statement line
type BankTransaction struct {
	ID             int64               `json:"id"`
	TransactionID  string              `json:"transaction_id"`
	PostedAt       *time.Time          `json:"posted_at,omitempty"`
	Amount         decimal.NullDecimal `json:"amount"`
	Direction      Direction           `json:"direction"`
	Purpose        string              `json:"purpose,omitempty"`
	RefNumber      string              `json:"ref_number,omitempty"`
	PayeeRefNumber string              `json:"payee_ref_number,omitempty"`
	PayeeName      string              `json:"payee_name,omitempty"`
}

// PaymentRecord is one line of a shipping-provider payout report
type PaymentRecord struct {
	ID           int64               `json:"id"`
	OrderNo      string              `json:"order_no"`
	CustomerName string              `json:"customer_name,omitempty"`
	Amount       decimal.NullDecimal `json:"amount"`
}

// MatchRecord associates one order with one invoice. At most one record
// exists per order and per invoice.
type MatchRecord struct {
	ID           int64       `json:"id"`
	DemandID     int64       `json:"demand_id"`
	SettlementID int64       `json:"settlement_id"`
	Score        int         `json:"score"`
	Status       MatchStatus `json:"status"`
	Method       string      `json:"method"`
	MatchedAt    time.Time   `json:"matched_at"`
}

// CandidateRecord is a ranked, unconfirmed possible match kept for review
type CandidateRecord struct {
	DemandID     int64    `json:"demand_id"`
	SettlementID int64    `json:"settlement_id"`
	Score        int      `json:"score"`
	Reasons      []string `json:"reasons"`
	Rank         int      `json:"rank"`
	Method       string   `json:"method"`
}

// ReversalLink ties a reversal invoice to the invoice it cancels
type ReversalLink struct {
	ReversalID     int64           `json:"reversal_id"`
	OriginalID     int64           `json:"original_id"`
	ReversalAmount decimal.Decimal `json:"reversal_amount"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	OpenBalance    decimal.Decimal `json:"open_balance"`
	Partial        bool            `json:"partial"`
	LinkedAt       time.Time       `json:"linked_at"`
}

// BankMatchRecord associates a bank transaction with a payment or an invoice
type BankMatchRecord struct {
	BankTxnID int64         `json:"bank_txn_id"`
	Kind      BankMatchKind `json:"kind"`
	RefID     int64         `json:"ref_id"`
	Score     int           `json:"score"`
	Method    string        `json:"method"`
	Detail    string        `json:"detail,omitempty"`
	MatchedAt time.Time     `json:"matched_at"`
}

// SoftState is the recomputed-every-run part of order matching: candidate
// lists per order and the set of orders flagged as needing an invoice. A new
// SoftState replaces the previous one entirely.
type SoftState struct {
	Candidates   map[int64][]CandidateRecord `json:"candidates"`
	NeedsInvoice []int64                     `json:"needs_invoice"`
}

// NewSoftState returns an empty soft state
func NewSoftState() *SoftState {
	return &SoftState{Candidates: make(map[int64][]CandidateRecord)}
}

// AllCandidates flattens the candidate lists ordered by demand id then rank
func (s *SoftState) AllCandidates() []CandidateRecord {
	ids := make([]int64, 0, len(s.Candidates))
	for id := range s.Candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []CandidateRecord
	for _, id := range ids {
		out = append(out, s.Candidates[id]...)
	}
	return out
}

// Day truncates t to midnight UTC of its calendar date
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns b-a in whole calendar days
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// AbsDays returns |b-a| in whole calendar days
func AbsDays(a, b time.Time) int {
	d := DaysBetween(a, b)
	if d < 0 {
		return -d
	}
	return d
}

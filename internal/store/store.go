// Package store defines the persistence boundary of the reconciler.
//
// Orders, invoices, bank lines and payout records are read-only here; they
// are written by the import pipeline. The reconciler owns the derived rows:
// matches, candidates, needs-invoice flags, reversal links and bank matches,
// plus the open balance and payment amount of an invoice.
//
// Every write is idempotent. Inserts that would break a unique constraint
// are skipped, not failed, so a whole pass can simply be re-run after a
// crash.
package store

import (
	"context"
	"time"

	"cod-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// Reader loads the records the matching passes work on
type Reader interface {
	// UnmatchedDemands returns orders without a match record, with items
	UnmatchedDemands(ctx context.Context) ([]*models.DemandRecord, error)

	// Demands returns every order without its items
	Demands(ctx context.Context) ([]*models.DemandRecord, error)

	// UnmatchedSettlements returns invoices without a match record
	UnmatchedSettlements(ctx context.Context) ([]*models.SettlementRecord, error)

	// Settlements returns every invoice
	Settlements(ctx context.Context) ([]*models.SettlementRecord, error)

	// UnmatchedBankTransactions returns bank lines without a bank match
	UnmatchedBankTransactions(ctx context.Context) ([]*models.BankTransaction, error)

	Payments(ctx context.Context) ([]*models.PaymentRecord, error)

	// PickupDates maps order number to pickup date for orders that have one
	PickupDates(ctx context.Context) (map[string]time.Time, error)

	// Match returns one match record or a record_not_found error
	Match(ctx context.Context, id int64) (*models.MatchRecord, error)

	Matches(ctx context.Context) ([]models.MatchRecord, error)
	Candidates(ctx context.Context) ([]models.CandidateRecord, error)
	NeedsInvoice(ctx context.Context) ([]int64, error)
	ReversalLinks(ctx context.Context) ([]models.ReversalLink, error)
	BankMatches(ctx context.Context) ([]models.BankMatchRecord, error)
	Actions(ctx context.Context) ([]Action, error)
}

// Writer persists derived rows. Insert methods return how many rows were
// actually added.
type Writer interface {
	// InsertMatches adds match records, skipping any whose order or invoice
	// is already matched
	InsertMatches(ctx context.Context, matches []models.MatchRecord) (int, error)

	// ReplaceSoftState drops every candidate and needs-invoice flag and
	// writes the given ones
	ReplaceSoftState(ctx context.Context, soft *models.SoftState) error

	// UpsertReversalLinks writes one link per reversal id, replacing an
	// existing link for the same reversal
	UpsertReversalLinks(ctx context.Context, links []models.ReversalLink) (int, error)

	// UpdateOpenBalances sets the open balance of each invoice id
	UpdateOpenBalances(ctx context.Context, balances map[int64]decimal.Decimal) error

	// InsertBankMatches adds bank matches, skipping transactions already matched
	InsertBankMatches(ctx context.Context, matches []models.BankMatchRecord) (int, error)

	UpdateMatchStatus(ctx context.Context, matchID int64, status models.MatchStatus) error

	// SettleInvoice zeroes the open balance and fills a missing payment
	// amount with the amount due
	SettleInvoice(ctx context.Context, settlementID int64) error

	// UpdateCustomerKeys sets the customer key of each order id and returns
	// how many orders changed
	UpdateCustomerKeys(ctx context.Context, keys map[int64]string) (int, error)

	// LogAction appends a manual review action to the audit log
	LogAction(ctx context.Context, action Action) error
}

// Store is a Reader and Writer that can group writes in one transaction
type Store interface {
	Reader
	Writer

	// WithinTx runs fn against a transactional view of the store. fn's
	// writes are committed together when it returns nil and discarded
	// otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// Action is one audit log entry
type Action struct {
	Action    string
	RefType   string
	RefID     int64
	Note      string
	CreatedAt time.Time
}

// Audit log action names
const (
	ActionConfirmMatch    = "confirm_match"
	ActionNeedsInvoice    = "needs_invoice"
	ActionAcceptCandidate = "accept_candidate"
	RefTypeInvoiceMatch   = "invoice_match"
)

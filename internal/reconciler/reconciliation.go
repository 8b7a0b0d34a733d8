// Package reconciler runs the matching passes against a record store.
//
// A Service loads the unmatched remainder from the store, hands it to the
// pure matchers in internal/matcher and writes whatever they produce inside
// one store transaction per pass. Every pass is re-entrant: a failed or
// cancelled pass commits nothing and can simply be run again.
//
// Example usage:
//
//	svc, err := reconciler.NewService(st, reconciler.Options{Logger: log})
//	if err != nil {
//		return err
//	}
//	summary, err := svc.RunAll(ctx, -1, tracker.Report)
package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"cod-reconciler/internal/matcher"
	"cod-reconciler/internal/models"
	"cod-reconciler/internal/store"
	"cod-reconciler/pkg/errors"
	"cod-reconciler/pkg/logger"

	"github.com/google/uuid"
)

// Pass names used in logs and summaries
const (
	PassReversals     = "link_reversals"
	PassOrders        = "match_orders"
	PassBankPayments  = "match_bank_payments"
	PassBankReversals = "match_bank_reversals"
	PassCustomerKeys  = "recompute_customer_keys"
)

// Options configures a Service. Nil configs select the matcher defaults.
type Options struct {
	Matching *matcher.MatchingConfig
	Bank     *matcher.BankConfig
	Reversal *matcher.ReversalConfig
	Logger   logger.Logger
}

// Service orchestrates the matching passes over a store
type Service struct {
	store     store.Store
	orders    *matcher.OrderMatcher
	bank      *matcher.BankMatcher
	reversals *matcher.ReversalLinker
	logger    logger.Logger

	newRunID func() string
	now      func() time.Time
}

// PassSummary reports what one pass did
type PassSummary struct {
	RunID string `json:"run_id"`
	Pass  string `json:"pass"`

	// Considered counts records that passed the pass's filters
	Considered int `json:"considered"`
	Excluded   int `json:"excluded,omitempty"`

	// Produced counts rows computed by the matcher, Written the rows that
	// were new in the store
	Produced int `json:"produced"`
	Written  int `json:"written"`

	Unmatched    int `json:"unmatched,omitempty"`
	Candidates   int `json:"candidates,omitempty"`
	NeedsInvoice int `json:"needs_invoice,omitempty"`

	InvalidPhones int `json:"invalid_phones,omitempty"`

	Duration time.Duration `json:"duration"`
}

func (p *PassSummary) String() string {
	return fmt.Sprintf("%s: considered %d, produced %d, written %d, unmatched %d (%v)",
		p.Pass, p.Considered, p.Produced, p.Written, p.Unmatched, p.Duration.Round(time.Millisecond))
}

// NewService creates a Service over st
func NewService(st store.Store, opts Options) (*Service, error) {
	if st == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil).
			WithSuggestion("provide a store implementation")
	}

	matching := opts.Matching
	if matching == nil {
		matching = matcher.DefaultMatchingConfig()
	}
	if err := matching.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", matching.String(), err)
	}

	bank := opts.Bank
	if bank == nil {
		bank = matcher.DefaultBankConfig()
	}
	if err := bank.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "bank", bank.DayTolerance, err)
	}

	reversal := opts.Reversal
	if reversal == nil {
		reversal = matcher.DefaultReversalConfig()
	}
	if err := reversal.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reversal", reversal.SnapTolerance, err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &Service{
		store:     st,
		orders:    matcher.NewOrderMatcher(matching),
		bank:      matcher.NewBankMatcher(bank),
		reversals: matcher.NewReversalLinker(reversal),
		logger:    log.WithComponent("reconciler"),
		newRunID:  uuid.NewString,
		now:       time.Now,
	}, nil
}

// MatchingConfig returns the order matching settings in use
func (s *Service) MatchingConfig() *matcher.MatchingConfig {
	return s.orders.Config()
}

func (s *Service) startPass(pass, runID string, fields logger.Fields) (*logger.OperationLogger, *PassSummary) {
	if runID == "" {
		runID = s.newRunID()
	}
	all := logger.Fields{"run_id": runID}
	for k, v := range fields {
		all[k] = v
	}
	return logger.NewOperationLogger(pass, s.logger, all), &PassSummary{RunID: runID, Pass: pass}
}

// MatchOrdersToInvoices runs the tiered order↔invoice matching over the
// unmatched remainder and replaces the candidate lists and needs-invoice
// flags.
func (s *Service) MatchOrdersToInvoices(ctx context.Context, progressFn matcher.ProgressFunc) (*PassSummary, error) {
	return s.matchOrders(ctx, "", progressFn)
}

func (s *Service) matchOrders(ctx context.Context, runID string, progressFn matcher.ProgressFunc) (summary *PassSummary, err error) {
	op, summary := s.startPass(PassOrders, runID, nil)
	started := time.Now()
	defer func() { s.finishPass(op, summary, started, err) }()

	demands, err := s.store.UnmatchedDemands(ctx)
	if err != nil {
		return nil, readErr(PassOrders, err)
	}
	settlements, err := s.store.UnmatchedSettlements(ctx)
	if err != nil {
		return nil, readErr(PassOrders, err)
	}
	op.Step("loaded", logger.Fields{"orders": len(demands), "invoices": len(settlements)})

	res, err := s.orders.Match(ctx, demands, settlements, progressFn)
	if err != nil {
		return nil, passErr(PassOrders, err)
	}

	summary.Considered = res.Considered
	summary.Excluded = res.Excluded
	summary.Produced = len(res.Matches)
	summary.Candidates = len(res.SoftState.AllCandidates())
	summary.NeedsInvoice = len(res.SoftState.NeedsInvoice)
	summary.Unmatched = res.Considered - len(res.Matches)

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		inserted, err := tx.InsertMatches(ctx, res.Matches)
		if err != nil {
			return err
		}
		summary.Written = inserted

		if err := ctx.Err(); err != nil {
			return err
		}
		return tx.ReplaceSoftState(ctx, res.SoftState)
	})
	if err != nil {
		return nil, passErr(PassOrders, err)
	}
	return summary, nil
}

// MatchBankPayments pairs unmatched provider credits with payout records.
// A negative dayTolerance selects the configured one.
func (s *Service) MatchBankPayments(ctx context.Context, dayTolerance int, progressFn matcher.ProgressFunc) (*PassSummary, error) {
	return s.matchBankPayments(ctx, "", dayTolerance, progressFn)
}

func (s *Service) matchBankPayments(ctx context.Context, runID string, dayTolerance int, progressFn matcher.ProgressFunc) (summary *PassSummary, err error) {
	op, summary := s.startPass(PassBankPayments, runID, logger.Fields{"day_tolerance": dayTolerance})
	started := time.Now()
	defer func() { s.finishPass(op, summary, started, err) }()

	txns, err := s.store.UnmatchedBankTransactions(ctx)
	if err != nil {
		return nil, readErr(PassBankPayments, err)
	}
	payments, err := s.store.Payments(ctx)
	if err != nil {
		return nil, readErr(PassBankPayments, err)
	}
	pickups, err := s.store.PickupDates(ctx)
	if err != nil {
		return nil, readErr(PassBankPayments, err)
	}
	op.Step("loaded", logger.Fields{"transactions": len(txns), "payments": len(payments), "pickups": len(pickups)})

	res, err := s.bank.MatchPayments(ctx, txns, payments, pickups, dayTolerance, progressFn)
	if err != nil {
		return nil, passErr(PassBankPayments, err)
	}
	if err := s.writeBankMatches(ctx, PassBankPayments, res, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// MatchBankReversals links unmatched refund debits to the invoices named in
// their purpose text
func (s *Service) MatchBankReversals(ctx context.Context, progressFn matcher.ProgressFunc) (*PassSummary, error) {
	return s.matchBankReversals(ctx, "", progressFn)
}

func (s *Service) matchBankReversals(ctx context.Context, runID string, progressFn matcher.ProgressFunc) (summary *PassSummary, err error) {
	op, summary := s.startPass(PassBankReversals, runID, nil)
	started := time.Now()
	defer func() { s.finishPass(op, summary, started, err) }()

	txns, err := s.store.UnmatchedBankTransactions(ctx)
	if err != nil {
		return nil, readErr(PassBankReversals, err)
	}
	settlements, err := s.store.Settlements(ctx)
	if err != nil {
		return nil, readErr(PassBankReversals, err)
	}

	byNumber := make(map[string]*models.SettlementRecord, len(settlements))
	for _, st := range settlements {
		if prev, ok := byNumber[st.Number]; st.Number != "" && (!ok || st.ID < prev.ID) {
			byNumber[st.Number] = st
		}
	}
	op.Step("loaded", logger.Fields{"transactions": len(txns), "invoices": len(byNumber)})

	res, err := s.bank.MatchReversals(ctx, txns, byNumber, progressFn)
	if err != nil {
		return nil, passErr(PassBankReversals, err)
	}
	if err := s.writeBankMatches(ctx, PassBankReversals, res, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Service) writeBankMatches(ctx context.Context, pass string, res *matcher.BankMatchResult, summary *PassSummary) error {
	summary.Considered = res.Considered
	summary.Unmatched = res.Unmatched
	summary.Produced = len(res.Matches)

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		inserted, err := tx.InsertBankMatches(ctx, res.Matches)
		if err != nil {
			return err
		}
		summary.Written = inserted
		return nil
	})
	return passErr(pass, err)
}

// LinkReversals links storno invoices to their originals and updates the
// originals' open balances
func (s *Service) LinkReversals(ctx context.Context, progressFn matcher.ProgressFunc) (*PassSummary, error) {
	return s.linkReversals(ctx, "", progressFn)
}

func (s *Service) linkReversals(ctx context.Context, runID string, progressFn matcher.ProgressFunc) (summary *PassSummary, err error) {
	op, summary := s.startPass(PassReversals, runID, nil)
	started := time.Now()
	defer func() { s.finishPass(op, summary, started, err) }()

	settlements, err := s.store.Settlements(ctx)
	if err != nil {
		return nil, readErr(PassReversals, err)
	}

	res, err := s.reversals.Link(ctx, settlements, progressFn)
	if err != nil {
		return nil, passErr(PassReversals, err)
	}
	summary.Considered = res.Reversals
	summary.Unmatched = res.Unresolved
	summary.Produced = len(res.Links)

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		written, err := tx.UpsertReversalLinks(ctx, res.Links)
		if err != nil {
			return err
		}
		summary.Written = written

		if err := ctx.Err(); err != nil {
			return err
		}
		return tx.UpdateOpenBalances(ctx, res.OpenBalances)
	})
	if err != nil {
		return nil, passErr(PassReversals, err)
	}
	return summary, nil
}

func (s *Service) finishPass(op *logger.OperationLogger, summary *PassSummary, started time.Time, err error) {
	if summary != nil {
		summary.Duration = time.Since(started)
	}
	if err != nil {
		op.Error(err)
		return
	}
	op.Success(logger.Fields{
		"considered": summary.Considered,
		"produced":   summary.Produced,
		"written":    summary.Written,
		"unmatched":  summary.Unmatched,
	})
}

func readErr(pass string, err error) error {
	if isCancellation(err) {
		return errors.ReconciliationError(errors.CodeRunCancelled, pass, err)
	}
	return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageRead,
		fmt.Sprintf("failed to read records during %s", pass))
}

// passErr maps a pass failure to the error taxonomy. Context errors become
// run_cancelled; anything else not already classified is a write failure.
func passErr(pass string, err error) error {
	if err == nil {
		return nil
	}
	if isCancellation(err) {
		if re, ok := errors.AsReconcilerError(err); ok && re.Category == errors.CategoryReconciliation {
			return re
		}
		return errors.ReconciliationError(errors.CodeRunCancelled, pass, err)
	}
	return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite,
		fmt.Sprintf("failed to write results during %s", pass))
}

func isCancellation(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

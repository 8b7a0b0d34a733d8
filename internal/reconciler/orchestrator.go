package reconciler

import (
	"context"
	"time"

	"cod-reconciler/internal/matcher"
	"cod-reconciler/pkg/logger"
)

// RunSummary reports a full run of every pass
type RunSummary struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Passes    []*PassSummary `json:"passes"`
	Duration  time.Duration  `json:"duration"`
}

// Pass returns the summary of the named pass, or nil
func (r *RunSummary) Pass(name string) *PassSummary {
	for _, p := range r.Passes {
		if p.Pass == name {
			return p
		}
	}
	return nil
}

// RunAll links reversals, matches orders to invoices, then runs both bank
// passes, all under one run id. Progress from every pass is reported as one
// processed/total sequence. A negative dayTolerance selects the configured
// one.
//
// Passes commit independently; when one fails the earlier ones stay
// committed and the returned summary lists them.
func (s *Service) RunAll(ctx context.Context, dayTolerance int, progressFn matcher.ProgressFunc) (*RunSummary, error) {
	runID := s.newRunID()
	run := &RunSummary{RunID: runID, StartedAt: s.now().UTC()}
	log := s.logger.WithField("run_id", runID)
	started := time.Now()

	budget, err := s.estimateWork(ctx)
	if err != nil {
		return run, err
	}
	grand := 0
	for _, b := range budget {
		grand += b
	}
	log.WithFields(logger.Fields{"estimated_steps": grand}).Info("Starting full run")

	passes := []func(ctx context.Context, fn matcher.ProgressFunc) (*PassSummary, error){
		func(ctx context.Context, fn matcher.ProgressFunc) (*PassSummary, error) {
			return s.linkReversals(ctx, runID, fn)
		},
		func(ctx context.Context, fn matcher.ProgressFunc) (*PassSummary, error) {
			return s.matchOrders(ctx, runID, fn)
		},
		func(ctx context.Context, fn matcher.ProgressFunc) (*PassSummary, error) {
			return s.matchBankPayments(ctx, runID, dayTolerance, fn)
		},
		func(ctx context.Context, fn matcher.ProgressFunc) (*PassSummary, error) {
			return s.matchBankReversals(ctx, runID, fn)
		},
	}

	base := 0
	for i, pass := range passes {
		summary, err := pass(ctx, clamp(matcher.Offset(progressFn, base, grand), budget[i]))
		if summary != nil {
			run.Passes = append(run.Passes, summary)
		}
		if err != nil {
			run.Duration = time.Since(started)
			log.WithError(err).Error("Full run stopped")
			return run, err
		}
		base += budget[i]
		report(progressFn, base, grand)
	}

	run.Duration = time.Since(started)
	log.WithFields(logger.Fields{"passes": len(run.Passes), "duration": run.Duration.String()}).Info("Full run completed")
	return run, nil
}

// estimateWork sizes each pass from the records it will load. The order pass
// walks its orders three times; a bank transaction is seen by both bank
// passes.
func (s *Service) estimateWork(ctx context.Context) ([]int, error) {
	settlements, err := s.store.Settlements(ctx)
	if err != nil {
		return nil, readErr("estimate", err)
	}
	reversals := 0
	for _, st := range settlements {
		if st.IsReversal() {
			reversals++
		}
	}
	demands, err := s.store.UnmatchedDemands(ctx)
	if err != nil {
		return nil, readErr("estimate", err)
	}
	txns, err := s.store.UnmatchedBankTransactions(ctx)
	if err != nil {
		return nil, readErr("estimate", err)
	}
	return []int{reversals, 3 * len(demands), len(txns), len(txns)}, nil
}

// clamp keeps a pass's reports at or below its share of the grand total
func clamp(fn matcher.ProgressFunc, limit int) matcher.ProgressFunc {
	if fn == nil {
		return nil
	}
	return func(processed, total int) {
		if processed > limit {
			processed = limit
		}
		fn(processed, total)
	}
}

func report(fn matcher.ProgressFunc, processed, total int) {
	if fn == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(processed, total)
}

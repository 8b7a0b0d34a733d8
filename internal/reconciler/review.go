package reconciler

import (
	"context"
	"fmt"

	"cod-reconciler/internal/models"
	"cod-reconciler/internal/store"
	"cod-reconciler/pkg/errors"
	"cod-reconciler/pkg/logger"
)

// ConfirmMatch marks a match as reviewed and correct. The match becomes
// auto and its invoice is settled: the open balance drops to zero and a
// missing payment amount is filled with the amount due.
func (s *Service) ConfirmMatch(ctx context.Context, matchID int64) (*models.MatchRecord, error) {
	return s.reviewMatch(ctx, matchID, models.StatusAuto, store.ActionConfirmMatch, true)
}

// MarkNeedsInvoice rejects a match: the order still has no invoice
func (s *Service) MarkNeedsInvoice(ctx context.Context, matchID int64) (*models.MatchRecord, error) {
	return s.reviewMatch(ctx, matchID, models.StatusNeedsInvoice, store.ActionNeedsInvoice, false)
}

func (s *Service) reviewMatch(ctx context.Context, matchID int64, status models.MatchStatus, action string, settle bool) (*models.MatchRecord, error) {
	log := s.logger.WithFields(logger.Fields{"match_id": matchID, "action": action})

	var updated *models.MatchRecord
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		m, err := tx.Match(ctx, matchID)
		if err != nil {
			return err
		}
		if err := tx.UpdateMatchStatus(ctx, matchID, status); err != nil {
			return err
		}
		if settle {
			if err := tx.SettleInvoice(ctx, m.SettlementID); err != nil {
				return err
			}
		}
		if err := tx.LogAction(ctx, store.Action{
			Action:    action,
			RefType:   store.RefTypeInvoiceMatch,
			RefID:     matchID,
			CreatedAt: s.now().UTC(),
		}); err != nil {
			return err
		}

		m.Status = status
		updated = m
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("Review action failed")
		return nil, passErr(action, err)
	}

	log.WithField("invoice_id", updated.SettlementID).Info("Review action applied")
	return updated, nil
}

// AcceptCandidate turns one of an order's ranked candidates into a confirmed
// match. The invoice is settled and both sides drop out of the soft state.
func (s *Service) AcceptCandidate(ctx context.Context, demandID, settlementID int64) (*models.MatchRecord, error) {
	log := s.logger.WithFields(logger.Fields{"order_id": demandID, "invoice_id": settlementID})

	var accepted *models.MatchRecord
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		cands, err := tx.Candidates(ctx)
		if err != nil {
			return err
		}

		var chosen *models.CandidateRecord
		for i := range cands {
			if cands[i].DemandID == demandID && cands[i].SettlementID == settlementID {
				chosen = &cands[i]
				break
			}
		}
		if chosen == nil {
			return errors.ReconciliationError(errors.CodeRecordNotFound, "candidate lookup", nil).
				WithContext("order_id", demandID).
				WithContext("invoice_id", settlementID).
				WithSuggestion("re-run order matching and pick one of the listed candidates")
		}

		m := models.MatchRecord{
			DemandID:     demandID,
			SettlementID: settlementID,
			Score:        chosen.Score,
			Status:       models.StatusAuto,
			Method:       chosen.Method,
			MatchedAt:    s.now().UTC(),
		}
		inserted, err := tx.InsertMatches(ctx, []models.MatchRecord{m})
		if err != nil {
			return err
		}
		if inserted == 0 {
			return errors.StorageError(errors.CodeStorageConstraint, "accept candidate", nil).
				WithContext("order_id", demandID).
				WithContext("invoice_id", settlementID)
		}

		flagged, err := tx.NeedsInvoice(ctx)
		if err != nil {
			return err
		}
		if err := tx.ReplaceSoftState(ctx, pruneSoftState(cands, flagged, demandID, settlementID)); err != nil {
			return err
		}
		if err := tx.SettleInvoice(ctx, settlementID); err != nil {
			return err
		}
		if err := tx.LogAction(ctx, store.Action{
			Action:    store.ActionAcceptCandidate,
			RefType:   store.RefTypeInvoiceMatch,
			RefID:     demandID,
			Note:      fmt.Sprintf("invoice_id=%d", settlementID),
			CreatedAt: m.MatchedAt,
		}); err != nil {
			return err
		}

		accepted = &m
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("Accepting candidate failed")
		return nil, passErr(store.ActionAcceptCandidate, err)
	}

	log.WithField("score", accepted.Score).Info("Candidate accepted")
	return accepted, nil
}

// pruneSoftState rebuilds the soft state without the accepted order and
// without any candidate pointing at the accepted invoice. Ranks of the
// remaining candidates are kept as they were.
func pruneSoftState(cands []models.CandidateRecord, flagged []int64, demandID, settlementID int64) *models.SoftState {
	soft := models.NewSoftState()
	for _, c := range cands {
		if c.DemandID == demandID || c.SettlementID == settlementID {
			continue
		}
		soft.Candidates[c.DemandID] = append(soft.Candidates[c.DemandID], c)
	}
	for _, id := range flagged {
		if id != demandID {
			soft.NeedsInvoice = append(soft.NeedsInvoice, id)
		}
	}
	return soft
}

// CloseInvoices settles every invoice that has an auto match and returns
// how many were settled
func (s *Service) CloseInvoices(ctx context.Context) (int, error) {
	op := logger.NewOperationLogger("close_invoices", s.logger, nil)

	closed := 0
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		matches, err := tx.Matches(ctx)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if m.Status != models.StatusAuto {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := tx.SettleInvoice(ctx, m.SettlementID); err != nil {
				return err
			}
			closed++
		}
		return nil
	})
	if err != nil {
		err = passErr("close_invoices", err)
		op.Error(err)
		return 0, err
	}

	op.Success(logger.Fields{"closed": closed})
	return closed, nil
}

// PendingReview returns the ranked candidates and the orders flagged as
// needing an invoice, as left by the last order matching pass
func (s *Service) PendingReview(ctx context.Context) ([]models.CandidateRecord, []int64, error) {
	cands, err := s.store.Candidates(ctx)
	if err != nil {
		return nil, nil, readErr("pending_review", err)
	}
	flagged, err := s.store.NeedsInvoice(ctx)
	if err != nil {
		return nil, nil, readErr("pending_review", err)
	}
	return cands, flagged, nil
}

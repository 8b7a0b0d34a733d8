package reconciler

import (
	"context"
	"time"

	"cod-reconciler/internal/identity"
	"cod-reconciler/internal/store"
	"cod-reconciler/pkg/logger"
)

// RecomputeCustomerKeys derives the customer key of every order from its
// contact fields and stores the ones that changed. Orders with nothing to
// derive a key from get an empty key and count as unmatched.
func (s *Service) RecomputeCustomerKeys(ctx context.Context) (summary *PassSummary, err error) {
	op, summary := s.startPass(PassCustomerKeys, "", nil)
	started := time.Now()
	defer func() { s.finishPass(op, summary, started, err) }()

	demands, err := s.store.Demands(ctx)
	if err != nil {
		return nil, readErr(PassCustomerKeys, err)
	}
	op.Step("loaded", logger.Fields{"orders": len(demands)})

	changed := make(map[int64]string)
	for _, d := range demands {
		if err := ctx.Err(); err != nil {
			return nil, passErr(PassCustomerKeys, err)
		}
		summary.Considered++

		key := identity.DeriveKey(d.Phone, d.Email, d.CustomerName, d.City)
		if key == "" {
			summary.Unmatched++
		}
		if d.Phone != "" && !identity.ValidPhone(d.Phone) {
			summary.InvalidPhones++
		}
		if key != d.CustomerKey {
			changed[d.ID] = key
		}
	}
	summary.Produced = len(changed)

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		updated, err := tx.UpdateCustomerKeys(ctx, changed)
		if err != nil {
			return err
		}
		summary.Written = updated
		return nil
	})
	if err != nil {
		return nil, passErr(PassCustomerKeys, err)
	}
	return summary, nil
}

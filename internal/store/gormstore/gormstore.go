// Package gormstore implements store.Store on a MySQL database through gorm.
package gormstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"cod-reconciler/internal/models"
	"cod-reconciler/internal/store"
	"cod-reconciler/pkg/errors"
	"cod-reconciler/pkg/logger"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// insertBatchSize bounds the rows per INSERT statement
const insertBatchSize = 200

// Config holds the database connection settings
type Config struct {
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// Store is a gorm-backed store.Store
type Store struct {
	db  *gorm.DB
	log logger.Logger
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects to the database described by cfg
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("gormstore")

	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger:         gormlogger.New(gormWriter{log}, gormlogger.Config{LogLevel: gormlogger.Error, SlowThreshold: time.Second}),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageRead, "connect", err)
	}

	if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	s := New(db, log)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	log.Info("connected to database")
	return s, nil
}

// New wraps an existing gorm handle
func New(db *gorm.DB, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{db: db, log: log, now: time.Now}
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates missing tables and indexes
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allRows()...); err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "migrate", err)
	}
	return nil
}

// gormWriter routes gorm's own log lines through the application logger
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warnf(format, args...)
}

// storageErr maps a gorm error to the storage taxonomy
func storageErr(code errors.ErrorCode, operation string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.ReconciliationError(errors.CodeRunCancelled, operation, err)
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.StorageError(errors.CodeStorageConstraint, operation, err)
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.ReconciliationError(errors.CodeRecordNotFound, operation, err)
	}
	return errors.StorageError(code, operation, err)
}

func (s *Store) matchedOrderIDs() *gorm.DB {
	return s.db.Model(&matchRow{}).Select("order_id")
}

func (s *Store) matchedInvoiceIDs() *gorm.DB {
	return s.db.Model(&matchRow{}).Select("invoice_id")
}

func (s *Store) UnmatchedDemands(ctx context.Context) ([]*models.DemandRecord, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id NOT IN (?)", s.matchedOrderIDs()).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load unmatched orders", err)
	}

	out := make([]*models.DemandRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) Demands(ctx context.Context) ([]*models.DemandRecord, error) {
	var rows []orderRow
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load orders", err)
	}
	out := make([]*models.DemandRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) UnmatchedSettlements(ctx context.Context) ([]*models.SettlementRecord, error) {
	return s.loadInvoices(ctx, "load unmatched invoices", s.db.Where("id NOT IN (?)", s.matchedInvoiceIDs()))
}

func (s *Store) Settlements(ctx context.Context) ([]*models.SettlementRecord, error) {
	return s.loadInvoices(ctx, "load invoices", s.db)
}

func (s *Store) loadInvoices(ctx context.Context, operation string, q *gorm.DB) ([]*models.SettlementRecord, error) {
	var rows []invoiceRow
	if err := q.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, storageErr(errors.CodeStorageRead, operation, err)
	}
	out := make([]*models.SettlementRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) UnmatchedBankTransactions(ctx context.Context) ([]*models.BankTransaction, error) {
	var rows []bankTransactionRow
	err := s.db.WithContext(ctx).
		Where("id NOT IN (?)", s.db.Model(&bankMatchRow{}).Select("bank_txn_id")).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load unmatched bank transactions", err)
	}
	out := make([]*models.BankTransaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) Payments(ctx context.Context) ([]*models.PaymentRecord, error) {
	var rows []paymentRow
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load payments", err)
	}
	out := make([]*models.PaymentRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) PickupDates(ctx context.Context) (map[string]time.Time, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Select("sp_order_no", "picked_up_at").
		Where("picked_up_at IS NOT NULL AND sp_order_no <> ''").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load pickup dates", err)
	}
	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		if r.PickedUpAt != nil {
			out[r.SpOrderNo] = *r.PickedUpAt
		}
	}
	return out, nil
}

func (s *Store) Match(ctx context.Context, id int64) (*models.MatchRecord, error) {
	var row matchRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, storageErr(errors.CodeStorageRead, "match lookup", err)
	}
	m := row.toModel()
	return &m, nil
}

func (s *Store) Matches(ctx context.Context) ([]models.MatchRecord, error) {
	var rows []matchRow
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load matches", err)
	}
	out := make([]models.MatchRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) Candidates(ctx context.Context) ([]models.CandidateRecord, error) {
	var rows []candidateRow
	if err := s.db.WithContext(ctx).Order("order_id ASC, candidate_rank ASC").Find(&rows).Error; err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load candidates", err)
	}
	out := make([]models.CandidateRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) NeedsInvoice(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&orderFlagRow{}).
		Where("flag = ?", models.FlagNeedsInvoice).
		Order("order_id ASC").
		Pluck("order_id", &ids).Error
	if err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load order flags", err)
	}
	return ids, nil
}

func (s *Store) ReversalLinks(ctx context.Context) ([]models.ReversalLink, error) {
	var rows []stornoRow
	if err := s.db.WithContext(ctx).Order("storno_invoice_id ASC").Find(&rows).Error; err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load reversal links", err)
	}
	out := make([]models.ReversalLink, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) BankMatches(ctx context.Context) ([]models.BankMatchRecord, error) {
	var rows []bankMatchRow
	if err := s.db.WithContext(ctx).Order("bank_txn_id ASC").Find(&rows).Error; err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load bank matches", err)
	}
	out := make([]models.BankMatchRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) Actions(ctx context.Context) ([]store.Action, error) {
	var rows []actionLogRow
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, storageErr(errors.CodeStorageRead, "load action log", err)
	}
	out := make([]store.Action, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.Action{Action: r.Action, RefType: r.RefType, RefID: r.RefID, Note: r.Note, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

// InsertMatches relies on the unique indexes on order_id and invoice_id;
// conflicting rows are dropped by the database
func (s *Store) InsertMatches(ctx context.Context, matches []models.MatchRecord) (int, error) {
	if len(matches) == 0 {
		return 0, nil
	}
	rows := make([]matchRow, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, matchFromModel(m))
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, insertBatchSize)
	if res.Error != nil {
		return 0, storageErr(errors.CodeStorageWrite, "insert matches", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) ReplaceSoftState(ctx context.Context, soft *models.SoftState) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("1 = 1").Delete(&candidateRow{}).Error; err != nil {
		return storageErr(errors.CodeStorageWrite, "clear candidates", err)
	}
	if err := db.Where("flag = ?", models.FlagNeedsInvoice).Delete(&orderFlagRow{}).Error; err != nil {
		return storageErr(errors.CodeStorageWrite, "clear order flags", err)
	}
	if soft == nil {
		return nil
	}

	now := s.now().UTC()
	var cands []candidateRow
	for _, c := range soft.AllCandidates() {
		cands = append(cands, candidateFromModel(c, now))
	}
	if len(cands) > 0 {
		err := db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&cands, insertBatchSize).Error
		if err != nil {
			return storageErr(errors.CodeStorageWrite, "insert candidates", err)
		}
	}

	flags := make([]orderFlagRow, 0, len(soft.NeedsInvoice))
	for _, id := range soft.NeedsInvoice {
		flags = append(flags, orderFlagRow{OrderID: id, Flag: models.FlagNeedsInvoice, CreatedAt: now})
	}
	if len(flags) > 0 {
		err := db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&flags, insertBatchSize).Error
		if err != nil {
			return storageErr(errors.CodeStorageWrite, "insert order flags", err)
		}
	}
	return nil
}

func (s *Store) UpsertReversalLinks(ctx context.Context, links []models.ReversalLink) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}
	rows := make([]stornoRow, 0, len(links))
	for _, l := range links {
		rows = append(rows, stornoFromModel(l))
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "storno_invoice_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"original_invoice_id", "storno_amount", "original_amount", "remaining_open", "is_partial", "created_at"}),
		}).
		CreateInBatches(&rows, insertBatchSize).Error
	if err != nil {
		return 0, storageErr(errors.CodeStorageWrite, "upsert reversal links", err)
	}
	return len(rows), nil
}

func (s *Store) UpdateOpenBalances(ctx context.Context, balances map[int64]decimal.Decimal) error {
	db := s.db.WithContext(ctx)
	for id, open := range balances {
		err := db.Model(&invoiceRow{}).Where("id = ?", id).Update("open_amount", open).Error
		if err != nil {
			return storageErr(errors.CodeStorageWrite, fmt.Sprintf("update open balance of invoice %d", id), err)
		}
	}
	return nil
}

func (s *Store) UpdateCustomerKeys(ctx context.Context, keys map[int64]string) (int, error) {
	db := s.db.WithContext(ctx)
	updated := 0
	for id, key := range keys {
		res := db.Model(&orderRow{}).Where("id = ?", id).Update("customer_key", key)
		if res.Error != nil {
			return updated, storageErr(errors.CodeStorageWrite, fmt.Sprintf("update customer key of order %d", id), res.Error)
		}
		updated += int(res.RowsAffected)
	}
	return updated, nil
}

func (s *Store) InsertBankMatches(ctx context.Context, matches []models.BankMatchRecord) (int, error) {
	if len(matches) == 0 {
		return 0, nil
	}
	rows := make([]bankMatchRow, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, bankMatchFromModel(m))
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, insertBatchSize)
	if res.Error != nil {
		return 0, storageErr(errors.CodeStorageWrite, "insert bank matches", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) UpdateMatchStatus(ctx context.Context, matchID int64, status models.MatchStatus) error {
	res := s.db.WithContext(ctx).Model(&matchRow{}).Where("id = ?", matchID).Update("status", string(status))
	if res.Error != nil {
		return storageErr(errors.CodeStorageWrite, "update match status", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ReconciliationError(errors.CodeRecordNotFound, "match status update", nil).
			WithContext("match_id", matchID)
	}
	return nil
}

func (s *Store) SettleInvoice(ctx context.Context, settlementID int64) error {
	err := s.db.WithContext(ctx).Model(&invoiceRow{}).
		Where("id = ?", settlementID).
		Updates(map[string]interface{}{
			"open_amount":    0,
			"payment_amount": gorm.Expr("COALESCE(payment_amount, amount_due)"),
		}).Error
	return storageErr(errors.CodeStorageWrite, "settle invoice", err)
}

func (s *Store) LogAction(ctx context.Context, action store.Action) error {
	createdAt := action.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	row := actionLogRow{
		Action:    action.Action,
		RefType:   action.RefType,
		RefID:     action.RefID,
		Note:      action.Note,
		CreatedAt: createdAt,
	}
	return storageErr(errors.CodeStorageWrite, "log action", s.db.WithContext(ctx).Create(&row).Error)
}

// WithinTx runs fn inside a database transaction
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, log: s.log, now: s.now})
	})
	if err == nil {
		return nil
	}
	if _, ok := errors.AsReconcilerError(err); ok {
		return err
	}
	return storageErr(errors.CodeStorageTransaction, "transaction", err)
}

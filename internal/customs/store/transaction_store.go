package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hidrovia/customs/internal/customs/model"
	"github.com/hidrovia/customs/utils"
)

// ErrTransactionNotFound is returned when no transaction matches the lookup.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionStore handles database operations for customs transactions.
// All state transitions go through the named mark* methods so the legal
// transitions of the lifecycle are enforced in one place.
type TransactionStore struct {
	db *gorm.DB
}

// NewTransactionStore creates a TransactionStore on the given database.
func NewTransactionStore(db *gorm.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// Migrate creates the tables owned by the customs engine.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Transaction{},
		&model.ResponseRecord{},
		&model.LogEntry{},
		&businessSequence{},
	)
}

// CreateInTx inserts a new transaction inside the caller's unit of work.
func (s *TransactionStore) CreateInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction) error {
	if txn.Status == "" {
		txn.Status = model.TransactionStatusPending
	}
	if err := tx.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("failed to create transaction %s: %w", txn.BusinessID, err)
	}
	return nil
}

// MarkSendingInTx moves a transaction to SENDING and stamps the send time.
func (s *TransactionStore) MarkSendingInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction, now time.Time) error {
	if err := s.transition(txn, model.TransactionStatusSending); err != nil {
		return err
	}
	sent := now.UTC()
	txn.SentAt = &sent
	txn.AttemptCount++
	return s.saveInTx(ctx, tx, txn)
}

// MarkSuccessInTx completes a transaction with the authority's external reference.
func (s *TransactionStore) MarkSuccessInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction, externalRef string, latencyMs int64, now time.Time) error {
	if err := s.transition(txn, model.TransactionStatusSuccess); err != nil {
		return err
	}
	completed := now.UTC()
	txn.CompletedAt = &completed
	txn.ExternalReference = &externalRef
	txn.LatencyMs = &latencyMs
	txn.ErrorCode = nil
	txn.ErrorMessage = nil
	txn.Retryable = false
	txn.NextRetryAt = nil
	return s.saveInTx(ctx, tx, txn)
}

// MarkErrorInTx completes a transaction with a structured error. When the
// attempt count has not exhausted the schedule the next eligible retry time is
// derived from the backoff schedule.
func (s *TransactionStore) MarkErrorInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction, code, message string, latencyMs int64, retryable bool, now time.Time) error {
	if err := s.transition(txn, model.TransactionStatusError); err != nil {
		return err
	}
	completed := now.UTC()
	txn.CompletedAt = &completed
	txn.ErrorCode = &code
	txn.ErrorMessage = &message
	if latencyMs > 0 {
		txn.LatencyMs = &latencyMs
	}
	txn.Retryable = retryable
	if retryable && txn.AttemptCount < txn.MaxRetries {
		next := now.UTC().Add(txn.Backoff.DelayFor(txn.AttemptCount))
		txn.NextRetryAt = &next
	} else {
		txn.NextRetryAt = nil
	}
	return s.saveInTx(ctx, tx, txn)
}

// MarkRetryInTx re-opens an errored transaction for another attempt. The
// completion timestamp is cleared; the attempt count is preserved and will be
// incremented by the subsequent MarkSendingInTx.
func (s *TransactionStore) MarkRetryInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction) error {
	if err := s.transition(txn, model.TransactionStatusRetry); err != nil {
		return err
	}
	txn.CompletedAt = nil
	txn.ErrorCode = nil
	txn.ErrorMessage = nil
	return s.saveInTx(ctx, tx, txn)
}

func (s *TransactionStore) transition(txn *model.Transaction, next model.TransactionStatus) error {
	if !txn.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition for %s: %s -> %s", txn.BusinessID, txn.Status, next)
	}
	txn.Status = next
	return nil
}

func (s *TransactionStore) saveInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction) error {
	if err := tx.WithContext(ctx).Save(txn).Error; err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", txn.BusinessID, err)
	}
	return nil
}

// GetByID retrieves a transaction by its surrogate id.
func (s *TransactionStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	var txn model.Transaction
	if err := s.db.WithContext(ctx).First(&txn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// GetByBusinessID retrieves a transaction by its human-readable business id.
func (s *TransactionStore) GetByBusinessID(ctx context.Context, businessID string) (*model.Transaction, error) {
	var txn model.Transaction
	if err := s.db.WithContext(ctx).First(&txn, "business_id = ?", businessID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// FindOriginalSuccess locates the successful transaction a rectification or
// deletion derives from: same company, same operation family, matching
// external reference. Returns nil without error when none exists; the
// validation engine turns that into a user-actionable error.
func (s *TransactionStore) FindOriginalSuccess(ctx context.Context, companyCode string, family string, externalRef string) (*model.Transaction, error) {
	ops := operationsInFamily(family)
	var txn model.Transaction
	err := s.db.WithContext(ctx).
		Where("company_code = ? AND external_reference = ? AND status = ? AND operation IN ?",
			companyCode, externalRef, model.TransactionStatusSuccess, ops).
		Order("completed_at DESC").
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// CountInFlightDerivatives counts pending/sending/retry derivative transactions
// referencing the given original, for the idempotency guard.
func (s *TransactionStore) CountInFlightDerivatives(ctx context.Context, companyCode string, family string, originalRef string) (int64, error) {
	ops := derivativesInFamily(family)
	if len(ops) == 0 {
		return 0, nil
	}
	inFlight := []model.TransactionStatus{
		model.TransactionStatusPending,
		model.TransactionStatusSending,
		model.TransactionStatusRetry,
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("company_code = ? AND operation IN ? AND status IN ?", companyCode, ops, inFlight).
		Where("metadata ->> 'originalReference' = ?", originalRef).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count in-flight derivatives: %w", err)
	}
	return count, nil
}

// Filter narrows transaction listing for reporting queries.
type Filter struct {
	CompanyCode string
	Country     model.Country
	Operation   model.OperationType
	Statuses    []model.TransactionStatus
	From        *time.Time
	To          *time.Time
	Offset      *int
	Limit       *int
}

// List returns transactions matching the filter, newest first, with the total
// count before pagination.
func (s *TransactionStore) List(ctx context.Context, filter Filter) ([]model.Transaction, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Transaction{})
	if filter.CompanyCode != "" {
		q = q.Where("company_code = ?", filter.CompanyCode)
	}
	if filter.Country != "" {
		q = q.Where("country = ?", filter.Country)
	}
	if filter.Operation != "" {
		q = q.Where("operation = ?", filter.Operation)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", filter.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	offset, limit := utils.GetPaginationParams(filter.Offset, filter.Limit)
	var txns []model.Transaction
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&txns).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, total, nil
}

func operationsInFamily(family string) []model.OperationType {
	all := []model.OperationType{
		model.OperationRegisterManifest,
		model.OperationRegisterAnticipatedInfo,
		model.OperationRectifyAnticipatedInfo,
		model.OperationRegisterDeconsolidation,
		model.OperationRectifyDeconsolidation,
		model.OperationDeleteDeconsolidation,
		model.OperationRegisterTransshipment,
		model.OperationRegisterEmptyContainers,
		model.OperationUpdateBargePosition,
		model.OperationRegisterMicDta,
	}
	var ops []model.OperationType
	for _, op := range all {
		if op.Family() == family {
			ops = append(ops, op)
		}
	}
	return ops
}

func derivativesInFamily(family string) []model.OperationType {
	var ops []model.OperationType
	for _, op := range operationsInFamily(family) {
		if op.IsDerivative() {
			ops = append(ops, op)
		}
	}
	return ops
}

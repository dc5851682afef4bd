package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hidrovia/customs/internal/customs/model"
)

// ResponseStore persists the immutable per-attempt response records.
type ResponseStore struct {
	db *gorm.DB
}

// NewResponseStore creates a ResponseStore on the given database.
func NewResponseStore(db *gorm.DB) *ResponseStore {
	return &ResponseStore{db: db}
}

// CreateInTx inserts a response record inside the caller's unit of work.
func (s *ResponseStore) CreateInTx(ctx context.Context, tx *gorm.DB, record *model.ResponseRecord) error {
	if err := tx.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create response record for transaction %s: %w", record.TransactionID, err)
	}
	return nil
}

// GetByTransactionID returns all response records for a transaction, oldest first.
func (s *ResponseStore) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]model.ResponseRecord, error) {
	var records []model.ResponseRecord
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("attempt_number ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load response records for %s: %w", transactionID, err)
	}
	return records, nil
}

// AuditStore appends and reads the append-only log entries. Entries are
// written outside the orchestration's unit of work so failure context
// survives a rollback.
type AuditStore struct {
	db *gorm.DB
}

// NewAuditStore creates an AuditStore on the given database.
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append writes one log entry. Entries are never mutated or deleted.
func (s *AuditStore) Append(ctx context.Context, entry *model.LogEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

// GetByTransactionID returns the log entries recorded for a transaction.
func (s *AuditStore) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]model.LogEntry, error) {
	var entries []model.LogEntry
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load log entries for %s: %w", transactionID, err)
	}
	return entries, nil
}

// Package audit defines the injected audit sink the customs engine writes to.
// The orchestrator records entries uniformly; adapters decide where they land
// (process log, database audit table, or both).
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hidrovia/customs/internal/customs/model"
)

// Recorder receives structured audit events from the engine.
type Recorder interface {
	Record(ctx context.Context, level model.LogLevel, category, message string, transactionID *uuid.UUID, context model.Metadata)
}

// SlogRecorder writes audit events to the process log via log/slog.
type SlogRecorder struct{}

// NewSlogRecorder creates a Recorder backed by the default slog logger.
func NewSlogRecorder() *SlogRecorder {
	return &SlogRecorder{}
}

func (r *SlogRecorder) Record(ctx context.Context, level model.LogLevel, category, message string, transactionID *uuid.UUID, fields model.Metadata) {
	args := make([]any, 0, 2*len(fields)+4)
	args = append(args, "category", category)
	if transactionID != nil {
		args = append(args, "transaction_id", transactionID.String())
	}
	for k, v := range fields {
		args = append(args, k, v)
	}
	switch level {
	case model.LogLevelError:
		slog.ErrorContext(ctx, message, args...)
	case model.LogLevelWarn:
		slog.WarnContext(ctx, message, args...)
	default:
		slog.InfoContext(ctx, message, args...)
	}
}

// EntryAppender is the subset of the audit store the database recorder needs.
type EntryAppender interface {
	Append(ctx context.Context, entry *model.LogEntry) error
}

// StoreRecorder persists audit events as LogEntry rows.
type StoreRecorder struct {
	store EntryAppender
}

// NewStoreRecorder creates a Recorder that appends to the audit store.
func NewStoreRecorder(store EntryAppender) *StoreRecorder {
	return &StoreRecorder{store: store}
}

func (r *StoreRecorder) Record(ctx context.Context, level model.LogLevel, category, message string, transactionID *uuid.UUID, fields model.Metadata) {
	entry := &model.LogEntry{
		TransactionID: transactionID,
		Level:         level,
		Category:      category,
		Message:       message,
		Context:       fields,
	}
	if err := r.store.Append(ctx, entry); err != nil {
		// The audit trail must never take the operation down with it.
		slog.ErrorContext(ctx, "failed to persist audit entry", "category", category, "error", err)
	}
}

// MultiRecorder fans one event out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, level model.LogLevel, category, message string, transactionID *uuid.UUID, fields model.Metadata) {
	for _, r := range m {
		r.Record(ctx, level, category, message, transactionID, fields)
	}
}

// NopRecorder discards all events. Useful in tests.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, model.LogLevel, string, string, *uuid.UUID, model.Metadata) {
}

// Package orchestrator composes validation, transaction persistence, XML
// construction, signing and transport into one atomic customs operation
// invocation per call.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hidrovia/customs/internal/customs/model"
	"github.com/hidrovia/customs/internal/customs/soap"
	"github.com/hidrovia/customs/internal/customs/xmlbuilder"
)

// Strategy aggregates the per-(country, operation) pieces: the payload
// builder, the SOAP action, and whether the payload carries a fiscal
// signature. Country-specific behavior lives in these data, not in the
// orchestration control flow.
type Strategy struct {
	Country    model.Country
	Operation  model.OperationType
	Build      xmlbuilder.BuildFunc
	SoapAction string
	// SignPayload is false for DNA operations, which authenticate at the
	// channel level only; AFIP additionally requires the enveloped signature.
	SignPayload bool
}

// ResolveStrategy looks up the strategy for a (country, operation) pair.
// An unknown pair is a configuration error.
func ResolveStrategy(country model.Country, op model.OperationType) (*Strategy, error) {
	build, err := xmlbuilder.ForOperation(country, op)
	if err != nil {
		return nil, err
	}
	action, err := soap.ActionFor(country, op)
	if err != nil {
		return nil, err
	}
	return &Strategy{
		Country:     country,
		Operation:   op,
		Build:       build,
		SoapAction:  action,
		SignPayload: country == model.CountryArgentina,
	}, nil
}

// TransactionRepository is the transaction store surface the orchestrator
// drives. All lifecycle transitions go through the named mark methods.
type TransactionRepository interface {
	CreateInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction) error
	MarkSendingInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction, now time.Time) error
	MarkSuccessInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction, externalRef string, latencyMs int64, now time.Time) error
	MarkErrorInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction, code, message string, latencyMs int64, retryable bool, now time.Time) error
	MarkRetryInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction) error
	NextBusinessSequenceInTx(ctx context.Context, tx *gorm.DB, companyCode string, day time.Time) (int, error)
	GetByBusinessID(ctx context.Context, businessID string) (*model.Transaction, error)
	FindOriginalSuccess(ctx context.Context, companyCode, family, externalRef string) (*model.Transaction, error)
	CountInFlightDerivatives(ctx context.Context, companyCode, family, originalRef string) (int64, error)
}

// ResponseRepository persists per-attempt response records.
type ResponseRepository interface {
	CreateInTx(ctx context.Context, tx *gorm.DB, record *model.ResponseRecord) error
}

// Transport performs one synchronous SOAP call.
type Transport interface {
	Send(ctx context.Context, action string, payload []byte) (*soap.Result, error)
}

// TransportFactory creates a transport bound to an endpoint, so tests can
// substitute a fixed response without touching real network code.
type TransportFactory func(endpoint string, opts soap.Options) (Transport, error)

// Result is the non-throwing outcome of one invocation. Internal failures
// are converted into Errors; callers never handle operation-specific error
// types.
type Result struct {
	Success           bool
	TransactionID     uuid.UUID
	BusinessID        string
	ExternalReference *string
	Errors            []string
	Warnings          []string
}

func failure(errs []string, warnings []string) *Result {
	return &Result{Errors: errs, Warnings: warnings}
}

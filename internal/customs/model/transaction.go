package model

import (
	"fmt"
	"time"
)

// Country identifies the customs authority a transaction is addressed to.
type Country string

const (
	CountryArgentina Country = "AR" // AFIP
	CountryParaguay  Country = "PY" // DNA
)

// Environment selects between the authority's testing and production endpoints.
type Environment string

const (
	EnvironmentTesting    Environment = "testing"
	EnvironmentProduction Environment = "production"
)

// OperationType enumerates the customs webservice operations the engine supports.
type OperationType string

const (
	OperationRegisterManifest        OperationType = "register-manifest"
	OperationRegisterAnticipatedInfo OperationType = "register-anticipated-info"
	OperationRectifyAnticipatedInfo  OperationType = "rectify-anticipated-info"
	OperationRegisterDeconsolidation OperationType = "register-deconsolidation"
	OperationRectifyDeconsolidation  OperationType = "rectify-deconsolidation"
	OperationDeleteDeconsolidation   OperationType = "delete-deconsolidation"
	OperationRegisterTransshipment   OperationType = "register-transshipment"
	OperationRegisterEmptyContainers OperationType = "register-empty-containers"
	OperationUpdateBargePosition     OperationType = "update-barge-position"
	OperationRegisterMicDta          OperationType = "register-mic-dta"
)

// IsDerivative reports whether the operation rectifies or deletes a previously
// registered declaration and therefore requires an original successful transaction.
func (op OperationType) IsDerivative() bool {
	switch op {
	case OperationRectifyAnticipatedInfo, OperationRectifyDeconsolidation, OperationDeleteDeconsolidation:
		return true
	}
	return false
}

// Family groups an operation with the registrations it can derive from, so a
// rectification can be matched against the original register transaction.
func (op OperationType) Family() string {
	switch op {
	case OperationRegisterAnticipatedInfo, OperationRectifyAnticipatedInfo:
		return "anticipated-info"
	case OperationRegisterDeconsolidation, OperationRectifyDeconsolidation, OperationDeleteDeconsolidation:
		return "deconsolidation"
	case OperationRegisterTransshipment, OperationUpdateBargePosition:
		return "transshipment"
	default:
		return string(op)
	}
}

// TransactionStatus represents the lifecycle state of a customs transaction.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "PENDING" // Created, XML not yet sent
	TransactionStatusSending TransactionStatus = "SENDING" // Request is in flight
	TransactionStatusSuccess TransactionStatus = "SUCCESS" // Authority accepted the declaration
	TransactionStatusError   TransactionStatus = "ERROR"   // Attempt failed; may be retryable
	TransactionStatusRetry   TransactionStatus = "RETRY"   // Explicitly queued for another attempt
)

// CanTransitionTo reports whether the status may legally move to next.
// SUCCESS is terminal. ERROR may only move back through RETRY.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case TransactionStatusPending:
		return next == TransactionStatusSending || next == TransactionStatusSuccess || next == TransactionStatusError
	case TransactionStatusSending:
		// SENDING may re-enter RETRY when a send was abandoned before an
		// outcome could be recorded (caller cancellation mid-flight).
		return next == TransactionStatusSuccess || next == TransactionStatusError || next == TransactionStatusRetry
	case TransactionStatusError:
		return next == TransactionStatusRetry
	case TransactionStatusRetry:
		return next == TransactionStatusSending
	}
	return false
}

// Metadata captures operation-specific facts needed for audit and for
// constructing a rectification or deletion later.
type Metadata map[string]any

// Metadata keys written by the orchestrator.
const (
	MetaSimulated           = "simulated"
	MetaOriginalReference   = "originalReference"
	MetaRectificationReason = "rectificationReason"
	MetaChildTitleCount     = "childTitleCount"
	MetaActingUser          = "actingUser"
)

// BackoffSchedule is the ordered list of waits, in seconds, between retry attempts.
type BackoffSchedule []int

// DelayFor returns the wait before the next attempt given how many attempts
// have already completed. Past the end of the schedule the last entry repeats.
func (b BackoffSchedule) DelayFor(attempts int) time.Duration {
	if len(b) == 0 {
		return 0
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(b) {
		idx = len(b) - 1
	}
	return time.Duration(b[idx]) * time.Second
}

// Transaction is one attempt to perform one customs operation against an authority.
type Transaction struct {
	BaseModel
	BusinessID   string        `gorm:"type:varchar(50);column:business_id;not null;uniqueIndex" json:"businessId"` // {companyCode}-{yyyyMMdd}-{sequence}
	CompanyCode  string        `gorm:"type:varchar(20);column:company_code;not null;index" json:"companyCode"`
	CompanyTaxID string        `gorm:"type:varchar(20);column:company_tax_id;not null" json:"companyTaxId"`
	Country      Country       `gorm:"type:varchar(2);column:country;not null;index" json:"country"`
	Operation    OperationType `gorm:"type:varchar(40);column:operation;not null;index" json:"operation"`
	Environment  Environment   `gorm:"type:varchar(15);column:environment;not null" json:"environment"`

	VoyageRef   *string `gorm:"type:varchar(50);column:voyage_ref" json:"voyageRef,omitempty"`
	ShipmentRef *string `gorm:"type:varchar(50);column:shipment_ref" json:"shipmentRef,omitempty"`

	Status      TransactionStatus `gorm:"type:varchar(15);column:status;not null;index" json:"status"`
	RequestXML  string            `gorm:"type:text;column:request_xml" json:"-"`
	ResponseXML string            `gorm:"type:text;column:response_xml" json:"-"`
	SoapAction  string            `gorm:"type:varchar(200);column:soap_action" json:"soapAction"`
	EndpointURL string            `gorm:"type:varchar(300);column:endpoint_url" json:"endpointUrl"`

	ExternalReference *string `gorm:"type:varchar(50);column:external_reference" json:"externalReference,omitempty"`
	LatencyMs         *int64  `gorm:"column:latency_ms" json:"latencyMs,omitempty"`
	ErrorCode         *string `gorm:"type:varchar(100);column:error_code" json:"errorCode,omitempty"`
	ErrorMessage      *string `gorm:"type:text;column:error_message" json:"errorMessage,omitempty"`

	AttemptCount int             `gorm:"column:attempt_count;not null;default:0" json:"attemptCount"`
	MaxRetries   int             `gorm:"column:max_retries;not null" json:"maxRetries"`
	Backoff      BackoffSchedule `gorm:"type:jsonb;column:backoff;serializer:json" json:"backoff"`
	Retryable    bool            `gorm:"column:can_retry;not null;default:false" json:"canRetry"`
	NextRetryAt  *time.Time      `gorm:"column:next_retry_at" json:"nextRetryAt,omitempty"`

	SentAt      *time.Time `gorm:"column:sent_at" json:"sentAt,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completedAt,omitempty"`

	Metadata  Metadata `gorm:"type:jsonb;column:metadata;serializer:json" json:"metadata"`
	CreatedBy string   `gorm:"type:varchar(100);column:created_by" json:"createdBy"`
}

func (t *Transaction) TableName() string {
	return "customs_transactions"
}

// Simulated reports whether the transaction was completed under bypass mode.
func (t *Transaction) Simulated() bool {
	if t.Metadata == nil {
		return false
	}
	v, ok := t.Metadata[MetaSimulated].(bool)
	return ok && v
}

// CanRetry reports whether another attempt is allowed at the given time.
// A SENDING transaction qualifies only when no outcome was ever recorded,
// which is what an attempt abandoned by caller cancellation looks like.
func (t *Transaction) CanRetry(now time.Time) error {
	switch t.Status {
	case TransactionStatusError, TransactionStatusRetry:
		if !t.Retryable {
			return fmt.Errorf("transaction %s failed terminally and cannot be retried", t.BusinessID)
		}
	case TransactionStatusSending:
		if t.CompletedAt != nil {
			return fmt.Errorf("transaction %s is %s and cannot be retried", t.BusinessID, t.Status)
		}
	default:
		return fmt.Errorf("transaction %s is %s and cannot be retried", t.BusinessID, t.Status)
	}
	if t.AttemptCount >= t.MaxRetries {
		return fmt.Errorf("transaction %s exhausted its %d attempts", t.BusinessID, t.MaxRetries)
	}
	if t.NextRetryAt != nil && now.Before(*t.NextRetryAt) {
		return fmt.Errorf("transaction %s is not eligible for retry until %s", t.BusinessID, t.NextRetryAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// BusinessIDFor builds the human-readable transaction identifier embedded in
// the outbound XML: {companyCode}-{yyyyMMdd}-{sequence}.
func BusinessIDFor(companyCode string, day time.Time, sequence int) string {
	return fmt.Sprintf("%s-%s-%05d", companyCode, day.UTC().Format("20060102"), sequence)
}

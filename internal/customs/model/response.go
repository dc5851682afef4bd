package model

import (
	"github.com/google/uuid"
)

// ResponseRecord is one per completed send attempt, immutable once created.
// It keeps the raw structured payload returned by the authority for the full
// audit trail, independent of the transaction's final status.
type ResponseRecord struct {
	BaseModel
	TransactionID uuid.UUID `gorm:"type:uuid;column:transaction_id;not null;index" json:"transactionId"`
	AttemptNumber int       `gorm:"column:attempt_number;not null" json:"attemptNumber"`
	IsSuccess     bool      `gorm:"column:is_success;not null" json:"isSuccess"`
	Payload       Metadata  `gorm:"type:jsonb;column:payload;serializer:json" json:"payload"`
	FaultCode     *string   `gorm:"type:varchar(100);column:fault_code" json:"faultCode,omitempty"`
	FaultMessage  *string   `gorm:"type:text;column:fault_message" json:"faultMessage,omitempty"`
	LatencyMs     int64     `gorm:"column:latency_ms;not null" json:"latencyMs"`

	// Relationships
	Transaction Transaction `gorm:"foreignKey:TransactionID;references:ID" json:"-"`
}

func (r *ResponseRecord) TableName() string {
	return "customs_response_records"
}

// LogLevel classifies audit log entries.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is an append-only audit record. TransactionID is optional because
// some entries occur before a transaction exists (e.g. validation failures).
type LogEntry struct {
	BaseModel
	TransactionID *uuid.UUID `gorm:"type:uuid;column:transaction_id;index" json:"transactionId,omitempty"`
	Level         LogLevel   `gorm:"type:varchar(10);column:level;not null" json:"level"`
	Category      string     `gorm:"type:varchar(50);column:category;not null" json:"category"`
	Message       string     `gorm:"type:text;column:message;not null" json:"message"`
	Context       Metadata   `gorm:"type:jsonb;column:context;serializer:json" json:"context"`
}

func (l *LogEntry) TableName() string {
	return "customs_log_entries"
}

package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// businessSequence backs the per-company, per-day monotonic counter used for
// business id generation.
type businessSequence struct {
	CompanyCode string `gorm:"type:varchar(20);column:company_code;not null;primaryKey"`
	Day         string `gorm:"type:varchar(8);column:day;not null;primaryKey"` // yyyyMMdd
	Value       int    `gorm:"column:value;not null"`
}

func (businessSequence) TableName() string {
	return "customs_business_sequences"
}

// NextBusinessSequenceInTx atomically allocates the next sequence number for
// the company on the given day. The single-statement upsert keeps allocation
// race-free under concurrent creation.
func (s *TransactionStore) NextBusinessSequenceInTx(ctx context.Context, tx *gorm.DB, companyCode string, day time.Time) (int, error) {
	var value int
	err := tx.WithContext(ctx).Raw(
		`INSERT INTO customs_business_sequences (company_code, day, value)
		 VALUES (?, ?, 1)
		 ON CONFLICT (company_code, day)
		 DO UPDATE SET value = customs_business_sequences.value + 1
		 RETURNING value`,
		companyCode, day.UTC().Format("20060102"),
	).Scan(&value).Error
	if err != nil {
		return 0, fmt.Errorf("failed to allocate business sequence for %s: %w", companyCode, err)
	}
	return value, nil
}

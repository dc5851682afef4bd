// Package xmlbuilder maps domain snapshots into the operation-specific XML
// payloads the customs authorities require. Builders are pure: the same
// snapshot and business id always produce byte-identical output.
//
// Each operation is described by a declarative field table (field name,
// snapshot accessor, required flag) consumed by one generic tree-building
// routine, so the mandatory-field policy is data, not control flow: a
// required field whose accessor yields nothing fails the build instead of
// silently emitting an empty element.
package xmlbuilder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/hidrovia/customs/internal/customs/model"
)

// Input carries everything a builder needs: the loaded snapshot, the company
// profile for the authentication block, and the transaction business id.
type Input struct {
	Snapshot   *model.Snapshot
	Company    *model.CompanyProfile
	BusinessID string
}

// BuildError reports a snapshot that failed to map into a required XML field.
// If validation ran first this indicates a coverage gap there, so the error
// carries enough context to be logged as an internal defect.
type BuildError struct {
	Operation model.OperationType
	Field     string
	Reason    string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("cannot build %s: field %s: %s", e.Operation, e.Field, e.Reason)
}

// Field is one entry of an operation's field table. Required fields fail the
// build when the accessor yields an empty value; optional fields are omitted.
type Field struct {
	Name     string
	Required bool
	Value    func(in *Input) (string, error)
}

// appendFields materializes a field table under parent.
func appendFields(parent *etree.Element, op model.OperationType, in *Input, fields []Field) error {
	for _, f := range fields {
		value, err := f.Value(in)
		if err != nil {
			return &BuildError{Operation: op, Field: f.Name, Reason: err.Error()}
		}
		if value == "" {
			if f.Required {
				return &BuildError{Operation: op, Field: f.Name, Reason: "required value is absent"}
			}
			continue
		}
		parent.CreateElement(f.Name).SetText(value)
	}
	return nil
}

// lit adapts a constant to a field accessor.
func lit(value string) func(*Input) (string, error) {
	return func(*Input) (string, error) { return value, nil }
}

// digits strips every non-digit rune; tax ids are transmitted digits-only.
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isoDate renders an ISO 8601 calendar date. Zero times yield an empty string
// so required-field handling can reject them.
func isoDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// isoDateTime renders an ISO 8601 date-time with seconds precision.
func isoDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05")
}

// kg renders a weight as a whole number of kilograms. The schema rejects
// fractional weights, so the domain carries integer kilograms end to end.
func kg(weight int64) string {
	if weight <= 0 {
		return ""
	}
	return strconv.FormatInt(weight, 10)
}

// fixedWidth truncates or zero-pads s on the left to exactly width runes,
// for schema fields with a fixed length.
func fixedWidth(s string, width int) string {
	if s == "" {
		return ""
	}
	if len(s) > width {
		return s[len(s)-width:]
	}
	return strings.Repeat("0", width-len(s)) + s
}

// transactionID renders the 15-character transaction id field derived from
// the business id, digits and letters only.
func transactionID(businessID string) string {
	var b strings.Builder
	for _, r := range businessID {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			b.WriteRune(r)
		}
	}
	return fixedWidth(b.String(), 15)
}

// billOfLading renders the 18-character bill-of-lading number, zero-padded left.
func billOfLading(number string) string {
	return fixedWidth(strings.ToUpper(strings.TrimSpace(number)), 18)
}

// ballastIndicator derives the ballast flag from declared cargo weight: a
// voyage with no cargo runs in ballast.
func ballastIndicator(s *model.Snapshot) string {
	if s.TotalCargoWeightKg() == 0 {
		return "S"
	}
	return "N"
}

func voyage(in *Input) (*model.Voyage, error) {
	if in.Snapshot == nil || in.Snapshot.Voyage == nil {
		return nil, fmt.Errorf("snapshot has no voyage")
	}
	return in.Snapshot.Voyage, nil
}

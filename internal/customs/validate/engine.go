// Package validate runs the country- and operation-specific precondition
// checks over a loaded domain snapshot. It is pure: all facts it needs,
// including the original transaction a derivative operation references, are
// loaded by the caller and passed in.
package validate

import (
	"fmt"

	"github.com/hidrovia/customs/internal/customs/model"
)

// Input is everything a validation run reads.
type Input struct {
	Company     *model.CompanyProfile
	Snapshot    *model.Snapshot
	Environment model.Environment

	// Original is the successful transaction a rectify/delete derives from,
	// nil when none was found. InFlightDerivatives counts pending/sending/
	// retry derivatives already referencing it.
	Original            *model.Transaction
	InFlightDerivatives int64
}

// Result separates blocking errors from advisory warnings. Warnings never
// block submission.
type Result struct {
	Errors   []string
	Warnings []string
}

// IsValid reports whether submission may proceed.
func (r *Result) IsValid() bool { return len(r.Errors) == 0 }

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Run validates the snapshot and company against the operation's preconditions.
func Run(country model.Country, op model.OperationType, in Input) Result {
	var result Result

	if in.Company == nil {
		result.errorf("no company webservice profile provided")
		return result
	}
	if in.Snapshot == nil {
		result.errorf("no domain snapshot provided")
		return result
	}

	checkCompany(&result, country, op, in.Company)
	checkCertificatePresence(&result, in.Company, in.Environment)

	switch op {
	case model.OperationRegisterDeconsolidation, model.OperationRectifyDeconsolidation:
		checkDeconsolidation(&result, in.Snapshot)
	case model.OperationDeleteDeconsolidation:
		// Deletion sends only the original reference; no cargo checks.
	case model.OperationUpdateBargePosition:
		checkBargePosition(&result, in.Snapshot)
	default:
		checkVoyage(&result, in.Snapshot)
		checkShipments(&result, op, in.Snapshot)
	}

	if op.IsDerivative() || op == model.OperationUpdateBargePosition {
		checkOriginalReference(&result, op, in)
	}
	if op.IsDerivative() {
		checkDerivativeGuard(&result, op, in)
	}

	coherenceWarnings(&result, in.Snapshot)
	return result
}

func checkVoyage(r *Result, s *model.Snapshot) {
	if s.Voyage == nil {
		r.errorf("voyage data is missing")
		return
	}
	v := s.Voyage
	if v.Number == "" {
		r.errorf("voyage number is required")
	}
	if v.OriginPort == "" {
		r.errorf("origin port is required")
	}
	if v.DestinationPort == "" {
		r.errorf("destination port is required")
	}
	if v.DepartureDate.IsZero() {
		r.errorf("departure date is required")
	}
	if v.Vessel.Name == "" || v.Vessel.Registration == "" {
		r.errorf("vessel requires both name and registration")
	}
	if v.Captain.Name == "" || v.Captain.License == "" {
		r.errorf("captain requires both name and license")
	}
}

func checkShipments(r *Result, op model.OperationType, s *model.Snapshot) {
	// Pre-arrival and barge operations declare the voyage alone.
	if op == model.OperationRegisterAnticipatedInfo || op == model.OperationRectifyAnticipatedInfo ||
		op == model.OperationRegisterTransshipment {
		return
	}
	if len(s.Shipments) == 0 {
		r.errorf("at least one shipment is required")
		return
	}
	for _, sh := range s.Shipments {
		if sh.Number == "" || sh.BillOfLading == "" {
			r.errorf("shipment requires both number and bill of lading")
		}
		if op != model.OperationRegisterEmptyContainers && len(sh.CargoLines) == 0 && len(sh.Containers) == 0 {
			r.errorf("shipment %s declares no cargo line items", sh.Number)
		}
	}
	if op == model.OperationRegisterEmptyContainers {
		empty := 0
		for _, sh := range s.Shipments {
			for _, c := range sh.Containers {
				if c.IsEmpty {
					empty++
				}
			}
		}
		if empty == 0 {
			r.errorf("no empty containers to declare")
		}
	}
}

func checkDeconsolidation(r *Result, s *model.Snapshot) {
	var parent *model.Shipment
	for i := range s.Shipments {
		if len(s.Shipments[i].ChildTitles) > 0 {
			parent = &s.Shipments[i]
			break
		}
	}
	if parent == nil {
		r.errorf("deconsolidation requires a parent title with at least one child title")
		return
	}
	if parent.BillOfLading == "" {
		r.errorf("parent title requires a bill of lading")
	}
	for _, child := range parent.ChildTitles {
		if child.Number == "" || child.Consignee == "" {
			r.errorf("child title requires both number and consignee")
		}
	}
}

func checkBargePosition(r *Result, s *model.Snapshot) {
	if s.Voyage == nil {
		r.errorf("voyage data is missing")
		return
	}
	found := false
	for _, b := range s.Voyage.Barges {
		if b.Position != nil {
			if b.Registration == "" {
				r.errorf("barge position report lacks the barge registration")
			}
			if b.Position.ReportedAt.IsZero() {
				r.errorf("barge position report lacks its report time")
			}
			found = true
		}
	}
	if !found {
		r.errorf("no barge carries a position report")
	}
}

func checkOriginalReference(r *Result, op model.OperationType, in Input) {
	if in.Snapshot.OriginalReference == "" {
		r.errorf("%s requires the original authority reference", op)
	}
}

// checkDerivativeGuard enforces the idempotency guard: the original must be a
// successful transaction of the same company and operation family, and no
// second derivative may start while one is in flight.
func checkDerivativeGuard(r *Result, op model.OperationType, in Input) {
	if in.Snapshot.OriginalReference == "" {
		return
	}
	if in.Original == nil {
		r.errorf("original record not found for reference %s", in.Snapshot.OriginalReference)
		return
	}
	if in.Original.CompanyCode != in.Company.Code {
		r.errorf("original transaction %s belongs to another company", in.Original.BusinessID)
	}
	if in.Original.Operation.Family() != op.Family() {
		r.errorf("original transaction %s is a %s operation, not %s", in.Original.BusinessID, in.Original.Operation.Family(), op.Family())
	}
	if in.InFlightDerivatives > 0 {
		r.errorf("another %s for reference %s is already in flight", op.Family(), in.Snapshot.OriginalReference)
	}
	if op == model.OperationRectifyAnticipatedInfo || op == model.OperationRectifyDeconsolidation {
		if in.Snapshot.RectificationReason == "" {
			r.errorf("rectification requires a reason")
		}
	}
}

// coherenceWarnings flags cross-field inconsistencies that do not block
// submission.
func coherenceWarnings(r *Result, s *model.Snapshot) {
	for _, sh := range s.Shipments {
		if len(sh.ChildTitles) == 0 || sh.GrossWeightKg == 0 {
			continue
		}
		var childTotal int64
		for _, child := range sh.ChildTitles {
			childTotal += child.GrossWeightKg
		}
		// More than 10% over the parent's declared gross weight.
		if childTotal*10 > sh.GrossWeightKg*11 {
			r.warnf("child titles of %s declare %d kg, exceeding the parent's %d kg by more than 10%%",
				sh.Number, childTotal, sh.GrossWeightKg)
		}
	}
	if s.Voyage != nil && s.Voyage.Vessel.CapacityTEU > 0 {
		if n := s.ContainerCount(); n > s.Voyage.Vessel.CapacityTEU {
			r.warnf("declared container count %d exceeds vessel capacity %d", n, s.Voyage.Vessel.CapacityTEU)
		}
	}
}

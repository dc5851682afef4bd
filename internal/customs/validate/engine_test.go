package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hidrovia/customs/internal/customs/model"
)

func validCompany() *model.CompanyProfile {
	return &model.CompanyProfile{
		Code:                  "HDV",
		TaxID:                 "30-12345678-9",
		Country:               model.CountryArgentina,
		Roles:                 []model.Role{model.RoleCargas, model.RoleDesconsolidador, model.RoleTransbordos},
		CertificatePath:       "/etc/customs/hdv.p12",
		CertificatePassphrase: "secret",
	}
}

func validSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Voyage: &model.Voyage{
			Number:          "V2026-001",
			DepartureDate:   time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC),
			OriginPort:      "ARBUE",
			DestinationPort: "PYASU",
			Vessel:          model.Vessel{Name: "Guarani Princess", Registration: "AR-1234", TypeCode: model.VesselTypePusher, FlagCountry: "AR"},
			Captain:         model.Captain{Name: "J. Ramirez", License: "CAP-778"},
		},
		Shipments: []model.Shipment{{
			Number:        "T-001",
			BillOfLading:  "BL-990011",
			OriginPort:    "ARBUE",
			DestPort:      "PYASU",
			GrossWeightKg: 18500,
			CargoLines:    []model.CargoLine{{Description: "Soy meal", PackageCount: 500, WeightKg: 18500}},
		}},
	}
}

func errorsContain(r Result, fragment string) bool {
	for _, e := range r.Errors {
		if strings.Contains(e, fragment) {
			return true
		}
	}
	return false
}

func TestValidSubmission(t *testing.T) {
	result := Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{
		Company:  validCompany(),
		Snapshot: validSnapshot(),
	})
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestMissingInputs(t *testing.T) {
	result := Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Snapshot: validSnapshot()})
	assert.False(t, result.IsValid())

	result = Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Company: validCompany()})
	assert.False(t, result.IsValid())
}

func TestCompanyChecks(t *testing.T) {
	// Wrong country registration.
	company := validCompany()
	company.Country = model.CountryParaguay
	result := Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Company: company, Snapshot: validSnapshot()})
	assert.True(t, errorsContain(result, "registered for PY"))

	// CUIT must carry exactly 11 digits.
	company = validCompany()
	company.TaxID = "12345"
	result = Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Company: company, Snapshot: validSnapshot()})
	assert.True(t, errorsContain(result, "CUIT must be 11 digits"))

	// The operation's role must be held.
	company = validCompany()
	company.Roles = []model.Role{model.RoleCargas}
	result = Run(model.CountryArgentina, model.OperationRegisterDeconsolidation, Input{Company: company, Snapshot: deconsolidationSnapshot()})
	assert.True(t, errorsContain(result, `lacks the "Desconsolidador" role`))

	// Certificate configuration must be present unless bypassing.
	company = validCompany()
	company.CertificatePath = ""
	result = Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Company: company, Snapshot: validSnapshot()})
	assert.True(t, errorsContain(result, "no certificate configured"))

	company.Bypass = true
	result = Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Company: company, Snapshot: validSnapshot()})
	assert.True(t, result.IsValid(), "bypass waives the certificate presence check: %v", result.Errors)
}

func TestTestingFingerprintWaivesCertificate(t *testing.T) {
	// No certificate path at all under the testing environment is the
	// recognized simulation fingerprint; the run never signs or transmits.
	company := validCompany()
	company.CertificatePath = ""
	company.CertificatePassphrase = ""
	result := Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{
		Company:     company,
		Snapshot:    validSnapshot(),
		Environment: model.EnvironmentTesting,
	})
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)

	// The same configuration in production is a hard error.
	result = Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{
		Company:     company,
		Snapshot:    validSnapshot(),
		Environment: model.EnvironmentProduction,
	})
	assert.True(t, errorsContain(result, "no certificate configured"))
}

func TestVoyageChecks(t *testing.T) {
	snapshot := validSnapshot()
	snapshot.Voyage.Captain.License = ""
	snapshot.Voyage.DepartureDate = time.Time{}
	result := Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Company: validCompany(), Snapshot: snapshot})
	assert.True(t, errorsContain(result, "captain requires both name and license"))
	assert.True(t, errorsContain(result, "departure date is required"))

	snapshot = validSnapshot()
	snapshot.Voyage = nil
	result = Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Company: validCompany(), Snapshot: snapshot})
	assert.True(t, errorsContain(result, "voyage data is missing"))
}

func TestShipmentChecks(t *testing.T) {
	snapshot := validSnapshot()
	snapshot.Shipments = nil
	result := Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Company: validCompany(), Snapshot: snapshot})
	assert.True(t, errorsContain(result, "at least one shipment is required"))

	snapshot = validSnapshot()
	snapshot.Shipments[0].CargoLines = nil
	result = Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Company: validCompany(), Snapshot: snapshot})
	assert.True(t, errorsContain(result, "declares no cargo line items"))

	// Anticipated info declares the voyage alone; no shipments needed.
	snapshot = validSnapshot()
	snapshot.Shipments = nil
	result = Run(model.CountryArgentina, model.OperationRegisterAnticipatedInfo, Input{Company: validCompany(), Snapshot: snapshot})
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)
}

func deconsolidationSnapshot() *model.Snapshot {
	snapshot := validSnapshot()
	snapshot.Shipments[0].ChildTitles = []model.ChildTitle{
		{Number: "H-001", Consignee: "Importadora del Este", GrossWeightKg: 9000, PackageCount: 250},
	}
	return snapshot
}

func TestDeconsolidationChecks(t *testing.T) {
	result := Run(model.CountryArgentina, model.OperationRegisterDeconsolidation, Input{
		Company:  validCompany(),
		Snapshot: deconsolidationSnapshot(),
	})
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)

	snapshot := validSnapshot()
	result = Run(model.CountryArgentina, model.OperationRegisterDeconsolidation, Input{Company: validCompany(), Snapshot: snapshot})
	assert.True(t, errorsContain(result, "requires a parent title with at least one child title"))

	snapshot = deconsolidationSnapshot()
	snapshot.Shipments[0].ChildTitles[0].Consignee = ""
	result = Run(model.CountryArgentina, model.OperationRegisterDeconsolidation, Input{Company: validCompany(), Snapshot: snapshot})
	assert.True(t, errorsContain(result, "child title requires both number and consignee"))
}

func originalTransaction() *model.Transaction {
	return &model.Transaction{
		BusinessID:  "HDV-20260110-00007",
		CompanyCode: "HDV",
		Operation:   model.OperationRegisterDeconsolidation,
		Status:      model.TransactionStatusSuccess,
	}
}

func TestDerivativeGuard(t *testing.T) {
	snapshot := deconsolidationSnapshot()
	snapshot.OriginalReference = "26001DESC000001X"
	snapshot.RectificationReason = "weight corrected"

	// Happy path: original present, nothing in flight.
	result := Run(model.CountryArgentina, model.OperationRectifyDeconsolidation, Input{
		Company:  validCompany(),
		Snapshot: snapshot,
		Original: originalTransaction(),
	})
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)

	// Original missing.
	result = Run(model.CountryArgentina, model.OperationRectifyDeconsolidation, Input{
		Company:  validCompany(),
		Snapshot: snapshot,
	})
	assert.True(t, errorsContain(result, "original record not found"))

	// Original owned by another company.
	foreign := originalTransaction()
	foreign.CompanyCode = "RPN"
	result = Run(model.CountryArgentina, model.OperationRectifyDeconsolidation, Input{
		Company:  validCompany(),
		Snapshot: snapshot,
		Original: foreign,
	})
	assert.True(t, errorsContain(result, "belongs to another company"))

	// Original from a different operation family.
	wrongFamily := originalTransaction()
	wrongFamily.Operation = model.OperationRegisterMicDta
	result = Run(model.CountryArgentina, model.OperationRectifyDeconsolidation, Input{
		Company:  validCompany(),
		Snapshot: snapshot,
		Original: wrongFamily,
	})
	assert.True(t, errorsContain(result, "not deconsolidation"))

	// A sibling derivative already in flight blocks a second one.
	result = Run(model.CountryArgentina, model.OperationRectifyDeconsolidation, Input{
		Company:             validCompany(),
		Snapshot:            snapshot,
		Original:            originalTransaction(),
		InFlightDerivatives: 1,
	})
	assert.True(t, errorsContain(result, "already in flight"))

	// Rectification requires a reason.
	noReason := deconsolidationSnapshot()
	noReason.OriginalReference = "26001DESC000001X"
	result = Run(model.CountryArgentina, model.OperationRectifyDeconsolidation, Input{
		Company:  validCompany(),
		Snapshot: noReason,
		Original: originalTransaction(),
	})
	assert.True(t, errorsContain(result, "rectification requires a reason"))

	// Missing original reference fails before the guard.
	snapshot.OriginalReference = ""
	result = Run(model.CountryArgentina, model.OperationRectifyDeconsolidation, Input{
		Company:  validCompany(),
		Snapshot: snapshot,
	})
	assert.True(t, errorsContain(result, "requires the original authority reference"))
}

func TestBargePositionChecks(t *testing.T) {
	snapshot := validSnapshot()
	snapshot.OriginalReference = "26001TRSB000003X"
	snapshot.Voyage.Barges = []model.Barge{{
		Registration: "BZ-01",
		Position:     &model.Position{Latitude: -27.3, Longitude: -58.0, ReportedAt: time.Date(2026, 1, 21, 14, 0, 0, 0, time.UTC)},
	}}
	result := Run(model.CountryArgentina, model.OperationUpdateBargePosition, Input{Company: validCompany(), Snapshot: snapshot})
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)

	snapshot.Voyage.Barges[0].Position = nil
	result = Run(model.CountryArgentina, model.OperationUpdateBargePosition, Input{Company: validCompany(), Snapshot: snapshot})
	assert.True(t, errorsContain(result, "no barge carries a position report"))
}

func TestCoherenceWarningsDoNotBlock(t *testing.T) {
	// Child titles 20% over the parent weight: warn, still valid.
	snapshot := deconsolidationSnapshot()
	snapshot.Shipments[0].GrossWeightKg = 10000
	snapshot.Shipments[0].ChildTitles = []model.ChildTitle{
		{Number: "H-001", Consignee: "A", GrossWeightKg: 6000},
		{Number: "H-002", Consignee: "B", GrossWeightKg: 6000},
	}
	result := Run(model.CountryArgentina, model.OperationRegisterDeconsolidation, Input{
		Company:  validCompany(),
		Snapshot: snapshot,
	})
	assert.True(t, result.IsValid(), "warnings must not block: %v", result.Errors)
	assert.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "exceeding the parent's")

	// Containers above declared capacity: warn, still valid.
	snapshot = validSnapshot()
	snapshot.Voyage.Vessel.CapacityTEU = 1
	snapshot.Shipments[0].Containers = []model.Container{
		{Number: "MSCU1", ISOType: "42G1"}, {Number: "MSCU2", ISOType: "42G1"},
	}
	result = Run(model.CountryArgentina, model.OperationRegisterMicDta, Input{Company: validCompany(), Snapshot: snapshot})
	assert.True(t, result.IsValid())
	assert.Contains(t, result.Warnings[0], "exceeds vessel capacity")
}

func TestParaguayRUC(t *testing.T) {
	company := validCompany()
	company.Country = model.CountryParaguay
	company.TaxID = "80012345-6"
	result := Run(model.CountryParaguay, model.OperationRegisterManifest, Input{Company: company, Snapshot: validSnapshot()})
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)

	company.TaxID = "12"
	result = Run(model.CountryParaguay, model.OperationRegisterManifest, Input{Company: company, Snapshot: validSnapshot()})
	assert.True(t, errorsContain(result, "RUC must be numeric"))
}

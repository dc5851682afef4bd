package validate

import (
	"strings"

	"github.com/hidrovia/customs/internal/customs/model"
)

// requiredRoles maps each operation to the webservice role the company must hold.
var requiredRoles = map[model.OperationType]model.Role{
	model.OperationRegisterManifest:        model.RoleCargas,
	model.OperationRegisterAnticipatedInfo: model.RoleCargas,
	model.OperationRectifyAnticipatedInfo:  model.RoleCargas,
	model.OperationRegisterMicDta:          model.RoleCargas,
	model.OperationRegisterEmptyContainers: model.RoleCargas,
	model.OperationRegisterDeconsolidation: model.RoleDesconsolidador,
	model.OperationRectifyDeconsolidation:  model.RoleDesconsolidador,
	model.OperationDeleteDeconsolidation:   model.RoleDesconsolidador,
	model.OperationRegisterTransshipment:   model.RoleTransbordos,
	model.OperationUpdateBargePosition:     model.RoleTransbordos,
}

func checkCompany(r *Result, country model.Country, op model.OperationType, company *model.CompanyProfile) {
	if company.Country != country {
		r.errorf("company %s is registered for %s, not %s", company.Code, company.Country, country)
	}

	switch country {
	case model.CountryArgentina:
		if !validCUIT(company.TaxID) {
			r.errorf("invalid tax id for Argentina: CUIT must be 11 digits")
		}
	case model.CountryParaguay:
		if !validRUC(company.TaxID) {
			r.errorf("invalid tax id for Paraguay: RUC must be numeric")
		}
	}

	if role, ok := requiredRoles[op]; ok && !company.HasRole(role) {
		r.errorf("company %s lacks the %q role required for %s", company.Code, role, op)
	}
}

// checkCertificatePresence checks configuration presence only; depth
// validation of the credential itself belongs to the certificate store.
// Bypass companies and testing-fingerprint configurations (testing
// environment with no certificate path at all) are exempt: those
// invocations never sign or transmit.
func checkCertificatePresence(r *Result, company *model.CompanyProfile, env model.Environment) {
	if company.Bypass {
		return
	}
	if env == model.EnvironmentTesting && company.CertificatePath == "" {
		return
	}
	if company.CertificatePath == "" || company.CertificatePassphrase == "" {
		r.errorf("company %s has no certificate configured", company.Code)
	}
}

// validCUIT accepts an Argentine CUIT: exactly 11 digits after stripping
// separators.
func validCUIT(taxID string) bool {
	return len(stripNonDigits(taxID)) == 11
}

// validRUC accepts a Paraguayan RUC: a non-empty numeric identifier,
// optionally carrying a check-digit separator.
func validRUC(taxID string) bool {
	digits := stripNonDigits(taxID)
	return digits != "" && len(digits) >= 5 && len(digits) <= 10
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

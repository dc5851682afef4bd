package model

// Role is a per-country webservice role a company may hold before the authority.
type Role string

const (
	RoleCargas          Role = "Cargas"          // General cargo / manifest operations
	RoleDesconsolidador Role = "Desconsolidador" // Deconsolidation of master titles
	RoleTransbordos     Role = "Transbordos"     // Transshipment and barge tracking
)

// CompanyProfile is the read-only webservice configuration of the company on
// whose behalf an operation is executed. It is loaded by an upstream
// collaborator; the engine never mutates it.
type CompanyProfile struct {
	Code      string  `json:"code"`
	TaxID     string  `json:"taxId"`
	LegalName string  `json:"legalName"`
	Country   Country `json:"country"`
	Roles     []Role  `json:"roles"`

	CertificatePath       string `json:"certificatePath"`
	CertificatePassphrase string `json:"-"`

	// EndpointOverrides maps "{operation}|{environment}" to a company-specific
	// endpoint URL that takes precedence over the static defaults.
	EndpointOverrides map[string]string `json:"endpointOverrides,omitempty"`

	// Bypass skips signing and transmission and fabricates a deterministic
	// success response for pre-production exercising of downstream systems.
	Bypass bool `json:"bypass"`
}

// HasRole reports whether the company holds the given webservice role.
func (p *CompanyProfile) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

package auth

// APIClient is a back-office system allowed to call the engine. The token is
// issued out of band; CompanyCodes lists the companies the client may act for.
type APIClient struct {
	Token        string   `gorm:"type:varchar(128);column:token;primaryKey;not null" json:"-"`
	ClientID     string   `gorm:"type:varchar(100);column:client_id;not null" json:"clientId"`
	CompanyCodes []string `gorm:"type:jsonb;column:company_codes;serializer:json;not null" json:"companyCodes"`
	Disabled     bool     `gorm:"column:disabled;not null;default:false" json:"disabled"`
}

// TableName specifies the database table name for APIClient
func (c *APIClient) TableName() string {
	return "customs_api_clients"
}

// AuthContext represents the authentication context available in a request.
// It is a transient value injected by the auth middleware; handlers use it to
// decide which companies the caller may operate on behalf of.
type AuthContext struct {
	*APIClient
}

// MayActFor reports whether the authenticated client is allowed to execute
// operations for the given company. An empty company list means no access,
// never wildcard access.
func (ac *AuthContext) MayActFor(companyCode string) bool {
	if ac == nil || ac.APIClient == nil || ac.Disabled {
		return false
	}
	for _, code := range ac.CompanyCodes {
		if code == companyCode {
			return true
		}
	}
	return false
}

// Package cert loads, validates and uses the company's PKCS#12 fiscal
// credential. Credentials are re-read and re-validated on every orchestration
// call so a signature can never straddle an expiry boundary.
package cert

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/hidrovia/customs/internal/customs/model"
)

// Credential failure modes, distinct from generic configuration errors since
// remediation differs (renew certificate vs. fix configuration).
var (
	ErrFileNotFound    = errors.New("certificate file not found")
	ErrInvalidPassword = errors.New("certificate passphrase is incorrect")
	ErrCorrupt         = errors.New("certificate container is corrupt")
	ErrNotSignable     = errors.New("certificate cannot be used for signing")
)

// MinRSAKeyBits is the minimum key size the authorities accept.
const MinRSAKeyBits = 2048

// expiryWarningWindow is how close to expiry a credential starts producing warnings.
const expiryWarningWindow = 30 * 24 * time.Hour

// Credential is a decoded PKCS#12 container ready for signing.
type Credential struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
	CACerts     []*x509.Certificate
}

// SubjectCommonName returns the certificate's subject CN.
func (c *Credential) SubjectCommonName() string {
	if c.Certificate == nil {
		return ""
	}
	return c.Certificate.Subject.CommonName
}

// GetKeyPair implements goxmldsig's X509KeyStore so the credential can be
// handed directly to the signing context.
func (c *Credential) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	if c.PrivateKey == nil || c.Certificate == nil {
		return nil, nil, ErrNotSignable
	}
	return c.PrivateKey, c.Certificate.Raw, nil
}

// Report is the outcome of validating a credential at a point in time.
type Report struct {
	IsValid       bool
	CanSign       bool
	ExpiresInDays int
	Errors        []string
	Warnings      []string
}

// Store loads and validates credentials. The clock is injectable so expiry
// boundaries are testable.
type Store struct {
	now func() time.Time
}

// NewStore creates a Store using the wall clock.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// NewStoreWithClock creates a Store with a fixed clock source.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{now: now}
}

// Load decrypts and parses the company's PKCS#12 blob.
func (s *Store) Load(profile *model.CompanyProfile) (*Credential, error) {
	if profile.CertificatePath == "" {
		return nil, fmt.Errorf("%w: no certificate path configured for company %s", ErrFileNotFound, profile.Code)
	}
	data, err := os.ReadFile(profile.CertificatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, profile.CertificatePath)
		}
		return nil, fmt.Errorf("failed to read certificate %s: %w", profile.CertificatePath, err)
	}
	return s.decode(data, profile.CertificatePassphrase)
}

func (s *Store) decode(data []byte, passphrase string) (*Credential, error) {
	key, certificate, caCerts, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, expected RSA", ErrNotSignable, key)
	}
	return &Credential{
		PrivateKey:  rsaKey,
		Certificate: certificate,
		CACerts:     caCerts,
	}, nil
}

// Validate checks the credential's temporal validity and signing capability
// against the store's current time.
func (s *Store) Validate(cred *Credential) Report {
	report := Report{}
	now := s.now().UTC()

	if cred == nil || cred.Certificate == nil {
		report.Errors = append(report.Errors, "credential has no certificate")
		return report
	}

	if now.Before(cred.Certificate.NotBefore) {
		report.Errors = append(report.Errors,
			fmt.Sprintf("certificate is not valid before %s", cred.Certificate.NotBefore.UTC().Format(time.RFC3339)))
	}
	if now.After(cred.Certificate.NotAfter) {
		report.Errors = append(report.Errors,
			fmt.Sprintf("certificate expired at %s", cred.Certificate.NotAfter.UTC().Format(time.RFC3339)))
	}

	remaining := cred.Certificate.NotAfter.Sub(now)
	report.ExpiresInDays = int(remaining.Hours() / 24)
	if remaining > 0 && remaining < expiryWarningWindow {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("certificate expires in %d days", report.ExpiresInDays))
	}

	canSign := true
	if cred.PrivateKey == nil {
		report.Errors = append(report.Errors, "credential has no private key")
		canSign = false
	} else if cred.PrivateKey.N.BitLen() < MinRSAKeyBits {
		report.Errors = append(report.Errors,
			fmt.Sprintf("RSA key size %d is below the required %d bits", cred.PrivateKey.N.BitLen(), MinRSAKeyBits))
		canSign = false
	}

	report.IsValid = len(report.Errors) == 0
	report.CanSign = report.IsValid && canSign
	return report
}

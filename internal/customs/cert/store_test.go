package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/hidrovia/customs/internal/customs/model"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// makeCredential builds a self-signed credential valid around testNow.
func makeCredential(t *testing.T, bits int, notBefore, notAfter time.Time) *Credential {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Hidrovia del Plata S.A."},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	certificate, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return &Credential{PrivateKey: key, Certificate: certificate}
}

// writePKCS12 encodes the credential into a .p12 file and returns its path.
func writePKCS12(t *testing.T, cred *Credential, passphrase string) string {
	t.Helper()
	data, err := pkcs12.Modern.Encode(cred.PrivateKey, cred.Certificate, nil, passphrase)
	if err != nil {
		t.Fatalf("failed to encode PKCS#12: %v", err)
	}
	path := filepath.Join(t.TempDir(), "company.p12")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write PKCS#12 file: %v", err)
	}
	return path
}

func TestLoadRoundTrip(t *testing.T) {
	cred := makeCredential(t, 2048, testNow.Add(-time.Hour), testNow.Add(365*24*time.Hour))
	path := writePKCS12(t, cred, "secret")

	s := NewStoreWithClock(func() time.Time { return testNow })
	loaded, err := s.Load(&model.CompanyProfile{
		Code:                  "HDV",
		CertificatePath:       path,
		CertificatePassphrase: "secret",
	})
	assert.NoError(t, err)
	assert.Equal(t, "Hidrovia del Plata S.A.", loaded.SubjectCommonName())

	key, certDER, err := loaded.GetKeyPair()
	assert.NoError(t, err)
	assert.NotNil(t, key)
	assert.Equal(t, cred.Certificate.Raw, certDER)
}

func TestLoadFailureModes(t *testing.T) {
	cred := makeCredential(t, 2048, testNow.Add(-time.Hour), testNow.Add(time.Hour))
	path := writePKCS12(t, cred, "secret")
	s := NewStore()

	_, err := s.Load(&model.CompanyProfile{Code: "HDV"})
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = s.Load(&model.CompanyProfile{Code: "HDV", CertificatePath: filepath.Join(t.TempDir(), "missing.p12")})
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = s.Load(&model.CompanyProfile{Code: "HDV", CertificatePath: path, CertificatePassphrase: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidPassword)

	garbled := filepath.Join(t.TempDir(), "garbled.p12")
	assert.NoError(t, os.WriteFile(garbled, []byte("not a pkcs12 container"), 0600))
	_, err = s.Load(&model.CompanyProfile{Code: "HDV", CertificatePath: garbled, CertificatePassphrase: "secret"})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestValidateExpiryBoundaries(t *testing.T) {
	notAfter := testNow.Add(90 * 24 * time.Hour)
	cred := makeCredential(t, 2048, testNow.Add(-time.Hour), notAfter)

	// Just inside validity.
	s := NewStoreWithClock(func() time.Time { return notAfter.Add(-time.Second) })
	report := s.Validate(cred)
	assert.True(t, report.IsValid)
	assert.True(t, report.CanSign)

	// Just past expiry.
	s = NewStoreWithClock(func() time.Time { return notAfter.Add(time.Second) })
	report = s.Validate(cred)
	assert.False(t, report.IsValid)
	assert.False(t, report.CanSign)
	assert.Contains(t, report.Errors[0], "expired")

	// Not yet valid.
	s = NewStoreWithClock(func() time.Time { return testNow.Add(-2 * time.Hour) })
	report = s.Validate(cred)
	assert.False(t, report.IsValid)
}

func TestValidateExpiryWarning(t *testing.T) {
	cred := makeCredential(t, 2048, testNow.Add(-time.Hour), testNow.Add(10*24*time.Hour))
	s := NewStoreWithClock(func() time.Time { return testNow })

	report := s.Validate(cred)
	assert.True(t, report.IsValid)
	assert.True(t, report.CanSign)
	assert.Equal(t, 10, report.ExpiresInDays)
	assert.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "expires in 10 days")
}

func TestValidateWeakKey(t *testing.T) {
	cred := makeCredential(t, 1024, testNow.Add(-time.Hour), testNow.Add(time.Hour))
	s := NewStoreWithClock(func() time.Time { return testNow })

	report := s.Validate(cred)
	assert.False(t, report.IsValid)
	assert.False(t, report.CanSign)
	assert.Contains(t, report.Errors[0], "below the required 2048 bits")
}

func TestSignEnveloped(t *testing.T) {
	cred := makeCredential(t, 2048, testNow.Add(-time.Hour), testNow.Add(time.Hour))
	s := NewStoreWithClock(func() time.Time { return testNow })

	doc := etree.NewDocument()
	root := doc.CreateElement("RegistrarMicDta")
	root.CreateAttr("ID", "declaration")
	root.CreateElement("IdTransaccion").SetText("HDV2026011500001")

	signed, err := s.Sign(doc, cred)
	assert.NoError(t, err)

	sig := signed.Root().FindElement("//Signature")
	assert.NotNil(t, sig, "signed document must carry an enveloped signature")
	assert.NotNil(t, signed.Root().FindElement("//SignatureValue"))
	// The payload itself is untouched.
	assert.Equal(t, "HDV2026011500001", signed.Root().FindElement("//IdTransaccion").Text())

	// Signing rebuilds the document; the XML declaration must survive so a
	// signed request serializes the same way an unsigned one does.
	serialized, err := signed.WriteToString()
	assert.NoError(t, err)
	assert.Contains(t, serialized, `<?xml version="1.0" encoding="utf-8"?>`)
}

func TestSignRefusesExpiredCredential(t *testing.T) {
	cred := makeCredential(t, 2048, testNow.Add(-2*time.Hour), testNow.Add(-time.Hour))
	s := NewStoreWithClock(func() time.Time { return testNow })

	doc := etree.NewDocument()
	doc.CreateElement("RegistrarMicDta")

	_, err := s.Sign(doc, cred)
	assert.ErrorIs(t, err, ErrNotSignable)
}

package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net/url"
	"testing"
	"time"

	"github.com/sigstore/sigstore-go/pkg/root"
)

// Identity values matching the release workflow of cri-o.
const (
	DefaultIssuer  = "https://token.actions.githubusercontent.com"
	DefaultSubject = "https://github.com/cri-o/cri-o/.github/workflows/test.yml@refs/heads/main"
)

// oidIssuer is the Fulcio extension carrying the OIDC issuer as a raw string.
var oidIssuer = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 57264, 1, 1}

// Signer produces keyless-style signatures: an ephemeral ECDSA key with a
// short-lived certificate naming a workflow identity.
type Signer struct {
	Key     *ecdsa.PrivateKey
	Cert    *x509.Certificate
	CertPEM []byte

	RootCert *x509.Certificate
	RootPEM  []byte
}

// NewSigner creates a signer for subject issued by issuer. The leaf
// certificate is signed by a throwaway root available in RootPEM.
func NewSigner(t *testing.T, issuer, subject string) *Signer {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate root key: %v", err)
	}

	now := time.Now()
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-fulcio-root"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("failed to create root certificate: %v", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		t.Fatalf("failed to parse root certificate: %v", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate signing key: %v", err)
	}

	san, err := url.Parse(subject)
	if err != nil {
		t.Fatalf("invalid subject %q: %v", subject, err)
	}

	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(10 * time.Minute),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		URIs:         []*url.URL{san},
		ExtraExtensions: []pkix.Extension{
			{Id: oidIssuer, Value: []byte(issuer)},
		},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("failed to create leaf certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		t.Fatalf("failed to parse leaf certificate: %v", err)
	}

	return &Signer{
		Key:      key,
		Cert:     leaf,
		CertPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER}),
		RootCert: rootCert,
		RootPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER}),
	}
}

// Sign returns the base64-encoded signature over blob, as cosign writes it.
func (s *Signer) Sign(t *testing.T, blob []byte) []byte {
	t.Helper()

	digest := sha256.Sum256(blob)
	sig, err := s.Key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		t.Fatalf("failed to sign blob: %v", err)
	}

	return []byte(base64.StdEncoding.EncodeToString(sig))
}

// CertificateFile returns the certificate as cosign publishes it: base64 of
// the PEM document.
func (s *Signer) CertificateFile() []byte {
	return []byte(base64.StdEncoding.EncodeToString(s.CertPEM))
}

// Authorities returns the signer's root as the only trusted Fulcio
// authority.
func (s *Signer) Authorities() []root.CertificateAuthority {
	return []root.CertificateAuthority{&root.FulcioCertificateAuthority{
		Root:                s.RootCert,
		ValidityPeriodStart: s.RootCert.NotBefore,
		ValidityPeriodEnd:   s.RootCert.NotAfter,
	}}
}

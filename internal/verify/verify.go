package verify

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/sigstore/sigstore-go/pkg/fulcio/certificate"
	"github.com/sigstore/sigstore-go/pkg/root"
	sgverify "github.com/sigstore/sigstore-go/pkg/verify"
	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"github.com/sigstore/sigstore/pkg/signature"
)

const (
	// DefaultIssuer is the OIDC issuer of GitHub Actions workload identities.
	DefaultIssuer = "https://token.actions.githubusercontent.com"
	// DefaultIdentityRegexp matches workflows of the cri-o repository.
	DefaultIdentityRegexp = `^https://github.com/cri-o/cri-o/.github/workflows/.+@refs/.+$`
)

var (
	ErrSignatureMismatch = errors.New("signature does not match blob")
	ErrIdentityMismatch  = errors.New("certificate identity mismatch")
	ErrUntrustedChain    = errors.New("certificate not issued by a trusted root")
	ErrMalformed         = errors.New("malformed verification material")
	ErrNoTrustRoot       = errors.New("no trusted certificate authority configured")
)

// VerificationError reports a failed provenance check.
type VerificationError struct {
	Subject string
	Err     error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify %s: %v", e.Subject, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Options configures the expected signer and the authorities it must chain
// to. Roots takes precedence over Authorities. With neither set every
// certificate is rejected.
type Options struct {
	Issuer         string
	IdentityRegexp string
	Roots          *x509.CertPool
	Authorities    []root.CertificateAuthority
}

// Verifier checks detached blob signatures.
type Verifier struct {
	identity    sgverify.CertificateIdentity
	roots       *x509.CertPool
	authorities []root.CertificateAuthority
}

// NewVerifier creates a Verifier. Empty options fall back to the cri-o
// release workflow identity.
func NewVerifier(opts Options) (*Verifier, error) {
	issuer := opts.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	identityRegexp := opts.IdentityRegexp
	if identityRegexp == "" {
		identityRegexp = DefaultIdentityRegexp
	}

	identity, err := sgverify.NewShortCertificateIdentity(issuer, "", "", identityRegexp)
	if err != nil {
		return nil, fmt.Errorf("build certificate identity: %w", err)
	}

	return &Verifier{identity: identity, roots: opts.Roots, authorities: opts.Authorities}, nil
}

// FetchPublicGoodAuthorities returns the Fulcio authorities of the public
// Sigstore instance, refreshed through its TUF repository.
func FetchPublicGoodAuthorities() ([]root.CertificateAuthority, error) {
	trustedRoot, err := root.FetchTrustedRoot()
	if err != nil {
		return nil, fmt.Errorf("fetch sigstore trusted root: %w", err)
	}
	return authorities(trustedRoot)
}

// LoadTrustedRoot reads the Fulcio authorities from a Sigstore
// trusted_root.json file.
func LoadTrustedRoot(path string) ([]root.CertificateAuthority, error) {
	trustedRoot, err := root.NewTrustedRootFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("load trusted root: %w", err)
	}
	return authorities(trustedRoot)
}

func authorities(tm root.TrustedMaterial) ([]root.CertificateAuthority, error) {
	cas := tm.FulcioCertificateAuthorities()
	if len(cas) == 0 {
		return nil, ErrNoTrustRoot
	}
	return cas, nil
}

// LoadRoots reads a PEM bundle of trusted Fulcio roots and intermediates.
func LoadRoots(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fulcio roots: %w", err)
	}

	certs, err := cryptoutils.UnmarshalCertificatesFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse fulcio roots: %w", err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("parse fulcio roots: no certificates in %s", path)
	}

	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool, nil
}

// VerifyBlob checks that sigPath holds a signature over the contents of
// blobPath made by the key of the certificate in certPath, and that the
// certificate names the expected identity.
func (v *Verifier) VerifyBlob(blobPath, sigPath, certPath string) error {
	if err := v.verifyBlob(blobPath, sigPath, certPath); err != nil {
		return &VerificationError{Subject: blobPath, Err: err}
	}
	return nil
}

func (v *Verifier) verifyBlob(blobPath, sigPath, certPath string) error {
	certs, err := readCertificates(certPath)
	if err != nil {
		return err
	}
	leaf := certs[0]

	if err := v.verifyChain(leaf, certs[1:]); err != nil {
		return err
	}

	summary, err := certificate.SummarizeCertificate(leaf)
	if err != nil {
		return fmt.Errorf("%w: summarize certificate: %w", ErrMalformed, err)
	}
	if err := v.identity.Verify(summary); err != nil {
		return fmt.Errorf("%w: %w", ErrIdentityMismatch, err)
	}

	sig, err := readSignature(sigPath)
	if err != nil {
		return err
	}

	verifier, err := signature.LoadVerifier(leaf.PublicKey, crypto.SHA256)
	if err != nil {
		return fmt.Errorf("%w: load public key: %w", ErrMalformed, err)
	}

	blob, err := os.Open(blobPath)
	if err != nil {
		return fmt.Errorf("open blob: %w", err)
	}
	defer blob.Close()

	if err := verifier.VerifySignature(bytes.NewReader(sig), blob); err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
	}

	return nil
}

// verifyChain checks the leaf at issuance time; Fulcio certificates expire
// minutes after signing.
func (v *Verifier) verifyChain(leaf *x509.Certificate, extra []*x509.Certificate) error {
	if v.roots == nil {
		return v.verifyAuthorities(leaf)
	}

	intermediates := x509.NewCertPool()
	for _, c := range extra {
		intermediates.AddCert(c)
	}

	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   leaf.NotBefore,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUntrustedChain, err)
	}
	return nil
}

func (v *Verifier) verifyAuthorities(leaf *x509.Certificate) error {
	if len(v.authorities) == 0 {
		return fmt.Errorf("%w: %w", ErrUntrustedChain, ErrNoTrustRoot)
	}

	var errs []error
	for _, ca := range v.authorities {
		_, err := ca.Verify(leaf, leaf.NotBefore)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("%w: %w", ErrUntrustedChain, errors.Join(errs...))
}

// readCertificates accepts PEM or base64-encoded PEM. The leaf comes first.
func readCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}

	data = bytes.TrimSpace(data)
	if !bytes.HasPrefix(data, []byte("-----BEGIN")) {
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("%w: certificate is neither PEM nor base64: %w", ErrMalformed, err)
		}
		data = decoded
	}

	certs, err := cryptoutils.UnmarshalCertificatesFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse certificate: %w", ErrMalformed, err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no certificate in %s", ErrMalformed, path)
	}

	return certs, nil
}

// readSignature accepts a base64-encoded or raw signature.
func readSignature(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrMalformed)
	}

	if decoded, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil {
		return decoded, nil
	}
	return data, nil
}

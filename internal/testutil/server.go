package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/artifact"
)

// Server is a fake artifact store that records every request path.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	requests []string
}

// NewServer starts a Server that is closed when the test ends. Unknown
// paths return 404.
func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{files: map[string][]byte{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)

	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.Path)
	data, ok := s.files[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = w.Write(data)
}

// Put publishes data at path.
func (s *Server) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
}

// Requests returns the request paths in arrival order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// RequestedSuffix reports whether any request path ended in suffix.
func (s *Server) RequestedSuffix(suffix string) bool {
	for _, p := range s.Requests() {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// Release describes a bundle to publish.
type Release struct {
	Bucket  string
	Arch    string
	Version string
	// Files maps paths inside the archive to their content. Paths include
	// the top-level directory.
	Files map[string]string
}

// BaseURL returns the bucket URL of the release on s.
func (s *Server) BaseURL(bucket string) string {
	return s.URL + "/" + bucket
}

// Publish places the release tarball, an SPDX SBOM of its files, and
// signatures and certificates made by signer on s. It returns the
// artifact set of the release.
func (s *Server) Publish(t *testing.T, signer *Signer, rel Release) artifact.Set {
	t.Helper()

	set := artifact.Locate(s.BaseURL(rel.Bucket), rel.Arch, rel.Version)
	tarball := TarGz(t, Files(rel.Files))
	sbom := SPDX(rel.Files)

	dir := "/" + rel.Bucket + "/artifacts/"
	s.Put(dir+set.TarballName, tarball)
	s.Put(dir+set.SBOMName, sbom)
	s.Put(dir+set.TarballName+artifact.SignatureSuffix, signer.Sign(t, tarball))
	s.Put(dir+set.TarballName+artifact.CertificateSuffix, signer.CertificateFile())
	s.Put(dir+set.SBOMName+artifact.SignatureSuffix, signer.Sign(t, sbom))
	s.Put(dir+set.SBOMName+artifact.CertificateSuffix, signer.CertificateFile())

	return set
}

// SPDX renders a tag-value SPDX document declaring files with SHA256 sums.
func SPDX(files map[string]string) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("SPDXVersion: SPDX-2.3\nDataLicense: CC0-1.0\nSPDXID: SPDXRef-DOCUMENT\nDocumentName: cri-o\n\n")
	b.WriteString("PackageName: cri-o\nSPDXID: SPDXRef-Package-cri-o\n\n")
	for i, name := range names {
		sum := sha256.Sum256([]byte(files[name]))
		fmt.Fprintf(&b, "FileName: ./%s\nSPDXID: SPDXRef-File-%d\nFileChecksum: SHA256: %s\n\n", name, i, hex.EncodeToString(sum[:]))
	}

	return []byte(b.String())
}

// Package acquire turns an artifact set into an extracted bundle tree.
//
// Two strategies exist. VerifiedAcquirer downloads the bundle with its
// signatures, certificates and SBOM and refuses to extract anything that
// fails verification. DirectAcquirer streams the bundle straight into the
// workspace without any provenance check. Select picks one at startup.
package acquire

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/artifact"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/extract"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/logger"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/verify"
)

// Workspace subdirectories.
const (
	DownloadDir = "download"
	ExtractDir  = "extract"
	DirectDir   = "cri-o"
)

// Acquirer produces the root of an extracted bundle below workDir.
type Acquirer interface {
	Acquire(ctx context.Context, set artifact.Set, workDir string) (string, error)
	Verified() bool
}

// Downloader retrieves remote objects. *fetch.Fetcher implements it.
type Downloader interface {
	Download(ctx context.Context, url, destPath string) error
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// BlobVerifier checks a detached signature. *verify.Verifier implements it.
type BlobVerifier interface {
	VerifyBlob(blobPath, sigPath, certPath string) error
}

// VerifiedAcquirer downloads and verifies before extracting.
type VerifiedAcquirer struct {
	downloader Downloader
	verifier   BlobVerifier
	checkSBOM  bool
}

// NewVerifiedAcquirer creates a VerifiedAcquirer. When checkSBOM is set the
// SBOM is also validated against the extracted files.
func NewVerifiedAcquirer(d Downloader, v BlobVerifier, checkSBOM bool) *VerifiedAcquirer {
	return &VerifiedAcquirer{downloader: d, verifier: v, checkSBOM: checkSBOM}
}

// Verified reports true.
func (a *VerifiedAcquirer) Verified() bool { return true }

// Acquire downloads the six artifacts, verifies the tarball and SBOM
// signatures and extracts the tarball without stripping. The returned root
// is the tarball's own top-level directory.
func (a *VerifiedAcquirer) Acquire(ctx context.Context, set artifact.Set, workDir string) (string, error) {
	downloadDir := filepath.Join(workDir, DownloadDir)

	for _, f := range set.Files() {
		logger.DebugKV(ctx, "Downloading", "url", f.URL)
		if err := a.downloader.Download(ctx, f.URL, filepath.Join(downloadDir, f.Name)); err != nil {
			return "", fmt.Errorf("download %s: %w", f.Name, err)
		}
	}

	for _, name := range []string{set.TarballName, set.SBOMName} {
		blob := filepath.Join(downloadDir, name)
		logger.InfoKV(ctx, "Verifying signature", "file", name)
		if err := a.verifier.VerifyBlob(blob, blob+artifact.SignatureSuffix, blob+artifact.CertificateSuffix); err != nil {
			return "", err
		}
	}

	extractDir := filepath.Join(workDir, ExtractDir)
	if err := extract.TarGzFile(filepath.Join(downloadDir, set.TarballName), extractDir, 0); err != nil {
		return "", fmt.Errorf("extract %s: %w", set.TarballName, err)
	}

	root, err := extract.SingleRoot(extractDir)
	if err != nil {
		return "", err
	}

	if a.checkSBOM {
		logger.InfoKV(ctx, "Validating SBOM", "file", set.SBOMName)
		if err := verify.ValidateSBOM(filepath.Join(downloadDir, set.SBOMName), extractDir); err != nil {
			return "", err
		}
	} else {
		logger.Debug(ctx, "Skipping SBOM validation")
	}

	return root, nil
}

// DirectAcquirer streams the tarball without verification.
type DirectAcquirer struct {
	downloader Downloader
}

// NewDirectAcquirer creates a DirectAcquirer.
func NewDirectAcquirer(d Downloader) *DirectAcquirer {
	return &DirectAcquirer{downloader: d}
}

// Verified reports false.
func (a *DirectAcquirer) Verified() bool { return false }

// Acquire extracts the tarball into workDir/cri-o, dropping its top-level
// directory. Only the tarball URL is requested.
func (a *DirectAcquirer) Acquire(ctx context.Context, set artifact.Set, workDir string) (string, error) {
	logger.DebugKV(ctx, "Streaming", "url", set.TarballURL)

	body, err := a.downloader.Open(ctx, set.TarballURL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", set.TarballName, err)
	}
	defer body.Close()

	root := filepath.Join(workDir, DirectDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create extract dir: %w", err)
	}

	if err := extract.TarGz(body, root, 1); err != nil {
		return "", fmt.Errorf("extract %s: %w", set.TarballName, err)
	}

	return root, nil
}

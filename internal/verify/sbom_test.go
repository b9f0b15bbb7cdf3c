package verify

import (
	"crypto/sha1" //nolint:gosec // Test fixture digests.
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/testutil"
)

func sum256(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// extractedTree lays out a small bundle below a fresh directory.
func extractedTree(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "cri-o/bin/crio", []byte("crio"))
	testutil.WriteFile(t, dir, "cri-o/etc/crictl.yaml", []byte("runtime-endpoint: unix:///var/run/crio/crio.sock\n"))
	return dir
}

func tagValueSBOM(files map[string]string) string {
	var b strings.Builder
	b.WriteString("SPDXVersion: SPDX-2.3\nDataLicense: CC0-1.0\nDocumentName: cri-o\n\n")
	b.WriteString("PackageName: cri-o\nSPDXID: SPDXRef-Package-cri-o\n\n")
	for name, sum := range files {
		fmt.Fprintf(&b, "FileName: %s\nSPDXID: SPDXRef-File-%s\nFileChecksum: SHA256: %s\n\n", name, filepath.Base(name), sum)
	}
	return b.String()
}

func TestValidateSBOMTagValue(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr error
	}{
		{
			name: "all_match",
			files: map[string]string{
				"./cri-o/bin/crio":       sum256("crio"),
				"cri-o/etc/crictl.yaml": sum256("runtime-endpoint: unix:///var/run/crio/crio.sock\n"),
			},
		},
		{
			name:    "checksum_mismatch",
			files:   map[string]string{"cri-o/bin/crio": sum256("tampered")},
			wantErr: ErrChecksumMismatch,
		},
		{
			name:    "missing_file",
			files:   map[string]string{"cri-o/bin/pinns": sum256("pinns")},
			wantErr: ErrMissingFile,
		},
		{
			name:    "escaping_path",
			files:   map[string]string{"../../etc/shadow": sum256("x")},
			wantErr: ErrMalformed,
		},
		{
			name:    "no_files",
			files:   map[string]string{},
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := extractedTree(t)
			sbom := testutil.WriteFile(t, t.TempDir(), "bundle.spdx", []byte(tagValueSBOM(tt.files)))

			err := ValidateSBOM(sbom, dir)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}

			var verr *VerificationError
			require.ErrorAs(t, err, &verr)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateSBOMJSON(t *testing.T) {
	dir := extractedTree(t)
	h512 := sha512.Sum512([]byte("crio"))
	h1 := sha1.Sum([]byte("runtime-endpoint: unix:///var/run/crio/crio.sock\n")) //nolint:gosec // Fixture.

	doc := fmt.Sprintf(`{
  "spdxVersion": "SPDX-2.3",
  "files": [
    {"fileName": "./cri-o/bin/crio", "checksums": [{"algorithm": "SHA512", "checksumValue": "%s"}]},
    {"fileName": "./cri-o/etc/crictl.yaml", "checksums": [{"algorithm": "SHA1", "checksumValue": "%s"}]}
  ]
}`, strings.ToUpper(hex.EncodeToString(h512[:])), hex.EncodeToString(h1[:]))

	sbom := testutil.WriteFile(t, t.TempDir(), "bundle.spdx.json", []byte(doc))
	require.NoError(t, ValidateSBOM(sbom, dir))
}

func TestValidateSBOMPrefersSHA256(t *testing.T) {
	dir := extractedTree(t)
	doc := `{"files": [{"fileName": "cri-o/bin/crio", "checksums": [
		{"algorithm": "SHA1", "checksumValue": "0000000000000000000000000000000000000000"},
		{"algorithm": "SHA256", "checksumValue": "` + sum256("crio") + `"}
	]}]}`

	sbom := testutil.WriteFile(t, t.TempDir(), "bundle.spdx.json", []byte(doc))
	require.NoError(t, ValidateSBOM(sbom, dir))
}

func TestValidateSBOMUnsupportedChecksum(t *testing.T) {
	dir := extractedTree(t)
	doc := `{"files": [{"fileName": "cri-o/bin/crio", "checksums": [{"algorithm": "MD5", "checksumValue": "abc"}]}]}`

	sbom := testutil.WriteFile(t, t.TempDir(), "bundle.spdx.json", []byte(doc))
	require.ErrorIs(t, ValidateSBOM(sbom, dir), ErrNoChecksum)
}

func TestParseSBOM(t *testing.T) {
	doc := `SPDXVersion: SPDX-2.3
PackageName: cri-o
FileName: ./bin/crio
FileChecksum: SHA1: AA
FileChecksum: SHA256: BB
FileName: ./bin/pinns
FileChecksum: SHA256: cc
`
	files, err := ParseSBOM(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "./bin/crio", files[0].Name)
	assert.Equal(t, map[string]string{"SHA1": "aa", "SHA256": "bb"}, files[0].Checksums)
	assert.Equal(t, "cc", files[1].Checksums["SHA256"])

	_, err = ParseSBOM(strings.NewReader("FileChecksum: SHA256: aa\n"))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = ParseSBOM(strings.NewReader("{not json"))
	require.ErrorIs(t, err, ErrMalformed)
}

// Package testutil provides utilities for testing crio-get in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// layoutVars are the install layout overrides read from the environment.
var layoutVars = []string{
	"PREFIX", "ETCDIR", "LIBEXECDIR", "LIBEXEC_CRIO_DIR", "BINDIR", "MANDIR",
	"OCIDIR", "BASHINSTALLDIR", "FISHINSTALLDIR", "ZSHINSTALLDIR",
	"OPT_CNI_BIN_DIR", "CNIDIR", "CONTAINERS_DIR", "CONTAINERS_REGISTRIES_CONFD_DIR",
	"SYSTEMDDIR", "CRIO_CONF_D",
}

// settingVars are the crio-get specific settings read from the environment.
var settingVars = []string{
	"GITHUB_TOKEN", "CRIO_GET_VERIFY", "CRIO_GET_MAX_PAGES", "CRIO_GET_LOG_LEVEL",
	"CRIO_GET_TRACE", "CRIO_GET_STORAGE_URL", "CRIO_GET_API_URL",
	"CRIO_GET_FULCIO_ROOTS", "CRIO_GET_TRUSTED_ROOT", "CRIO_GET_CERT_IDENTITY_REGEXP", "CRIO_GET_CERT_OIDC_ISSUER",
}

// SetupTestEnv isolates a test from the host installation.
// This ensures tests never write to:
// - /usr/local, /etc or /usr/libexec
// - the workspace parent of a real run
//
// Every install path resolves below the returned DESTDIR, TMPDIR points to a
// private directory, and settings inherited from the developer's shell are
// cleared. Cleanup is handled by t.TempDir().
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	destDir := filepath.Join(tmpDir, "root")
	tmp := filepath.Join(tmpDir, "tmp")

	for _, dir := range []string{destDir, tmp} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	for _, name := range append(layoutVars, settingVars...) {
		t.Setenv(name, "")
	}

	t.Setenv("DESTDIR", destDir)
	t.Setenv("TMPDIR", tmp)

	return destDir
}

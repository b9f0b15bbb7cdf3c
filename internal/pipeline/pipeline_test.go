package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/acquire"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/artifact"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/config"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/fetch"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/install"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/testutil"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/verify"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/version"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/workspace"
)

const testManifest = `entries:
  - {name: crio, kind: binary, dir: bindir, mode: "0755", sources: [bin/crio]}
  - {name: crictl-config, kind: config, dir: etcdir, mode: "0644", sources: [etc/crictl.yaml]}
`

var bundleFiles = map[string]string{
	"cri-o/bin/crio":        "crio-binary",
	"cri-o/etc/crictl.yaml": "runtime-endpoint: unix:///var/run/crio/crio.sock\n",
}

type fakeLabeler struct {
	enabled bool
	labeled []string
}

func (f *fakeLabeler) Enabled(context.Context) bool { return f.enabled }

func (f *fakeLabeler) Label(_ context.Context, paths []string) error {
	f.labeled = append(f.labeled, paths...)
	return nil
}

func lookPath(present ...string) config.LookPathFunc {
	return func(file string) (string, error) {
		for _, p := range present {
			if p == file {
				return "/usr/bin/" + file, nil
			}
		}
		return "", errors.New("executable file not found in $PATH")
	}
}

type harness struct {
	srv     *testutil.Server
	signer  *testutil.Signer
	cfg     *config.Config
	opts    Options
	destDir string
	tmpDir  string
	labeler *fakeLabeler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	manifest, err := install.ParseManifest([]byte(testManifest))
	require.NoError(t, err)

	srv := testutil.NewServer(t)
	h := &harness{
		srv:     srv,
		signer:  testutil.NewSigner(t, testutil.DefaultIssuer, testutil.DefaultSubject),
		destDir: t.TempDir(),
		tmpDir:  t.TempDir(),
		labeler: &fakeLabeler{},
	}

	h.cfg = &config.Config{
		Arch:           "amd64",
		Bucket:         "cri-o",
		StorageURL:     srv.URL,
		APIURL:         srv.URL + "/runs",
		MaxPages:       3,
		Verify:         acquire.ModeAuto,
		IdentityRegexp: verify.DefaultIdentityRegexp,
		OIDCIssuer:     verify.DefaultIssuer,
		Paths:          install.Paths{DestDir: h.destDir},
	}

	h.opts = Options{
		UserAgent:       "crio-get/test",
		FetchOptions:    []fetch.Option{fetch.WithRetry(2, time.Millisecond)},
		Limiter:         rate.NewLimiter(rate.Inf, 1),
		LookPath:        lookPath(),
		Labeler:         h.labeler,
		Processes:       func() ([]ps.Process, error) { return nil, nil },
		Manifest:        manifest,
		TrustedRoot:     func() ([]root.CertificateAuthority, error) { return h.signer.Authorities(), nil },
		WorkspaceParent: h.tmpDir,
	}

	return h
}

func (h *harness) publish(t *testing.T, v string) artifact.Set {
	t.Helper()
	return h.srv.Publish(t, h.signer, testutil.Release{Bucket: "cri-o", Arch: "amd64", Version: v, Files: bundleFiles})
}

func (h *harness) assertWorkspaceRemoved(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(h.tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace must be removed")
}

func (h *harness) installed(name string) string {
	return filepath.Join(h.destDir, name)
}

func TestRunDirect(t *testing.T) {
	h := newHarness(t)
	set := h.publish(t, "v1.31.0")
	h.srv.Put("/cri-o/latest-main.txt", []byte("v1.31.0\n"))

	res, err := Run(context.Background(), h.cfg, h.opts)
	require.NoError(t, err)

	assert.Equal(t, Target{Arch: "amd64", Version: "v1.31.0"}, res.Target)
	assert.False(t, res.Verified)
	assert.Equal(t, set.TarballURL, res.Set.TarballURL)

	got, err := os.ReadFile(h.installed("usr/local/bin/crio"))
	require.NoError(t, err)
	assert.Equal(t, "crio-binary", string(got))
	assert.FileExists(t, h.installed("etc/crictl.yaml"))
	assert.ElementsMatch(t, res.Files, h.labeler.labeled)

	assert.False(t, h.srv.RequestedSuffix(artifact.SignatureSuffix))
	assert.False(t, h.srv.RequestedSuffix(artifact.CertificateSuffix))
	assert.False(t, h.srv.RequestedSuffix(artifact.SBOMSuffix))
	h.assertWorkspaceRemoved(t)
}

func TestRunVerified(t *testing.T) {
	tests := []struct {
		name     string
		mode     acquire.Mode
		lookPath config.LookPathFunc
	}{
		{name: "cosign_on_path", mode: acquire.ModeAuto, lookPath: lookPath("cosign", "bom")},
		{name: "forced", mode: acquire.ModeAlways, lookPath: lookPath()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.publish(t, "v1.31.0")
			h.cfg.Version = "v1.31.0"
			h.cfg.Verify = tt.mode
			h.opts.LookPath = tt.lookPath

			res, err := Run(context.Background(), h.cfg, h.opts)
			require.NoError(t, err)

			assert.True(t, res.Verified)
			assert.FileExists(t, h.installed("usr/local/bin/crio"))
			assert.True(t, h.srv.RequestedSuffix(".tar.gz.sig"))
			assert.True(t, h.srv.RequestedSuffix(".spdx.cert"))
			assert.False(t, h.srv.RequestedSuffix(version.MarkerName), "explicit version skips the marker")
			h.assertWorkspaceRemoved(t)
		})
	}
}

func TestRunBadSignatureInstallsNothing(t *testing.T) {
	h := newHarness(t)
	set := h.publish(t, "v1.31.0")
	h.srv.Put("/cri-o/artifacts/"+set.TarballName+artifact.SignatureSuffix, h.signer.Sign(t, []byte("forged")))
	h.cfg.Version = "v1.31.0"
	h.cfg.Verify = acquire.ModeAlways

	_, err := Run(context.Background(), h.cfg, h.opts)

	var verr *verify.VerificationError
	require.ErrorAs(t, err, &verr)

	entries, rerr := os.ReadDir(h.destDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "no destination file may be written")
	h.assertWorkspaceRemoved(t)
}

func TestRunRejectsUntrustedSigner(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "v1.31.0")
	h.cfg.Version = "v1.31.0"
	h.cfg.Verify = acquire.ModeAlways

	other := testutil.NewSigner(t, testutil.DefaultIssuer, testutil.DefaultSubject)
	h.opts.TrustedRoot = func() ([]root.CertificateAuthority, error) { return other.Authorities(), nil }

	_, err := Run(context.Background(), h.cfg, h.opts)

	var verr *verify.VerificationError
	require.ErrorAs(t, err, &verr)
	require.ErrorIs(t, err, verify.ErrUntrustedChain)

	entries, rerr := os.ReadDir(h.destDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "no destination file may be written")
	h.assertWorkspaceRemoved(t)
}

func TestRunTrustedRootUnavailable(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "v1.31.0")
	h.cfg.Version = "v1.31.0"
	h.cfg.Verify = acquire.ModeAlways
	h.opts.TrustedRoot = func() ([]root.CertificateAuthority, error) {
		return nil, errors.New("tuf repository unreachable")
	}

	_, err := Run(context.Background(), h.cfg, h.opts)

	var verr *verify.VerificationError
	require.ErrorAs(t, err, &verr)
	require.ErrorIs(t, err, verify.ErrNoTrustRoot)
	assert.Empty(t, h.srv.Requests(), "no download without a trust anchor")
}

func TestRunFulcioRootsOverrideTrustedRoot(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "v1.31.0")
	h.cfg.Version = "v1.31.0"
	h.cfg.Verify = acquire.ModeAlways
	h.cfg.FulcioRoots = testutil.WriteFile(t, t.TempDir(), "fulcio.pem", h.signer.RootPEM)
	h.opts.TrustedRoot = func() ([]root.CertificateAuthority, error) {
		t.Error("trusted root must not be loaded when a PEM bundle is configured")
		return nil, errors.New("unexpected")
	}

	res, err := Run(context.Background(), h.cfg, h.opts)
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestRunResolvesFromBuildStatus(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "deadbeef")

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			_, _ = w.Write([]byte(`{"workflow_runs":[
				{"name":"test","head_branch":"main","conclusion":"failure","head_sha":"cafebabe"},
				{"name":"test","head_branch":"main","conclusion":"success","head_sha":"deadbeef"}
			]}`))
			return
		}
		_, _ = w.Write([]byte(`{"workflow_runs":[]}`))
	}))
	t.Cleanup(api.Close)
	h.cfg.APIURL = api.URL

	res, err := Run(context.Background(), h.cfg, h.opts)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", res.Target.Version)
}

func TestRunResolutionFailure(t *testing.T) {
	h := newHarness(t)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"workflow_runs":[]}`))
	}))
	t.Cleanup(api.Close)
	h.cfg.APIURL = api.URL

	_, err := Run(context.Background(), h.cfg, h.opts)

	var resErr *version.ResolutionError
	require.ErrorAs(t, err, &resErr)
	h.assertWorkspaceRemoved(t)
}

func TestRunPreflightBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	h.labeler.enabled = true

	_, err := Run(context.Background(), h.cfg, h.opts)

	var reqErr *config.RequirementError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "restorecon", reqErr.Tool)
	assert.Empty(t, h.srv.Requests())
}

func TestRunConcurrentRunIsRejected(t *testing.T) {
	h := newHarness(t)
	h.cfg.Version = "v1.31.0"
	h.publish(t, "v1.31.0")

	held, err := workspace.AcquireLock(h.tmpDir)
	require.NoError(t, err)

	_, err = Run(context.Background(), h.cfg, h.opts)
	require.ErrorIs(t, err, workspace.ErrLocked)
	assert.Empty(t, h.srv.Requests())

	require.NoError(t, held.Release())
	_, err = Run(context.Background(), h.cfg, h.opts)
	require.NoError(t, err)
	h.assertWorkspaceRemoved(t)
}

func TestRunCancelledRemovesWorkspace(t *testing.T) {
	h := newHarness(t)
	h.cfg.Version = "v1.31.0"

	started := make(chan struct{})
	var once sync.Once
	slow := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-r.Context().Done()
	}))
	t.Cleanup(slow.Close)
	h.cfg.StorageURL = slow.URL

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := Run(ctx, h.cfg, h.opts)
		errCh <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("download never started")
	}

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	h.assertWorkspaceRemoved(t)
}

func TestRunInvalidFulcioRoots(t *testing.T) {
	h := newHarness(t)
	h.cfg.Verify = acquire.ModeAlways
	h.cfg.FulcioRoots = filepath.Join(t.TempDir(), "missing.pem")

	_, err := Run(context.Background(), h.cfg, h.opts)

	var argErr *config.ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Empty(t, h.srv.Requests())
}

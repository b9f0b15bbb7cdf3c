// Package pipeline runs one installation from configuration to installed
// files.
//
// The stages run strictly in order: preflight, lock, workspace, resolve, locate,
// acquire, install. The first error aborts the run. The workspace is
// removed on every exit path, including cancellation of ctx.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"

	"github.com/sigstore/sigstore-go/pkg/root"
	"golang.org/x/time/rate"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/acquire"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/artifact"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/config"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/fetch"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/install"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/logger"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/telemetry"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/verify"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/version"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/workspace"
)

// Target is the build to install. It is fixed once resolution finishes.
type Target struct {
	Arch    string
	Version string
}

// Result summarizes a completed run.
type Result struct {
	Target   Target
	Set      artifact.Set
	Verified bool
	Files    []string
}

// Labeler applies security labels and reports whether labeling is active.
type Labeler interface {
	install.Labeler
	Enabled(ctx context.Context) bool
}

// Options carries collaborators that are replaced in tests.
type Options struct {
	UserAgent    string
	HTTPClient   *http.Client
	FetchOptions []fetch.Option
	Limiter      *rate.Limiter
	LookPath     config.LookPathFunc
	Labeler      Labeler
	Processes    install.ProcessLister
	Manifest     *install.Manifest
	// TrustedRoot loads the default Fulcio authorities. It is only called
	// when verification runs without a configured trust file.
	TrustedRoot func() ([]root.CertificateAuthority, error)
	// WorkspaceParent defaults to os.TempDir.
	WorkspaceParent string
}

func (o *Options) withDefaults() error {
	if o.LookPath == nil {
		o.LookPath = exec.LookPath
	}
	if o.TrustedRoot == nil {
		o.TrustedRoot = verify.FetchPublicGoodAuthorities
	}
	if o.Labeler == nil {
		o.Labeler = install.NewSELinuxLabeler(nil)
	}
	if o.Manifest == nil {
		m, err := install.DefaultManifest()
		if err != nil {
			return err
		}
		o.Manifest = m
	}
	return nil
}

// Run installs the build described by cfg.
func Run(ctx context.Context, cfg *config.Config, opts Options) (res *Result, err error) {
	if err := opts.withDefaults(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.Start(ctx, "pipeline")
	defer func() { telemetry.End(span, err) }()

	if err := preflight(ctx, opts); err != nil {
		return nil, err
	}

	fetcher := newFetcher(opts)
	acquirer, err := selectAcquirer(cfg, opts, fetcher)
	if err != nil {
		return nil, err
	}
	if !acquirer.Verified() {
		logger.Warn(ctx, "Signature verification is disabled; install cosign or set CRIO_GET_VERIFY=always to verify the bundle")
	}

	lock, err := workspace.AcquireLock(opts.WorkspaceParent)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			logger.WarnKV(ctx, "Failed to remove lock file", "error", rerr)
		}
	}()

	ws, err := workspace.Acquire(opts.WorkspaceParent, "")
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := ws.Release(); rerr != nil {
			logger.WarnKV(ctx, "Failed to remove workspace", "error", rerr)
		}
	}()

	workDir, err := ws.Path()
	if err != nil {
		return nil, err
	}
	logger.DebugKV(ctx, "Workspace acquired", "path", workDir)

	target, err := resolve(ctx, cfg, opts, fetcher)
	if err != nil {
		return nil, err
	}

	set := artifact.Locate(cfg.BaseURL(), target.Arch, target.Version)

	bundleRoot, err := stage(ctx, "acquire", func(ctx context.Context) (string, error) {
		return acquirer.Acquire(ctx, set, workDir)
	})
	if err != nil {
		return nil, err
	}

	installer := install.NewInstaller(opts.Manifest, install.NewLayout(cfg.Paths), installerOptions(opts)...)
	result, err := stage(ctx, "install", func(ctx context.Context) (*install.Result, error) {
		return installer.Install(ctx, bundleRoot)
	})
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "CRI-O installed", "version", target.Version, "arch", target.Arch, "verified", acquirer.Verified())

	return &Result{
		Target:   target,
		Set:      set,
		Verified: acquirer.Verified(),
		Files:    result.Files,
	}, nil
}

// preflight checks host requirements before any network access.
func preflight(ctx context.Context, opts Options) error {
	if opts.Labeler.Enabled(ctx) {
		logger.Debug(ctx, "SELinux is enabled")
		return config.RequireTools(opts.LookPath, "restorecon")
	}
	return nil
}

func newFetcher(opts Options) *fetch.Fetcher {
	fopts := []fetch.Option{}
	if opts.UserAgent != "" {
		fopts = append(fopts, fetch.WithUserAgent(opts.UserAgent))
	}
	if opts.HTTPClient != nil {
		fopts = append(fopts, fetch.WithClient(opts.HTTPClient))
	}
	return fetch.New(append(fopts, opts.FetchOptions...)...)
}

func selectAcquirer(cfg *config.Config, opts Options, fetcher *fetch.Fetcher) (acquire.Acquirer, error) {
	caps := acquire.Probe(acquire.LookPathFunc(opts.LookPath))

	var verifier acquire.BlobVerifier
	if cfg.Verify == acquire.ModeAlways || (cfg.Verify == acquire.ModeAuto && caps.Signature) {
		v, err := newVerifier(cfg, opts)
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	return acquire.Select(caps, cfg.Verify, fetcher, verifier), nil
}

// newVerifier anchors verification in the first configured trust source:
// a PEM bundle, a trusted_root.json file, or the public Sigstore root.
func newVerifier(cfg *config.Config, opts Options) (*verify.Verifier, error) {
	vopts := verify.Options{
		Issuer:         cfg.OIDCIssuer,
		IdentityRegexp: cfg.IdentityRegexp,
	}

	switch {
	case cfg.FulcioRoots != "":
		roots, err := verify.LoadRoots(cfg.FulcioRoots)
		if err != nil {
			return nil, &config.ArgumentError{Name: "CRIO_GET_FULCIO_ROOTS", Value: cfg.FulcioRoots, Err: err}
		}
		vopts.Roots = roots

	case cfg.TrustedRoot != "":
		cas, err := verify.LoadTrustedRoot(cfg.TrustedRoot)
		if err != nil {
			return nil, &config.ArgumentError{Name: "CRIO_GET_TRUSTED_ROOT", Value: cfg.TrustedRoot, Err: err}
		}
		vopts.Authorities = cas

	default:
		cas, err := opts.TrustedRoot()
		if err != nil {
			return nil, &verify.VerificationError{Subject: "sigstore trusted root", Err: fmt.Errorf("%w: %w", verify.ErrNoTrustRoot, err)}
		}
		vopts.Authorities = cas
	}

	v, err := verify.NewVerifier(vopts)
	if err != nil {
		return nil, &config.ArgumentError{Name: "CRIO_GET_CERT_IDENTITY_REGEXP", Value: cfg.IdentityRegexp, Err: err}
	}
	return v, nil
}

func resolve(ctx context.Context, cfg *config.Config, opts Options, fetcher *fetch.Fetcher) (Target, error) {
	ropts := []version.Option{
		version.WithAPIURL(cfg.APIURL),
		version.WithToken(cfg.Token),
		version.WithMaxPages(cfg.MaxPages),
	}
	if opts.Limiter != nil {
		ropts = append(ropts, version.WithLimiter(opts.Limiter))
	}
	resolver := version.NewResolver(fetcher, cfg.BaseURL(), ropts...)

	v, err := stage(ctx, "resolve", func(ctx context.Context) (string, error) {
		return resolver.Resolve(ctx, cfg.Version)
	})
	if err != nil {
		return Target{}, err
	}

	return Target{Arch: cfg.Arch, Version: v}, nil
}

func installerOptions(opts Options) []install.Option {
	iopts := []install.Option{install.WithLabeler(opts.Labeler)}
	if opts.Processes != nil {
		iopts = append(iopts, install.WithProcessLister(opts.Processes))
	}
	return iopts
}

// stage runs fn inside a named span and logger.
func stage[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := telemetry.Start(logger.WithName(ctx, name), name)

	res, err := fn(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%s interrupted: %w", name, err)
	}

	telemetry.End(span, err)
	return res, err
}

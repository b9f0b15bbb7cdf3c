package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/config"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/logger"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/pipeline"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/platform"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/telemetry"
)

// deps are the collaborators of one invocation.
type deps struct {
	stdout   io.Writer
	stderr   io.Writer
	viper    func() *viper.Viper
	detector config.ArchDetector
	host     platform.Detector
	options  pipeline.Options
	run      func(ctx context.Context, cfg *config.Config, opts pipeline.Options) (*pipeline.Result, error)
}

func defaultDeps() deps {
	return deps{
		stdout: os.Stdout,
		stderr: os.Stderr,
		viper:  config.NewViper,
		host:   platform.NewDetector(),
		run:    pipeline.Run,
	}
}

func newRootCmd(d deps) *cobra.Command {
	var flags config.Flags

	cmd := &cobra.Command{
		Use:   "crio-get [flags]",
		Short: "Install CRI-O from its static release bundles",
		Long: `crio-get installs the CRI-O container runtime from the static bundles
published to Google Cloud Storage.

Without --tag the newest successful build of the main branch is installed.
When cosign is on PATH (or CRIO_GET_VERIFY=always) the bundle and its SBOM
are signature-checked before anything is extracted. Certificates must chain
to the public Sigstore root unless CRIO_GET_TRUSTED_ROOT or
CRIO_GET_FULCIO_ROOTS names another.`,
		Example: `  crio-get
  crio-get -t v1.31.0
  crio-get -a arm64 -b cri-o-dev
  DESTDIR=/tmp/stage PREFIX=/usr crio-get -t v1.31.0`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Argument parsing succeeded; later failures are not usage errors.
			cmd.SilenceUsage = true
			return runInstall(cmd.Context(), flags, d)
		},
	}

	cmd.SetOut(d.stdout)
	cmd.SetErr(d.stderr)

	cmd.Flags().StringVarP(&flags.Arch, "arch", "a", "", "target architecture: amd64 or arm64 (default: host architecture)")
	cmd.Flags().StringVarP(&flags.Tag, "tag", "t", "", "version tag or commit to install (default: latest main build)")
	cmd.Flags().StringVarP(&flags.Bucket, "bucket", "b", config.DefaultBucket, "storage bucket holding the release bundles")

	return cmd
}

func runInstall(ctx context.Context, flags config.Flags, d deps) error {
	cfg, err := config.Load(ctx, flags, d.viper(), d.detector)
	if err != nil {
		return err
	}

	logger.SetLevel(cfg.LogLevel)
	logger.DebugKV(ctx, "Configuration loaded", cfg.LogFields()...)
	reportHost(ctx, d.host)

	shutdown, err := telemetry.Setup(cfg.Trace, d.stderr, "crio-get", Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.DebugKV(ctx, "Trace shutdown failed", "error", err)
		}
	}()

	opts := d.options
	if opts.UserAgent == "" {
		opts.UserAgent = "crio-get/" + Version
	}

	res, err := d.run(ctx, cfg, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(d.stdout, "Installed CRI-O %s (%s), %d files\n", res.Target.Version, res.Target.Arch, len(res.Files))
	return nil
}

// reportHost logs the host platform when debug logging is on.
func reportHost(ctx context.Context, host platform.Detector) {
	if host == nil || !logger.Level().Enabled(zapcore.DebugLevel) {
		return
	}

	info, err := host.Detect(ctx)
	if err != nil {
		logger.DebugKV(ctx, "Host detection failed", "error", err)
		return
	}
	logger.DebugKV(ctx, "Host detected", info.LogFields()...)
}

// execute runs the command line and returns the process exit code.
func execute(args []string, d deps) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer logger.Sync()

	cmd := newRootCmd(d)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.ErrorKV(ctx, "crio-get failed", "error", config.Redact(err.Error()))
		return 1
	}

	return 0
}

package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/config"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/logger"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/pipeline"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/platform"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/testutil"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/version"
)

type fixedArch string

func (a fixedArch) DetectArch(context.Context) (string, error) {
	if a == "" {
		return "", errors.New("unsupported architecture: \"riscv64\"")
	}
	return string(a), nil
}

type fakeHost struct {
	calls int
}

func (h *fakeHost) Detect(context.Context) (*platform.Info, error) {
	h.calls++
	return &platform.Info{OS: "linux", Arch: "amd64", ArchRaw: "x86_64", Platform: "fedora", Family: platform.FamilyFedora, Version: "40"}, nil
}

type recorder struct {
	calls int
	cfg   *config.Config
	opts  pipeline.Options
	err   error
}

func (r *recorder) run(_ context.Context, cfg *config.Config, opts pipeline.Options) (*pipeline.Result, error) {
	r.calls++
	r.cfg = cfg
	r.opts = opts
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Result{
		Target: pipeline.Target{Arch: cfg.Arch, Version: "v1.31.0"},
		Files:  []string{"/usr/local/bin/crio"},
	}, nil
}

func testDeps(arch fixedArch, rec *recorder) (deps, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer

	d := defaultDeps()
	d.stdout = &stdout
	d.stderr = &stderr
	d.detector = arch
	d.host = &fakeHost{}
	d.run = rec.run

	return d, &stdout, &stderr
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		arch       fixedArch
		wantCode   int
		wantCalls  int
		wantStdout string
	}{
		{name: "help_short", args: []string{"-h"}, arch: "amd64", wantCode: 0, wantStdout: "--tag"},
		{name: "help_long", args: []string{"--help"}, arch: "amd64", wantCode: 0, wantStdout: "--bucket"},
		{name: "version", args: []string{"--version"}, arch: "amd64", wantCode: 0, wantStdout: Version},
		{name: "unknown_flag", args: []string{"-x"}, arch: "amd64", wantCode: 1, wantStdout: "Usage:"},
		{name: "positional_argument", args: []string{"install"}, arch: "amd64", wantCode: 1, wantStdout: "Usage:"},
		{name: "missing_flag_value", args: []string{"-t"}, arch: "amd64", wantCode: 1, wantStdout: "Usage:"},
		{name: "defaults", args: nil, arch: "amd64", wantCode: 0, wantCalls: 1, wantStdout: "Installed CRI-O v1.31.0 (amd64)"},
		{name: "bad_arch_flag", args: []string{"-a", "s390x"}, arch: "amd64", wantCode: 1},
		{name: "unsupported_host", args: nil, arch: "", wantCode: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.SetupTestEnv(t)
			rec := &recorder{}
			d, stdout, _ := testDeps(tt.arch, rec)

			code := execute(tt.args, d)

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantCalls, rec.calls, "pipeline must not run on argument errors")
			if tt.wantStdout != "" {
				assert.Contains(t, stdout.String(), tt.wantStdout)
			}
		})
	}
}

func TestExecutePassesFlags(t *testing.T) {
	testutil.SetupTestEnv(t)
	rec := &recorder{}
	d, _, _ := testDeps("amd64", rec)

	code := execute([]string{"-a", "x86_64", "-t", "deadbeef", "-b", "cri-o-dev"}, d)
	require.Equal(t, 0, code)

	require.NotNil(t, rec.cfg)
	assert.Equal(t, "amd64", rec.cfg.Arch)
	assert.Equal(t, "deadbeef", rec.cfg.Version)
	assert.Equal(t, "https://storage.googleapis.com/cri-o-dev", rec.cfg.BaseURL())
	assert.Equal(t, "crio-get/"+Version, rec.opts.UserAgent)
}

func TestExecutePipelineFailure(t *testing.T) {
	testutil.SetupTestEnv(t)
	rec := &recorder{err: &version.ResolutionError{Reason: "run list exhausted", Err: version.ErrNoQualifyingRun}}
	d, stdout, _ := testDeps("arm64", rec)

	code := execute(nil, d)

	assert.Equal(t, 1, code)
	assert.Equal(t, 1, rec.calls)
	assert.NotContains(t, stdout.String(), "Usage:", "runtime failures do not print usage")
}

func TestExecuteReportsHostOnlyWhenDebugging(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantCalls int
	}{
		{name: "info", level: "info", wantCalls: 0},
		{name: "debug", level: "debug", wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.SetupTestEnv(t)
			t.Setenv("CRIO_GET_LOG_LEVEL", tt.level)
			t.Cleanup(func() { logger.SetLevel(zapcore.InfoLevel) })

			host := &fakeHost{}
			d, _, _ := testDeps("amd64", &recorder{})
			d.host = host

			require.Equal(t, 0, execute(nil, d))
			assert.Equal(t, tt.wantCalls, host.calls)
		})
	}
}

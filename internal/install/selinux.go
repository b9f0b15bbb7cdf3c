package install

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/logger"
)

// Labeler applies security labels to installed files.
type Labeler interface {
	Label(ctx context.Context, paths []string) error
}

// NopLabeler leaves labels untouched.
type NopLabeler struct{}

// Label does nothing.
func (NopLabeler) Label(context.Context, []string) error { return nil }

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// SELinuxLabeler restores default SELinux contexts with restorecon.
type SELinuxLabeler struct {
	run Runner
}

// NewSELinuxLabeler creates a labeler. A nil run executes real commands.
func NewSELinuxLabeler(run Runner) *SELinuxLabeler {
	if run == nil {
		run = execRunner
	}
	return &SELinuxLabeler{run: run}
}

// Enabled reports whether selinuxenabled exits successfully.
func (l *SELinuxLabeler) Enabled(ctx context.Context) bool {
	_, err := l.run(ctx, "selinuxenabled")
	return err == nil
}

// Label runs restorecon -F on paths when SELinux is enabled.
func (l *SELinuxLabeler) Label(ctx context.Context, paths []string) error {
	if len(paths) == 0 || !l.Enabled(ctx) {
		return nil
	}

	logger.InfoKV(ctx, "Restoring SELinux contexts", "files", len(paths))

	args := append([]string{"-F"}, paths...)
	if out, err := l.run(ctx, "restorecon", args...); err != nil {
		return &InstallError{
			Path: strings.Join(paths, " "),
			Err:  fmt.Errorf("restorecon: %w: %s", err, strings.TrimSpace(string(out))),
		}
	}

	return nil
}

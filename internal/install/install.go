// Package install copies an extracted CRI-O bundle into its destination
// directories.
//
// What is copied and where is defined by the embedded manifest and a Layout
// built from Paths. Binaries are replaced atomically so a running daemon
// keeps its old executable until restarted. There is no rollback: a failure
// leaves earlier files in place.
package install

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/mitchellh/go-ps"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/logger"
)

// DaemonName is the executable name of the CRI-O daemon.
const DaemonName = "crio"

var (
	// ErrMissingSource is returned when a required manifest source matches nothing.
	ErrMissingSource = errors.New("source not found in bundle")
	// ErrOutsideBundle is returned for sources that resolve outside the bundle.
	ErrOutsideBundle = errors.New("source resolves outside the bundle")
)

// InstallError reports a failed filesystem operation.
type InstallError struct {
	Path string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %v", e.Path, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// Result lists installed files in installation order.
type Result struct {
	Files []string
}

// ProcessLister lists running processes. ps.Processes implements it.
type ProcessLister func() ([]ps.Process, error)

// Installer copies bundle files according to a manifest.
type Installer struct {
	manifest  *Manifest
	layout    Layout
	labeler   Labeler
	processes ProcessLister
}

// Option configures an Installer.
type Option func(*Installer)

// WithLabeler sets the security labeler applied after copying.
func WithLabeler(l Labeler) Option {
	return func(i *Installer) {
		i.labeler = l
	}
}

// WithProcessLister replaces the process listing used for the running
// daemon check.
func WithProcessLister(p ProcessLister) Option {
	return func(i *Installer) {
		i.processes = p
	}
}

// NewInstaller creates an Installer.
func NewInstaller(m *Manifest, layout Layout, opts ...Option) *Installer {
	i := &Installer{
		manifest:  m,
		layout:    layout,
		labeler:   NopLabeler{},
		processes: ps.Processes,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Install copies every manifest entry found under root.
func (i *Installer) Install(ctx context.Context, root string) (*Result, error) {
	i.warnIfRunning(ctx)

	result := &Result{}
	for _, entry := range i.manifest.Entries {
		files, err := i.installEntry(ctx, root, entry)
		result.Files = append(result.Files, files...)
		if err != nil {
			return result, err
		}
	}

	if err := i.labeler.Label(ctx, result.Files); err != nil {
		return result, err
	}

	logger.InfoKV(ctx, "Installed files", "count", len(result.Files))
	return result, nil
}

func (i *Installer) installEntry(ctx context.Context, root string, entry Entry) ([]string, error) {
	dir, err := i.layout.Dir(entry.Dir)
	if err != nil {
		return nil, &InstallError{Path: entry.Name, Err: err}
	}

	sources, err := expand(root, entry)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		logger.DebugKV(ctx, "Skipping optional entry", "entry", entry.Name)
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &InstallError{Path: dir, Err: err}
	}

	mode := fs.FileMode(entry.Mode)
	installed := make([]string, 0, len(sources))
	for _, src := range sources {
		dest := filepath.Join(dir, filepath.Base(src))

		if entry.Kind == KindBinary {
			err = replaceBinary(src, dest, mode)
		} else {
			err = copyFile(src, dest, mode)
		}
		if err != nil {
			return installed, &InstallError{Path: dest, Err: err}
		}

		logger.DebugKV(ctx, "Installed", "file", dest)
		installed = append(installed, dest)
	}

	return installed, nil
}

// expand resolves the source globs of entry below root. Directories are
// ignored.
func expand(root string, entry Entry) ([]string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, &InstallError{Path: root, Err: err}
	}

	var sources []string

	for _, pattern := range entry.Sources {
		matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, &InstallError{Path: pattern, Err: err}
		}
		sort.Strings(matches)

		found := false
		for _, m := range matches {
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				return nil, &InstallError{Path: m, Err: err}
			}
			if resolved != realRoot && !strings.HasPrefix(resolved, realRoot+string(os.PathSeparator)) {
				return nil, &InstallError{Path: m, Err: ErrOutsideBundle}
			}

			info, err := os.Stat(resolved)
			if err != nil {
				return nil, &InstallError{Path: m, Err: err}
			}
			if info.IsDir() {
				continue
			}
			sources = append(sources, m)
			found = true
		}

		if !found && !entry.Optional {
			return nil, &InstallError{Path: pattern, Err: fmt.Errorf("%w (entry %s)", ErrMissingSource, entry.Name)}
		}
	}

	return sources, nil
}

// replaceBinary swaps dest for src in a single rename after the new
// content has been written and checked.
func replaceBinary(src, dest string, mode fs.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	// The updater renames the current target away, so one must exist.
	if _, err := os.Stat(dest); errors.Is(err, fs.ErrNotExist) {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY, mode)
		if err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	sum := sha256.Sum256(data)
	err = goupdate.Apply(bytes.NewReader(data), goupdate.Options{
		TargetPath: dest,
		TargetMode: mode,
		Checksum:   sum[:],
		Hash:       crypto.SHA256,
	})
	if err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rerr)
		}
		return err
	}

	if err := os.Remove(dest + ".old"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return os.Chmod(dest, mode)
}

// copyFile writes src to dest through a temporary file in dest's directory.
func copyFile(src, dest string, mode fs.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	cleanupNeeded := true
	defer func() {
		tmp.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return err
	}

	cleanupNeeded = false
	return nil
}

// warnIfRunning logs when the daemon is running, since it keeps using the
// old binaries until restarted.
func (i *Installer) warnIfRunning(ctx context.Context) {
	processes, err := i.processes()
	if err != nil {
		logger.DebugKV(ctx, "Cannot list processes", "error", err)
		return
	}

	for _, p := range processes {
		if p.Executable() == DaemonName {
			logger.WarnKV(ctx, "CRI-O is running; restart the service to use the new version", "pid", p.Pid())
			return
		}
	}
}

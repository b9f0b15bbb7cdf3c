package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"
)

const (
	// LockName is the lock file created in the workspace parent.
	LockName = "crio-get.lock"
	// StaleLockAge is the age after which a lock without a readable pid is
	// taken over.
	StaleLockAge = 10 * time.Minute
)

var (
	// ErrLocked is returned when another run holds the lock.
	ErrLocked = errors.New("another crio-get run is in progress")
	// ErrUnsafeLockDir is returned when the per-user lock directory is not a
	// private directory owned by the current user.
	ErrUnsafeLockDir = errors.New("lock directory is not private to the current user")
)

// Lock serializes runs that share a workspace parent.
type Lock struct {
	path string
	file *os.File
}

type lockEnv struct {
	now   func() time.Time
	alive func(pid int) bool
}

// AcquireLock creates the lock file in dir. An empty dir uses a directory
// private to the current user below os.TempDir.
//
// An existing lock is taken over when its owner process is gone. Locks
// without a pid fall back to StaleLockAge.
func AcquireLock(dir string) (*Lock, error) {
	return acquireLock(dir, lockEnv{now: time.Now, alive: processAlive})
}

func acquireLock(dir string, env lockEnv) (*Lock, error) {
	if dir == "" {
		d, err := userLockDir()
		if err != nil {
			return nil, err
		}
		dir = d
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	path := filepath.Join(dir, LockName)

	file, err := create(path)
	if errors.Is(err, os.ErrExist) {
		if !abandoned(path, env) {
			return nil, fmt.Errorf("%w (lock file %s)", ErrLocked, path)
		}
		_ = os.Remove(path)
		file, err = create(path)
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w (lock file %s)", ErrLocked, path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	data := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), env.now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(data); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	return &Lock{path: path, file: file}, nil
}

// userLockDir returns os.TempDir()/crio-get-<uid>, creating it with mode
// 0700. An existing entry must be a real directory owned by the caller
// that nobody else can write to.
func userLockDir() (string, error) {
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("crio-get-%d", os.Getuid()))

	if err := os.Mkdir(dir, 0o700); err != nil && !errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("create lock directory: %w", err)
	}

	info, err := os.Lstat(dir)
	if err != nil {
		return "", fmt.Errorf("create lock directory: %w", err)
	}
	if !info.IsDir() || info.Mode().Perm()&0o077 != 0 || !ownedByCaller(info) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeLockDir, dir)
	}

	return dir, nil
}

func create(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
}

// abandoned reports whether the lock at path may be taken over.
func abandoned(path string, env lockEnv) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	if pid, ok := lockPID(string(data)); ok {
		return pid != os.Getpid() && !env.alive(pid)
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return env.now().Sub(info.ModTime()) > StaleLockAge
}

func lockPID(data string) (int, bool) {
	for _, line := range strings.Split(data, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(v)
		if err != nil || pid <= 0 {
			return 0, false
		}
		return pid, true
	}
	return 0, false
}

func processAlive(pid int) bool {
	p, err := ps.FindProcess(pid)
	if err != nil {
		// Unknown counts as alive so a lock is never stolen on a lookup error.
		return true
	}
	return p != nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if l.path == "" {
		return nil
	}

	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

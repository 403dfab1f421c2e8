package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const lockFileName = ".trady.lock"

// ErrLocked is returned when another live process owns the output directory.
var ErrLocked = errors.New("output directory locked")

// Lock guards a series directory against two downloaders appending to the same files.
type Lock struct {
	path string
	file *os.File
}

type LockOptions struct {
	// TakeoverEnabled allows replacing a lock whose owner process is gone, or an
	// ownerless one older than StaleAfter.
	TakeoverEnabled bool
	StaleAfter      time.Duration
	Now             func() time.Time
}

type lockOwner struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// AcquireLock creates dir/.trady.lock exclusively. A stale lock is taken over once;
// losing the race for the replacement reports ErrLocked.
func AcquireLock(dir string, opts LockOptions) (*Lock, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("lock dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, lockFileName)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	lock, err := createLock(path, now().UTC())
	if !errors.Is(err, fs.ErrExist) {
		return lock, err
	}
	if !opts.TakeoverEnabled {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	reason, stale := lockIsStale(path, now().UTC(), opts.StaleAfter)
	if !stale {
		return nil, fmt.Errorf("%w: %s (%s)", ErrLocked, path, reason)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	log.Printf("level=WARN event=lock_takeover path=%q reason=%q", path, reason)
	lock, err = createLock(path, now().UTC())
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return lock, err
}

func createLock(path string, now time.Time) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	err = json.NewEncoder(f).Encode(lockOwner{PID: os.Getpid(), StartedAt: now})
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return &Lock{path: path, file: f}, nil
}

func (l *Lock) Path() string { return l.path }

func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if l.path == "" {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l.path = ""
	return nil
}

// lockIsStale reports whether the lock at path may be replaced, and why.
func lockIsStale(path string, now time.Time, staleAfter time.Duration) (string, bool) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "lock gone", true
	}
	if err != nil {
		return err.Error(), false
	}
	var owner lockOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return "unreadable owner", false
	}
	switch {
	case owner.PID > 0 && processAlive(owner.PID):
		return fmt.Sprintf("pid %d running", owner.PID), false
	case owner.PID > 0:
		return fmt.Sprintf("pid %d gone", owner.PID), true
	case owner.StartedAt.IsZero():
		return "no owner", false
	case staleAfter > 0 && now.Sub(owner.StartedAt) >= staleAfter:
		return "expired", true
	}
	return "held since " + owner.StartedAt.Format(time.RFC3339), false
}

// processAlive sends signal 0. EPERM means the process exists under another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

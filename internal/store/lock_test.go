package store

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func writeLock(t *testing.T, dir string, pid int, started time.Time) {
	t.Helper()
	payload := `{"pid":` + strconv.Itoa(pid)
	if !started.IsZero() {
		payload += `,"started_at":"` + started.UTC().Format(time.RFC3339) + `"`
	}
	writeLockPayload(t, dir, payload+"}\n")
}

func writeLockPayload(t *testing.T, dir, payload string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, lockFileName), []byte(payload), 0o644); err != nil {
		t.Fatalf("write lock failed: %v", err)
	}
}

func TestAcquireLockExclusive(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, LockOptions{})
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer lock.Release()

	_, err = AcquireLock(dir, LockOptions{})
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second AcquireLock() error = %v, want ErrLocked", err)
	}
}

func TestAcquireLockCreatesDirAndReleases(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	lock, err := AcquireLock(dir, LockOptions{})
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	path := lock.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	if !strings.Contains(string(data), `"pid":`+strconv.Itoa(os.Getpid())) {
		t.Fatalf("lock payload = %q, want own pid", data)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file still present after release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
}

func TestAcquireLockTakeoverDeadPID(t *testing.T) {
	dir := t.TempDir()
	writeLock(t, dir, 999999, time.Now())

	lock, err := AcquireLock(dir, LockOptions{TakeoverEnabled: true, StaleAfter: 10 * time.Minute})
	if err != nil {
		t.Fatalf("AcquireLock() error = %v, want nil", err)
	}
	defer lock.Release()
}

func TestAcquireLockDoesNotTakeoverRunningPID(t *testing.T) {
	dir := t.TempDir()
	writeLock(t, dir, os.Getpid(), time.Now().Add(-time.Hour))

	_, err := AcquireLock(dir, LockOptions{TakeoverEnabled: true, StaleAfter: time.Second})
	if !errors.Is(err, ErrLocked) || !strings.Contains(err.Error(), "running") {
		t.Fatalf("AcquireLock() error = %v, want owner running", err)
	}
}

func TestAcquireLockTakeoverByAgeWithoutPID(t *testing.T) {
	dir := t.TempDir()
	started := time.Now().UTC().Add(-2 * time.Minute).Truncate(time.Second)
	writeLock(t, dir, 0, started)

	lock, err := AcquireLock(dir, LockOptions{
		TakeoverEnabled: true,
		StaleAfter:      time.Minute,
		Now:             func() time.Time { return started.Add(2 * time.Minute) },
	})
	if err != nil {
		t.Fatalf("AcquireLock() error = %v, want nil", err)
	}
	defer lock.Release()
}

func TestAcquireLockKeepsRecentUnknownLock(t *testing.T) {
	dir := t.TempDir()
	started := time.Now().UTC().Truncate(time.Second)
	writeLock(t, dir, 0, started)

	_, err := AcquireLock(dir, LockOptions{
		TakeoverEnabled: true,
		StaleAfter:      10 * time.Minute,
		Now:             func() time.Time { return started.Add(30 * time.Second) },
	})
	if !errors.Is(err, ErrLocked) || !strings.Contains(err.Error(), "held since") {
		t.Fatalf("AcquireLock() error = %v, want held since", err)
	}
}

func TestAcquireLockKeepsOwnerlessLock(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"garbage\n": "unreadable owner",
		"{}\n":      "no owner",
	}
	for payload, want := range cases {
		writeLockPayload(t, dir, payload)
		_, err := AcquireLock(dir, LockOptions{TakeoverEnabled: true, StaleAfter: time.Second})
		if !errors.Is(err, ErrLocked) || !strings.Contains(err.Error(), want) {
			t.Fatalf("AcquireLock(%q) error = %v, want %s", payload, err, want)
		}
	}
}

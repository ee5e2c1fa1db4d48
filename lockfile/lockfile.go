// Package lockfile guards against running two bridge instances against
// the same config file at once, via an OS-level advisory file lock
// holding a small JSON identity payload.
package lockfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Info is the payload written into a held lock file.
type Info struct {
	Version    int    `json:"version"`
	InstanceID string `json:"instance_id"`
	PID        int    `json:"pid"`
	Hostname   string `json:"hostname"`
}

// HeldError is returned when the lock is held by a live process.
type HeldError struct {
	Path string
	Info Info
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lockfile: already running (pid %d on %s, instance %s): %s",
		e.Info.PID, e.Info.Hostname, e.Info.InstanceID, e.Path)
}

// Lock is a held, exclusive lock on one config path.
type Lock struct {
	fl   *flock.Flock
	path string
	Info Info
}

// Acquire derives a lock file path from configPath (configPath + ".lock")
// and takes an exclusive flock on it. If the lock is already held but its
// recorded pid is no longer alive, the stale lock file is removed and
// acquisition is retried once. If the lock is held by a live process,
// Acquire returns a *HeldError naming it.
func Acquire(configPath string) (*Lock, error) {
	path := configPath + ".lock"

	lock, ok, err := tryAcquire(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		info, readErr := readInfo(path)
		if readErr == nil && !processAlive(info.PID) {
			_ = os.Remove(path)
			lock, ok, err = tryAcquire(path)
			if err != nil {
				return nil, err
			}
		}
		if !ok {
			if readErr != nil {
				return nil, fmt.Errorf("lockfile: already running and lock payload unreadable: %s: %w", path, readErr)
			}
			return nil, &HeldError{Path: path, Info: info}
		}
	}

	hostname, _ := os.Hostname()
	info := Info{
		Version:    1,
		InstanceID: uuid.NewString(),
		PID:        os.Getpid(),
		Hostname:   hostname,
	}
	data, err := json.Marshal(info)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		lock.Unlock()
		return nil, err
	}

	return &Lock{fl: lock, path: path, Info: info}, nil
}

func tryAcquire(path string) (*flock.Flock, bool, error) {
	fl := flock.New(path)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return fl, true, nil
}

func readInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// processAlive reports whether pid names a live process, by sending it
// the null signal (no actual delivery, just existence/permission check).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Release unlocks and removes the lock file. On crash the OS releases
// the advisory lock automatically; only a clean shutdown calls this.
func (l *Lock) Release() error {
	err := l.fl.Unlock()
	_ = os.Remove(l.path)
	return err
}

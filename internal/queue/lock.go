package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const lockOwnerFile = "owner.json"

// Lock marks a queue file as owned by one process.
type Lock struct {
	dir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// ErrLocked is returned when another live process owns the queue.
var ErrLocked = errors.New("queue is locked")

// AcquireLock creates <queuePath>.lock. A lock left by a process that is
// no longer running on this host is taken over.
func AcquireLock(queuePath string) (*Lock, error) {
	target := strings.TrimSpace(queuePath)
	if target == "" {
		return nil, fmt.Errorf("queue path is required")
	}
	dir := target + ".lock"

	if err := os.Mkdir(dir, 0o755); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire queue lock for %s: %w", target, err)
		}
		var owner lockOwner
		if readErr := readJSON(filepath.Join(dir, lockOwnerFile), &owner); readErr == nil && owner.PID > 0 {
			if owner.Hostname == hostnameOrUnknown() && !processAlive(owner.PID) {
				slog.Warn("removing stale queue lock", "pid", owner.PID, "created_at", owner.CreatedAt)
				_ = os.RemoveAll(dir)
				return AcquireLock(queuePath)
			}
			return nil, fmt.Errorf("%w: %s (pid=%d created_at=%s host=%s)",
				ErrLocked, target, owner.PID, owner.CreatedAt, owner.Hostname)
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, target)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := writeJSON(filepath.Join(dir, lockOwnerFile), owner); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write queue lock owner for %s: %w", target, err)
	}
	return &Lock{dir: dir}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.dir == "" {
		return nil
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("release queue lock %s: %w", l.dir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}

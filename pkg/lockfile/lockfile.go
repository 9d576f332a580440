// Package lockfile guards a destination tree against two mirror daemons
// writing into it at once. The lock is a JSON file created with O_EXCL
// inside the guarded directory and refreshed by a background heartbeat;
// a lock whose heartbeat stopped long enough ago is taken over.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// LockFileName is the lock's filename inside the guarded directory.
const LockFileName = ".~pgl-mirror.lock"

const (
	// DefaultHeartbeat is how often a held lock is refreshed.
	DefaultHeartbeat = 30 * time.Second
	// staleTimeout: a lock not refreshed for this long belongs to a dead
	// process and may be taken over.
	staleTimeout = 3 * time.Minute

	lockFileMode = 0644
)

// LockContent is what a running daemon writes into the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	Nonce      string    `json:"nonce"`
	LastUpdate time.Time `json:"last_update"`
	AppID      string    `json:"app_id"`
}

// ErrLockActive reports a lock held by a live process.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	AppID     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("destination is locked by PID %d on %s (app: %s), last updated %s ago",
		e.PID, e.Hostname, e.AppID, e.TimeSince.Truncate(time.Second))
}

// Lock is a held destination lock. Release it exactly once; Release is safe
// to call again.
type Lock struct {
	path              string
	appID             string
	nonce             string
	heartbeatInterval time.Duration

	cancel context.CancelFunc
	mu     sync.Mutex
	held   bool
}

// AcquireInDir acquires the lock guarding dir. ctx bounds the acquisition
// attempt only; the heartbeat runs until Release.
func AcquireInDir(ctx context.Context, dir, appID string, heartbeatInterval time.Duration) (*Lock, error) {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeat
	}
	path := filepath.Join(dir, LockFileName)

	// Retry a few times to ride out another process's takeover window.
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := tryAcquire(path, appID, heartbeatInterval)
		if err == nil {
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		content, readErr := readContent(path)
		if readErr != nil {
			// Possibly mid-write by the holder; back off and retry.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		elapsed := time.Since(content.LastUpdate)
		if elapsed < staleTimeout {
			return nil, &ErrLockActive{
				PID:       content.PID,
				Hostname:  content.Hostname,
				AppID:     content.AppID,
				TimeSince: elapsed,
			}
		}

		plog.Warn("Taking over stale destination lock", "pid", content.PID, "host", content.Hostname, "age", elapsed.Truncate(time.Second))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to acquire destination lock after %d attempts", maxAttempts)
}

// tryAcquire creates the lock file atomically; os.IsExist on the returned
// error means someone else holds it.
func tryAcquire(path, appID string, heartbeatInterval time.Duration) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFileMode)
	if err != nil {
		return nil, err
	}
	f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{
		path:              path,
		appID:             appID,
		nonce:             newNonce(),
		heartbeatInterval: heartbeatInterval,
		cancel:            cancel,
		held:              true,
	}

	if err := l.writeContent(); err != nil {
		l.removeFile()
		cancel()
		return nil, err
	}

	go l.heartbeat(ctx)
	return l, nil
}

// Path returns the lock file's path.
func (l *Lock) Path() string {
	return l.path
}

// Release stops the heartbeat and removes the lock file.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.cancel()
	l.removeFile()
	l.held = false
}

func (l *Lock) removeFile() {
	if err := os.Remove(l.path); err != nil {
		if !os.IsNotExist(err) {
			plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		}
		return
	}
	plog.Info("Destination lock released", "path", l.path)
}

func (l *Lock) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(l.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.writeContent(); err != nil {
				plog.Warn("Failed to refresh destination lock", "path", l.path, "error", err)
			}
		}
	}
}

func (l *Lock) writeContent() error {
	hostname, _ := os.Hostname()
	content := LockContent{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		Nonce:      l.nonce,
		LastUpdate: time.Now(),
		AppID:      l.appID,
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, lockFileMode)
}

// readContent tolerates catching the holder mid-write: empty or partial
// JSON is retried briefly before giving up.
func readContent(path string) (LockContent, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		data, err := os.ReadFile(path)
		if err != nil {
			return LockContent{}, err
		}
		if len(data) == 0 {
			lastErr = errors.New("lock file is empty")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		var content LockContent
		if err := json.Unmarshal(data, &content); err != nil {
			lastErr = err
			time.Sleep(50 * time.Millisecond)
			continue
		}
		return content, nil
	}
	return LockContent{}, fmt.Errorf("failed to read valid lock content: %w", lastErr)
}

func newNonce() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

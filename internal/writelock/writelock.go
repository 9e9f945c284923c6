// Package writelock implements the write-lock protocol: a single JSON lock
// file providing coarse, cross-process mutual exclusion over one database,
// with stale-lock takeover.
package writelock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/storage"
)

const lockPath = ".db/write.lock"

// DefaultStaleAfter is the default age after which a held lock is
// considered stale and eligible for takeover.
const DefaultStaleAfter = 5 * time.Minute

type lockFile struct {
	SessionID  string    `json:"sessionId"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Lock represents a held write-lock; Release is a no-op once another
// session has taken it over.
type Lock struct {
	st         storage.Storage
	sessionID  string
	staleAfter time.Duration
}

// NewSessionID mints a fresh session identity for an acquire attempt.
func NewSessionID() string { return uuid.NewString() }

// Acquire implements the three-step algorithm: write-if-absent,
// fail-if-fresh, take-over-if-stale, always re-reading to verify the write
// actually won.
func Acquire(ctx context.Context, st storage.Storage, sessionID string, staleAfter time.Duration, now time.Time) (*Lock, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	existing, ok, err := read(ctx, st)
	if err != nil {
		return nil, err
	}

	if ok {
		age := now.Sub(existing.AcquiredAt)
		if age < staleAfter {
			return nil, engineerr.New(engineerr.KindLockHeld, "writelock.Acquire", existing.SessionID,
				fmt.Errorf("lock held by %s, age %s < stale threshold %s", existing.SessionID, age, staleAfter))
		}
	}

	if err := write(ctx, st, sessionID, now); err != nil {
		return nil, err
	}

	confirmed, ok, err := read(ctx, st)
	if err != nil {
		return nil, err
	}
	if !ok || confirmed.SessionID != sessionID {
		return nil, engineerr.New(engineerr.KindLockHeld, "writelock.Acquire", sessionID,
			fmt.Errorf("lost the race to acquire the lock"))
	}

	return &Lock{st: st, sessionID: sessionID, staleAfter: staleAfter}, nil
}

// Release deletes the lock file only if it still carries this session's ID
// — a no-op if some other session has since taken over.
func (l *Lock) Release(ctx context.Context) error {
	existing, ok, err := read(ctx, l.st)
	if err != nil {
		return err
	}
	if !ok || existing.SessionID != l.sessionID {
		return nil
	}
	if err := l.st.Delete(ctx, lockPath); err != nil {
		return engineerr.New(engineerr.KindTransient, "writelock.Release", lockPath, err)
	}
	return nil
}

// SessionID returns the session ID this lock was acquired under.
func (l *Lock) SessionID() string { return l.sessionID }

func read(ctx context.Context, st storage.Storage) (*lockFile, bool, error) {
	data, err := st.Read(ctx, lockPath)
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, engineerr.New(engineerr.KindTransient, "writelock.read", lockPath, err)
	}
	var lf lockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, false, engineerr.New(engineerr.KindIntegrity, "writelock.read", lockPath, fmt.Errorf("decode lock file: %w", err))
	}
	return &lf, true, nil
}

func write(ctx context.Context, st storage.Storage, sessionID string, now time.Time) error {
	lf := lockFile{SessionID: sessionID, AcquiredAt: now}
	data, err := json.Marshal(lf)
	if err != nil {
		return engineerr.New(engineerr.KindIntegrity, "writelock.write", lockPath, err)
	}
	if err := st.Write(ctx, lockPath, "application/json", data); err != nil {
		return engineerr.New(engineerr.KindTransient, "writelock.write", lockPath, err)
	}
	return nil
}

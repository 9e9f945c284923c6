// Package retry wraps github.com/cenkalti/backoff/v4 with the engine's
// policy: transient errors (engineerr.KindTransient) and plain errors that
// carry no engineerr kind are retried with bounded exponential backoff; an
// error of any other engineerr kind aborts immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mediavault/engine/internal/engineerr"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxElapsed time.Duration
	MaxRetries uint64
}

// Default is the policy used when callers don't need a custom one.
var Default = Policy{MaxElapsed: 30 * time.Second, MaxRetries: 8}

// Do runs fn, retrying while it returns an error whose engineerr.Kind is
// KindTransient (or a plain error, treated as transient for backends that
// don't classify their own errors), up to the policy's bound.
func Do(ctx context.Context, p Policy, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = p.MaxElapsed

	var attempt uint64
	bo := backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)

	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if kind, ok := engineerr.KindOf(err); ok && kind != engineerr.KindTransient {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// IsPermanent reports whether err is a backoff.Permanent wrapper, useful
// for callers that want to distinguish "retries exhausted" from "aborted
// immediately on a non-transient error".
func IsPermanent(err error) bool {
	var perr *backoff.PermanentError
	return errors.As(err, &perr)
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/engine/internal/engineerr"
)

func TestDoRetriesTransientErrorsUntilSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{MaxElapsed: 10 * time.Second, MaxRetries: 5}, func() error {
		attempts++
		if attempts < 3 {
			return engineerr.New(engineerr.KindTransient, "op", "subj", errors.New("hiccup"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoAbortsImmediatelyOnNonTransientError(t *testing.T) {
	attempts := 0
	want := engineerr.New(engineerr.KindFatal, "op", "subj", errors.New("unrecoverable"))
	err := Do(context.Background(), Policy{MaxElapsed: time.Second, MaxRetries: 5}, func() error {
		attempts++
		return want
	})
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, engineerr.Fatal)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{MaxElapsed: 10 * time.Second, MaxRetries: 2}, func() error {
		attempts++
		return engineerr.New(engineerr.KindTransient, "op", "subj", errors.New("still failing"))
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts) // initial try + 2 retries
}

package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/marketpulse/errors"
	mptest "github.com/teranos/marketpulse/internal/testing"
)

func TestRunStore(t *testing.T) {
	ctx := context.Background()
	store := NewRunStore(mptest.CreateTestDB(t))

	first := NewRun(TriggerManual, 5, testNow)
	require.NoError(t, store.SaveRun(ctx, first))

	running, err := store.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, running.Status)
	assert.Nil(t, running.CompletedAt)
	assert.Zero(t, running.Duration())

	first.Complete(5, 1, nil, testNow.Add(90*time.Second))
	require.NoError(t, store.SaveRun(ctx, first))

	second := NewRun(TriggerLoop, 3, testNow.Add(time.Hour))
	second.Complete(0, 0, errors.New("selection failed"), testNow.Add(time.Hour+time.Second))
	require.NoError(t, store.SaveRun(ctx, second))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second.ID, runs[0].ID, "newest first")
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Equal(t, "selection failed", runs[0].ErrorMessage)

	done := runs[1]
	assert.Equal(t, RunStatusCompleted, done.Status)
	assert.Equal(t, 5, done.Processed)
	assert.Equal(t, 1, done.Failed)
	assert.Equal(t, 90*time.Second, done.Duration())

	_, err = store.GetRun(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

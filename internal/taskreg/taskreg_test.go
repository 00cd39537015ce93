package taskreg_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainthread/mainthread/internal/taskreg"
)

func TestBegin_CancelsPredecessor(t *testing.T) {
	r := taskreg.New()

	ctx1, release1 := r.Begin(context.Background(), "t1")
	defer release1()

	ctx2, release2 := r.Begin(context.Background(), "t1")
	defer release2()

	// First task was cancelled by the second registration.
	select {
	case <-ctx1.Done():
	default:
		t.Fatal("predecessor task not cancelled")
	}
	require.NoError(t, ctx2.Err())
	assert.Equal(t, 1, r.Count())
}

func TestStop(t *testing.T) {
	r := taskreg.New()

	ctx, release := r.Begin(context.Background(), "t1")
	defer release()

	assert.True(t, r.Running("t1"))
	assert.True(t, r.Stop("t1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, r.Running("t1"))

	// Nothing left to stop.
	assert.False(t, r.Stop("t1"))
}

func TestRelease_LeavesNewerRegistration(t *testing.T) {
	r := taskreg.New()

	_, release1 := r.Begin(context.Background(), "t1")
	ctx2, release2 := r.Begin(context.Background(), "t1")
	defer release2()

	// Releasing the superseded task must not deregister or cancel the
	// current one.
	release1()
	assert.True(t, r.Running("t1"))
	assert.NoError(t, ctx2.Err())
}

func TestStopAll(t *testing.T) {
	r := taskreg.New()

	ctx1, _ := r.Begin(context.Background(), "t1")
	ctx2, _ := r.Begin(context.Background(), "t2")

	assert.Equal(t, 2, r.StopAll())
	assert.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)
	assert.Equal(t, 0, r.Count())
}

func TestBegin_InheritsParentCancellation(t *testing.T) {
	r := taskreg.New()

	parent, cancel := context.WithCancel(context.Background())
	ctx, release := r.Begin(parent, "t1")
	defer release()

	cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

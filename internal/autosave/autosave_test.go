package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/woozymasta/farmcanvas/internal/feature"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSaver struct {
	mu    sync.Mutex
	calls [][]feature.Feature
	err   error
}

func (f *fakeSaver) SaveZones(_ context.Context, _ string, features []feature.Feature) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, features)
	return f.err
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func source(n *int) Source {
	return func() []feature.Feature {
		out := make([]feature.Feature, *n)
		for i := range out {
			out[i] = feature.Feature{ID: string(rune('a' + i)), Geometry: orb.Point{1, 1}}
		}
		return out
	}
}

func TestBurstCollapsesIntoOneSave(t *testing.T) {
	saver := &fakeSaver{}
	n := 3
	d := New(saver, "farm-1", source(&n), 30*time.Millisecond)

	for i := 0; i < 10; i++ {
		d.Touch()
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, d.Dirty())

	assert.Eventually(t, func() bool { return saver.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, saver.count())
	assert.False(t, d.Dirty())
	assert.Len(t, saver.calls[0], 3)
	require.NoError(t, d.Close(context.Background()))
}

func TestHandleChangeIgnoresNonPersistent(t *testing.T) {
	saver := &fakeSaver{}
	n := 1
	d := New(saver, "farm-1", source(&n), time.Hour)

	d.HandleChange(feature.Change{Kind: feature.Reasserted})
	assert.False(t, d.Dirty())

	d.HandleChange(feature.Change{Kind: feature.Created, Persist: true})
	assert.True(t, d.Dirty())

	require.NoError(t, d.Flush(context.Background()))
	assert.Equal(t, 1, saver.count())
	assert.False(t, d.Dirty())
	require.NoError(t, d.Close(context.Background()))
}

func TestFailedSaveStaysDirty(t *testing.T) {
	saver := &fakeSaver{err: errors.New("offline")}
	n := 1
	d := New(saver, "farm-1", source(&n), time.Hour)

	var statuses []Status
	d.OnStatus(func(s Status) { statuses = append(statuses, s) })

	d.Touch()
	err := d.Flush(context.Background())
	assert.EqualError(t, err, "offline")
	assert.True(t, d.Dirty())
	require.NotEmpty(t, statuses)
	assert.Error(t, statuses[len(statuses)-1].LastErr)

	saver.mu.Lock()
	saver.err = nil
	saver.mu.Unlock()
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, d.Dirty())
}

func TestFlushWhenCleanDoesNothing(t *testing.T) {
	saver := &fakeSaver{}
	n := 0
	d := New(saver, "farm-1", source(&n), time.Hour)
	require.NoError(t, d.Flush(context.Background()))
	assert.Zero(t, saver.count())
	require.NoError(t, d.Close(context.Background()))

	d.Touch()
	assert.False(t, d.Dirty())
}

type stuckSaver struct {
	release chan struct{}
}

func (s *stuckSaver) SaveZones(context.Context, string, []feature.Feature) error {
	<-s.release
	return nil
}

func TestFlushStopsWaitingWhenCancelled(t *testing.T) {
	saver := &stuckSaver{release: make(chan struct{})}
	n := 1
	d := New(saver, "farm-1", source(&n), time.Millisecond)

	d.Touch()
	require.Eventually(t, d.Saving, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Flush(ctx), context.DeadlineExceeded)
	assert.True(t, d.Saving())

	close(saver.release)
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, d.Saving())
}

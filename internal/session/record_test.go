package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joptimus/f1-race-replay/internal/telemetry"
	"github.com/joptimus/f1-race-replay/internal/timeutil"
)

func testKey() telemetry.SessionKey {
	return telemetry.SessionKey{Year: 2024, Round: 1, SessionType: "R"}
}

func collectingObserver() (Observer, func() []ProgressEvent) {
	var mu sync.Mutex
	var events []ProgressEvent
	obs := func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}
	snapshot := func() []ProgressEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]ProgressEvent, len(events))
		copy(out, events)
		return out
	}
	return obs, snapshot
}

func waitForState(t *testing.T, rec *Record, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last seen %s", want, rec.State())
}

func TestRecordReachesReadyOnSuccessfulBuild(t *testing.T) {
	rec := NewRecord(testKey(), timeutil.RealClock{})
	defer rec.Close()

	artifact := &telemetry.SessionArtifact{SessionID: testKey().ID()}
	rec.Start(context.Background(), func(ctx context.Context, key telemetry.SessionKey, progress telemetry.ProgressFunc) (*telemetry.SessionArtifact, error) {
		progress(50, "halfway")
		return artifact, nil
	})

	waitForState(t, rec, StateReady)
	require.Equal(t, 100, rec.Progress())
	require.Same(t, artifact, rec.Artifact())
	require.NoError(t, rec.Err())
}

func TestRecordReachesErrorOnFailedBuild(t *testing.T) {
	rec := NewRecord(testKey(), timeutil.RealClock{})
	defer rec.Close()

	wantErr := errors.New("upstream exploded")
	rec.Start(context.Background(), func(ctx context.Context, key telemetry.SessionKey, progress telemetry.ProgressFunc) (*telemetry.SessionArtifact, error) {
		return nil, wantErr
	})

	waitForState(t, rec, StateError)
	require.Nil(t, rec.Artifact())
	require.ErrorIs(t, rec.Err(), wantErr)
}

func TestRecordSubscriberReceivesOrderedProgress(t *testing.T) {
	rec := NewRecord(testKey(), timeutil.RealClock{})
	defer rec.Close()

	obs, snapshot := collectingObserver()
	unsub := rec.Subscribe(obs)
	defer unsub()

	rec.Start(context.Background(), func(ctx context.Context, key telemetry.SessionKey, progress telemetry.ProgressFunc) (*telemetry.SessionArtifact, error) {
		progress(10, "a")
		progress(40, "b")
		progress(80, "c")
		return &telemetry.SessionArtifact{}, nil
	})

	waitForState(t, rec, StateReady)
	time.Sleep(20 * time.Millisecond) // let the dispatcher drain the last events

	events := snapshot()
	require.NotEmpty(t, events)
	last := -1
	for _, ev := range events {
		require.GreaterOrEqual(t, ev.Progress, last)
		last = ev.Progress
	}
	require.Equal(t, StateReady, events[len(events)-1].State)
}

func TestRecordLateSubscriberToReadyGetsCatchUp(t *testing.T) {
	rec := NewRecord(testKey(), timeutil.RealClock{})
	defer rec.Close()

	rec.Start(context.Background(), func(ctx context.Context, key telemetry.SessionKey, progress telemetry.ProgressFunc) (*telemetry.SessionArtifact, error) {
		return &telemetry.SessionArtifact{}, nil
	})
	waitForState(t, rec, StateReady)

	obs, snapshot := collectingObserver()
	unsub := rec.Subscribe(obs)
	defer unsub()

	events := snapshot()
	require.NotEmpty(t, events)
	require.Equal(t, StateReady, events[len(events)-1].State)
}

func TestRecordLateSubscriberToErrorGetsCatchUp(t *testing.T) {
	rec := NewRecord(testKey(), timeutil.RealClock{})
	defer rec.Close()

	wantErr := errors.New("boom")
	rec.Start(context.Background(), func(ctx context.Context, key telemetry.SessionKey, progress telemetry.ProgressFunc) (*telemetry.SessionArtifact, error) {
		return nil, wantErr
	})
	waitForState(t, rec, StateError)

	obs, snapshot := collectingObserver()
	unsub := rec.Subscribe(obs)
	defer unsub()

	events := snapshot()
	require.Len(t, events, 1)
	require.Equal(t, StateError, events[0].State)
	require.ErrorIs(t, events[0].Err, wantErr)
}

func TestRecordUnsubscribeStopsDelivery(t *testing.T) {
	rec := NewRecord(testKey(), timeutil.RealClock{})
	defer rec.Close()

	gate := make(chan struct{})
	obs, snapshot := collectingObserver()
	unsub := rec.Subscribe(obs)

	rec.Start(context.Background(), func(ctx context.Context, key telemetry.SessionKey, progress telemetry.ProgressFunc) (*telemetry.SessionArtifact, error) {
		progress(10, "before unsubscribe")
		<-gate
		progress(90, "after unsubscribe")
		return &telemetry.SessionArtifact{}, nil
	})

	time.Sleep(20 * time.Millisecond)
	unsub()
	close(gate)
	waitForState(t, rec, StateReady)
	time.Sleep(20 * time.Millisecond)

	for _, ev := range snapshot() {
		require.NotEqual(t, 90, ev.Progress)
	}
}

// Package session implements the Session Lifecycle & Progress Engine: a
// per-key state machine that tracks a build from INIT through LOADING to
// READY or ERROR, and fans progress out to any number of subscribers
// without ever letting a worker goroutine touch subscriber state directly.
package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/joptimus/f1-race-replay/internal/monitoring"
	"github.com/joptimus/f1-race-replay/internal/telemetry"
	"github.com/joptimus/f1-race-replay/internal/timeutil"
)

// State is a SessionRecord's lifecycle state.
type State int

const (
	StateInit State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ProgressEvent is one step of a build's progress, posted by the worker
// and applied on the record's dispatcher goroutine.
type ProgressEvent struct {
	State    State
	Progress int
	Message  string
	Err      error

	// artifactCarrier carries the built artifact on the terminal READY
	// event. Unexported: only the dispatcher loop and Start's worker
	// goroutine ever set or read it.
	artifactCarrier *telemetry.SessionArtifact
}

// Observer receives progress events for a single subscription. It must not
// block; slow observers should buffer internally.
type Observer func(ProgressEvent)

// BuildFunc runs a build to completion, reporting milestones via progress.
type BuildFunc func(ctx context.Context, key telemetry.SessionKey, progress telemetry.ProgressFunc) (*telemetry.SessionArtifact, error)

type subscribeRequest struct {
	obs  Observer
	idCh chan int
}

// Record is a single session's lifecycle state plus its progress
// observers. All state transitions happen on Record's own dispatcher
// goroutine (dispatchLoop); everything else communicates with it over
// channels so no field needs a mutex except the read-only snapshot used by
// callers that only want a State()/Artifact() peek.
type Record struct {
	Key   telemetry.SessionKey
	ID    string
	clock timeutil.Clock

	events        chan ProgressEvent
	subscribeReqs chan subscribeRequest
	unsubscribe   chan int
	stopCh        chan struct{}
	doneCh        chan struct{}

	snapshot snapshotStore
}

// NewRecord creates a Record in state INIT and starts its dispatcher
// goroutine. Callers must eventually call Start to begin a build.
func NewRecord(key telemetry.SessionKey, clock timeutil.Clock) *Record {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := &Record{
		Key:           key,
		ID:            uuid.NewString(),
		clock:         clock,
		events:        make(chan ProgressEvent, 64),
		subscribeReqs: make(chan subscribeRequest),
		unsubscribe:   make(chan int),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	r.snapshot.set(StateInit, 0, "", nil, nil)
	go r.dispatchLoop()
	return r
}

// Start launches build on a worker goroutine. Progress callbacks from the
// worker are posted onto the record's event channel (never applied
// directly), which is the only path by which a worker thread can affect
// subscriber-visible state.
func (r *Record) Start(ctx context.Context, build BuildFunc) {
	r.events <- ProgressEvent{State: StateLoading, Progress: 0, Message: "build starting"}

	go func() {
		progress := func(p int, msg string) {
			select {
			case r.events <- ProgressEvent{State: StateLoading, Progress: p, Message: msg}:
			default:
				monitoring.Logf("session %s: dropping progress event (channel full): %d %s", r.ID, p, msg)
			}
		}

		artifact, err := build(ctx, r.Key, progress)
		if err != nil {
			r.events <- ProgressEvent{State: StateError, Err: err}
			return
		}
		r.events <- ProgressEvent{State: StateReady, Progress: 100, Message: "ready", artifactCarrier: artifact}
	}()
}

// Subscribe registers obs to receive future progress events. If the
// record has already reached READY or ERROR, obs synchronously receives
// the catch-up event(s) described for late joiners before Subscribe
// returns. The returned function unsubscribes obs.
func (r *Record) Subscribe(obs Observer) func() {
	idCh := make(chan int, 1)
	select {
	case r.subscribeReqs <- subscribeRequest{obs: obs, idCh: idCh}:
	case <-r.doneCh:
		return func() {}
	}
	id := <-idCh
	return func() {
		select {
		case r.unsubscribe <- id:
		case <-r.doneCh:
		}
	}
}

// State returns the record's last known state without touching the
// dispatcher goroutine.
func (r *Record) State() State {
	s, _, _, _, _ := r.snapshot.get()
	return s
}

// Progress returns the record's last known progress percentage.
func (r *Record) Progress() int {
	_, p, _, _, _ := r.snapshot.get()
	return p
}

// Artifact returns the built artifact, or nil if the record is not READY.
func (r *Record) Artifact() *telemetry.SessionArtifact {
	_, _, _, _, a := r.snapshot.get()
	return a
}

// Err returns the terminal build error, or nil if the record is not ERROR.
func (r *Record) Err() error {
	_, _, _, e, _ := r.snapshot.get()
	return e
}

// Close stops the dispatcher goroutine. Safe to call more than once.
func (r *Record) Close() {
	select {
	case <-r.doneCh:
		return
	default:
	}
	close(r.stopCh)
	<-r.doneCh
}

// dispatchLoop is the sole writer of subscriber-visible state: every
// mutation and every subscriber invocation happens here, so progress
// emissions to a single subscriber are totally ordered by construction.
func (r *Record) dispatchLoop() {
	defer close(r.doneCh)

	subs := make(map[int]Observer)
	nextID := 0
	lastProgress := 0
	state := StateInit
	var message string
	var buildErr error
	var artifact *telemetry.SessionArtifact
	terminal := false

	for {
		select {
		case <-r.stopCh:
			return

		case req := <-r.subscribeReqs:
			id := nextID
			nextID++
			subs[id] = req.obs

			switch state {
			case StateReady:
				req.obs(ProgressEvent{State: StateLoading, Progress: 100, Message: "ready"})
				req.obs(ProgressEvent{State: StateReady, Progress: 100, Message: message})
			case StateError:
				req.obs(ProgressEvent{State: StateError, Err: buildErr})
			}
			req.idCh <- id

		case id := <-r.unsubscribe:
			delete(subs, id)

		case ev := <-r.events:
			if terminal {
				// The build goroutine should not emit after a terminal
				// event, but guard against it defensively: never regress
				// a sealed record.
				continue
			}

			switch ev.State {
			case StateError:
				state = StateError
				buildErr = ev.Err
				terminal = true
				r.snapshot.set(state, lastProgress, message, buildErr, nil)
				for _, obs := range subs {
					obs(ProgressEvent{State: StateError, Err: buildErr})
				}

			case StateReady:
				state = StateReady
				artifact = ev.artifactCarrier
				lastProgress = 100
				message = ev.Message
				terminal = true
				r.snapshot.set(state, lastProgress, message, nil, artifact)
				for _, obs := range subs {
					obs(ProgressEvent{State: StateReady, Progress: 100, Message: message})
				}

			default: // StateLoading
				if ev.Progress > lastProgress {
					lastProgress = ev.Progress
				}
				message = ev.Message
				if state == StateInit {
					state = StateLoading
				}
				r.snapshot.set(state, lastProgress, message, nil, nil)
				for _, obs := range subs {
					obs(ProgressEvent{State: StateLoading, Progress: lastProgress, Message: message})
				}
			}
		}
	}
}

// String is for log/debug output only.
func (r *Record) String() string {
	return fmt.Sprintf("Record{%s state=%s progress=%d}", r.Key.ID(), r.State(), r.Progress())
}

package session

import (
	"sync"

	"github.com/joptimus/f1-race-replay/internal/telemetry"
)

// snapshotStore is a mutex-guarded copy of a Record's externally visible
// fields, updated by the dispatcher goroutine and read by any number of
// callers that just want a point-in-time peek (State, Progress, Artifact,
// Err) without routing through the event channels.
type snapshotStore struct {
	mu       sync.RWMutex
	state    State
	progress int
	message  string
	err      error
	artifact *telemetry.SessionArtifact
}

func (s *snapshotStore) set(state State, progress int, message string, err error, artifact *telemetry.SessionArtifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.progress = progress
	s.message = message
	s.err = err
	if artifact != nil {
		s.artifact = artifact
	}
}

func (s *snapshotStore) get() (State, int, string, error, *telemetry.SessionArtifact) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.progress, s.message, s.err, s.artifact
}

package session

import (
	"context"
	"sync"

	"github.com/joptimus/f1-race-replay/internal/telemetry"
	"github.com/joptimus/f1-race-replay/internal/timeutil"
)

// Registry maps SessionKey to its in-flight or completed Record, providing
// the at-most-once build guarantee: concurrent requests for the same key
// observe and share a single build rather than racing duplicate ones. This
// generalizes the teacher's Publisher, whose RWMutex-guarded client map and
// atomic running flag served the same "one broadcaster, many observers"
// shape for a single gRPC stream; here the guarded resource is a build
// rather than a socket.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	clock   timeutil.Clock
}

// NewRegistry creates an empty Registry. clock is threaded through to every
// Record it creates so tests can control time deterministically.
func NewRegistry(clock timeutil.Clock) *Registry {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Registry{
		records: make(map[string]*Record),
		clock:   clock,
	}
}

// GetOrCreate returns the Record for key, creating and starting one with
// build if none exists yet. created reports whether this call started a
// new build; callers that get created == false are simply attaching to an
// in-flight or already-finished build.
func (reg *Registry) GetOrCreate(ctx context.Context, key telemetry.SessionKey, build BuildFunc) (rec *Record, created bool) {
	id := key.ID()

	reg.mu.Lock()
	if existing, ok := reg.records[id]; ok {
		reg.mu.Unlock()
		return existing, false
	}

	rec = NewRecord(key, reg.clock)
	reg.records[id] = rec
	reg.mu.Unlock()

	rec.Start(ctx, build)
	return rec, true
}

// Get returns the Record for key without creating one.
func (reg *Registry) Get(key telemetry.SessionKey) (*Record, bool) {
	return reg.GetByID(key.ID())
}

// GetByID returns the Record for a raw session id (as addressed by the
// streaming attach endpoint's /replay/{session_id} path), without creating
// one.
func (reg *Registry) GetByID(id string) (*Record, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.records[id]
	return rec, ok
}

// Evict removes and closes the record for key, if present. Used to free a
// failed build so a subsequent request can retry from scratch.
func (reg *Registry) Evict(key telemetry.SessionKey) {
	reg.mu.Lock()
	rec, ok := reg.records[key.ID()]
	if ok {
		delete(reg.records, key.ID())
	}
	reg.mu.Unlock()
	if ok {
		rec.Close()
	}
}

// Len reports the number of tracked records, mainly for tests and metrics.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.records)
}

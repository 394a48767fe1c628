package session

import (
	"context"

	"github.com/joptimus/f1-race-replay/internal/artifactcache"
	"github.com/joptimus/f1-race-replay/internal/config"
	"github.com/joptimus/f1-race-replay/internal/monitoring"
	"github.com/joptimus/f1-race-replay/internal/telemetry"
)

// NewCachingBuildFunc composes the persisted-artifact shortcut described in
// the external interfaces section with telemetry.BuildArtifact: a cache hit
// skips straight past raw load to the post-load milestones (progress still
// rises monotonically through 75/90/100 so subscribers see the same shape
// of progress stream either way); a miss runs a normal build and writes the
// result back to the cache for the next request with this key. store may be
// nil to disable persistence entirely.
func NewCachingBuildFunc(accessor telemetry.RawAccessor, store *artifactcache.Store, cfg *config.TuningConfig) BuildFunc {
	return func(ctx context.Context, key telemetry.SessionKey, progress telemetry.ProgressFunc) (*telemetry.SessionArtifact, error) {
		if store != nil {
			if cached, found, err := store.Load(ctx, key.ID()); err != nil {
				monitoring.Logf("session: artifact cache load failed for %s: %v", key.ID(), err)
			} else if found {
				progress(10, "raw load complete (cache hit)")
				progress(75, "track geometry built")
				progress(90, "serializing artifact")
				progress(100, "build complete")
				return cached, nil
			}
		}

		artifact, err := telemetry.BuildArtifact(ctx, key, accessor, cfg, progress)
		if err != nil {
			return nil, err
		}

		if store != nil {
			if err := store.Save(ctx, artifact); err != nil {
				monitoring.Logf("session: artifact cache save failed for %s: %v", key.ID(), err)
			}
		}

		return artifact, nil
	}
}

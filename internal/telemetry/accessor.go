package telemetry

import "context"

// RawAccessor is the uniform read interface onto the upstream raw-data
// provider. Implementations are free to hit a network service, a local
// fixture directory, or any other source; the builder only depends on this
// interface, never on a concrete provider.
type RawAccessor interface {
	// Drivers returns the driver codes that participated in the session.
	Drivers(ctx context.Context, key SessionKey) ([]string, error)

	// Laps returns one driver's laps in chronological order.
	Laps(ctx context.Context, key SessionKey, driverCode string) ([]Lap, error)

	// StaticMetadata returns session-level metadata that does not vary by
	// frame: driver styling, the track-status log, and weather.
	StaticMetadata(ctx context.Context, key SessionKey) (StaticMetadata, error)
}

// ProgressFunc receives build-progress milestones. progress is
// monotonically non-decreasing and bounded to [0, 100].
type ProgressFunc func(progress int, message string)

func noopProgress(int, string) {}

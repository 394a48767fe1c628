package telemetry

import (
	"fmt"
	"sort"

	"github.com/joptimus/f1-race-replay/internal/monitoring"
)

// NormalizeDriver concatenates a driver's laps into a single monotonic
// DriverTimeline. Laps are sorted by their first sample's time before
// concatenation (cheaper than re-sorting every individual sample, and the
// upstream accessor is expected to already hand them back in order).
// Monotonicity of t is checked per lap before sorting and again over the
// concatenated sequence.
//
// Empty laps are skipped with a logged warning, not a fatal error. A
// monotonicity violation, either within a lap or across the concatenated
// sequence, is fatal: it means the upstream data cannot be trusted to
// represent a single consistent lap-by-lap traversal of the track.
func NormalizeDriver(code string, laps []Lap) (*DriverTimeline, error) {
	usable := make([]Lap, 0, len(laps))
	for _, lap := range laps {
		if len(lap.Samples) == 0 {
			monitoring.Logf("telemetry: driver %s lap %d has no samples, skipping: %v", code, lap.Number, ErrEmptyLap)
			continue
		}
		if err := assertLapMonotonic(lap); err != nil {
			return nil, fmt.Errorf("driver %s lap %d: %w", code, lap.Number, err)
		}
		usable = append(usable, lap)
	}

	if len(usable) == 0 {
		return nil, fmt.Errorf("driver %s: %w", code, ErrNoLaps)
	}

	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Samples[0].T < usable[j].Samples[0].T
	})

	dt := &DriverTimeline{Code: code}
	var raceDistanceOffset float64
	var lastT float64
	first := true

	for _, lap := range usable {
		lapLength := lap.Samples[len(lap.Samples)-1].DistanceInLap
		for _, s := range lap.Samples {
			if !first && s.T < lastT {
				return nil, fmt.Errorf("driver %s: %w: sample time %f precedes prior sample time %f", code, ErrDataIntegrity, s.T, lastT)
			}
			first = false
			lastT = s.T

			dt.T = append(dt.T, s.T)
			dt.X = append(dt.X, s.X)
			dt.Y = append(dt.Y, s.Y)
			dt.RaceDistance = append(dt.RaceDistance, raceDistanceOffset+s.DistanceInLap)
			if lapLength > 0 {
				dt.RelativeDistance = append(dt.RelativeDistance, s.DistanceInLap/lapLength)
			} else {
				dt.RelativeDistance = append(dt.RelativeDistance, 0)
			}
			dt.Speed = append(dt.Speed, s.Speed)
			dt.Throttle = append(dt.Throttle, s.Throttle)
			dt.Brake = append(dt.Brake, s.Brake)
			dt.RPM = append(dt.RPM, s.RPM)
			dt.Gear = append(dt.Gear, s.Gear)
			dt.DRS = append(dt.DRS, s.DRS)
			dt.Tyre = append(dt.Tyre, s.TyreCode)
			dt.Lap = append(dt.Lap, s.LapNumber)
		}
		raceDistanceOffset += lapLength
	}

	return dt, nil
}

// assertLapMonotonic verifies a single lap's samples are already
// chronologically ordered, failing fast before the more expensive
// cross-lap concatenation pass.
func assertLapMonotonic(lap Lap) error {
	for i := 1; i < len(lap.Samples); i++ {
		if lap.Samples[i].T < lap.Samples[i-1].T {
			return fmt.Errorf("%w: sample %d time %f precedes sample %d time %f",
				ErrDataIntegrity, i, lap.Samples[i].T, i-1, lap.Samples[i-1].T)
		}
	}
	return nil
}

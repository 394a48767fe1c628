package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joptimus/f1-race-replay/internal/config"
	"github.com/joptimus/f1-race-replay/internal/monitoring"
)

// resampled holds one driver's columns resampled onto the shared global
// timeline. Every slice has the same length as the timeline.
type resampled struct {
	code             string
	x, y             []float64
	raceDistance     []float64
	relativeDistance []float64
	speed            []float64
	throttle         []float64
	brake            []float64
	rpm              []float64
	gear             []int
	drs              []bool
	tyre             []string
	lap              []int
}

// BuildArtifact runs the Race-Frame Builder end to end: it fetches raw
// samples through accessor, normalizes and resamples every driver in
// parallel, derives per-frame positions/gaps/statuses, builds track
// geometry from the fastest lap, and seals the result into a
// SessionArtifact. progress is invoked at the milestones documented for
// the builder; it may be nil.
func BuildArtifact(ctx context.Context, key SessionKey, accessor RawAccessor, cfg *config.TuningConfig, progress ProgressFunc) (*SessionArtifact, error) {
	if progress == nil {
		progress = noopProgress
	}
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}

	progress(0, "starting build")

	drivers, err := accessor.Drivers(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(drivers) == 0 {
		return nil, ErrNoDrivers
	}

	meta, err := accessor.StaticMetadata(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	progress(10, "raw load complete")

	timelines := make([]*DriverTimeline, len(drivers))
	fastestLaps := make([]*Lap, len(drivers))

	var progressMu sync.Mutex
	lastProgress := 10
	completed := 0
	emitFanoutProgress := func() {
		progressMu.Lock()
		defer progressMu.Unlock()
		completed++
		p := 15 + int(float64(completed)/float64(len(drivers))*45.0)
		if p > lastProgress {
			lastProgress = p
			progress(p, fmt.Sprintf("normalized %d/%d drivers", completed, len(drivers)))
		}
	}

	limit := runtime.NumCPU()
	if limit > len(drivers) {
		limit = len(drivers)
	}
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, code := range drivers {
		i, code := i, code
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			laps, err := accessor.Laps(gctx, key, code)
			if err != nil {
				return fmt.Errorf("%w: driver %s: %v", ErrUpstream, code, err)
			}

			dt, err := NormalizeDriver(code, laps)
			if err != nil {
				if isEmptyDriverErr(err) {
					monitoring.Logf("telemetry: dropping driver %s: %v", code, err)
					emitFanoutProgress()
					return nil
				}
				return err
			}
			timelines[i] = dt

			if code == meta.FastestLapDriver {
				fastestLaps[i] = pickFastestLap(laps)
			}

			emitFanoutProgress()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	live := make([]*DriverTimeline, 0, len(timelines))
	var fastestLap *Lap
	for i, dt := range timelines {
		if dt == nil {
			continue
		}
		live = append(live, dt)
		if fastestLaps[i] != nil {
			fastestLap = fastestLaps[i]
		}
	}
	if len(live) == 0 {
		return nil, ErrNoDrivers
	}

	outputFPS := cfg.GetOutputFPS()
	tMin, tMax := globalTimeRange(live)
	frameCount := int(math.Ceil((tMax - tMin) * outputFPS))
	if frameCount < 1 {
		frameCount = 1
	}
	timeline := make([]float64, frameCount)
	for i := range timeline {
		timeline[i] = float64(i) / outputFPS
	}

	resampledDrivers := make([]resampled, len(live))
	for i, dt := range live {
		resampledDrivers[i] = resampleDriver(dt, tMin, timeline)
	}

	frames := buildFrames(timeline, resampledDrivers, cfg)

	var geometry TrackGeometry
	if fastestLap != nil {
		geometry = buildTrackGeometry(fastestLap, meta)
	}
	progress(75, "track geometry built")

	statuses := shiftTrackStatuses(meta.TrackStatusLog, tMin)
	weather := shiftWeather(meta.Weather, tMin)

	progress(90, "serializing artifact")

	totalLaps := 0
	for _, f := range frames {
		if f.Lap > totalLaps {
			totalLaps = f.Lap
		}
	}

	artifact := &SessionArtifact{
		SessionID:     key.ID(),
		Year:          key.Year,
		Round:         key.Round,
		SessionType:   key.SessionType,
		Frames:        frames,
		TotalFrames:   len(frames),
		TotalLaps:     totalLaps,
		DriverColors:  meta.DriverColors,
		DriverNumbers: meta.DriverNumbers,
		DriverTeams:   meta.DriverTeams,
		TrackGeometry: geometry,
		TrackStatuses: statuses,
		Weather:       weather,
		RaceStartTime: tMin,
	}

	progress(100, "build complete")
	return artifact, nil
}

func isEmptyDriverErr(err error) bool {
	return errors.Is(err, ErrNoLaps)
}

func globalTimeRange(timelines []*DriverTimeline) (min, max float64) {
	min = math.Inf(1)
	max = math.Inf(-1)
	for _, dt := range timelines {
		if len(dt.T) == 0 {
			continue
		}
		if dt.T[0] < min {
			min = dt.T[0]
		}
		if dt.T[len(dt.T)-1] > max {
			max = dt.T[len(dt.T)-1]
		}
	}
	return min, max
}

// resampleDriver linearly interpolates continuous columns and step-samples
// categorical columns (gear, DRS, tyre, lap) onto the shared global
// timeline. origin is subtracted from dt.T before lookup so every driver's
// resampled series shares frame index 0 == race start.
func resampleDriver(dt *DriverTimeline, origin float64, timeline []float64) resampled {
	shifted := make([]float64, len(dt.T))
	for i, t := range dt.T {
		shifted[i] = t - origin
	}

	out := resampled{
		code:             dt.Code,
		x:                make([]float64, len(timeline)),
		y:                make([]float64, len(timeline)),
		raceDistance:     make([]float64, len(timeline)),
		relativeDistance: make([]float64, len(timeline)),
		speed:            make([]float64, len(timeline)),
		throttle:         make([]float64, len(timeline)),
		brake:            make([]float64, len(timeline)),
		rpm:              make([]float64, len(timeline)),
		gear:             make([]int, len(timeline)),
		drs:              make([]bool, len(timeline)),
		tyre:             make([]string, len(timeline)),
		lap:              make([]int, len(timeline)),
	}

	maxLapSoFar := 0
	for i, target := range timeline {
		idx := sort.SearchFloat64s(shifted, target)

		out.x[i] = interpFloat(shifted, dt.X, target, idx)
		out.y[i] = interpFloat(shifted, dt.Y, target, idx)
		out.raceDistance[i] = interpFloat(shifted, dt.RaceDistance, target, idx)
		out.relativeDistance[i] = interpFloat(shifted, dt.RelativeDistance, target, idx)
		out.speed[i] = interpFloat(shifted, dt.Speed, target, idx)
		out.throttle[i] = interpFloat(shifted, dt.Throttle, target, idx)
		out.brake[i] = interpFloat(shifted, dt.Brake, target, idx)
		out.rpm[i] = interpFloat(shifted, dt.RPM, target, idx)

		stepIdx := stepIndex(shifted, idx, target)
		out.gear[i] = dt.Gear[stepIdx]
		out.drs[i] = dt.DRS[stepIdx]
		out.tyre[i] = dt.Tyre[stepIdx]

		lapVal := dt.Lap[stepIdx]
		if lapVal < maxLapSoFar {
			lapVal = maxLapSoFar
		}
		maxLapSoFar = lapVal
		out.lap[i] = lapVal
	}

	return out
}

// interpFloat performs linear interpolation at target given the sorted
// index idx returned by sort.SearchFloat64s(ts, target).
func interpFloat(ts, vals []float64, target float64, idx int) float64 {
	if len(ts) == 0 {
		return 0
	}
	if idx <= 0 {
		return vals[0]
	}
	if idx >= len(ts) {
		return vals[len(vals)-1]
	}
	t0, t1 := ts[idx-1], ts[idx]
	if t1 == t0 {
		return vals[idx]
	}
	frac := (target - t0) / (t1 - t0)
	return vals[idx-1] + frac*(vals[idx]-vals[idx-1])
}

// stepIndex returns the index of the last known sample at or before
// target, for categorical columns that must not be interpolated.
func stepIndex(ts []float64, idx int, target float64) int {
	if len(ts) == 0 {
		return 0
	}
	if idx <= 0 {
		return 0
	}
	if idx >= len(ts) {
		return len(ts) - 1
	}
	if ts[idx] == target {
		return idx
	}
	return idx - 1
}

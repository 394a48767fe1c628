package telemetry

import (
	"math"
	"sort"
	"strconv"

	"github.com/joptimus/f1-race-replay/internal/config"
)

// buildFrames assembles the per-frame driver maps from every driver's
// resampled columns, then derives position, gap, and status for each
// frame. Gaps are only recomputed every GapRefreshSeconds of race time and
// held constant between refreshes, matching the hold-to-avoid-chatter
// policy described for the builder.
func buildFrames(timeline []float64, drivers []resampled, cfg *config.TuningConfig) []Frame {
	frames := make([]Frame, len(timeline))

	stallThreshold := cfg.GetRetirementStallSeconds().Seconds()
	gapRefresh := cfg.GetGapRefreshSeconds().Seconds()
	speedFloor := cfg.GetSpeedFloor()

	stalledSince := make(map[string]float64, len(drivers))
	lastAdvance := make(map[string]float64, len(drivers))
	lastKnownDistance := make(map[string]float64, len(drivers))
	retired := make(map[string]bool, len(drivers))

	var lastGapRefresh float64 = -1
	lastGaps := make(map[string][2]float64) // code -> [gapToPrevious, gapToLeader]

	leaderLap := 0

	for fi, t := range timeline {
		df := make(map[string]DriverFrame, len(drivers))
		order := make([]string, 0, len(drivers))

		for _, d := range drivers {
			code := d.code
			dist := d.raceDistance[fi]

			if prev, ok := lastKnownDistance[code]; ok {
				if dist > prev {
					lastAdvance[code] = t
				}
			} else {
				lastAdvance[code] = t
			}
			lastKnownDistance[code] = dist

			if !retired[code] && t-lastAdvance[code] > stallThreshold {
				retired[code] = true
				stalledSince[code] = lastAdvance[code]
			}

			df[code] = DriverFrame{
				X:                d.x[fi],
				Y:                d.y[fi],
				Distance:         dist,
				RelativeDistance: d.relativeDistance[fi],
				Lap:              d.lap[fi],
				Tyre:             d.tyre[fi],
				Speed:            d.speed[fi],
				Gear:             d.gear[fi],
				DRS:              d.drs[fi],
				Throttle:         d.throttle[fi],
				Brake:            d.brake[fi],
				RPM:              d.rpm[fi],
			}
			order = append(order, code)
		}

		// Position: rank Running drivers by descending race distance, then
		// all Retired drivers behind them, ranked among themselves by the
		// same distance, lap and driver-code order.
		sort.SliceStable(order, func(i, j int) bool {
			ci, cj := order[i], order[j]
			ri, rj := retired[ci], retired[cj]
			if ri != rj {
				return !ri // non-retired sorts first
			}
			di, dj := df[ci].Distance, df[cj].Distance
			if di != dj {
				return di > dj
			}
			li, lj := df[ci].Lap, df[cj].Lap
			if li != lj {
				return li > lj
			}
			return ci < cj
		})

		if len(order) > 0 {
			leaderLap = df[order[0]].Lap
		}

		refresh := lastGapRefresh < 0 || t-lastGapRefresh >= gapRefresh
		if refresh {
			lastGapRefresh = t
		}

		var leaderDist float64
		if len(order) > 0 {
			leaderDist = df[order[0]].Distance
		}

		for pos, code := range order {
			entry := df[code]
			entry.Position = pos + 1

			status := "Running"
			switch {
			case retired[code]:
				status = "Retired"
			case leaderLap > entry.Lap:
				status = lappedStatus(leaderLap - entry.Lap)
			}
			entry.Status = status

			if pos == 0 {
				entry.GapToPrevious = 0
				entry.GapToLeader = 0
			} else if refresh {
				prevCode := order[pos-1]
				prevEntry := df[prevCode]
				speed := entry.Speed
				if speed < speedFloor {
					speed = speedFloor
				}
				gapToPrev := (prevEntry.Distance - entry.Distance) / speed
				gapToLeader := (leaderDist - entry.Distance) / speed
				lastGaps[code] = [2]float64{gapToPrev, gapToLeader}
				entry.GapToPrevious = gapToPrev
				entry.GapToLeader = gapToLeader
			} else if g, ok := lastGaps[code]; ok {
				entry.GapToPrevious = g[0]
				entry.GapToLeader = g[1]
			}

			df[code] = entry
		}

		frames[fi] = Frame{T: t, Lap: leaderLap, Drivers: df}
	}

	return frames
}

func lappedStatus(lapsDown int) string {
	if lapsDown <= 0 {
		return "Running"
	}
	if lapsDown == 1 {
		return "+1L"
	}
	return "+" + strconv.Itoa(lapsDown) + "L"
}

// pickFastestLap selects the usable lap with the shortest elapsed duration,
// the simplest reasonable proxy for "fastest lap" available from raw
// per-lap sample boundaries alone.
func pickFastestLap(laps []Lap) *Lap {
	var best *Lap
	var bestDur float64
	for i := range laps {
		lap := laps[i]
		if len(lap.Samples) < 2 {
			continue
		}
		dur := lap.Samples[len(lap.Samples)-1].T - lap.Samples[0].T
		if best == nil || dur < bestDur {
			best = &laps[i]
			bestDur = dur
		}
	}
	return best
}

// buildTrackGeometry derives a centerline and inner/outer offset polylines
// from one lap's raw X/Y samples, and assigns each centerline point a
// sector index by bucketing its in-lap distance against three equal
// distance bands. Width is approximated as a small fixed track-width proxy
// since raw samples don't carry an explicit width channel.
func buildTrackGeometry(lap *Lap, meta StaticMetadata) TrackGeometry {
	const trackWidthProxy = 6.0 // metres, half-width per side

	n := len(lap.Samples)
	geo := TrackGeometry{
		CenterlineX: make([]float64, n),
		CenterlineY: make([]float64, n),
		InnerX:      make([]float64, n),
		InnerY:      make([]float64, n),
		OuterX:      make([]float64, n),
		OuterY:      make([]float64, n),
		Sector:      make([]int, n),
	}

	lapLength := lap.Samples[n-1].DistanceInLap
	if lapLength <= 0 {
		lapLength = 1
	}

	xMin, xMax := lap.Samples[0].X, lap.Samples[0].X
	yMin, yMax := lap.Samples[0].Y, lap.Samples[0].Y

	for i, s := range lap.Samples {
		geo.CenterlineX[i] = s.X
		geo.CenterlineY[i] = s.Y

		// Normal direction approximated from the local heading between
		// neighboring samples; degrades gracefully at the endpoints.
		nx, ny := 0.0, 0.0
		if i > 0 {
			dx := s.X - lap.Samples[i-1].X
			dy := s.Y - lap.Samples[i-1].Y
			nx, ny = -dy, dx
		} else if n > 1 {
			dx := lap.Samples[i+1].X - s.X
			dy := lap.Samples[i+1].Y - s.Y
			nx, ny = -dy, dx
		}
		norm := math.Hypot(nx, ny)
		if norm > 0 {
			nx, ny = nx/norm, ny/norm
		}

		geo.InnerX[i] = s.X - nx*trackWidthProxy
		geo.InnerY[i] = s.Y - ny*trackWidthProxy
		geo.OuterX[i] = s.X + nx*trackWidthProxy
		geo.OuterY[i] = s.Y + ny*trackWidthProxy

		frac := s.DistanceInLap / lapLength
		switch {
		case frac < 1.0/3.0:
			geo.Sector[i] = 1
		case frac < 2.0/3.0:
			geo.Sector[i] = 2
		default:
			geo.Sector[i] = 3
		}

		if s.X < xMin {
			xMin = s.X
		}
		if s.X > xMax {
			xMax = s.X
		}
		if s.Y < yMin {
			yMin = s.Y
		}
		if s.Y > yMax {
			yMax = s.Y
		}
	}

	geo.XMin, geo.XMax, geo.YMin, geo.YMax = xMin, xMax, yMin, yMax
	return geo
}

func shiftTrackStatuses(statuses []TrackStatusInterval, origin float64) []TrackStatusInterval {
	out := make([]TrackStatusInterval, len(statuses))
	for i, s := range statuses {
		out[i] = TrackStatusInterval{Start: s.Start - origin, End: s.End - origin, Status: s.Status}
	}
	return out
}

func shiftWeather(samples []WeatherSample, origin float64) []WeatherSample {
	out := make([]WeatherSample, len(samples))
	for i, s := range samples {
		out[i] = s
		out[i].T = s.T - origin
	}
	return out
}

package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func sample(t, distance float64, lap int) Sample {
	return Sample{T: t, X: distance, Y: 0, DistanceInLap: distance, Speed: 50, LapNumber: lap}
}

func TestNormalizeDriverConcatenatesLapsInOrder(t *testing.T) {
	laps := []Lap{
		{Number: 2, Samples: []Sample{sample(10, 0, 2), sample(11, 100, 2)}},
		{Number: 1, Samples: []Sample{sample(0, 0, 1), sample(1, 200, 1)}},
	}

	dt, err := NormalizeDriver("VER", laps)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1, 10, 11}, dt.T)
	// race distance accumulates lap length (200) before lap 2's own distances.
	require.Equal(t, []float64{0, 200, 200, 300}, dt.RaceDistance)
}

func TestNormalizeDriverSkipsEmptyLaps(t *testing.T) {
	laps := []Lap{
		{Number: 1, Samples: []Sample{sample(0, 0, 1), sample(1, 100, 1)}},
		{Number: 2, Samples: nil},
	}

	dt, err := NormalizeDriver("HAM", laps)
	require.NoError(t, err)
	require.Equal(t, 2, dt.Len())
}

func TestNormalizeDriverRejectsWithinLapRegression(t *testing.T) {
	laps := []Lap{
		{Number: 1, Samples: []Sample{sample(1, 0, 1), sample(0, 100, 1)}},
	}

	_, err := NormalizeDriver("LEC", laps)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDataIntegrity))
}

func TestNormalizeDriverRejectsCrossLapRegression(t *testing.T) {
	laps := []Lap{
		{Number: 1, Samples: []Sample{sample(0, 0, 1), sample(5, 100, 1)}},
		{Number: 2, Samples: []Sample{sample(2, 0, 2), sample(3, 50, 2)}},
	}

	_, err := NormalizeDriver("NOR", laps)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDataIntegrity))
}

func TestNormalizeDriverAllEmptyLapsIsNoLaps(t *testing.T) {
	laps := []Lap{{Number: 1, Samples: nil}, {Number: 2, Samples: nil}}

	_, err := NormalizeDriver("SAI", laps)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNoLaps))
}

func TestNormalizeDriverRelativeDistance(t *testing.T) {
	laps := []Lap{
		{Number: 1, Samples: []Sample{
			{T: 0, DistanceInLap: 0, LapNumber: 1},
			{T: 1, DistanceInLap: 50, LapNumber: 1},
			{T: 2, DistanceInLap: 100, LapNumber: 1},
		}},
	}

	dt, err := NormalizeDriver("PIA", laps)
	require.NoError(t, err)
	require.InDelta(t, 0.0, dt.RelativeDistance[0], 1e-9)
	require.InDelta(t, 0.5, dt.RelativeDistance[1], 1e-9)
	require.InDelta(t, 1.0, dt.RelativeDistance[2], 1e-9)
}

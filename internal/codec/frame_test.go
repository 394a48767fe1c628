package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joptimus/f1-race-replay/internal/telemetry"
)

func sampleFrame() telemetry.Frame {
	return telemetry.Frame{
		T:   1.5,
		Lap: 3,
		Drivers: map[string]telemetry.DriverFrame{
			"VER": {X: 10, Y: 20, Distance: 500, RelativeDistance: 0.5, Lap: 3, Tyre: "Soft", Speed: 280, Gear: 7, DRS: true, Throttle: 1, Brake: 0, RPM: 11000, Position: 1, GapToPrevious: 0, GapToLeader: 0, Status: "Running"},
			"HAM": {X: 5, Y: 18, Distance: 480, RelativeDistance: 0.48, Lap: 3, Tyre: "Medium", Speed: 270, Gear: 6, DRS: false, Throttle: 0.9, Brake: 0.1, RPM: 10500, Position: 2, GapToPrevious: 1.2, GapToLeader: 1.2, Status: "Running"},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := sampleFrame()
	b, err := Encode(f)
	require.NoError(t, err)
	require.NotEmpty(t, b)

	pf, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, f.T, pf.T)
	require.Equal(t, f.Lap, pf.Lap)
	require.Len(t, pf.Drivers, 2)
	require.Equal(t, f.Drivers["VER"].Speed, pf.Drivers["VER"].Speed)
	require.Equal(t, f.Drivers["HAM"].Status, pf.Drivers["HAM"].Status)
}

func TestEncodeIsDeterministic(t *testing.T) {
	f := sampleFrame()
	b1, err := Encode(f)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		b2, err := Encode(f)
		require.NoError(t, err)
		require.Equal(t, b1, b2)
	}
}

func TestProjectFrameNarrowsFieldNames(t *testing.T) {
	pf := ProjectFrame(sampleFrame())
	require.Equal(t, 500.0, pf.Drivers["VER"].Dist)
	require.Equal(t, 0.5, pf.Drivers["VER"].RelDist)
}

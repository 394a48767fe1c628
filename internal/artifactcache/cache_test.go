package artifactcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joptimus/f1-race-replay/internal/fsutil"
	"github.com/joptimus/f1-race-replay/internal/telemetry"
)

func sampleArtifact() *telemetry.SessionArtifact {
	return &telemetry.SessionArtifact{
		SessionID:   "2024_1_R",
		Year:        2024,
		Round:       1,
		SessionType: "R",
		TotalFrames: 2,
		Frames: []telemetry.Frame{
			{T: 0, Lap: 1, Drivers: map[string]telemetry.DriverFrame{"VER": {Position: 1}}},
			{T: 0.04, Lap: 1, Drivers: map[string]telemetry.DriverFrame{"VER": {Position: 1}}},
		},
		DriverColors: map[string][3]int{"VER": {6, 0, 239}},
	}
}

func TestStoreLoadMissReturnsFalse(t *testing.T) {
	s := NewStore(fsutil.NewMemoryFileSystem(), "/cache")
	artifact, found, err := s.Load(context.Background(), "2024_1_R")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, artifact)
}

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	s := NewStore(fsutil.NewMemoryFileSystem(), "/cache")
	want := sampleArtifact()

	require.NoError(t, s.Save(context.Background(), want))

	got, found, err := s.Load(context.Background(), want.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want.SessionID, got.SessionID)
	require.Equal(t, want.TotalFrames, got.TotalFrames)
	require.Len(t, got.Frames, 2)
	require.Equal(t, want.DriverColors, got.DriverColors)
}

func TestStoreSaveOverwrites(t *testing.T) {
	s := NewStore(fsutil.NewMemoryFileSystem(), "/cache")
	a := sampleArtifact()
	require.NoError(t, s.Save(context.Background(), a))

	a.TotalFrames = 99
	require.NoError(t, s.Save(context.Background(), a))

	got, found, err := s.Load(context.Background(), a.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 99, got.TotalFrames)
}

func TestStoreSaveRejectsEmptySessionID(t *testing.T) {
	s := NewStore(fsutil.NewMemoryFileSystem(), "/cache")
	err := s.Save(context.Background(), &telemetry.SessionArtifact{})
	require.Error(t, err)
}

func TestStoreDeleteMissingIsNoop(t *testing.T) {
	s := NewStore(fsutil.NewMemoryFileSystem(), "/cache")
	require.NoError(t, s.Delete("nonexistent"))
}

func TestStoreDeleteThenLoadMisses(t *testing.T) {
	s := NewStore(fsutil.NewMemoryFileSystem(), "/cache")
	a := sampleArtifact()
	require.NoError(t, s.Save(context.Background(), a))
	require.NoError(t, s.Delete(a.SessionID))

	_, found, err := s.Load(context.Background(), a.SessionID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCacheKeyFormat(t *testing.T) {
	require.Equal(t, "2024_1_R_telemetry", CacheKey("2024_1_R"))
}

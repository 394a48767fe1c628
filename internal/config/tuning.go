// Package config exposes the replay engine's tuning knobs.
//
// The schema mirrors a JSON file on disk so the same defaults can be
// checked into the repository, overridden per-deployment, and inspected
// at runtime without redeploying code.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// Its values mirror the defaults hard-coded in the Get* accessors, which
// apply whenever a field is unset.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the knobs that govern the Race-Frame Builder and the
// Streaming Control Plane. Every field is optional; unset fields fall back
// to the documented default returned by the matching Get* accessor.
type TuningConfig struct {
	// OutputFPS is the frame rate of the resampled global timeline.
	OutputFPS *float64 `json:"output_fps,omitempty"`

	// OutputTickHz is the cadence of the per-attachment playback loop.
	OutputTickHz *float64 `json:"output_tick_hz,omitempty"`

	// RetirementStallSeconds is how long a driver's race distance must
	// stall before the builder marks them "Retired".
	RetirementStallSeconds *float64 `json:"retirement_stall_seconds,omitempty"`

	// GapRefreshSeconds is the hold period between gap recomputations.
	GapRefreshSeconds *float64 `json:"gap_refresh_seconds,omitempty"`

	// SmallSessionThreshold is the frame count at or below which frames
	// are eagerly encoded instead of cached on demand in an LRU.
	SmallSessionThreshold *int `json:"small_session_threshold,omitempty"`

	// LRUCapacity bounds the on-demand encoded-frame cache for large
	// sessions.
	LRUCapacity *int `json:"lru_capacity,omitempty"`

	// LoadTimeoutSeconds bounds how long a streaming attachment waits
	// between subscribing and seeing loading_complete/loading_error.
	LoadTimeoutSeconds *float64 `json:"load_timeout_seconds,omitempty"`

	// MaxSpeed is the fastest playback multiplier a play command may set.
	MaxSpeed *float64 `json:"max_speed,omitempty"`

	// SpeedFloor clamps the denominator of the gap-time computation to
	// avoid division by zero for stationary or near-stationary drivers.
	SpeedFloor *float64 `json:"speed_floor,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
// Use LoadTuningConfig to load actual values from a defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file is
// validated to ensure it has a .json extension and is under the max file
// size. Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching from the current directory up through
// common parent directories. Panics if the file cannot be loaded;
// intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
		"../../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are self-consistent.
func (c *TuningConfig) Validate() error {
	if c.OutputFPS != nil && *c.OutputFPS <= 0 {
		return fmt.Errorf("output_fps must be positive, got %f", *c.OutputFPS)
	}
	if c.OutputTickHz != nil && *c.OutputTickHz <= 0 {
		return fmt.Errorf("output_tick_hz must be positive, got %f", *c.OutputTickHz)
	}
	if c.RetirementStallSeconds != nil && *c.RetirementStallSeconds < 0 {
		return fmt.Errorf("retirement_stall_seconds must be non-negative, got %f", *c.RetirementStallSeconds)
	}
	if c.GapRefreshSeconds != nil && *c.GapRefreshSeconds <= 0 {
		return fmt.Errorf("gap_refresh_seconds must be positive, got %f", *c.GapRefreshSeconds)
	}
	if c.SmallSessionThreshold != nil && *c.SmallSessionThreshold < 0 {
		return fmt.Errorf("small_session_threshold must be non-negative, got %d", *c.SmallSessionThreshold)
	}
	if c.LRUCapacity != nil && *c.LRUCapacity <= 0 {
		return fmt.Errorf("lru_capacity must be positive, got %d", *c.LRUCapacity)
	}
	if c.LoadTimeoutSeconds != nil && *c.LoadTimeoutSeconds <= 0 {
		return fmt.Errorf("load_timeout_seconds must be positive, got %f", *c.LoadTimeoutSeconds)
	}
	if c.MaxSpeed != nil && *c.MaxSpeed <= 0 {
		return fmt.Errorf("max_speed must be positive, got %f", *c.MaxSpeed)
	}
	if c.SpeedFloor != nil && *c.SpeedFloor <= 0 {
		return fmt.Errorf("speed_floor must be positive, got %f", *c.SpeedFloor)
	}
	return nil
}

// GetOutputFPS returns OutputFPS or its default (25).
func (c *TuningConfig) GetOutputFPS() float64 {
	if c.OutputFPS == nil {
		return 25
	}
	return *c.OutputFPS
}

// GetOutputTickPeriod returns the playback loop's tick period, derived
// from OutputTickHz (default 25 Hz, i.e. 40ms).
func (c *TuningConfig) GetOutputTickPeriod() time.Duration {
	hz := 25.0
	if c.OutputTickHz != nil && *c.OutputTickHz > 0 {
		hz = *c.OutputTickHz
	}
	return time.Duration(float64(time.Second) / hz)
}

// GetRetirementStallSeconds returns RetirementStallSeconds or its default (30s).
func (c *TuningConfig) GetRetirementStallSeconds() time.Duration {
	if c.RetirementStallSeconds == nil {
		return 30 * time.Second
	}
	return time.Duration(*c.RetirementStallSeconds * float64(time.Second))
}

// GetGapRefreshSeconds returns GapRefreshSeconds or its default (3s).
func (c *TuningConfig) GetGapRefreshSeconds() time.Duration {
	if c.GapRefreshSeconds == nil {
		return 3 * time.Second
	}
	return time.Duration(*c.GapRefreshSeconds * float64(time.Second))
}

// GetSmallSessionThreshold returns SmallSessionThreshold or its default (50000).
func (c *TuningConfig) GetSmallSessionThreshold() int {
	if c.SmallSessionThreshold == nil {
		return 50000
	}
	return *c.SmallSessionThreshold
}

// GetLRUCapacity returns LRUCapacity or its default (1000).
func (c *TuningConfig) GetLRUCapacity() int {
	if c.LRUCapacity == nil {
		return 1000
	}
	return *c.LRUCapacity
}

// GetLoadTimeout returns LoadTimeoutSeconds or its default (300s).
func (c *TuningConfig) GetLoadTimeout() time.Duration {
	if c.LoadTimeoutSeconds == nil {
		return 300 * time.Second
	}
	return time.Duration(*c.LoadTimeoutSeconds * float64(time.Second))
}

// GetMaxSpeed returns MaxSpeed or its default (8.0).
func (c *TuningConfig) GetMaxSpeed() float64 {
	if c.MaxSpeed == nil {
		return 8.0
	}
	return *c.MaxSpeed
}

// GetSpeedFloor returns SpeedFloor or its default (5.0 m/s).
func (c *TuningConfig) GetSpeedFloor() float64 {
	if c.SpeedFloor == nil {
		return 5.0
	}
	return *c.SpeedFloor
}

// Package fixtureaccessor implements telemetry.RawAccessor by reading
// canned per-session JSON fixtures from disk. It is the demo/test backend
// selected with -accessor=fixture; a production deployment wires a real
// upstream provider behind the same interface instead.
package fixtureaccessor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/joptimus/f1-race-replay/internal/fsutil"
	"github.com/joptimus/f1-race-replay/internal/telemetry"
)

// fixtureFile is the on-disk shape of one session's canned raw data.
type fixtureFile struct {
	Drivers  []string                   `json:"drivers"`
	Laps     map[string][]telemetry.Lap `json:"laps"`
	Metadata telemetry.StaticMetadata   `json:"metadata"`
}

// Accessor reads fixtures from dir, one JSON file per session id:
// "{dir}/{session_id}.json".
type Accessor struct {
	fs  fsutil.FileSystem
	dir string
}

// New creates an Accessor rooted at dir.
func New(fs fsutil.FileSystem, dir string) *Accessor {
	return &Accessor{fs: fs, dir: dir}
}

func (a *Accessor) load(key telemetry.SessionKey) (*fixtureFile, error) {
	path := filepath.Join(a.dir, key.ID()+".json")
	data, err := a.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixtureaccessor: reading %s: %w", path, err)
	}
	var f fixtureFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("fixtureaccessor: parsing %s: %w", path, err)
	}
	return &f, nil
}

func (a *Accessor) Drivers(ctx context.Context, key telemetry.SessionKey) ([]string, error) {
	f, err := a.load(key)
	if err != nil {
		return nil, err
	}
	return f.Drivers, nil
}

func (a *Accessor) Laps(ctx context.Context, key telemetry.SessionKey, driverCode string) ([]telemetry.Lap, error) {
	f, err := a.load(key)
	if err != nil {
		return nil, err
	}
	return f.Laps[driverCode], nil
}

func (a *Accessor) StaticMetadata(ctx context.Context, key telemetry.SessionKey) (telemetry.StaticMetadata, error) {
	f, err := a.load(key)
	if err != nil {
		return telemetry.StaticMetadata{}, err
	}
	return f.Metadata, nil
}

// Package codec implements the Frame Encoder & Cache: projecting a
// telemetry.Frame down to its public wire shape and binary-encoding that
// projection with MessagePack, plus the caching policy that decides
// whether frames are pre-encoded eagerly or encoded on demand.
package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/joptimus/f1-race-replay/internal/telemetry"
)

// PublicDriverFrame is the wire shape of one driver's entry within a
// frame. Field names are the short wire keys from the streaming protocol,
// not the internal telemetry.DriverFrame field names.
type PublicDriverFrame struct {
	X             float64 `msgpack:"x"`
	Y             float64 `msgpack:"y"`
	Dist          float64 `msgpack:"dist"`
	RelDist       float64 `msgpack:"rel_dist"`
	Lap           int     `msgpack:"lap"`
	Tyre          string  `msgpack:"tyre"`
	Speed         float64 `msgpack:"speed"`
	Gear          int     `msgpack:"gear"`
	DRS           bool    `msgpack:"drs"`
	Throttle      float64 `msgpack:"throttle"`
	Brake         float64 `msgpack:"brake"`
	RPM           float64 `msgpack:"rpm"`
	Position      int     `msgpack:"position"`
	GapToPrevious float64 `msgpack:"gap_to_previous"`
	GapToLeader   float64 `msgpack:"gap_to_leader"`
	Status        string  `msgpack:"status"`
}

// PublicFrame is the public projection of a telemetry.Frame: the exact
// shape sent over the wire as one binary playback message.
type PublicFrame struct {
	T       float64                      `msgpack:"t"`
	Lap     int                          `msgpack:"lap"`
	Drivers map[string]PublicDriverFrame `msgpack:"drivers"`
}

// ProjectFrame narrows an internal telemetry.Frame to its public wire
// shape. Narrowing is a pure function of the frame so the encoder is
// deterministic: equal frames always project and encode identically.
func ProjectFrame(f telemetry.Frame) PublicFrame {
	drivers := make(map[string]PublicDriverFrame, len(f.Drivers))
	for code, d := range f.Drivers {
		drivers[code] = PublicDriverFrame{
			X:             d.X,
			Y:             d.Y,
			Dist:          d.Distance,
			RelDist:       d.RelativeDistance,
			Lap:           d.Lap,
			Tyre:          d.Tyre,
			Speed:         d.Speed,
			Gear:          d.Gear,
			DRS:           d.DRS,
			Throttle:      d.Throttle,
			Brake:         d.Brake,
			RPM:           d.RPM,
			Position:      d.Position,
			GapToPrevious: d.GapToPrevious,
			GapToLeader:   d.GapToLeader,
			Status:        d.Status,
		}
	}
	return PublicFrame{T: f.T, Lap: f.Lap, Drivers: drivers}
}

// Encode projects and MessagePack-encodes f. Map keys are sorted before
// encoding (SetSortMapKeys) since Go map iteration order is randomized and
// the encoder is required to be deterministic: byte-for-byte equality
// holds for equal frames.
func Encode(f telemetry.Frame) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(ProjectFrame(f)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode, mainly for tests and diagnostic tooling.
func Decode(b []byte) (PublicFrame, error) {
	var pf PublicFrame
	err := msgpack.Unmarshal(b, &pf)
	return pf, err
}

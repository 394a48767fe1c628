package stream

import "github.com/joptimus/f1-race-replay/internal/telemetry"

// inboundCommand is the JSON shape of a command sent by the client on the
// text direction of the duplex channel.
type inboundCommand struct {
	Action string   `json:"action"`
	Speed  *float64 `json:"speed,omitempty"`
	Frame  *int     `json:"frame,omitempty"`
}

type loadingProgressMsg struct {
	Type           string `json:"type"`
	Progress       int    `json:"progress"`
	Message        string `json:"message"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

type loadingCompleteMsg struct {
	Type            string      `json:"type"`
	Frames          int         `json:"frames"`
	LoadTimeSeconds float64     `json:"load_time_seconds"`
	ElapsedSeconds  int         `json:"elapsed_seconds"`
	Metadata        metadataMsg `json:"metadata"`
}

type loadingErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type trackGeometryMsg struct {
	CenterlineX []float64 `json:"centerline_x"`
	CenterlineY []float64 `json:"centerline_y"`
	InnerX      []float64 `json:"inner_x"`
	InnerY      []float64 `json:"inner_y"`
	OuterX      []float64 `json:"outer_x"`
	OuterY      []float64 `json:"outer_y"`
	XMin        float64   `json:"x_min"`
	XMax        float64   `json:"x_max"`
	YMin        float64   `json:"y_min"`
	YMax        float64   `json:"y_max"`
	Sector      []int     `json:"sector"`
}

type trackStatusMsg struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Status    string  `json:"status"`
}

type weatherMsg struct {
	Time      float64 `json:"time"`
	AirTemp   float64 `json:"air_temp"`
	TrackTemp float64 `json:"track_temp"`
	Humidity  float64 `json:"humidity"`
	WindSpeed float64 `json:"wind_speed"`
	Rain      bool    `json:"rain"`
}

type metadataMsg struct {
	Year          int               `json:"year"`
	Round         int               `json:"round"`
	SessionType   string            `json:"session_type"`
	TotalFrames   int               `json:"total_frames"`
	TotalLaps     int               `json:"total_laps"`
	DriverColors  map[string][3]int `json:"driver_colors"`
	DriverNumbers map[string]int    `json:"driver_numbers"`
	DriverTeams   map[string]string `json:"driver_teams"`
	TrackGeometry trackGeometryMsg  `json:"track_geometry"`
	TrackStatuses []trackStatusMsg  `json:"track_statuses"`
	Weather       []weatherMsg      `json:"weather"`
	RaceStartTime float64           `json:"race_start_time"`
}

func buildMetadata(a *telemetry.SessionArtifact) metadataMsg {
	statuses := make([]trackStatusMsg, len(a.TrackStatuses))
	for i, s := range a.TrackStatuses {
		statuses[i] = trackStatusMsg{StartTime: s.Start, EndTime: s.End, Status: s.Status}
	}

	weather := make([]weatherMsg, len(a.Weather))
	for i, w := range a.Weather {
		weather[i] = weatherMsg{
			Time:      w.T,
			AirTemp:   w.AirTemp,
			TrackTemp: w.TrackTemp,
			Humidity:  w.Humidity,
			WindSpeed: w.WindSpeed,
			Rain:      w.Rain,
		}
	}

	return metadataMsg{
		Year:          a.Year,
		Round:         a.Round,
		SessionType:   a.SessionType,
		TotalFrames:   a.TotalFrames,
		TotalLaps:     a.TotalLaps,
		DriverColors:  a.DriverColors,
		DriverNumbers: a.DriverNumbers,
		DriverTeams:   a.DriverTeams,
		TrackGeometry: trackGeometryMsg{
			CenterlineX: a.TrackGeometry.CenterlineX,
			CenterlineY: a.TrackGeometry.CenterlineY,
			InnerX:      a.TrackGeometry.InnerX,
			InnerY:      a.TrackGeometry.InnerY,
			OuterX:      a.TrackGeometry.OuterX,
			OuterY:      a.TrackGeometry.OuterY,
			XMin:        a.TrackGeometry.XMin,
			XMax:        a.TrackGeometry.XMax,
			YMin:        a.TrackGeometry.YMin,
			YMax:        a.TrackGeometry.YMax,
			Sector:      a.TrackGeometry.Sector,
		},
		TrackStatuses: statuses,
		Weather:       weather,
		RaceStartTime: a.RaceStartTime,
	}
}

package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/joptimus/f1-race-replay/internal/codec"
	"github.com/joptimus/f1-race-replay/internal/config"
	"github.com/joptimus/f1-race-replay/internal/session"
	"github.com/joptimus/f1-race-replay/internal/telemetry"
	"github.com/joptimus/f1-race-replay/internal/timeutil"
)

// fakeConn is an in-memory stand-in for *websocket.Conn: inbound commands
// are pushed onto readCh as already-serialized JSON, outbound text/binary
// writes are captured for assertions.
type fakeConn struct {
	mu        sync.Mutex
	textOut   []map[string]interface{}
	binaryOut [][]byte
	closed    bool

	readCh     chan []byte
	readClosed chan struct{}
	closeOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh:     make(chan []byte, 16),
		readClosed: make(chan struct{}),
	}
}

func (c *fakeConn) pushCommand(action string, extra map[string]interface{}) {
	m := map[string]interface{}{"action": action}
	for k, v := range extra {
		m[k] = v
	}
	b, _ := json.Marshal(m)
	c.readCh <- b
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.readCh:
		return websocket.TextMessage, b, nil
	case <-c.readClosed:
		return 0, nil, websocket.ErrCloseSent
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch messageType {
	case websocket.TextMessage:
		var m map[string]interface{}
		_ = json.Unmarshal(data, &m)
		c.textOut = append(c.textOut, m)
	case websocket.BinaryMessage:
		cp := make([]byte, len(data))
		copy(cp, data)
		c.binaryOut = append(c.binaryOut, cp)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.readClosed) })
	return nil
}

func (c *fakeConn) textMessagesOfType(typ string) []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]interface{}
	for _, m := range c.textOut {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) binaryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.binaryOut)
}

func (c *fakeConn) lastBinary() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.binaryOut) == 0 {
		return nil
	}
	return c.binaryOut[len(c.binaryOut)-1]
}

func pollUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func readyRecord(t *testing.T, frames []telemetry.Frame) *session.Record {
	t.Helper()
	key := telemetry.SessionKey{Year: 2024, Round: 1, SessionType: "R"}
	rec := session.NewRecord(key, timeutil.RealClock{})
	rec.Start(context.Background(), func(ctx context.Context, key telemetry.SessionKey, progress telemetry.ProgressFunc) (*telemetry.SessionArtifact, error) {
		return &telemetry.SessionArtifact{SessionID: key.ID(), TotalFrames: len(frames), Frames: frames}, nil
	})
	pollUntil(t, func() bool { return rec.State() == session.StateReady })
	return rec
}

func fiveFrames() []telemetry.Frame {
	out := make([]telemetry.Frame, 5)
	for i := range out {
		out[i] = telemetry.Frame{T: float64(i) / 25.0, Lap: 1, Drivers: map[string]telemetry.DriverFrame{
			"VER": {Position: 1, Distance: float64(i)},
		}}
	}
	return out
}

func TestAttachmentSessionNotFound(t *testing.T) {
	conn := newFakeConn()
	a := NewAttachment(conn, nil, config.EmptyTuningConfig(), timeutil.NewMockClock(time.Unix(0, 0)))

	err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrSessionNotFound)

	errs := conn.textMessagesOfType("loading_error")
	require.Len(t, errs, 1)
	require.Equal(t, "session not found", errs[0]["message"])
}

func TestAttachmentCatchUpReadyAndSeek(t *testing.T) {
	rec := readyRecord(t, fiveFrames())
	defer rec.Close()

	conn := newFakeConn()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	a := NewAttachment(conn, rec, config.EmptyTuningConfig(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- a.Run(ctx) }()

	pollUntil(t, func() bool { return len(conn.textMessagesOfType("loading_complete")) == 1 })

	frame := 0
	conn.pushCommand("seek", map[string]interface{}{"frame": frame})
	time.Sleep(5 * time.Millisecond) // let the command reach the select loop

	clock.Advance(config.EmptyTuningConfig().GetOutputTickPeriod())
	pollUntil(t, func() bool { return conn.binaryCount() >= 1 })

	pf, err := codec.Decode(conn.lastBinary())
	require.NoError(t, err)
	require.Equal(t, 0.0, pf.T)
	require.Len(t, pf.Drivers, 1)

	cancel()
	<-runErrCh
}

func TestAttachmentPlayAdvancesFrames(t *testing.T) {
	rec := readyRecord(t, fiveFrames())
	defer rec.Close()

	conn := newFakeConn()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	cfg := config.EmptyTuningConfig()
	a := NewAttachment(conn, rec, cfg, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- a.Run(ctx) }()

	pollUntil(t, func() bool { return len(conn.textMessagesOfType("loading_complete")) == 1 })

	conn.pushCommand("play", map[string]interface{}{"speed": 1.0})
	time.Sleep(5 * time.Millisecond)

	period := cfg.GetOutputTickPeriod()
	clock.Advance(period)
	pollUntil(t, func() bool { return conn.binaryCount() >= 1 })

	pf1, err := codec.Decode(conn.lastBinary())
	require.NoError(t, err)
	require.InDelta(t, 1.0/25.0, pf1.T, 1e-9)

	clock.Advance(period)
	pollUntil(t, func() bool { return conn.binaryCount() >= 2 })

	pf2, err := codec.Decode(conn.lastBinary())
	require.NoError(t, err)
	require.InDelta(t, 2.0/25.0, pf2.T, 1e-9)

	cancel()
	<-runErrCh
}

func TestAttachmentMaxSpeedClamped(t *testing.T) {
	rec := readyRecord(t, fiveFrames())
	defer rec.Close()

	conn := newFakeConn()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	cfg := config.EmptyTuningConfig()
	a := NewAttachment(conn, rec, cfg, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Run(ctx)
	pollUntil(t, func() bool { return len(conn.textMessagesOfType("loading_complete")) == 1 })

	conn.pushCommand("play", map[string]interface{}{"speed": 1000.0})
	time.Sleep(5 * time.Millisecond)

	require.Equal(t, cfg.GetMaxSpeed(), a.speed)
	cancel()
}

func TestAttachmentZeroOrNegativeSpeedRejected(t *testing.T) {
	rec := readyRecord(t, fiveFrames())
	defer rec.Close()

	conn := newFakeConn()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	cfg := config.EmptyTuningConfig()
	a := NewAttachment(conn, rec, cfg, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Run(ctx)
	pollUntil(t, func() bool { return len(conn.textMessagesOfType("loading_complete")) == 1 })

	conn.pushCommand("play", map[string]interface{}{"speed": 3.0})
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 3.0, a.speed)

	conn.pushCommand("play", map[string]interface{}{"speed": 0.0})
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 3.0, a.speed, "speed=0 must be rejected, not substituted")
	require.True(t, a.isPlaying, "play still takes effect even when the speed update is rejected")

	conn.pushCommand("play", map[string]interface{}{"speed": -2.0})
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 3.0, a.speed, "negative speed must be rejected, not substituted")

	cancel()
}

// TestAttachmentSeekDuringActivePlaybackDeliversExactFrame drives scenario 5
// end-to-end over a real httptest.Server and gorilla/websocket dialer: play
// at speed=2, observe frames near index 50 and 100, seek to 900, and assert
// the very next frame delivered is exactly 900 with nothing in between.
func TestAttachmentSeekDuringActivePlaybackDeliversExactFrame(t *testing.T) {
	const totalFrames = 1000
	frames := make([]telemetry.Frame, totalFrames)
	for i := range frames {
		frames[i] = telemetry.Frame{T: float64(i) / 25.0, Lap: 1, Drivers: map[string]telemetry.DriverFrame{
			"VER": {Position: 1, Distance: float64(i)},
		}}
	}

	key := telemetry.SessionKey{Year: 2024, Round: 1, SessionType: "R"}
	rec := session.NewRecord(key, timeutil.RealClock{})
	rec.Start(context.Background(), func(ctx context.Context, key telemetry.SessionKey, progress telemetry.ProgressFunc) (*telemetry.SessionArtifact, error) {
		return &telemetry.SessionArtifact{SessionID: key.ID(), TotalFrames: totalFrames, Frames: frames}, nil
	})
	defer rec.Close()
	pollUntilRecordReady(t, rec)

	cfg := config.EmptyTuningConfig()
	mux := http.NewServeMux()
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/replay", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		a := NewAttachment(conn, rec, cfg, timeutil.RealClock{})
		_ = a.Run(r.Context())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/replay"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Drain the loading handshake.
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(msg, &decoded))
		if decoded["type"] == "loading_complete" {
			break
		}
	}

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "play", "speed": 2.0}))

	sawNear50, sawNear100 := false, false
	for !sawNear100 {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		pf, err := codec.Decode(msg)
		require.NoError(t, err)
		idx := int(pf.T * 25.0)
		if idx >= 45 && idx <= 55 {
			sawNear50 = true
		}
		if sawNear50 && idx >= 95 && idx <= 105 {
			sawNear100 = true
		}
	}

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "seek", "frame": 900}))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	pf, err := codec.Decode(msg)
	require.NoError(t, err)
	require.InDelta(t, 900.0/25.0, pf.T, 1e-9, "the frame immediately after seek must be exactly index 900, nothing in between")

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	pf, err = codec.Decode(msg)
	require.NoError(t, err)
	require.Greater(t, pf.T, 900.0/25.0)
}

func pollUntilRecordReady(t *testing.T, rec *session.Record) {
	t.Helper()
	pollUntil(t, func() bool { return rec.State() == session.StateReady })
}

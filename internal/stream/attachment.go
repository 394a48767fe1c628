// Package stream implements the Streaming Control Plane: one goroutine per
// attached client, cooperatively multiplexing inbound playback commands
// and outbound loading/playback frames over a single duplex channel. The
// shape is grounded in the teacher's replay.go streamFromReader loop
// (read command -> update mutex-guarded playback state -> advance ->
// send), generalized from a gRPC server stream to a gorilla/websocket
// connection and driven by the shared timeutil.Clock abstraction so tests
// can step playback deterministically.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/joptimus/f1-race-replay/internal/codec"
	"github.com/joptimus/f1-race-replay/internal/config"
	"github.com/joptimus/f1-race-replay/internal/monitoring"
	"github.com/joptimus/f1-race-replay/internal/session"
	"github.com/joptimus/f1-race-replay/internal/telemetry"
	"github.com/joptimus/f1-race-replay/internal/timeutil"
)

// Sentinel errors for the streaming control plane's error taxonomy.
var (
	ErrSessionNotFound = errors.New("stream: session not found")
	ErrLoadTimeout     = errors.New("stream: load timeout")
)

// Conn is the minimal duplex-channel surface Attachment needs. A
// *websocket.Conn satisfies it directly; tests substitute a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Attachment drives one client's full lifecycle over conn: loading
// catch-up/progress relay, then the 25 Hz playback loop once the session
// record reaches READY.
type Attachment struct {
	conn  Conn
	rec   *session.Record
	cfg   *config.TuningConfig
	clock timeutil.Clock

	isPlaying         bool
	speed             float64
	currentFrameIndex float64
	lastFrameSent     int
}

// NewAttachment wires conn to rec. rec may be nil, meaning the session key
// the client addressed does not exist; Run will emit session_not_found and
// close immediately in that case.
func NewAttachment(conn Conn, rec *session.Record, cfg *config.TuningConfig, clock timeutil.Clock) *Attachment {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Attachment{
		conn:          conn,
		rec:           rec,
		cfg:           cfg,
		clock:         clock,
		speed:         1.0,
		lastFrameSent: -1,
	}
}

// Run executes the attachment's full lifecycle and blocks until the
// channel closes, either peer-initiated or due to a fatal condition (load
// timeout, build error, session not found). It always leaves conn closed.
func (a *Attachment) Run(ctx context.Context) error {
	defer a.conn.Close()

	if a.rec == nil {
		a.sendLoadingError("session not found")
		return ErrSessionNotFound
	}

	artifact, loadErr := a.awaitReady(ctx)
	if loadErr != nil {
		return loadErr
	}

	cache, err := codec.NewCache(artifact.Frames, a.cfg)
	if err != nil {
		a.sendLoadingError(fmt.Sprintf("encoding failure: %v", err))
		return err
	}

	return a.playbackLoop(ctx, artifact, cache)
}

// awaitReady relays loading_progress/loading_complete/loading_error to the
// client as the record's build progresses (or replays catch-up
// immediately for a record already READY/ERROR), enforcing LOAD_TIMEOUT
// between subscription and a terminal outcome.
func (a *Attachment) awaitReady(ctx context.Context) (*telemetry.SessionArtifact, error) {
	type outcome struct {
		artifact *telemetry.SessionArtifact
		err      error
	}
	outcomeCh := make(chan outcome, 1)
	sent := false
	lastProgress := -1

	unsubscribe := a.rec.Subscribe(func(ev session.ProgressEvent) {
		switch ev.State {
		case session.StateReady:
			if lastProgress < 100 {
				a.sendText(loadingProgressMsg{Type: "loading_progress", Progress: 100})
			}
			artifact := a.rec.Artifact()
			a.sendText(loadingCompleteMsg{
				Type:     "loading_complete",
				Frames:   artifact.TotalFrames,
				Metadata: buildMetadata(artifact),
			})
			if !sent {
				sent = true
				outcomeCh <- outcome{artifact: artifact}
			}
		case session.StateError:
			msg := "build failed"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			a.sendLoadingError(msg)
			if !sent {
				sent = true
				outcomeCh <- outcome{err: fmt.Errorf("stream: build failed: %w", ev.Err)}
			}
		default:
			a.sendText(loadingProgressMsg{Type: "loading_progress", Progress: ev.Progress, Message: ev.Message})
			lastProgress = ev.Progress
		}
	})
	defer unsubscribe()

	timeout := a.clock.NewTimer(a.cfg.GetLoadTimeout())
	defer timeout.Stop()

	select {
	case out := <-outcomeCh:
		return out.artifact, out.err
	case <-timeout.C():
		a.sendLoadingError("load timeout")
		return nil, ErrLoadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// playbackLoop runs the cooperative 25 Hz tick: a non-blocking command
// read, a frame-index advance when playing, and a send whenever the
// floored index differs from the last one sent. It never enqueues more
// than one frame ahead of the client: each send blocks on conn readiness,
// which is exactly the backpressure the spec calls for.
func (a *Attachment) playbackLoop(ctx context.Context, artifact *telemetry.SessionArtifact, cache codec.Cache) error {
	totalFrames := artifact.TotalFrames
	if totalFrames == 0 {
		return nil
	}

	cmdCh := make(chan inboundCommand)
	readErrCh := make(chan error, 1)
	go a.readCommands(cmdCh, readErrCh)

	ticker := a.clock.NewTicker(a.cfg.GetOutputTickPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrCh:
			return err

		case cmd := <-cmdCh:
			a.applyCommand(cmd, totalFrames)

		case <-ticker.C():
			if a.isPlaying {
				a.currentFrameIndex += a.speed
				if a.currentFrameIndex >= float64(totalFrames-1) {
					a.currentFrameIndex = float64(totalFrames - 1)
					a.isPlaying = false
				}
				if a.currentFrameIndex < 0 {
					a.currentFrameIndex = 0
				}
			}

			idx := int(a.currentFrameIndex)
			if idx != a.lastFrameSent {
				b, err := cache.Get(ctx, idx)
				if err != nil {
					monitoring.Logf("stream: encoding frame %d failed: %v", idx, err)
					continue
				}
				if err := a.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
					return err
				}
				a.lastFrameSent = idx
			}
		}
	}
}

// readCommands pumps inbound text messages off conn and decodes them,
// running on its own goroutine so playbackLoop's select can treat command
// arrival as just another event alongside the ticker. Malformed JSON and
// unknown actions are logged and dropped; only a read error or channel
// close terminates the pump.
func (a *Attachment) readCommands(out chan<- inboundCommand, errCh chan<- error) {
	for {
		messageType, p, err := a.conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var cmd inboundCommand
		if err := json.Unmarshal(p, &cmd); err != nil {
			monitoring.Logf("stream: malformed command ignored: %v", err)
			continue
		}
		switch cmd.Action {
		case "play", "pause", "seek":
			out <- cmd
		default:
			monitoring.Logf("stream: unknown command action %q ignored", cmd.Action)
		}
	}
}

func (a *Attachment) applyCommand(cmd inboundCommand, totalFrames int) {
	switch cmd.Action {
	case "play":
		a.isPlaying = true
		if cmd.Speed != nil {
			speed := *cmd.Speed
			if speed <= 0 {
				monitoring.Logf("stream: play command with non-positive speed %v rejected", speed)
				break
			}
			if maxSpeed := a.cfg.GetMaxSpeed(); speed > maxSpeed {
				speed = maxSpeed
			}
			a.speed = speed
		}
	case "pause":
		a.isPlaying = false
	case "seek":
		if cmd.Frame == nil {
			return
		}
		frame := *cmd.Frame
		if frame < 0 {
			frame = 0
		}
		if frame > totalFrames-1 {
			frame = totalFrames - 1
		}
		a.currentFrameIndex = float64(frame)
		a.lastFrameSent = -1
	}
}

func (a *Attachment) sendText(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		monitoring.Logf("stream: marshaling outbound message failed: %v", err)
		return
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		monitoring.Logf("stream: sending outbound message failed: %v", err)
	}
}

func (a *Attachment) sendLoadingError(message string) {
	a.sendText(loadingErrorMsg{Type: "loading_error", Message: message})
}

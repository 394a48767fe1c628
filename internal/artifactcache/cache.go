// Package artifactcache implements the persisted SessionArtifact cache
// described in the external interfaces section: a session's built
// artifact may be written to and read from an external store keyed by
// "{session_id}_telemetry", letting a rebuild short-circuit straight past
// raw load once a matching entry exists.
//
// The on-disk shape (a 4-byte magic, a little-endian format version and
// body length, then the msgpack-encoded body, all in one binary file) is
// adapted from the teacher's recorder.go chunked log format,
// collapsed from "many frames across rotating chunk files" down to "one
// artifact per key" since a SessionArtifact is sealed as a single
// immutable unit once built.
package artifactcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/joptimus/f1-race-replay/internal/fsutil"
	"github.com/joptimus/f1-race-replay/internal/security"
	"github.com/joptimus/f1-race-replay/internal/telemetry"
)

const (
	magic         = "F1RC"
	formatVersion = uint32(1)
)

// Store persists SessionArtifacts to a directory, one file per session
// key, guarded against path traversal via security.ValidatePathWithinDirectory.
type Store struct {
	fs  fsutil.FileSystem
	dir string
}

// NewStore creates a Store rooted at dir. dir is created lazily on first
// Save.
func NewStore(fs fsutil.FileSystem, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// CacheKey returns the persisted-cache key for a session id, per the
// external interface's `{session_id}_telemetry` convention.
func CacheKey(sessionID string) string {
	return sessionID + "_telemetry"
}

func (s *Store) pathFor(sessionID string) (string, error) {
	full := filepath.Join(s.dir, CacheKey(sessionID)+".bin")
	if err := security.ValidatePathWithinDirectory(full, s.dir); err != nil {
		return "", fmt.Errorf("artifactcache: %w", err)
	}
	return full, nil
}

// Load returns the cached artifact for sessionID, if present. found is
// false (with a nil error) when no cache entry exists yet.
func (s *Store) Load(ctx context.Context, sessionID string) (artifact *telemetry.SessionArtifact, found bool, err error) {
	path, err := s.pathFor(sessionID)
	if err != nil {
		return nil, false, err
	}
	if !s.fs.Exists(path) {
		return nil, false, nil
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("artifactcache: reading %s: %w", path, err)
	}

	body, err := unwrapEnvelope(data)
	if err != nil {
		return nil, false, fmt.Errorf("artifactcache: %s: %w", path, err)
	}

	var a telemetry.SessionArtifact
	if err := msgpack.Unmarshal(body, &a); err != nil {
		return nil, false, fmt.Errorf("artifactcache: decoding %s: %w", path, err)
	}
	return &a, true, nil
}

// Save writes artifact to the store under its own SessionID key,
// overwriting any existing entry.
func (s *Store) Save(ctx context.Context, artifact *telemetry.SessionArtifact) error {
	if artifact.SessionID == "" {
		return fmt.Errorf("artifactcache: artifact has empty SessionID")
	}
	path, err := s.pathFor(artifact.SessionID)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("artifactcache: creating %s: %w", s.dir, err)
	}

	body, err := msgpack.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("artifactcache: encoding artifact %s: %w", artifact.SessionID, err)
	}

	if err := s.fs.WriteFile(path, wrapEnvelope(body), 0o644); err != nil {
		return fmt.Errorf("artifactcache: writing %s: %w", path, err)
	}
	return nil
}

// Delete removes a cached entry, if present. Deleting a missing entry is
// not an error.
func (s *Store) Delete(sessionID string) error {
	path, err := s.pathFor(sessionID)
	if err != nil {
		return err
	}
	if !s.fs.Exists(path) {
		return nil
	}
	return s.fs.Remove(path)
}

// wrapEnvelope prefixes body with a fixed 4-byte magic, a 4-byte format
// version, and a 4-byte little-endian length, so a reader can validate the
// file before attempting to decode it and so the format can evolve later
// without breaking Load on old files silently.
func wrapEnvelope(body []byte) []byte {
	out := make([]byte, 0, len(magic)+8+len(body))
	out = append(out, magic...)
	var versionBuf [4]byte
	binary.LittleEndian.PutUint32(versionBuf[:], formatVersion)
	out = append(out, versionBuf[:]...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out
}

func unwrapEnvelope(data []byte) ([]byte, error) {
	const headerLen = 4 + 4 + 4
	if len(data) < headerLen {
		return nil, fmt.Errorf("truncated envelope header")
	}
	if string(data[:4]) != magic {
		return nil, fmt.Errorf("bad magic %q", data[:4])
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported format version %d", version)
	}
	length := binary.LittleEndian.Uint32(data[8:12])
	body := data[headerLen:]
	if uint32(len(body)) != length {
		return nil, fmt.Errorf("length mismatch: header says %d, have %d", length, len(body))
	}
	return body, nil
}

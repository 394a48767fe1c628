package codec

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joptimus/f1-race-replay/internal/config"
	"github.com/joptimus/f1-race-replay/internal/telemetry"
)

// ErrFrameIndexOutOfRange is returned by Cache.Get for an index outside
// [0, total_frames).
var ErrFrameIndexOutOfRange = fmt.Errorf("codec: frame index out of range")

// Cache serves an encoded frame by index. Implementations guarantee an
// index is never encoded concurrently twice for the same session.
type Cache interface {
	Get(ctx context.Context, index int) ([]byte, error)
	Len() int
}

// NewCache picks the caching policy for a session's frame count: small
// sessions are eagerly encoded into an array, large sessions are encoded
// on demand into a bounded LRU.
func NewCache(frames []telemetry.Frame, cfg *config.TuningConfig) (Cache, error) {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if len(frames) <= cfg.GetSmallSessionThreshold() {
		return NewArrayCache(frames)
	}
	return NewLRUCache(frames, cfg.GetLRUCapacity()), nil
}

// ArrayCache eagerly encodes every frame once at construction and serves
// from a plain slice, used for sessions at or below SMALL_SESSION_THRESHOLD.
type ArrayCache struct {
	encoded [][]byte
}

// NewArrayCache encodes every frame in frames up front.
func NewArrayCache(frames []telemetry.Frame) (*ArrayCache, error) {
	encoded := make([][]byte, len(frames))
	for i, f := range frames {
		b, err := Encode(f)
		if err != nil {
			return nil, fmt.Errorf("codec: encoding frame %d: %w", i, err)
		}
		encoded[i] = b
	}
	return &ArrayCache{encoded: encoded}, nil
}

func (c *ArrayCache) Get(ctx context.Context, index int) ([]byte, error) {
	if index < 0 || index >= len(c.encoded) {
		return nil, ErrFrameIndexOutOfRange
	}
	return c.encoded[index], nil
}

func (c *ArrayCache) Len() int { return len(c.encoded) }

// LRUCache encodes frames on demand and memoizes the result in a bounded
// LRU with strict eviction. A per-index in-flight guard ensures an index
// is never encoded concurrently more than once.
type LRUCache struct {
	frames []telemetry.Frame
	lru    *lru.Cache[int, []byte]

	mu       sync.Mutex
	inflight map[int]*inflightEncode
}

type inflightEncode struct {
	done   chan struct{}
	result []byte
	err    error
}

// NewLRUCache creates an LRUCache over frames with the given bounded
// capacity. frames is retained, not copied; it must not be mutated after
// the session reaches READY, per the artifact's post-READY immutability
// guarantee.
func NewLRUCache(frames []telemetry.Frame, capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	c, _ := lru.New[int, []byte](capacity)
	return &LRUCache{
		frames:   frames,
		lru:      c,
		inflight: make(map[int]*inflightEncode),
	}
}

func (c *LRUCache) Get(ctx context.Context, index int) ([]byte, error) {
	if index < 0 || index >= len(c.frames) {
		return nil, ErrFrameIndexOutOfRange
	}

	c.mu.Lock()
	if b, ok := c.lru.Get(index); ok {
		c.mu.Unlock()
		return b, nil
	}
	if ie, ok := c.inflight[index]; ok {
		c.mu.Unlock()
		select {
		case <-ie.done:
			return ie.result, ie.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ie := &inflightEncode{done: make(chan struct{})}
	c.inflight[index] = ie
	frame := c.frames[index]
	c.mu.Unlock()

	b, err := Encode(frame)

	c.mu.Lock()
	ie.result, ie.err = b, err
	if err == nil {
		c.lru.Add(index, b)
	}
	delete(c.inflight, index)
	c.mu.Unlock()
	close(ie.done)

	return b, err
}

func (c *LRUCache) Len() int { return len(c.frames) }

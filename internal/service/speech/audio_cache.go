package speech

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrClipNotFound = errors.New("audio clip not found")

// Clip is a synthesized reply kept in memory until it expires.
type Clip struct {
	ID        string
	Data      []byte
	Format    string
	ExpiresAt time.Time
}

// ContentType maps the clip format to a MIME type.
func (c Clip) ContentType() string {
	switch c.Format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

// AudioCache stores reply audio so transcript entries can reference it by URL.
type AudioCache struct {
	mu     sync.RWMutex
	clips  map[string]Clip
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// NewAudioCache creates a cache whose clip URLs start with prefix.
func NewAudioCache(ttl time.Duration, prefix string) *AudioCache {
	return &AudioCache{
		clips:  make(map[string]Clip),
		ttl:    ttl,
		prefix: prefix,
		now:    time.Now,
	}
}

// Put stores data and returns the new clip id.
func (c *AudioCache) Put(data []byte, format string) string {
	id := uuid.NewString()
	clip := Clip{
		ID:        id,
		Data:      append([]byte(nil), data...),
		Format:    normalizeFormat(format, "mp3"),
		ExpiresAt: c.now().Add(c.ttl),
	}

	c.mu.Lock()
	c.clips[id] = clip
	c.mu.Unlock()
	return id
}

// URL returns the public path of a clip.
func (c *AudioCache) URL(id string) string {
	return c.prefix + id
}

// Get returns a live clip.
func (c *AudioCache) Get(id string) (Clip, error) {
	c.mu.RLock()
	clip, ok := c.clips[id]
	c.mu.RUnlock()

	if !ok || !c.now().Before(clip.ExpiresAt) {
		return Clip{}, ErrClipNotFound
	}
	return clip, nil
}

// Sweep removes expired clips and reports how many were dropped.
func (c *AudioCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, clip := range c.clips {
		if !now.Before(clip.ExpiresAt) {
			delete(c.clips, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored clips, expired or not.
func (c *AudioCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clips)
}

// RunSweeper sweeps on every tick until ctx is done.
func (c *AudioCache) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Printf("[audio] swept %d expired clips, %d kept", n, c.Len())
			}
		}
	}
}

package events

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

// DeduplicationConfig holds configuration for error deduplication
type DeduplicationConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// DefaultDeduplicationConfig returns default deduplication settings
func DefaultDeduplicationConfig() DeduplicationConfig {
	return DeduplicationConfig{
		TTL:             5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Deduplicator suppresses repeats of the same error within the TTL. A
// driver that fails on every event would otherwise flood MQTT.
type Deduplicator struct {
	seen *cache.Cache
}

func NewDeduplicator(cfg DeduplicationConfig) *Deduplicator {
	def := DefaultDeduplicationConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	return &Deduplicator{seen: cache.New(cfg.TTL, cfg.CleanupInterval)}
}

// ShouldProcess reports whether this error is the first within the TTL
func (d *Deduplicator) ShouldProcess(component, category, message string) bool {
	key := errorKey(component, category, message)
	// Add fails when the key is present and unexpired
	return d.seen.Add(key, struct{}{}, cache.DefaultExpiration) == nil
}

// Tracked returns the number of distinct errors inside the window
func (d *Deduplicator) Tracked() int { return d.seen.ItemCount() }

func errorKey(component, category, message string) string {
	h := sha256.New()
	for _, s := range []string{component, category, message} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

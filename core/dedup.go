package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Deduplicator drops repeated events on the ingestion path. An event is a
// duplicate when an identical fingerprint (type, source, subject identifiers
// and outcome) was seen within the dedup window. The LRU bounds memory
// regardless of event volume.
type Deduplicator struct {
	cache  *lru.Cache[string, time.Time]
	window time.Duration
}

// NewDeduplicator creates a deduplicator with the given cache size and window.
// Size must be positive; lru.New only fails on a non-positive size.
func NewDeduplicator(size int, window time.Duration) (*Deduplicator, error) {
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("dedup cache: %w", err)
	}
	return &Deduplicator{cache: cache, window: window}, nil
}

// Fingerprint computes the stable dedup fingerprint for an event
func (d *Deduplicator) Fingerprint(event *SecurityEvent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s",
		event.Type, event.Source, event.UserID, event.SourceIP,
		event.Resource, event.SessionID, event.Outcome())
	return hex.EncodeToString(h.Sum(nil))
}

// IsDuplicate reports whether an identical event was seen within the window,
// and records this sighting either way.
func (d *Deduplicator) IsDuplicate(event *SecurityEvent) bool {
	fp := d.Fingerprint(event)
	now := event.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	last, seen := d.cache.Get(fp)
	d.cache.Add(fp, now)
	return seen && now.Sub(last) < d.window
}

// Len returns the number of fingerprints currently tracked
func (d *Deduplicator) Len() int {
	return d.cache.Len()
}

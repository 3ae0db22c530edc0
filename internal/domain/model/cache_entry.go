package model

import (
	"fmt"
	"time"
)

// Fingerprint is the composite cache key identifying a specific
// deliverable artifact. Two requests with an identical fingerprint are
// equivalent for caching purposes regardless of requester.
type Fingerprint struct {
	ResourceID string
	FormatID   string
	Rendition  string
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%s/%s/%s", f.ResourceID, f.FormatID, f.Rendition)
}

// DedupKey suppresses concurrent duplicate fetch work. It is
// deliberately coarser than Fingerprint: it omits the rendition, which
// in practice is derived from the format ID. If a single format ID ever
// maps to multiple renditions, two distinct requests would be treated
// as duplicates; that trade-off is accepted rather than hidden.
type DedupKey struct {
	ResourceID string
	FormatID   string
}

// Dedup derives the coarse in-flight key from a fingerprint.
func (f Fingerprint) Dedup() DedupKey {
	return DedupKey{ResourceID: f.ResourceID, FormatID: f.FormatID}
}

func (k DedupKey) String() string {
	return k.ResourceID + "/" + k.FormatID
}

// CacheEntry maps a fingerprint to a previously delivered artifact.
// Created once after a successful fetch+archive; hit bookkeeping is
// updated on every later cache hit. Entries have no TTL and are only
// removed administratively.
type CacheEntry struct {
	Fingerprint      Fingerprint
	ArtifactRef      string
	ArchiveMessageID string
	ByteSize         int64
	Kind             MediaKind
	CreatedBy        string
	Title            string
	Uploader         string
	Duration         int64 // seconds
	HitCount         int64
	CreatedAt        time.Time
	LastHitAt        time.Time
}

// CacheStats are approximate aggregates for observability.
type CacheStats struct {
	TotalEntries int64
	TotalHits    int64
	TotalBytes   int64
}

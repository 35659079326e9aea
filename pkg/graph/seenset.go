// Package graph implements the expansion engine that walks the legal-move graph of chess
// positions breadth-first-in-parallel, recording vertices and edges to storage.
package graph

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/bloomfilter/v2"

	"github.com/chesstree/chesstree/pkg/board"
)

const (
	// DefaultCacheSize is the default size of the recent-insert LRU; the confirmed-in-store
	// LRU is sized at twice this.
	DefaultCacheSize = 10_000

	// DefaultFilterCapacity is the default number of distinct hashes the bloom filter is
	// sized for, at DefaultFilterFalsePositive.
	DefaultFilterCapacity      = 1_000_000
	DefaultFilterFalsePositive = 1e-3
)

// hashKey adapts a ZobristHash to the hash.Hash64 interface the bloom filter operates over.
// Only Sum64 is meaningful; the remaining methods exist solely to satisfy the interface.
type hashKey board.ZobristHash

func (h hashKey) Write(p []byte) (int, error) { return len(p), nil }
func (h hashKey) Sum(b []byte) []byte         { return b }
func (h hashKey) Reset()                      {}
func (h hashKey) Size() int                   { return 8 }
func (h hashKey) BlockSize() int              { return 8 }
func (h hashKey) Sum64() uint64               { return uint64(h) }

// Tracker is a memory-bounded membership oracle over position hashes: a probabilistic filter
// backed by two exact LRU caches, used to answer "have we already processed this hash?" on the
// hot path without consulting storage. Exactness is delegated to storage; the tracker only
// filters and accelerates. Safe for concurrent use by multiple worker goroutines.
type Tracker struct {
	recent    *lru.Cache[board.ZobristHash, struct{}]
	confirmed *lru.Cache[board.ZobristHash, struct{}]
	filter    *bloomfilter.Filter

	falsePositives atomic.Uint64
}

// NewTracker builds a Tracker with the given cache size (the confirmed-in-store cache is sized
// at 2x) and a bloom filter sized for filterCapacity entries at DefaultFilterFalsePositive.
func NewTracker(cacheSize int, filterCapacity uint64) (*Tracker, error) {
	recent, err := lru.New[board.ZobristHash, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	confirmed, err := lru.New[board.ZobristHash, struct{}](2 * cacheSize)
	if err != nil {
		return nil, err
	}
	filter, err := bloomfilter.NewOptimal(filterCapacity, DefaultFilterFalsePositive)
	if err != nil {
		return nil, err
	}
	return &Tracker{recent: recent, confirmed: confirmed, filter: filter}, nil
}

// Contains reports whether h has definitely already been processed. It never fabricates a
// positive: an LRU hit is a definite positive; a filter miss is a definite negative; a filter
// hit with no LRU hit returns false and the caller must consult storage directly, because only
// storage can disambiguate a true positive from a filter false positive.
func (t *Tracker) Contains(h board.ZobristHash) bool {
	if t.recent.Contains(h) || t.confirmed.Contains(h) {
		return true
	}
	return false
}

// MaybeSeen reports whether the bloom filter believes h may have been seen. False means
// definitely not seen; true is inconclusive and must be confirmed against storage.
func (t *Tracker) MaybeSeen(h board.ZobristHash) bool {
	return t.filter.Contains(hashKey(h))
}

// Insert marks h as seen: the filter bit is set and h is placed in the recent-insert cache.
func (t *Tracker) Insert(h board.ZobristHash) {
	t.filter.Add(hashKey(h))
	t.recent.Add(h, struct{}{})
}

// ConfirmInStore records that storage has confirmed h exists, for the benefit of future
// Contains calls from any worker.
func (t *Tracker) ConfirmInStore(h board.ZobristHash) {
	t.confirmed.Add(h, struct{}{})
}

// RecordFalsePositive increments the false-positive counter, for observability only.
func (t *Tracker) RecordFalsePositive() {
	t.falsePositives.Add(1)
}

// FalsePositives returns the cumulative false-positive count recorded via RecordFalsePositive.
func (t *Tracker) FalsePositives() uint64 {
	return t.falsePositives.Load()
}

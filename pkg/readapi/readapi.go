// Package readapi serves read-only queries over the persisted position graph: point lookup with
// its neighboring edges, a neighborhood-only query, aggregate stats, and substring search. All
// queries run directly against storage, with small in-memory caches to smooth repeated polling.
package readapi

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chesstree/chesstree/pkg/storage"
)

const (
	// positionCacheSize bounds the point-lookup LRU.
	positionCacheSize = 512
	// defaultParentLimit bounds incoming edges returned when the caller supplies none.
	defaultParentLimit = 24
	// searchLimit bounds substring search results.
	searchLimit = 50
	// statsTTL is how long a Stats snapshot is reused before it's recomputed.
	statsTTL = 750 * time.Millisecond
)

// Edge is one move edge as returned to a reader.
type Edge struct {
	ParentHash uint64 `json:"parent_hash"`
	ChildHash  uint64 `json:"child_hash"`
	MoveUCI    string `json:"move_uci"`
	MoveIndex  int    `json:"move_index"`
}

// Node is a single vertex together with its edges, as returned by a point lookup.
type Node struct {
	Hash            uint64  `json:"hash"`
	FEN             string  `json:"fen"`
	Depth           int     `json:"depth"`
	ParentHash      *uint64 `json:"parent_hash,omitempty"`
	MoveSequence    string  `json:"move_sequence,omitempty"`
	EvaluationScore *int    `json:"evaluation_score,omitempty"`
	BestMove        *string `json:"best_move,omitempty"`
	GameResult      *string `json:"game_result,omitempty"`

	Outgoing []Edge `json:"outgoing"`
	Incoming []Edge `json:"incoming"`

	InDegree      int  `json:"in_degree"`
	OutDegree     int  `json:"out_degree"`
	Transposition bool `json:"transposition"`
}

// Neighbors is the edges-only view returned by GetNeighbors.
type Neighbors struct {
	Hash     uint64 `json:"hash"`
	Outgoing []Edge `json:"outgoing"`
	Incoming []Edge `json:"incoming"`
}

// Stats is the aggregate view returned by GetStats.
type Stats struct {
	TotalVertices int           `json:"total_vertices"`
	TotalEdges    int           `json:"total_edges"`
	MaxDepth      int           `json:"max_depth"`
	DepthHistogram map[int]int  `json:"depth_histogram"`
}

// API serves the read path over a storage pool.
type API struct {
	pool *storage.Pool

	positionCache *lru.Cache[uint64, Node]

	statsMu   sync.Mutex
	statsAt   time.Time
	statsCopy Stats
}

// New returns an API reading from pool.
func New(pool *storage.Pool) (*API, error) {
	cache, err := lru.New[uint64, Node](positionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("readapi: create position cache: %w", err)
	}
	return &API{pool: pool, positionCache: cache}, nil
}

// GetPosition fetches the vertex at hash (or, with hash nil, the unique depth-0 vertex) along
// with its outgoing edges (ordered by move_index), a capped and ordered slice of its incoming
// edges, and its in/out degree. Served from a 512-entry LRU keyed by hash.
func (a *API) GetPosition(ctx context.Context, hash *uint64, parentLimit int) (*Node, error) {
	if parentLimit <= 0 {
		parentLimit = defaultParentLimit
	}

	var resolvedHash uint64
	if hash == nil {
		row := a.pool.DB().QueryRowContext(ctx, "SELECT hash FROM positions WHERE depth = 0 LIMIT 1")
		if err := row.Scan(&resolvedHash); err != nil {
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("readapi: no root vertex present")
			}
			return nil, fmt.Errorf("readapi: lookup root vertex: %w", err)
		}
	} else {
		resolvedHash = *hash
	}

	// The cache only ever holds fully-materialized nodes for a hash whose row content never
	// changes once inserted (evaluation columns may change, but a stale annotation on a cache
	// hit is an acceptable tradeoff for the hot path).
	if n, ok := a.positionCache.Get(resolvedHash); ok {
		return &n, nil
	}

	n, err := a.loadNode(ctx, resolvedHash, parentLimit)
	if err != nil {
		return nil, err
	}
	a.positionCache.Add(resolvedHash, *n)
	return n, nil
}

func (a *API) loadNode(ctx context.Context, hash uint64, parentLimit int) (*Node, error) {
	n := &Node{Hash: hash}

	row := a.pool.DB().QueryRowContext(ctx, `
		SELECT fen, depth, parent_hash, move_sequence, evaluation_score, best_move, game_result
		FROM positions WHERE hash = ?`, hash)

	var parentHash sql.NullInt64
	var moveSeq, bestMove, gameResult sql.NullString
	var evalScore sql.NullInt64
	if err := row.Scan(&n.FEN, &n.Depth, &parentHash, &moveSeq, &evalScore, &bestMove, &gameResult); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("readapi: position %d not found", hash)
		}
		return nil, fmt.Errorf("readapi: load position %d: %w", hash, err)
	}
	if parentHash.Valid {
		v := uint64(parentHash.Int64)
		n.ParentHash = &v
	}
	n.MoveSequence = moveSeq.String
	if evalScore.Valid {
		v := int(evalScore.Int64)
		n.EvaluationScore = &v
	}
	if bestMove.Valid {
		n.BestMove = &bestMove.String
	}
	if gameResult.Valid {
		n.GameResult = &gameResult.String
	}

	var err error
	n.Outgoing, err = a.outgoingEdges(ctx, hash)
	if err != nil {
		return nil, err
	}
	n.Incoming, err = a.incomingEdges(ctx, hash, parentLimit)
	if err != nil {
		return nil, err
	}

	n.OutDegree = len(n.Outgoing)
	n.InDegree, err = a.inDegree(ctx, hash)
	if err != nil {
		return nil, err
	}
	n.Transposition = n.InDegree > 1
	return n, nil
}

func (a *API) outgoingEdges(ctx context.Context, hash uint64) ([]Edge, error) {
	rows, err := a.pool.DB().QueryContext(ctx, `
		SELECT parent_hash, child_hash, move_uci, move_index FROM edges
		WHERE parent_hash = ? ORDER BY move_index`, hash)
	if err != nil {
		return nil, fmt.Errorf("readapi: outgoing edges for %d: %w", hash, err)
	}
	return scanEdges(rows)
}

func (a *API) incomingEdges(ctx context.Context, hash uint64, limit int) ([]Edge, error) {
	rows, err := a.pool.DB().QueryContext(ctx, `
		SELECT parent_hash, child_hash, move_uci, move_index FROM edges
		WHERE child_hash = ? ORDER BY move_index, parent_hash LIMIT ?`, hash, limit)
	if err != nil {
		return nil, fmt.Errorf("readapi: incoming edges for %d: %w", hash, err)
	}
	return scanEdges(rows)
}

func (a *API) inDegree(ctx context.Context, hash uint64) (int, error) {
	var n int
	err := a.pool.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM edges WHERE child_hash = ?", hash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("readapi: in-degree for %d: %w", hash, err)
	}
	return n, nil
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ParentHash, &e.ChildHash, &e.MoveUCI, &e.MoveIndex); err != nil {
			return nil, fmt.Errorf("readapi: scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetNeighbors returns only the outgoing and incoming edges of hash, without vertex data.
func (a *API) GetNeighbors(ctx context.Context, hash uint64, parentLimit int) (*Neighbors, error) {
	if parentLimit <= 0 {
		parentLimit = defaultParentLimit
	}
	out, err := a.outgoingEdges(ctx, hash)
	if err != nil {
		return nil, err
	}
	in, err := a.incomingEdges(ctx, hash, parentLimit)
	if err != nil {
		return nil, err
	}
	return &Neighbors{Hash: hash, Outgoing: out, Incoming: in}, nil
}

// GetStats returns total vertex/edge counts, max depth, and a per-depth histogram, reusing a
// cached snapshot for up to 750ms to smooth repeated polling.
func (a *API) GetStats(ctx context.Context) (*Stats, error) {
	a.statsMu.Lock()
	if time.Since(a.statsAt) < statsTTL && !a.statsAt.IsZero() {
		s := a.statsCopy
		a.statsMu.Unlock()
		return &s, nil
	}
	a.statsMu.Unlock()

	s, err := a.computeStats(ctx)
	if err != nil {
		return nil, err
	}

	a.statsMu.Lock()
	a.statsCopy = *s
	a.statsAt = time.Now()
	a.statsMu.Unlock()
	return s, nil
}

func (a *API) computeStats(ctx context.Context) (*Stats, error) {
	s := &Stats{DepthHistogram: map[int]int{}}

	if err := a.pool.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM positions").Scan(&s.TotalVertices); err != nil {
		return nil, fmt.Errorf("readapi: count vertices: %w", err)
	}
	if err := a.pool.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM edges").Scan(&s.TotalEdges); err != nil {
		return nil, fmt.Errorf("readapi: count edges: %w", err)
	}
	if err := a.pool.DB().QueryRowContext(ctx, "SELECT COALESCE(MAX(depth), 0) FROM positions").Scan(&s.MaxDepth); err != nil {
		return nil, fmt.Errorf("readapi: max depth: %w", err)
	}

	rows, err := a.pool.DB().QueryContext(ctx, "SELECT depth, COUNT(*) FROM positions GROUP BY depth")
	if err != nil {
		return nil, fmt.Errorf("readapi: depth histogram: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var depth, count int
		if err := rows.Scan(&depth, &count); err != nil {
			return nil, fmt.Errorf("readapi: scan histogram row: %w", err)
		}
		s.DepthHistogram[depth] = count
	}
	return s, rows.Err()
}

// Search returns up to 50 positions whose fen or move_sequence contains query as a substring.
func (a *API) Search(ctx context.Context, query string) ([]Node, error) {
	like := "%" + query + "%"
	rows, err := a.pool.DB().QueryContext(ctx, `
		SELECT hash, fen, depth, parent_hash, move_sequence FROM positions
		WHERE fen LIKE ? OR move_sequence LIKE ?
		LIMIT ?`, like, like, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("readapi: search %q: %w", query, err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		var parentHash sql.NullInt64
		var moveSeq sql.NullString
		if err := rows.Scan(&n.Hash, &n.FEN, &n.Depth, &parentHash, &moveSeq); err != nil {
			return nil, fmt.Errorf("readapi: scan search row: %w", err)
		}
		if parentHash.Valid {
			v := uint64(parentHash.Int64)
			n.ParentHash = &v
		}
		n.MoveSequence = moveSeq.String
		out = append(out, n)
	}
	return out, rows.Err()
}

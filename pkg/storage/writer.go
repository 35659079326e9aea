package storage

import (
	"context"
	"fmt"
	"sync"
)

const (
	// DefaultBufferSize is the default vertex-buffer flush threshold B. The edge buffer is
	// pre-sized at 20x this, anticipating an average branching factor.
	DefaultBufferSize = 1_000
)

// PositionRecord is a row pending insertion into the positions table.
type PositionRecord struct {
	Hash             uint64
	FEN              string
	Depth            int
	ParentHash       *uint64
	MoveSequence     string
	EvaluationScore  *int
	BestMove         *string
	GameResult       *string
}

// EdgeRecord is a row pending insertion into the edges table.
type EdgeRecord struct {
	ParentHash uint64
	ChildHash  uint64
	MoveUCI    string
	MoveIndex  int
}

// Writer batches position and edge inserts into per-kind buffers, flushing each to its own
// transaction once it reaches its threshold. Safe for concurrent use by multiple worker
// goroutines: each buffer is protected by its own mutex, drained under the lock into a local
// slice, and flushed to the database after the lock is released.
type Writer struct {
	pool *Pool

	vertexMu  sync.Mutex
	vertexBuf []PositionRecord

	edgeMu  sync.Mutex
	edgeBuf []EdgeRecord

	bufferSize int
}

// NewWriter returns a Writer flushing at bufferSize vertices (the edge buffer is pre-sized at
// 20x bufferSize).
func NewWriter(pool *Pool, bufferSize int) *Writer {
	return &Writer{
		pool:       pool,
		vertexBuf:  make([]PositionRecord, 0, bufferSize),
		edgeBuf:    make([]EdgeRecord, 0, 20*bufferSize),
		bufferSize: bufferSize,
	}
}

// AddVertex appends a vertex record, flushing the vertex buffer if it has reached bufferSize.
func (w *Writer) AddVertex(ctx context.Context, r PositionRecord) error {
	w.vertexMu.Lock()
	w.vertexBuf = append(w.vertexBuf, r)
	full := len(w.vertexBuf) >= w.bufferSize
	w.vertexMu.Unlock()

	if full {
		_, err := w.FlushVertices(ctx)
		return err
	}
	return nil
}

// AddEdge appends an edge record, flushing the edge buffer if it has reached bufferSize. Edges
// are recorded unconditionally, even when the child position already existed, so that
// transposition edges are preserved in the graph.
func (w *Writer) AddEdge(ctx context.Context, r EdgeRecord) error {
	w.edgeMu.Lock()
	w.edgeBuf = append(w.edgeBuf, r)
	full := len(w.edgeBuf) >= w.bufferSize
	w.edgeMu.Unlock()

	if full {
		_, err := w.FlushEdges(ctx)
		return err
	}
	return nil
}

// FlushVertices drains the vertex buffer into a transaction of insert-or-ignore statements and
// returns the number of rows actually inserted (post-deduplication).
func (w *Writer) FlushVertices(ctx context.Context) (int, error) {
	w.vertexMu.Lock()
	records := w.vertexBuf
	w.vertexBuf = make([]PositionRecord, 0, w.bufferSize)
	w.vertexMu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}

	conn, err := w.pool.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("flush vertices: begin tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO positions
			(hash, fen, depth, parent_hash, move_sequence, evaluation_score, best_move, game_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("flush vertices: prepare: %w", err)
	}
	defer stmt.Close()

	var inserted int
	for _, r := range records {
		res, err := stmt.ExecContext(ctx, r.Hash, r.FEN, r.Depth, r.ParentHash, r.MoveSequence,
			r.EvaluationScore, r.BestMove, r.GameResult)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("flush vertices: exec: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("flush vertices: commit: %w", err)
	}
	return inserted, nil
}

// FlushEdges drains the edge buffer into a transaction of insert-or-ignore statements and
// returns the number of rows actually inserted.
func (w *Writer) FlushEdges(ctx context.Context) (int, error) {
	w.edgeMu.Lock()
	records := w.edgeBuf
	w.edgeBuf = make([]EdgeRecord, 0, 20*w.bufferSize)
	w.edgeMu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}

	conn, err := w.pool.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("flush edges: begin tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO edges (parent_hash, child_hash, move_uci, move_index)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("flush edges: prepare: %w", err)
	}
	defer stmt.Close()

	var inserted int
	for _, r := range records {
		res, err := stmt.ExecContext(ctx, r.ParentHash, r.ChildHash, r.MoveUCI, r.MoveIndex)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("flush edges: exec: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("flush edges: commit: %w", err)
	}
	return inserted, nil
}

// FlushAll flushes the vertex buffer, then the edge buffer, in that order -- the ordering
// required so that a vertex referenced by a newly flushed edge has already been committed,
// guaranteeing no dangling edges once FlushAll returns at the end of a run.
func (w *Writer) FlushAll(ctx context.Context) (vertices, edges int, err error) {
	vertices, err = w.FlushVertices(ctx)
	if err != nil {
		return vertices, 0, err
	}
	edges, err = w.FlushEdges(ctx)
	return vertices, edges, err
}

// Exists reports whether hash is known either in the unflushed vertex buffer or in storage. The
// buffer check runs first and is authoritative together with the storage probe.
func (w *Writer) Exists(ctx context.Context, hash uint64) (bool, error) {
	w.vertexMu.Lock()
	for _, r := range w.vertexBuf {
		if r.Hash == hash {
			w.vertexMu.Unlock()
			return true, nil
		}
	}
	w.vertexMu.Unlock()

	var exists bool
	err := w.pool.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM positions WHERE hash = ?)", hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("position exists: %w", err)
	}
	return exists, nil
}

// UpdateAnnotation rewrites the evaluation columns of a single already-committed row.
func (w *Writer) UpdateAnnotation(ctx context.Context, hash uint64, score *int, bestMove *string, result *string) error {
	_, err := w.pool.db.ExecContext(ctx,
		"UPDATE positions SET evaluation_score = ?, best_move = ?, game_result = ? WHERE hash = ?",
		score, bestMove, result, hash)
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	return nil
}

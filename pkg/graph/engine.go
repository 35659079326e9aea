package graph

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/chesstree/chesstree/pkg/board"
	"github.com/chesstree/chesstree/pkg/board/fen"
	"github.com/chesstree/chesstree/pkg/movegen"
	"github.com/chesstree/chesstree/pkg/progress"
	"github.com/chesstree/chesstree/pkg/storage"
)

// Engine walks the legal-move graph of chess positions breadth-first-in-parallel and
// depth-first-in-serial (within one worker), recording every vertex and edge it discovers to
// storage. It is the only component that decides which positions get expanded further.
type Engine struct {
	Keys     *board.ZobristKeys
	Gen      movegen.Generator
	Tracker  *Tracker
	Pool     *storage.Pool
	Writer   *storage.Writer
	Progress *progress.Tracker

	// PoolSize bounds the number of concurrently in-flight children per parent. Defaults to
	// runtime.NumCPU() if zero.
	PoolSize int
}

func (e *Engine) poolSize() int {
	if e.PoolSize > 0 {
		return e.PoolSize
	}
	return runtime.NumCPU()
}

// Generate expands root (at depth 0, with no parent) out to maxDepth plies and flushes every
// buffered vertex and edge before returning.
func (e *Engine) Generate(ctx context.Context, root *board.Position, turn board.Color, maxDepth int) error {
	h := e.Keys.Hash(root, turn)
	e.Tracker.Insert(h)

	if err := e.Writer.AddVertex(ctx, storage.PositionRecord{
		Hash:  uint64(h),
		FEN:   fen.Encode(root, turn, 0, 1),
		Depth: 0,
	}); err != nil {
		return err
	}
	e.Progress.RecordInserted()

	if err := e.explore(ctx, root, turn, 0, h, "", maxDepth); err != nil {
		return err
	}

	_, _, err := e.Writer.FlushAll(ctx)
	return err
}

// Extend loads every vertex at the store's current maximum depth d* and expands each by delta
// further plies, reconstructing positions from their stored FEN and verifying identity
// stability before recursing. Safe to re-run: inserts are insert-or-ignore.
func (e *Engine) Extend(ctx context.Context, delta int) error {
	dStar, err := e.Pool.MaxDepth(ctx)
	if err != nil {
		return err
	}
	return e.extendFrom(ctx, dStar, dStar+delta)
}

// Resume expands the graph to targetMaxDepth if the store's current maximum depth is below it;
// a no-op otherwise.
func (e *Engine) Resume(ctx context.Context, targetMaxDepth int) error {
	dStar, err := e.Pool.MaxDepth(ctx)
	if err != nil {
		return err
	}
	if dStar >= targetMaxDepth {
		return nil
	}
	return e.extendFrom(ctx, dStar, targetMaxDepth)
}

func (e *Engine) extendFrom(ctx context.Context, dStar, target int) error {
	frontier, err := e.Pool.PositionsAtDepth(ctx, dStar)
	if err != nil {
		return err
	}

	for _, f := range frontier {
		pos, turn, _, _, err := fen.Decode(f.FEN)
		if err != nil {
			return fmt.Errorf("extend: decode stored fen for hash %d: %w", f.Hash, err)
		}

		got := e.Keys.Hash(pos, turn)
		if uint64(got) != f.Hash {
			return fmt.Errorf("extend: identity mismatch for hash %d: recomputed %d", f.Hash, uint64(got))
		}

		e.Tracker.Insert(got)
		if err := e.explore(ctx, pos, turn, dStar, got, f.MoveSequence, target); err != nil {
			return err
		}
	}

	_, _, err = e.Writer.FlushAll(ctx)
	return err
}

// explore implements the expansion protocol for one vertex v at depth d with known hash h: stop
// at the depth bound, otherwise fan its legal moves out across a bounded worker pool, each
// worker recursing sequentially into its own child.
func (e *Engine) explore(ctx context.Context, v *board.Position, turn board.Color, d int, h board.ZobristHash, moveSeq string, maxDepth int) error {
	if d >= maxDepth {
		return nil
	}

	moves := e.Gen.LegalMoves(v, turn)
	e.Progress.RecordFrontier(len(moves))
	e.Progress.RecordDepthCompleted(d)

	if len(moves) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.poolSize())

	for i, m := range moves {
		i, m := i, m
		g.Go(func() error {
			return e.exploreChild(gctx, v, turn, d, h, moveSeq, m, i, maxDepth)
		})
	}
	return g.Wait()
}

func (e *Engine) exploreChild(ctx context.Context, v *board.Position, turn board.Color, d int, h board.ZobristHash, moveSeq string, m board.Move, index int, maxDepth int) error {
	next, err := e.Gen.Play(v, turn, m)
	if err != nil {
		// A pseudo-legal-then-filtered generator should never hand Play an illegal move; if it
		// ever does, skip it silently rather than aborting the whole expansion.
		return nil
	}

	nextTurn := turn.Opponent()
	hNext := e.Keys.Hash(next, nextTurn)

	if err := e.Writer.AddEdge(ctx, storage.EdgeRecord{
		ParentHash: uint64(h),
		ChildHash:  uint64(hNext),
		MoveUCI:    m.UCI(),
		MoveIndex:  index,
	}); err != nil {
		return err
	}
	e.Progress.RecordEdge()

	if e.Tracker.Contains(hNext) {
		e.Progress.RecordDuplicate()
		return nil
	}

	maybeSeen := e.Tracker.MaybeSeen(hNext)
	exists, err := e.Writer.Exists(ctx, uint64(hNext))
	if err != nil {
		return err
	}
	if exists {
		if maybeSeen {
			e.Tracker.RecordFalsePositive()
		}
		e.Tracker.ConfirmInStore(hNext)
		e.Progress.RecordDuplicate()
		return nil
	}

	e.Tracker.Insert(hNext)

	nextMoveSeq := m.UCI()
	if moveSeq != "" {
		nextMoveSeq = moveSeq + " " + m.UCI()
	}

	parentHash := uint64(h)

	if err := e.Writer.AddVertex(ctx, storage.PositionRecord{
		Hash:         uint64(hNext),
		FEN:          fen.Encode(next, nextTurn, 0, 1),
		Depth:        d + 1,
		ParentHash:   &parentHash,
		MoveSequence: nextMoveSeq,
	}); err != nil {
		return err
	}
	e.Progress.RecordExpanded()
	e.Progress.RecordInserted()

	return e.explore(ctx, next, nextTurn, d+1, hNext, nextMoveSeq, maxDepth)
}

// Package storage persists the position graph to SQLite: a pooled connection, the schema, and a
// buffered writer that batches vertex/edge inserts into periodic transactions.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const (
	maxOpenConns    = 16
	maxIdleConns    = 4
	acquireTimeout  = 5 * time.Second
	pragmaStatement = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA temp_store = MEMORY;
PRAGMA mmap_size = 134217728;
`
)

// Pool wraps a *sql.DB configured for this system's durability and concurrency requirements:
// write-ahead logging, relaxed (but not disabled) commit durability, and a bounded connection
// pool with an explicit acquisition timeout surfaced as an error rather than an unbounded block.
type Pool struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and applies the pragmas and
// schema required by this system. The pragmas run once, on whichever pooled connection serves
// that Exec: journal_mode=WAL persists in the database file, while synchronous, temp_store and
// mmap_size are connection-scoped and are not applied to connections the pool opens later.
func Open(path string) (*Pool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	if _, err := db.Exec(pragmaStatement); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite %q: %w", path, err)
	}

	p := &Pool{db: db}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Close closes the underlying connection pool.
func (p *Pool) Close() error {
	return p.db.Close()
}

// DB returns the underlying *sql.DB, for callers (such as the readapi package) that need raw
// query access beyond what Pool exposes directly.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// acquire blocks for a connection until one is free or acquireTimeout elapses, at which point it
// returns a store-busy error -- database/sql itself has no acquire-timeout knob, so this layers
// one on via a context deadline around Conn.
func (p *Pool) acquire(ctx context.Context) (*sql.Conn, error) {
	cctx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(cctx)
	if err != nil {
		return nil, fmt.Errorf("store busy: acquire connection: %w", err)
	}
	return conn, nil
}

// schema creates the base tables and indexes. The annotation columns (evaluation_score,
// best_move, game_result) are deliberately absent here: they are added by the additive
// migration step below, so that opening a store created before those columns existed gains them
// without ever dropping or rewriting the table.
const schema = `
CREATE TABLE IF NOT EXISTS positions (
  hash INTEGER PRIMARY KEY,
  fen TEXT NOT NULL,
  depth INTEGER NOT NULL,
  parent_hash INTEGER,
  move_sequence TEXT
);
CREATE INDEX IF NOT EXISTS idx_positions_depth ON positions(depth);
CREATE INDEX IF NOT EXISTS idx_positions_parent ON positions(parent_hash);
CREATE INDEX IF NOT EXISTS idx_positions_move_sequence ON positions(move_sequence);
CREATE INDEX IF NOT EXISTS idx_positions_fen ON positions(fen);

CREATE TABLE IF NOT EXISTS edges (
  parent_hash INTEGER NOT NULL,
  child_hash INTEGER NOT NULL,
  move_uci TEXT NOT NULL,
  move_index INTEGER NOT NULL,
  PRIMARY KEY (parent_hash, child_hash)
);
CREATE INDEX IF NOT EXISTS idx_edges_parent ON edges(parent_hash);
CREATE INDEX IF NOT EXISTS idx_edges_child ON edges(child_hash);
`

// annotationColumns are added to positions if missing, never dropped or renamed, per spec.md
// §6's "forward-compatible schema migration" requirement.
var annotationColumns = []struct {
	name string
	ddl  string
}{
	{"evaluation_score", "ALTER TABLE positions ADD COLUMN evaluation_score INTEGER"},
	{"best_move", "ALTER TABLE positions ADD COLUMN best_move TEXT"},
	{"game_result", "ALTER TABLE positions ADD COLUMN game_result TEXT"},
}

func (p *Pool) migrate() error {
	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return p.migrateAnnotationColumns()
}

// migrateAnnotationColumns probes positions' existing columns via PRAGMA table_info and
// additively ALTERs in any of evaluation_score, best_move, game_result that are missing --
// the concrete form of the forward-compatible migration spec.md §6 requires.
func (p *Pool) migrateAnnotationColumns() error {
	existing, err := p.columnNames("positions")
	if err != nil {
		return fmt.Errorf("migrate annotation columns: %w", err)
	}

	for _, col := range annotationColumns {
		if existing[col.name] {
			continue
		}
		if _, err := p.db.Exec(col.ddl); err != nil {
			return fmt.Errorf("migrate annotation columns: add %s: %w", col.name, err)
		}
	}
	return nil
}

func (p *Pool) columnNames(table string) (map[string]bool, error) {
	rows, err := p.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info(%s): %w", table, err)
	}
	defer rows.Close()

	names := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("scan table_info(%s) row: %w", table, err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

// MaxDepth returns the deepest ply recorded in the positions table, 0 if empty.
func (p *Pool) MaxDepth(ctx context.Context) (int, error) {
	var depth int
	err := p.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(depth), 0) FROM positions").Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("max depth: %w", err)
	}
	return depth, nil
}

// PositionsAtDepth returns the hash, FEN and move sequence of every position recorded at the
// given depth, the frontier a resumed or extended run continues from.
func (p *Pool) PositionsAtDepth(ctx context.Context, depth int) ([]Frontier, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT hash, fen, move_sequence FROM positions WHERE depth = ?", depth)
	if err != nil {
		return nil, fmt.Errorf("positions at depth %d: %w", depth, err)
	}
	defer rows.Close()

	var out []Frontier
	for rows.Next() {
		var f Frontier
		var moveSeq sql.NullString
		if err := rows.Scan(&f.Hash, &f.FEN, &moveSeq); err != nil {
			return nil, fmt.Errorf("scan frontier row: %w", err)
		}
		f.MoveSequence = moveSeq.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// Frontier identifies one vertex at the resume/extend boundary.
type Frontier struct {
	Hash         uint64
	FEN          string
	MoveSequence string
}

// AllPositions returns the hash and FEN of every committed position, the narrow iteration an
// --evaluate pass walks to annotate positions after generation has finished.
func (p *Pool) AllPositions(ctx context.Context) ([]PositionRow, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT hash, fen FROM positions")
	if err != nil {
		return nil, fmt.Errorf("all positions: %w", err)
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var r PositionRow
		if err := rows.Scan(&r.Hash, &r.FEN); err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PositionRow identifies a committed position by hash and FEN, without the depth/parent/move
// fields Frontier carries for the resume/extend path.
type PositionRow struct {
	Hash uint64
	FEN  string
}

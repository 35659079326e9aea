// Package evaluator drives an external UCI-speaking chess engine as a subprocess, producing a
// centipawn score, best move, and terminal-game-result annotation for a single position. It is
// never consulted during graph expansion; it is invoked only via the narrow annotation-update
// path after a position has already been committed.
package evaluator

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/chesstree/chesstree/pkg/board"
	"github.com/chesstree/chesstree/pkg/board/fen"
	"github.com/chesstree/chesstree/pkg/movegen"
)

// Result is the outcome of evaluating one position.
type Result struct {
	Score      int
	BestMove   string
	GameResult string // "white_wins", "black_wins", "draw", or "" if non-terminal
}

// Evaluator owns a lazily-started UCI engine subprocess and serializes access to it: UCI engines
// speak a single-conversation stdin/stdout protocol and cannot evaluate two positions at once.
type Evaluator struct {
	path  string
	depth int
	gen   movegen.Generator

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
}

// New returns an Evaluator that will launch the engine binary at path, searching to depth plies
// per evaluation. The process is not started until the first call to Evaluate.
func New(path string, depth int) *Evaluator {
	return &Evaluator{path: path, depth: depth, gen: movegen.New()}
}

func (e *Evaluator) ensureStarted() error {
	if e.cmd != nil {
		return nil
	}

	cmd := exec.Command(e.path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("evaluator: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("evaluator: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("evaluator: start %q: %w", e.path, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	e.cmd, e.stdin, e.stdout = cmd, stdin, scanner

	if _, err := fmt.Fprintln(stdin, "uci"); err != nil {
		return fmt.Errorf("evaluator: write uci: %w", err)
	}
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), "uciok") {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("evaluator: read uciok: %w", err)
	}

	fmt.Fprintln(stdin, "setoption name MultiPV value 1")
	fmt.Fprintln(stdin, "setoption name Threads value 1")
	return nil
}

// Evaluate scores the position encoded by positionFEN, blocking until the engine reports a best
// move at the configured search depth.
func (e *Evaluator) Evaluate(positionFEN string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStarted(); err != nil {
		return Result{}, err
	}

	fmt.Fprintf(e.stdin, "position fen %s\n", positionFEN)
	fmt.Fprintf(e.stdin, "go depth %d\n", e.depth)

	var score int
	var bestMove string
	for e.stdout.Scan() {
		line := e.stdout.Text()
		switch {
		case strings.HasPrefix(line, "bestmove"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				bestMove = fields[1]
			}
			goto done
		case strings.HasPrefix(line, "info") && strings.Contains(line, "score"):
			score = parseScore(line)
		}
	}
done:
	if err := e.stdout.Err(); err != nil {
		return Result{}, fmt.Errorf("evaluator: read engine output: %w", err)
	}

	result, err := e.terminalResult(positionFEN)
	if err != nil {
		return Result{}, err
	}

	return Result{Score: score, BestMove: bestMove, GameResult: result}, nil
}

// parseScore extracts a centipawn or mate score from a UCI "info ... score cp|mate N ..." line.
func parseScore(line string) int {
	fields := strings.Fields(line)
	for i, f := range fields {
		switch f {
		case "cp":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					return v
				}
			}
		case "mate":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					if v > 0 {
						return 10000
					}
					return -10000
				}
			}
		}
	}
	return 0
}

// terminalResult reports whether the position is checkmate or stalemate, using the same legal
// move generator the expansion engine relies on, never the external engine's own judgement.
func (e *Evaluator) terminalResult(positionFEN string) (string, error) {
	pos, turn, _, _, err := fen.Decode(positionFEN)
	if err != nil {
		return "", fmt.Errorf("evaluator: decode fen for terminal check: %w", err)
	}

	if len(e.gen.LegalMoves(pos, turn)) > 0 {
		return "", nil
	}
	if pos.IsChecked(turn) {
		if turn == board.White {
			return "black_wins", nil
		}
		return "white_wins", nil
	}
	return "draw", nil
}

// Close sends the engine a quit command and releases the subprocess. Safe to call on an
// Evaluator that was never started.
func (e *Evaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil {
		return nil
	}
	fmt.Fprintln(e.stdin, "quit")
	e.stdin.Close()
	err := e.cmd.Wait()
	e.cmd = nil
	return err
}

// perft is a move-generator debugging tool: it counts the legal-move tree size at increasing
// depths from a position, for cross-checking pkg/movegen against known perft results. See:
// https://www.chessprogramming.org/Perft_Results.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chesstree/chesstree/pkg/board"
	"github.com/chesstree/chesstree/pkg/board/fen"
	"github.com/chesstree/chesstree/pkg/movegen"
)

var (
	depth    = flag.Int("depth", 4, "Search depth")
	position = flag.String("fen", "", "Start position (default to standard)")
	divide   = flag.Bool("divide", false, "Divide counts by initial move")
)

func main() {
	flag.Parse()

	if *position == "" {
		*position = fen.Initial
	}

	pos, turn, _, _, err := fen.Decode(*position)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid fen %q: %v\n", *position, err)
		os.Exit(1)
	}

	gen := movegen.New()
	for i := 1; i <= *depth; i++ {
		start := time.Now()
		nodes := search(gen, pos, turn, i, *divide && i == *depth)
		duration := time.Since(start)

		fmt.Printf("perft,%v,%v,%v,%v\n", *position, i, nodes, duration.Microseconds())
	}
}

func search(gen movegen.Generator, pos *board.Position, turn board.Color, depth int, d bool) int64 {
	if depth == 0 {
		return 1
	}

	var nodes int64
	for _, m := range gen.LegalMoves(pos, turn) {
		next, err := gen.Play(pos, turn, m)
		if err != nil {
			continue
		}
		count := search(gen, next, turn.Opponent(), depth-1, false)
		if d {
			fmt.Printf("%v: %v\n", m.UCI(), count)
		}
		nodes += count
	}
	return nodes
}

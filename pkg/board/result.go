package board

// Result represents the result of a game, if any. 2 bits.
type Result uint8

const (
	Undecided Result = iota
	WhiteWins
	BlackWins
	Draw
)

// String renders the result in PGN notation. The game_result column is
// written by the evaluator package in its own form ("white_wins",
// "black_wins", "draw"), not in this one.
func (r Result) String() string {
	switch r {
	case WhiteWins:
		return "1-0"
	case BlackWins:
		return "0-1"
	case Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

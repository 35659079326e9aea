// Package movegen generates legal chess moves over a board.Position. It is the reference
// implementation of the Generator interface consumed by the graph expansion engine; the engine
// itself depends only on the interface, so an alternative move generator can be substituted.
package movegen

import "github.com/chesstree/chesstree/pkg/board"

// Generator produces legal moves for a position and applies them, decoupling the graph
// expansion engine from any one chess-rules implementation.
type Generator interface {
	LegalMoves(pos *board.Position, turn board.Color) []board.Move
	Play(pos *board.Position, turn board.Color, m board.Move) (*board.Position, error)
}

// Reference is the bitboard-based Generator shipped with this repository.
type Reference struct{}

func New() *Reference {
	return &Reference{}
}

// LegalMoves returns every legal move for turn in pos, in a fixed but otherwise unspecified
// order (by piece type, then by origin square).
func (r *Reference) LegalMoves(pos *board.Position, turn board.Color) []board.Move {
	var legal []board.Move
	for _, m := range PseudoLegalMoves(pos, turn) {
		if _, ok := pos.Move(m); ok {
			legal = append(legal, m)
		}
	}
	return legal
}

// Play applies m to pos and returns the resulting position. It returns an error if m would
// leave the mover's own king in check.
func (r *Reference) Play(pos *board.Position, turn board.Color, m board.Move) (*board.Position, error) {
	next, ok := pos.Move(m)
	if !ok {
		return nil, errIllegalMove(m)
	}
	return next, nil
}

type errIllegalMove board.Move

func (e errIllegalMove) Error() string {
	return "illegal move: " + board.Move(e).String()
}

var promotionPieces = []board.Piece{board.Queen, board.Rook, board.Bishop, board.Knight}

// PseudoLegalMoves generates every move that is legal for the piece placement and castling/en
// passant state alone, without checking whether the mover's own king ends up in check -- that
// filter is applied by LegalMoves via Position.Move.
func PseudoLegalMoves(pos *board.Position, turn board.Color) []board.Move {
	var moves []board.Move

	moves = append(moves, pawnMoves(pos, turn)...)
	moves = append(moves, officerMoves(pos, turn, board.Knight)...)
	moves = append(moves, officerMoves(pos, turn, board.Bishop)...)
	moves = append(moves, officerMoves(pos, turn, board.Rook)...)
	moves = append(moves, officerMoves(pos, turn, board.Queen)...)
	moves = append(moves, officerMoves(pos, turn, board.King)...)
	moves = append(moves, castleMoves(pos, turn)...)

	return moves
}

func pawnMoves(pos *board.Position, turn board.Color) []board.Move {
	var moves []board.Move

	occ := pos.Occupied()
	own := pos.Pieces(turn, board.NoPiece)
	opp := pos.Pieces(turn.Opponent(), board.NoPiece)
	promoRank := board.PawnPromotionRank(turn)
	startRank := board.Rank2
	dir := 1
	if turn == board.Black {
		startRank = board.Rank7
		dir = -1
	}

	ep, hasEP := pos.EnPassant()

	for _, from := range pos.Pieces(turn, board.Pawn).Squares() {
		f, r := from.File().V(), from.Rank().V()

		if to, ok := step(f, r, 0, dir); ok && !occ.IsSet(to) {
			moves = append(moves, pawnAdvance(from, to, promoRank)...)

			if from.Rank() == startRank {
				if to2, ok := step(f, r, 0, 2*dir); ok && !occ.IsSet(to2) {
					moves = append(moves, board.Move{Type: board.Jump, Piece: board.Pawn, From: from, To: to2})
				}
			}
		}

		for _, df := range []int{-1, 1} {
			to, ok := step(f, r, df, dir)
			if !ok {
				continue
			}
			if opp.IsSet(to) {
				_, capPiece, _ := pos.Square(to)
				moves = append(moves, pawnCapture(from, to, capPiece, promoRank)...)
			} else if own.IsSet(to) {
				continue
			} else if hasEP && to == ep {
				moves = append(moves, board.Move{Type: board.EnPassant, Piece: board.Pawn, From: from, To: to, Capture: board.Pawn})
			}
		}
	}

	return moves
}

func pawnAdvance(from, to board.Square, promoRank board.Bitboard) []board.Move {
	if promoRank.IsSet(to) {
		var ms []board.Move
		for _, p := range promotionPieces {
			ms = append(ms, board.Move{Type: board.Promotion, Piece: board.Pawn, From: from, To: to, Promotion: p})
		}
		return ms
	}
	return []board.Move{{Type: board.Push, Piece: board.Pawn, From: from, To: to}}
}

func pawnCapture(from, to board.Square, capture board.Piece, promoRank board.Bitboard) []board.Move {
	if promoRank.IsSet(to) {
		var ms []board.Move
		for _, p := range promotionPieces {
			ms = append(ms, board.Move{Type: board.CapturePromotion, Piece: board.Pawn, From: from, To: to, Promotion: p, Capture: capture})
		}
		return ms
	}
	return []board.Move{{Type: board.Capture, Piece: board.Pawn, From: from, To: to, Capture: capture}}
}

func step(f, r, df, dr int) (board.Square, bool) {
	nf, nr := f+df, r+dr
	if nf < 0 || nf >= 8 || nr < 0 || nr >= 8 {
		return 0, false
	}
	return board.NewSquare(board.File(nf), board.Rank(nr)), true
}

func officerMoves(pos *board.Position, turn board.Color, piece board.Piece) []board.Move {
	var moves []board.Move

	occ := pos.Occupied()
	own := pos.Pieces(turn, board.NoPiece)
	opp := turn.Opponent()

	for _, from := range pos.Pieces(turn, piece).Squares() {
		targets := board.Attackboard(occ, from, piece) &^ own
		for _, to := range targets.Squares() {
			if color, capPiece, ok := pos.Square(to); ok && color == opp {
				moves = append(moves, board.Move{Type: board.Capture, Piece: piece, From: from, To: to, Capture: capPiece})
			} else {
				moves = append(moves, board.Move{Type: board.Normal, Piece: piece, From: from, To: to})
			}
		}
	}

	return moves
}

func castleMoves(pos *board.Position, turn board.Color) []board.Move {
	var moves []board.Move
	occ := pos.Occupied()

	king, kingside, queenside, rank := board.E1, board.WhiteKingSideCastle, board.WhiteQueenSideCastle, board.Rank1
	if turn == board.Black {
		king, kingside, queenside, rank = board.E8, board.BlackKingSideCastle, board.BlackQueenSideCastle, board.Rank8
	}

	f := board.NewSquare(board.FileF, rank)
	g := board.NewSquare(board.FileG, rank)
	d := board.NewSquare(board.FileD, rank)
	c := board.NewSquare(board.FileC, rank)
	b := board.NewSquare(board.FileB, rank)

	if pos.Castling().IsAllowed(kingside) && !occ.IsSet(f) && !occ.IsSet(g) &&
		!pos.IsAttacked(turn, king) && !pos.IsAttacked(turn, f) && !pos.IsAttacked(turn, g) {
		moves = append(moves, board.Move{Type: board.KingSideCastle, Piece: board.King, From: king, To: g})
	}
	if pos.Castling().IsAllowed(queenside) && !occ.IsSet(d) && !occ.IsSet(c) && !occ.IsSet(b) &&
		!pos.IsAttacked(turn, king) && !pos.IsAttacked(turn, d) && !pos.IsAttacked(turn, c) {
		moves = append(moves, board.Move{Type: board.QueenSideCastle, Piece: board.King, From: king, To: c})
	}

	return moves
}

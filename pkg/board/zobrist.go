package board

import "math/rand"

// ZobristHash is a 64-bit position fingerprint, stable across equivalent representations of
// the same logical position and colliding only with vanishing probability across the space
// explored by this system.
type ZobristHash uint64

// ZobristKeys holds the random feature keys used to compute and incrementally update a
// ZobristHash: one key per (color, piece, square) combination, one key per (color, side)
// castling right, one key per en passant target square, and one key for the side to move.
type ZobristKeys struct {
	pieces    [NumColors][NumPieces][NumSquares]ZobristHash
	castling  [NumColors][2]ZobristHash
	enpassant [NumSquares]ZobristHash
	turn      ZobristHash
}

// NewZobristKeys builds a fresh key table from the given seed. The same seed always yields the
// same table, which is required for Hash to be stable across process restarts against a
// previously-populated store.
func NewZobristKeys(seed int64) *ZobristKeys {
	rnd := rand.New(rand.NewSource(seed))

	z := &ZobristKeys{}
	for c := ZeroColor; c < NumColors; c++ {
		for piece := Pawn; piece < NumPieces; piece++ {
			for sq := ZeroSquare; sq < NumSquares; sq++ {
				z.pieces[c][piece][sq] = ZobristHash(rnd.Uint64())
			}
		}
		z.castling[c][KingSide] = ZobristHash(rnd.Uint64())
		z.castling[c][QueenSide] = ZobristHash(rnd.Uint64())
	}
	for _, sq := range []Square{A3, B3, C3, D3, E3, F3, G3, H3, A6, B6, C6, D6, E6, F6, G6, H6} {
		z.enpassant[sq] = ZobristHash(rnd.Uint64())
	}
	z.turn = ZobristHash(rnd.Uint64())
	return z
}

// Hash computes the full Zobrist hash of a position from scratch: the XOR of the feature keys
// for every occupied square, every active castling right, the en passant target (if any), and
// the side to move.
func (z *ZobristKeys) Hash(pos *Position, turn Color) ZobristHash {
	var h ZobristHash

	for c := ZeroColor; c < NumColors; c++ {
		for piece := Pawn; piece < NumPieces; piece++ {
			bb := pos.Pieces(c, piece)
			for _, sq := range bb.Squares() {
				h ^= z.pieces[c][piece][sq]
			}
		}
	}

	castling := pos.Castling()
	if castling.IsAllowed(WhiteKingSideCastle) {
		h ^= z.castling[White][KingSide]
	}
	if castling.IsAllowed(WhiteQueenSideCastle) {
		h ^= z.castling[White][QueenSide]
	}
	if castling.IsAllowed(BlackKingSideCastle) {
		h ^= z.castling[Black][KingSide]
	}
	if castling.IsAllowed(BlackQueenSideCastle) {
		h ^= z.castling[Black][QueenSide]
	}

	if ep, ok := pos.EnPassant(); ok {
		h ^= z.enpassant[ep]
	}

	if turn == Black {
		h ^= z.turn
	}

	return h
}

// Apply incrementally updates h -- the hash of pos with the given side to move -- to reflect
// playing m, without recomputing the hash from scratch. For every move type (normal, capture,
// promotion, en passant, castling) this XORs exactly the feature keys that Hash would add or
// remove, so Apply(Hash(pos, turn), pos, turn, m) always equals Hash(next, turn.Opponent())
// for the resulting position next.
func (z *ZobristKeys) Apply(h ZobristHash, pos *Position, turn Color, m Move) ZobristHash {
	mover := turn

	h ^= z.pieces[mover][m.Piece][m.From]

	switch m.Type {
	case EnPassant:
		h ^= z.pieces[mover.Opponent()][Pawn][m.CaptureSquare()]
		h ^= z.pieces[mover][Pawn][m.To]
	case Capture:
		h ^= z.pieces[mover.Opponent()][m.Capture][m.To]
		h ^= z.pieces[mover][m.Piece][m.To]
	case Promotion:
		h ^= z.pieces[mover][m.Promotion][m.To]
	case CapturePromotion:
		h ^= z.pieces[mover.Opponent()][m.Capture][m.To]
		h ^= z.pieces[mover][m.Promotion][m.To]
	case KingSideCastle, QueenSideCastle:
		h ^= z.pieces[mover][King][m.To]
		rfrom, rto := CastleRookSquares(m.Type, mover)
		h ^= z.pieces[mover][Rook][rfrom]
		h ^= z.pieces[mover][Rook][rto]
	default: // Normal, Push, Jump
		h ^= z.pieces[mover][m.Piece][m.To]
	}

	oldCastling := pos.Castling()
	newCastling := oldCastling &^ lostCastlingRights(m, mover)
	for _, right := range []struct {
		mask Castling
		c    Color
		s    Side
	}{
		{WhiteKingSideCastle, White, KingSide},
		{WhiteQueenSideCastle, White, QueenSide},
		{BlackKingSideCastle, Black, KingSide},
		{BlackQueenSideCastle, Black, QueenSide},
	} {
		if oldCastling.IsAllowed(right.mask) && !newCastling.IsAllowed(right.mask) {
			h ^= z.castling[right.c][right.s]
		}
	}

	if ep, ok := pos.EnPassant(); ok {
		h ^= z.enpassant[ep]
	}
	if m.Type == Jump {
		h ^= z.enpassant[NewSquare(m.From.File(), (m.From.Rank()+m.To.Rank())/2)]
	}

	h ^= z.turn

	return h
}

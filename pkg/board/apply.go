package board

// CastleRookSquares returns the rook's from/to squares for the given castle move type and color.
func CastleRookSquares(side MoveType, c Color) (from, to Square) {
	switch {
	case side == KingSideCastle && c == White:
		return H1, F1
	case side == QueenSideCastle && c == White:
		return A1, D1
	case side == KingSideCastle && c == Black:
		return H8, F8
	default:
		return A8, D8
	}
}

// Move applies m, assumed pseudo-legal for the piece at m.From, and returns the resulting
// position. The second return value is false if the move would leave the mover's own king in
// check, in which case the move is illegal and must be discarded by the caller.
func (p *Position) Move(m Move) (*Position, bool) {
	mover, piece, ok := p.Square(m.From)
	if !ok || piece != m.Piece {
		panic("move does not match position")
	}

	next := p.clone()

	switch m.Type {
	case EnPassant:
		next.xor(m.CaptureSquare(), mover.Opponent(), Pawn)
		next.xor(m.From, mover, Pawn)
		next.xor(m.To, mover, Pawn)
	case Capture, CapturePromotion:
		next.xor(m.To, mover.Opponent(), m.Capture)
		next.xor(m.From, mover, piece)
		if m.Type == CapturePromotion {
			next.xor(m.To, mover, m.Promotion)
		} else {
			next.xor(m.To, mover, piece)
		}
	case Promotion:
		next.xor(m.From, mover, piece)
		next.xor(m.To, mover, m.Promotion)
	case KingSideCastle, QueenSideCastle:
		rfrom, rto := CastleRookSquares(m.Type, mover)
		next.xor(m.From, mover, King)
		next.xor(m.To, mover, King)
		next.xor(rfrom, mover, Rook)
		next.xor(rto, mover, Rook)
	default: // Normal, Push, Jump
		next.xor(m.From, mover, piece)
		next.xor(m.To, mover, piece)
	}

	next.castling = p.castling &^ lostCastlingRights(m, mover)

	if m.Type == Jump {
		next.enpassant = NewSquare(m.From.File(), (m.From.Rank()+m.To.Rank())/2)
	} else {
		next.enpassant = ZeroSquare
	}

	if next.IsChecked(mover) {
		return next, false
	}
	return next, true
}

// lostCastlingRights returns the rights revoked by playing m: the mover's own rights if a king
// or a rook moves off its home square, and the opponent's right if a rook is captured on its
// home square.
func lostCastlingRights(m Move, mover Color) Castling {
	var lost Castling

	switch {
	case m.Piece == King:
		lost |= Right(mover, KingSide) | Right(mover, QueenSide)
	case m.Piece == Rook && m.From == homeRookSquare(mover, KingSide):
		lost |= Right(mover, KingSide)
	case m.Piece == Rook && m.From == homeRookSquare(mover, QueenSide):
		lost |= Right(mover, QueenSide)
	}

	if m.IsCapture() {
		opp := mover.Opponent()
		switch m.CaptureSquare() {
		case homeRookSquare(opp, KingSide):
			lost |= Right(opp, KingSide)
		case homeRookSquare(opp, QueenSide):
			lost |= Right(opp, QueenSide)
		}
	}
	return lost
}

func homeRookSquare(c Color, s Side) Square {
	from, _ := CastleRookSquares(castleMoveType(s), c)
	return from
}

func castleMoveType(s Side) MoveType {
	if s == KingSide {
		return KingSideCastle
	}
	return QueenSideCastle
}

package game

import (
	"github.com/pablobitw/goosegame/board"
	"github.com/pablobitw/goosegame/models"
)

// ReplayPositions recomputes every player's tile from a move log in append
// order. The stored position of each move is authoritative; replay only
// checks that the log is self-consistent.
func ReplayPositions(moves []models.Move) map[uint]int {
	positions := make(map[uint]int)
	for _, m := range moves {
		positions[m.PlayerID] = m.FinalPosition
	}
	return positions
}

// VerifyMoves re-resolves every dice move against the board and returns the
// first move whose recorded result disagrees, or nil.
func VerifyMoves(b *board.Board, moves []models.Move) *models.Move {
	positions := make(map[uint]int)
	for i := range moves {
		m := &moves[i]
		start := positions[m.PlayerID]
		if m.StartPosition != start {
			return m
		}
		if m.DieOne > 0 {
			if out := b.Resolve(start, m.DieOne+m.DieTwo); out.Final != m.FinalPosition || out.ExtraTurn != m.IsExtraTurn() {
				return m
			}
		} else if m.FinalPosition != start {
			return m
		}
		positions[m.PlayerID] = m.FinalPosition
	}
	return nil
}

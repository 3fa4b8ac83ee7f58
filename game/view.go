package game

import (
	"context"

	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/persistence"
)

type PlayerState struct {
	ID           uint   `json:"id"`
	Username     string `json:"username"`
	IsGuest      bool   `json:"is_guest"`
	Position     int    `json:"position"`
	PendingSkips int    `json:"pending_skips"`
}

// GameState is the read model pushed to clients after every change.
type GameState struct {
	Code            string               `json:"code"`
	Variant         string               `json:"variant"`
	Status          models.SessionStatus `json:"status"`
	HostID          uint                 `json:"host_id"`
	MaxPlayers      int                  `json:"max_players"`
	WinnerID        *uint                `json:"winner_id,omitempty"`
	Players         []PlayerState        `json:"players"`
	CurrentPlayerID uint                 `json:"current_player_id,omitempty"`
	TurnNumber      int                  `json:"turn_number"`
	LastMove        *models.Move         `json:"last_move,omitempty"`
}

// Player returns the entry for id, or nil.
func (s *GameState) Player(id uint) *PlayerState {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// GetState builds the current view of a session. Finished sessions report
// no members because memberships are cleared when a match ends.
func (e *Engine) GetState(ctx context.Context, code string) (*GameState, error) {
	sess, err := e.store.GetSessionByCode(ctx, code)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, e.surface(ctx, "get_state", code, 0, err)
	}

	st, err := e.buildState(ctx, sess)
	if err != nil {
		return nil, e.surface(ctx, "get_state", code, 0, err)
	}
	return st, nil
}

func (e *Engine) buildState(ctx context.Context, sess *models.Session) (*GameState, error) {
	st := &GameState{
		Code:       sess.Code,
		Variant:    sess.BoardVariant,
		Status:     sess.Status,
		HostID:     sess.HostID,
		MaxPlayers: sess.MaxPlayers,
		WinnerID:   sess.WinnerID,
	}

	members, err := e.store.ListSessionPlayers(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		pos, err := position(ctx, e.store, sess.ID, m.ID)
		if err != nil {
			return nil, err
		}
		st.Players = append(st.Players, PlayerState{
			ID:           m.ID,
			Username:     m.Username,
			IsGuest:      m.IsGuest,
			Position:     pos,
			PendingSkips: m.PendingSkips,
		})
	}

	total, extra, err := e.store.CountMoves(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	st.TurnNumber = int(total) + 1
	if sess.Active() && len(members) > 0 {
		st.CurrentPlayerID = members[CurrentIndex(total, extra, len(members))].ID
	}

	if total > 0 {
		last, err := e.store.LastMove(ctx, sess.ID)
		if err != nil && !persistence.IsNotFound(err) {
			return nil, err
		}
		st.LastMove = last
	}
	return st, nil
}

// Positions returns each member's tile keyed by player ID.
func (e *Engine) Positions(ctx context.Context, code string) (map[uint]int, error) {
	st, err := e.GetState(ctx, code)
	if err != nil {
		return nil, err
	}
	positions := make(map[uint]int, len(st.Players))
	for _, p := range st.Players {
		positions[p.ID] = p.Position
	}
	return positions, nil
}

// SessionOf returns the session a player is currently a member of.
func (e *Engine) SessionOf(ctx context.Context, playerID uint) (*models.Session, error) {
	p, err := e.store.GetPlayer(ctx, playerID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, ErrPlayerNotFound
		}
		return nil, e.surface(ctx, "session_of", "", playerID, err)
	}
	if p.SessionID == 0 {
		return nil, ErrNotInSession
	}
	sess, err := e.store.GetSession(ctx, p.SessionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, e.surface(ctx, "session_of", "", playerID, err)
	}
	return sess, nil
}

// ActiveSessions lists the codes of every session in progress.
func (e *Engine) ActiveSessions(ctx context.Context) ([]string, error) {
	sessions, err := e.store.ListSessionsByStatus(ctx, models.StatusInProgress)
	if err != nil {
		return nil, e.surface(ctx, "active_sessions", "", 0, err)
	}
	codes := make([]string, 0, len(sessions))
	for _, s := range sessions {
		codes = append(codes, s.Code)
	}
	return codes, nil
}

// Player loads a registered player by ID.
func (e *Engine) Player(ctx context.Context, id uint) (*models.Player, error) {
	p, err := e.store.GetPlayer(ctx, id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, ErrPlayerNotFound
		}
		return nil, e.surface(ctx, "get_player", "", id, err)
	}
	return p, nil
}

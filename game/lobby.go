package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pablobitw/goosegame/board"
	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/persistence"
)

const (
	codeLength   = 6
	codeAttempts = 3
)

func newLobbyCode() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(id[:codeLength])
}

// Register returns the player with the given username, creating it on first
// sight.
func (e *Engine) Register(ctx context.Context, username string, guest bool) (*models.Player, error) {
	p, err := e.store.GetPlayerByUsername(ctx, username)
	if err == nil {
		return p, nil
	}
	if !persistence.IsNotFound(err) {
		return nil, e.surface(ctx, "register", "", 0, err)
	}

	p = &models.Player{Username: username, IsGuest: guest}
	if err := e.store.CreatePlayer(ctx, p); err != nil {
		// lost a race against another registration of the same name
		if existing, getErr := e.store.GetPlayerByUsername(ctx, username); getErr == nil {
			return existing, nil
		}
		return nil, e.surface(ctx, "register", "", 0, err)
	}
	logger.Log.Infow("player registered", "player", p.ID, "username", username, "guest", guest)
	return p, nil
}

// CreateLobby opens a session in WaitingForPlayers with the host as its only member.
func (e *Engine) CreateLobby(ctx context.Context, hostID uint, variant string, maxPlayers int) (*models.Session, error) {
	if variant == "" {
		variant = e.cfg.DefaultVariant
	}
	if _, ok := board.Variant(variant); !ok {
		return nil, ErrUnknownVariant
	}
	if maxPlayers == 0 {
		maxPlayers = e.cfg.MaxPlayers
	}
	if maxPlayers < e.cfg.MinPlayers || maxPlayers > e.cfg.MaxPlayers {
		return nil, ErrInvalidMaxPlayers
	}

	host, err := e.eligible(ctx, hostID)
	if err != nil {
		return nil, e.surface(ctx, "create_lobby", "", hostID, err)
	}

	now := e.now()
	sess := &models.Session{
		BoardVariant: variant,
		Status:       models.StatusWaitingForPlayers,
		MaxPlayers:   maxPlayers,
		HostID:       host.ID,
	}
	for attempt := 0; ; attempt++ {
		sess.ID = 0
		sess.Code = newLobbyCode()
		err = e.store.Transaction(ctx, func(tx persistence.Store) error {
			if err := tx.CreateSession(ctx, sess); err != nil {
				return err
			}
			host.SessionID = sess.ID
			host.PendingSkips = 0
			host.JoinedAt = &now
			return tx.UpdatePlayer(ctx, host)
		})
		if err == nil || attempt+1 >= codeAttempts || !persistenceDuplicate(err) {
			break
		}
	}
	if err != nil {
		return nil, e.surface(ctx, "create_lobby", "", hostID, err)
	}

	logger.Log.Infow("lobby created", "session", sess.Code, "host", host.Username, "variant", variant)
	return sess, nil
}

func persistenceDuplicate(err error) bool {
	return errors.Is(err, persistence.ErrDuplicateKey)
}

// eligible loads a player that may enter a new session.
func (e *Engine) eligible(ctx context.Context, playerID uint) (*models.Player, error) {
	p, err := e.store.GetPlayer(ctx, playerID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	if p.SessionID != 0 {
		return nil, ErrAlreadyInSession
	}
	if p.Banned {
		return nil, ErrBanned
	}
	if _, err := e.store.ActiveSanction(ctx, p.ID, e.now()); err == nil {
		return nil, ErrBanned
	} else if !persistence.IsNotFound(err) {
		return nil, err
	}
	return p, nil
}

// Join adds a player to a waiting lobby. Joining the lobby the player is
// already in is a no-op.
func (e *Engine) Join(ctx context.Context, code string, playerID uint) error {
	var done *commit
	err := e.rooms.Acquire(code).WithTurn(func() error {
		sess, err := e.store.GetSessionByCode(ctx, code)
		if err != nil {
			if persistence.IsNotFound(err) {
				return ErrSessionNotFound
			}
			return err
		}
		if sess.Status != models.StatusWaitingForPlayers {
			return ErrAlreadyStarted
		}

		if p, err := e.store.GetPlayer(ctx, playerID); err == nil && p.SessionID == sess.ID {
			return nil
		}
		player, err := e.eligible(ctx, playerID)
		if err != nil {
			return err
		}

		members, err := e.store.ListSessionPlayers(ctx, sess.ID)
		if err != nil {
			return err
		}
		if len(members) >= sess.MaxPlayers {
			return ErrSessionFull
		}

		now := e.now()
		player.SessionID = sess.ID
		player.PendingSkips = 0
		player.JoinedAt = &now
		if err := e.store.UpdatePlayer(ctx, player); err != nil {
			return fmt.Errorf("join: %w", err)
		}

		done = &commit{session: *sess, recipients: append(usernames(members), player.Username)}
		logger.Log.Infow("player joined", "session", code, "player", player.Username)
		return nil
	})
	if err != nil {
		return e.surface(ctx, "join", code, playerID, err)
	}
	e.afterCommit(ctx, done)
	return nil
}

// Start moves a lobby to InProgress. Only the host may start it, and only
// with enough members.
func (e *Engine) Start(ctx context.Context, code string, hostID uint) error {
	var done *commit
	err := e.rooms.Acquire(code).WithTurn(func() error {
		sess, err := e.store.GetSessionByCode(ctx, code)
		if err != nil {
			if persistence.IsNotFound(err) {
				return ErrSessionNotFound
			}
			return err
		}
		if sess.Status != models.StatusWaitingForPlayers {
			return ErrAlreadyStarted
		}
		if sess.HostID != hostID {
			return ErrNotHost
		}

		members, err := e.store.ListSessionPlayers(ctx, sess.ID)
		if err != nil {
			return err
		}
		if len(members) < e.cfg.MinPlayers {
			return ErrNotEnoughPlayers
		}

		if err := e.lifecycle.Apply(sess, models.StatusInProgress, e.now()); err != nil {
			return err
		}
		if err := e.store.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("start: %w", err)
		}

		done = &commit{session: *sess, recipients: usernames(members), started: true}
		logger.Log.Infow("session started", "session", code, "players", len(members))
		return nil
	})
	if err != nil {
		return e.surface(ctx, "start", code, hostID, err)
	}
	e.afterCommit(ctx, done)
	return nil
}

// Leave removes a player at their own request. Leaving a match in progress
// counts as a loss.
func (e *Engine) Leave(ctx context.Context, code string, playerID uint) error {
	return e.RemovePlayer(ctx, code, playerID, true)
}

// RemovePlayer clears a player's membership. In a running match the last
// remaining player wins; an empty session finishes without a winner. A
// waiting lobby hands the host role to the lowest remaining ID, or is
// disbanded when nobody is left. recordLoss is false when the removal must
// not count as a forfeit.
func (e *Engine) RemovePlayer(ctx context.Context, code string, playerID uint, recordLoss bool) error {
	return e.removePlayer(ctx, "remove_player", code, playerID, recordLoss, nil)
}

// KickFromSession removes a kicked player from an unfinished session. charge
// runs in the removal's transaction under the session's turn lock, so the
// forfeit, the kick counter and the membership change commit together and no
// concurrent roll or leave can settle the match in between. It reports false,
// with nothing written, when the player is no longer a member of such a
// session.
func (e *Engine) KickFromSession(ctx context.Context, code string, playerID uint, charge func(tx persistence.Store, sess *models.Session) error) (bool, error) {
	err := e.removePlayer(ctx, "kick", code, playerID, false, charge)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrPlayerNotFound), errors.Is(err, ErrNotInSession):
		return false, nil
	}
	return false, err
}

func (e *Engine) removePlayer(ctx context.Context, op, code string, playerID uint, recordLoss bool, charge func(tx persistence.Store, sess *models.Session) error) error {
	var done *commit
	rm := e.rooms.Acquire(code)
	err := rm.WithTurn(func() error {
		sess, err := e.store.GetSessionByCode(ctx, code)
		if err != nil {
			if persistence.IsNotFound(err) {
				return ErrSessionNotFound
			}
			return err
		}
		player, err := e.store.GetPlayer(ctx, playerID)
		if err != nil {
			if persistence.IsNotFound(err) {
				return ErrPlayerNotFound
			}
			return err
		}
		if player.SessionID != sess.ID || sess.Status == models.StatusFinished {
			return ErrNotInSession
		}

		members, err := e.store.ListSessionPlayers(ctx, sess.ID)
		if err != nil {
			return err
		}
		remaining := make([]models.Player, 0, len(members))
		for _, m := range members {
			if m.ID != player.ID {
				remaining = append(remaining, m)
			}
		}

		finished := false
		err = e.store.Transaction(ctx, func(tx persistence.Store) error {
			if charge != nil {
				snapshot := *sess
				if err := charge(tx, &snapshot); err != nil {
					return err
				}
			}
			// charge may have written the player row
			current, err := tx.GetPlayer(ctx, player.ID)
			if err != nil {
				return fmt.Errorf("reload player: %w", err)
			}
			current.SessionID = 0
			current.PendingSkips = 0
			current.JoinedAt = nil
			if err := tx.UpdatePlayer(ctx, current); err != nil {
				return fmt.Errorf("clear membership: %w", err)
			}
			player = current

			switch sess.Status {
			case models.StatusInProgress:
				if recordLoss {
					if err := e.players.RecordLoss(ctx, tx, player.ID, false); err != nil {
						return err
					}
				}
				switch len(remaining) {
				case 0:
					finished = true
					if err := e.lifecycle.Apply(sess, models.StatusFinished, e.now()); err != nil {
						return err
					}
					return tx.UpdateSession(ctx, sess)
				case 1:
					finished = true
					return e.finishWithWinner(ctx, tx, sess, remaining, remaining[0].ID)
				}
			case models.StatusWaitingForPlayers:
				if len(remaining) == 0 {
					finished = true
					if err := e.lifecycle.Apply(sess, models.StatusFinished, e.now()); err != nil {
						return err
					}
					return tx.UpdateSession(ctx, sess)
				}
				if sess.HostID == player.ID {
					sess.HostID = remaining[0].ID
					return tx.UpdateSession(ctx, sess)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		rm.ResetAFK(player.ID)
		removed := *player
		done = &commit{
			session:    *sess,
			recipients: usernames(members),
			finished:   finished,
			removed:    &removed,
		}
		logger.Log.Infow("player removed", "op", op, "session", code, "player", player.Username, "finished", finished)
		return nil
	})
	if err != nil {
		return e.surface(ctx, op, code, playerID, err)
	}
	e.afterCommit(ctx, done)
	return nil
}

// Package sanction keeps the per-account kick counter and turns repeated
// kicks into temporary or permanent bans.
package sanction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/monitor"
	"github.com/pablobitw/goosegame/persistence"
	"github.com/pablobitw/goosegame/services"
)

// Remover takes a kicked player out of their session. charge must run in the
// same transaction as the removal, serialized with the session's turns; the
// remover records no loss of its own. It reports false, without calling
// charge, when the player is no longer a member of an unfinished session.
type Remover interface {
	KickFromSession(ctx context.Context, code string, playerID uint, charge func(tx persistence.Store, sess *models.Session) error) (bool, error)
}

// Notifier delivers the kicked notice to the player.
type Notifier interface {
	Kicked(username, reason string, outcome *models.KickOutcome)
}

type Config struct {
	TemporaryDuration time.Duration
	// EscalationStep: every Nth kick earns a temporary ban.
	EscalationStep int
	// PermanentThreshold: from this kick on every kick earns a permanent ban.
	PermanentThreshold int
}

func DefaultConfig() Config {
	return Config{
		TemporaryDuration:  24 * time.Hour,
		EscalationStep:     3,
		PermanentThreshold: 10,
	}
}

// Decide returns the sanction type earned by the given kick count, or "" when
// the kick earns none.
func (c Config) Decide(kickCount int) models.SanctionType {
	switch {
	case c.PermanentThreshold > 0 && kickCount >= c.PermanentThreshold:
		return models.SanctionPermanent
	case c.EscalationStep > 0 && kickCount > 0 && kickCount%c.EscalationStep == 0:
		return models.SanctionTemporary
	}
	return ""
}

type Option func(*Ledger)

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

func WithMonitor(m *monitor.Monitor) Option {
	return func(l *Ledger) { l.monitor = m }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger 踢出处理：计数、封禁、战绩在同一事务中提交
type Ledger struct {
	store    persistence.Store
	players  *services.PlayerService
	cfg      Config
	remover  Remover
	notifier Notifier
	monitor  *monitor.Monitor
	now      func() time.Time
}

func NewLedger(store persistence.Store, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		players: services.NewPlayerService(),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetRemover wires the turn engine after both sides are constructed.
func (l *Ledger) SetRemover(r Remover) {
	l.remover = r
}

var errUnknownPlayer = errors.New("kicked player does not exist")

// ProcessKick records a kick against username. It never fails the caller: a
// storage fault is logged and nil is returned with nothing persisted.
func (l *Ledger) ProcessKick(ctx context.Context, username, sessionCode, reason string, source models.KickSource) *models.KickOutcome {
	defer l.monitor.ObserveLatency("process_kick", time.Now())

	outcome, removed, err := l.record(ctx, username, sessionCode, reason, source)
	if err != nil {
		if errors.Is(err, errUnknownPlayer) {
			logger.Log.Warnw("kick for unknown player ignored", "player", username, "session", sessionCode, "source", source)
			return nil
		}
		l.monitor.IncStorageFaults("process_kick")
		logger.Log.Errorw("kick could not be recorded", "player", username, "session", sessionCode, "source", source, "err", err)
		return nil
	}

	l.monitor.IncKicks(string(source))
	if outcome.Sanction != nil {
		l.monitor.IncSanctions(string(outcome.Sanction.Type))
	}
	logger.Log.Infow("player kicked",
		"player", username, "session", sessionCode, "source", source, "reason", reason,
		"kick_count", outcome.KickCount, "forfeit", outcome.Forfeit, "guest", outcome.Guest, "removed", removed)

	if l.notifier != nil {
		l.notifier.Kicked(username, reason, outcome)
	}
	return outcome
}

// record persists a kick. When the player is still in the named session the
// writes ride on the remover's transaction; otherwise they commit on their
// own without a forfeit. removed reports which path was taken.
func (l *Ledger) record(ctx context.Context, username, sessionCode, reason string, source models.KickSource) (outcome *models.KickOutcome, removed bool, err error) {
	player, err := l.store.GetPlayerByUsername(ctx, username)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, false, errUnknownPlayer
		}
		return nil, false, fmt.Errorf("load player: %w", err)
	}

	charge := func(tx persistence.Store, sess *models.Session) error {
		outcome = &models.KickOutcome{
			Username: player.Username,
			PlayerID: player.ID,
			Guest:    player.IsGuest,
			Source:   source,
		}
		return l.charge(ctx, tx, outcome, sess, reason)
	}

	if sessionCode != "" && l.remover != nil {
		removed, err = l.remover.KickFromSession(ctx, sessionCode, player.ID, charge)
		if err != nil {
			return nil, false, err
		}
		if removed {
			return outcome, true, nil
		}
	}

	if err := l.store.Transaction(ctx, func(tx persistence.Store) error {
		return charge(tx, nil)
	}); err != nil {
		return nil, false, err
	}
	return outcome, false, nil
}

// charge writes the forfeit, the kick counter and any earned sanction inside
// tx. sess is the session the player is being removed from, or nil.
func (l *Ledger) charge(ctx context.Context, tx persistence.Store, outcome *models.KickOutcome, sess *models.Session, reason string) error {
	if sess != nil && sess.Active() {
		if err := l.players.RecordLoss(ctx, tx, outcome.PlayerID, false); err != nil {
			return err
		}
		outcome.Forfeit = true
	}
	if outcome.Guest {
		return nil
	}

	fresh, err := tx.GetPlayer(ctx, outcome.PlayerID)
	if err != nil {
		return fmt.Errorf("reload player: %w", err)
	}
	fresh.KickCount++
	outcome.KickCount = fresh.KickCount

	kind := l.cfg.Decide(fresh.KickCount)
	if kind != "" {
		now := l.now()
		s := &models.Sanction{
			PlayerID: fresh.ID,
			Type:     kind,
			Source:   outcome.Source,
			Reason:   reason,
			StartsAt: now,
		}
		if sess != nil {
			s.SessionID = sess.ID
		}
		if kind == models.SanctionTemporary {
			ends := now.Add(l.cfg.TemporaryDuration)
			s.EndsAt = &ends
		} else {
			fresh.Banned = true
		}
		if err := tx.AddSanction(ctx, s); err != nil {
			return fmt.Errorf("add sanction: %w", err)
		}
		outcome.Sanction = s
	}
	if err := tx.UpdatePlayer(ctx, fresh); err != nil {
		return fmt.Errorf("update kick counter: %w", err)
	}
	return nil
}

// Record returns the stored state of a player for admin lookups.
func (l *Ledger) Record(ctx context.Context, username string) (*models.Player, []models.Sanction, error) {
	player, err := l.store.GetPlayerByUsername(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	sanctions, err := l.store.ListSanctions(ctx, player.ID)
	if err != nil {
		return nil, nil, err
	}
	return player, sanctions, nil
}

// Package chat delivers lobby messages after they pass moderation.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pablobitw/goosegame/game"
	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/moderation"
	"github.com/pablobitw/goosegame/monitor"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrNotInLobby   = errors.New("sender is not in this lobby")
)

const kickReason = "repeated inappropriate language"

// Message is one delivered chat line.
type Message struct {
	Code     string    `json:"code"`
	From     string    `json:"from"`
	Text     string    `json:"text"`
	Censored bool      `json:"censored"`
	SentAt   time.Time `json:"sent_at"`
}

// Roster lists the members of a lobby.
type Roster interface {
	GetState(ctx context.Context, code string) (*game.GameState, error)
}

type Kicker interface {
	ProcessKick(ctx context.Context, username, sessionCode, reason string, source models.KickSource) *models.KickOutcome
}

// Notifier 消息推送，投递失败由实现方处理
type Notifier interface {
	ChatMessage(recipients []string, msg Message)
	SystemNotice(recipients []string, notice string)
}

type Option func(*Service)

func WithMonitor(m *monitor.Monitor) Option {
	return func(s *Service) { s.monitor = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxLength caps messages at n runes. Zero disables the cap.
func WithMaxLength(n int) Option {
	return func(s *Service) { s.maxLength = n }
}

type Service struct {
	pipeline  *moderation.Pipeline
	roster    Roster
	kicker    Kicker
	notifier  Notifier
	monitor   *monitor.Monitor
	maxLength int
	now       func() time.Time
}

func NewService(pipeline *moderation.Pipeline, roster Roster, kicker Kicker, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		pipeline:  pipeline,
		roster:    roster,
		kicker:    kicker,
		notifier:  notifier,
		maxLength: 200,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clean(text string) string {
	text = strings.TrimSpace(text)
	if s.maxLength > 0 && utf8.RuneCountInString(text) > s.maxLength {
		text = string([]rune(text)[:s.maxLength])
	}
	return text
}

// Send moderates a message from username and delivers the result. Allowed
// and censored messages go to every lobby member; notices go to the sender
// only; a kick outcome is handed to the sanction ledger.
func (s *Service) Send(ctx context.Context, code, username, text string) (*moderation.Outcome, error) {
	text = s.clean(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	st, err := s.roster.GetState(ctx, code)
	if err != nil {
		return nil, err
	}
	recipients := make([]string, 0, len(st.Players))
	member := false
	for _, p := range st.Players {
		recipients = append(recipients, p.Username)
		if p.Username == username {
			member = true
		}
	}
	if !member {
		return nil, ErrNotInLobby
	}

	out := s.pipeline.Evaluate(ctx, code, username, text)
	s.monitor.IncChatOutcome(out.Kind.String())
	sender := []string{username}

	switch out.Kind {
	case moderation.Allowed, moderation.Censored:
		s.notifier.ChatMessage(recipients, Message{
			Code:     code,
			From:     username,
			Text:     out.Message,
			Censored: out.Kind == moderation.Censored,
			SentAt:   s.now(),
		})
		if out.Notice != "" {
			s.notifier.SystemNotice(sender, out.Notice)
		}
	case moderation.Blocked:
		s.notifier.SystemNotice(sender, out.Notice)
	case moderation.Kick:
		s.notifier.SystemNotice(sender, out.Notice)
		logger.Log.Infow("chat moderation kick", "session", code, "player", username, "level", out.Level.String())
		if s.kicker != nil {
			s.kicker.ProcessKick(ctx, username, code, kickReason, models.KickSourceModeration)
		}
	}
	return &out, nil
}

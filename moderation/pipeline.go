package moderation

import (
	"context"
	"time"

	"github.com/pablobitw/goosegame/logger"
)

// Kind is the moderation verdict for one message.
type Kind int

const (
	Allowed Kind = iota
	Censored
	Blocked
	Kick
)

func (k Kind) String() string {
	switch k {
	case Censored:
		return "censored"
	case Blocked:
		return "blocked"
	case Kick:
		return "kick"
	}
	return "allowed"
}

// Broadcast reports whether the message goes to the whole lobby.
func (k Kind) Broadcast() bool {
	return k == Allowed || k == Censored
}

// Outcome is what the pipeline decided. Message is the text to deliver for
// Allowed and Censored; Notice is for the sender only.
type Outcome struct {
	Kind    Kind
	Message string
	Notice  string
	Level   Level
}

const (
	noticeSpam       = "You are sending messages too fast. Please wait a moment."
	noticeWarning    = "Please keep the chat respectful."
	noticeLast       = "Last warning: further inappropriate language will get you removed."
	noticePunishment = "You keep using inappropriate language."
	noticeKick       = "You have been removed from the match for repeated inappropriate language."
)

type Config struct {
	SpamLimit           int
	SpamWindow          time.Duration
	CensorshipThreshold int
	// PunishmentKicks turns the Punishment warning level into a kick.
	PunishmentKicks bool
}

func DefaultConfig() Config {
	return Config{
		SpamLimit:           5,
		SpamWindow:          20 * time.Second,
		CensorshipThreshold: 5,
	}
}

type Option func(*Pipeline)

// WithSpamLimiter replaces the in-memory spam window.
func WithSpamLimiter(l SpamLimiter) Option {
	return func(p *Pipeline) { p.spam = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline runs spam, profanity and escalation checks in order.
type Pipeline struct {
	cfg        Config
	spam       SpamLimiter
	filter     *Filter
	warnings   *WarningTracker
	censorship *CensorshipTracker
	now        func() time.Time
}

func NewPipeline(cfg Config, filter *Filter, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		spam:       NewSpamTracker(cfg.SpamLimit, cfg.SpamWindow),
		filter:     filter,
		warnings:   NewWarningTracker(),
		censorship: NewCensorshipTracker(cfg.CensorshipThreshold),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate decides what happens to one message.
func (p *Pipeline) Evaluate(ctx context.Context, lobby, user, message string) Outcome {
	allowed, err := p.spam.Allow(ctx, lobby, user, p.now())
	if err != nil {
		// 限流后端故障时放行，不影响聊天
		logger.Log.Warnw("spam check failed, message let through", "session", lobby, "user", user, "err", err)
		allowed = true
	}
	if !allowed {
		return Outcome{Kind: Blocked, Notice: noticeSpam}
	}

	text, censored := p.filter.Censor(message)
	if !censored {
		return Outcome{Kind: Allowed, Message: message}
	}

	_, kick := p.censorship.Record(lobby, user)
	level := p.warnings.Record(lobby, user)
	if kick {
		p.warnings.Reset(lobby, user)
		return Outcome{Kind: Kick, Notice: noticeKick, Level: level}
	}
	if level == LevelPunishment && p.cfg.PunishmentKicks {
		p.warnings.Reset(lobby, user)
		return Outcome{Kind: Kick, Notice: noticeKick, Level: level}
	}

	out := Outcome{Kind: Censored, Message: text, Level: level}
	switch level {
	case LevelWarning:
		out.Notice = noticeWarning
	case LevelLastWarning:
		out.Notice = noticeLast
	default:
		out.Notice = noticePunishment
	}
	return out
}

// ForgetLobby drops every tracker entry of a finished lobby.
func (p *Pipeline) ForgetLobby(lobby string) {
	if f, ok := p.spam.(interface{ ForgetLobby(string) }); ok {
		f.ForgetLobby(lobby)
	}
	p.warnings.counts.forgetLobby(lobby)
	p.censorship.counts.forgetLobby(lobby)
}

// Warnings exposes the warning tracker for inspection.
func (p *Pipeline) Warnings() *WarningTracker {
	return p.warnings
}

// Censorship exposes the censorship tracker for inspection.
func (p *Pipeline) Censorship() *CensorshipTracker {
	return p.censorship
}

// models/models.go
package models

import (
	"strings"
	"time"
)

// SessionStatus 对局状态，只能单向推进
type SessionStatus string

const (
	StatusWaitingForPlayers SessionStatus = "WaitingForPlayers"
	StatusInProgress        SessionStatus = "InProgress"
	StatusFinished          SessionStatus = "Finished"
)

// Session 对局
type Session struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	Code         string        `gorm:"uniqueIndex;size:16;not null" json:"code"`
	BoardVariant string        `gorm:"size:32;not null;default:classic" json:"board_variant"`
	Status       SessionStatus `gorm:"size:32;index;not null" json:"status"`
	MaxPlayers   int           `gorm:"not null;default:4" json:"max_players"`
	HostID       uint          `gorm:"not null" json:"host_id"`
	WinnerID     *uint         `json:"winner_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// Active reports whether moves can still be played.
func (s *Session) Active() bool {
	return s.Status == StatusInProgress
}

// Player 玩家账号，同时记录当前所在对局
type Player struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;size:64;not null" json:"username"`
	IsGuest  bool   `gorm:"not null;default:false" json:"is_guest"`
	// SessionID is 0 when the player is not a member of any session.
	SessionID    uint       `gorm:"index;not null;default:0" json:"session_id"`
	PendingSkips int        `gorm:"not null;default:0" json:"pending_skips"`
	KickCount    int        `gorm:"not null;default:0" json:"kick_count"`
	Banned       bool       `gorm:"not null;default:false" json:"banned"`
	JoinedAt     *time.Time `json:"joined_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Action tag markers embedded in Move.Action.
const (
	MarkerExtraTurn = "[EXTRA_TURN]"
	MarkerLuckyBox  = "[LUCKY_BOX:"
)

// Move 移动记录，只追加不修改
type Move struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SessionID     uint      `gorm:"index;not null" json:"session_id"`
	PlayerID      uint      `gorm:"index;not null" json:"player_id"`
	TurnNumber    int       `gorm:"not null" json:"turn_number"`
	DieOne        int       `gorm:"not null" json:"die_one"`
	DieTwo        int       `gorm:"not null" json:"die_two"`
	StartPosition int       `gorm:"not null" json:"start_position"`
	FinalPosition int       `gorm:"not null" json:"final_position"`
	Action        string    `gorm:"size:512" json:"action"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsExtraTurn reports whether the move grants its player another roll.
func (m *Move) IsExtraTurn() bool {
	return strings.Contains(m.Action, MarkerExtraTurn)
}

// PlayerStats 玩家统计与奖励
type PlayerStats struct {
	PlayerID      uint      `gorm:"primaryKey;autoIncrement:false" json:"player_id"`
	MatchesPlayed int       `gorm:"not null;default:0" json:"matches_played"`
	MatchesWon    int       `gorm:"not null;default:0" json:"matches_won"`
	MatchesLost   int       `gorm:"not null;default:0" json:"matches_lost"`
	Coins         int64     `gorm:"not null;default:0" json:"coins"`
	BronzeTickets int       `gorm:"not null;default:0" json:"bronze_tickets"`
	SilverTickets int       `gorm:"not null;default:0" json:"silver_tickets"`
	GoldTickets   int       `gorm:"not null;default:0" json:"gold_tickets"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type SanctionType string

const (
	SanctionTemporary SanctionType = "Temporary"
	SanctionPermanent SanctionType = "Permanent"
)

// KickSource 踢出来源
type KickSource string

const (
	KickSourceModeration KickSource = "moderation"
	KickSourceAFK        KickSource = "afk"
	KickSourceVote       KickSource = "vote"
	KickSourceAdmin      KickSource = "admin"
)

// Sanction 封禁记录。EndsAt 为空表示永久封禁
type Sanction struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	PlayerID  uint         `gorm:"index;not null" json:"player_id"`
	SessionID uint         `gorm:"not null;default:0" json:"session_id"`
	Type      SanctionType `gorm:"size:16;not null" json:"type"`
	Source    KickSource   `gorm:"size:16" json:"source"`
	Reason    string       `gorm:"size:255" json:"reason"`
	StartsAt  time.Time    `gorm:"not null" json:"starts_at"`
	EndsAt    *time.Time   `json:"ends_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ActiveAt reports whether the sanction is in force at t.
func (s *Sanction) ActiveAt(t time.Time) bool {
	if t.Before(s.StartsAt) {
		return false
	}
	return s.EndsAt == nil || t.Before(*s.EndsAt)
}

// KickOutcome 一次踢出处理的结果
type KickOutcome struct {
	Username  string     `json:"username"`
	PlayerID  uint       `json:"player_id"`
	Guest     bool       `json:"guest"`
	KickCount int        `json:"kick_count"`
	Forfeit   bool       `json:"forfeit"`
	Sanction  *Sanction  `json:"sanction,omitempty"`
	Source    KickSource `json:"source"`
}

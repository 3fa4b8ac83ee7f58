// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/pablobitw/goosegame/models"
)

// Store 持久化边界。对局、玩家、移动记录、统计与封禁记录都经由这里读写。
// 移动记录只追加；玩家位置总是由最后一条移动记录推导。
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id uint) (*models.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)

	CreatePlayer(ctx context.Context, p *models.Player) error
	GetPlayer(ctx context.Context, id uint) (*models.Player, error)
	GetPlayerByUsername(ctx context.Context, username string) (*models.Player, error)
	// ListSessionPlayers returns the members of a session ordered by ascending ID.
	ListSessionPlayers(ctx context.Context, sessionID uint) ([]models.Player, error)
	UpdatePlayer(ctx context.Context, p *models.Player) error

	AppendMove(ctx context.Context, m *models.Move) error
	LastMove(ctx context.Context, sessionID uint) (*models.Move, error)
	LastPlayerMove(ctx context.Context, sessionID, playerID uint) (*models.Move, error)
	ListMoves(ctx context.Context, sessionID uint) ([]models.Move, error)
	// CountMoves returns the total number of moves of a session and how many
	// of them granted an extra turn.
	CountMoves(ctx context.Context, sessionID uint) (total, extra int64, err error)

	// GetStats returns the player's stats, or a zero record when none exist yet.
	GetStats(ctx context.Context, playerID uint) (*models.PlayerStats, error)
	SaveStats(ctx context.Context, st *models.PlayerStats) error

	AddSanction(ctx context.Context, s *models.Sanction) error
	ListSanctions(ctx context.Context, playerID uint) ([]models.Sanction, error)
	// ActiveSanction returns the sanction in force at the given time, or ErrRecordNotFound.
	ActiveSanction(ctx context.Context, playerID uint, at time.Time) (*models.Sanction, error)

	// Transaction runs fn as one unit: every write made through tx is
	// committed together, or none is when fn returns an error.
	Transaction(ctx context.Context, fn func(tx Store) error) error
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("duplicate key")
	// ErrTransient marks connectivity and timeout faults worth retrying.
	ErrTransient = errors.New("transient storage error")
)

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

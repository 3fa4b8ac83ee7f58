// services/player_service.go
package services

import (
	"context"
	"fmt"

	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/persistence"
)

// 对局结算奖励
const (
	WinCoins           = 100
	ParticipationCoins = 10
)

// Random is the subset of *rand.Rand used for reward draws.
type Random interface {
	IntN(n int) int
}

type RewardKind string

const (
	RewardCoins  RewardKind = "COINS"
	RewardBronze RewardKind = "BRONZE"
	RewardSilver RewardKind = "SILVER"
	RewardGold   RewardKind = "GOLD"
)

// LuckyReward 幸运箱奖励
type LuckyReward struct {
	Kind   RewardKind
	Amount int
}

// Tag renders the reward as an action marker.
func (r LuckyReward) Tag() string {
	return fmt.Sprintf("%s%s:%d]", models.MarkerLuckyBox, r.Kind, r.Amount)
}

// DrawLuckyBox picks a reward: 60% coins (10-50), 25% bronze, 10% silver, 5% gold.
func DrawLuckyBox(rng Random) LuckyReward {
	roll := rng.IntN(100)
	switch {
	case roll < 60:
		return LuckyReward{Kind: RewardCoins, Amount: 10 + rng.IntN(41)}
	case roll < 85:
		return LuckyReward{Kind: RewardBronze, Amount: 1}
	case roll < 95:
		return LuckyReward{Kind: RewardSilver, Amount: 1}
	default:
		return LuckyReward{Kind: RewardGold, Amount: 1}
	}
}

// PlayerService 玩家统计更新。所有方法都接受调用方的事务 Store，
// 以便与移动记录、封禁记录在同一事务中提交
type PlayerService struct{}

func NewPlayerService() *PlayerService {
	return &PlayerService{}
}

func (s *PlayerService) update(ctx context.Context, tx persistence.Store, playerID uint, fn func(st *models.PlayerStats)) error {
	st, err := tx.GetStats(ctx, playerID)
	if err != nil {
		return fmt.Errorf("load stats for player %d: %w", playerID, err)
	}
	fn(st)
	if err := tx.SaveStats(ctx, st); err != nil {
		return fmt.Errorf("save stats for player %d: %w", playerID, err)
	}
	return nil
}

// RecordWin 记录胜利并发放奖励
func (s *PlayerService) RecordWin(ctx context.Context, tx persistence.Store, playerID uint) error {
	return s.update(ctx, tx, playerID, func(st *models.PlayerStats) {
		st.MatchesPlayed++
		st.MatchesWon++
		st.Coins += WinCoins
	})
}

// RecordLoss 记录失败（含弃权）
func (s *PlayerService) RecordLoss(ctx context.Context, tx persistence.Store, playerID uint, participation bool) error {
	return s.update(ctx, tx, playerID, func(st *models.PlayerStats) {
		st.MatchesPlayed++
		st.MatchesLost++
		if participation {
			st.Coins += ParticipationCoins
		}
	})
}

// CreditLuckyBox 发放幸运箱奖励
func (s *PlayerService) CreditLuckyBox(ctx context.Context, tx persistence.Store, playerID uint, r LuckyReward) error {
	return s.update(ctx, tx, playerID, func(st *models.PlayerStats) {
		switch r.Kind {
		case RewardCoins:
			st.Coins += int64(r.Amount)
		case RewardBronze:
			st.BronzeTickets += r.Amount
		case RewardSilver:
			st.SilverTickets += r.Amount
		case RewardGold:
			st.GoldTickets += r.Amount
		}
	})
}

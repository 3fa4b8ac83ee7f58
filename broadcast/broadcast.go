// broadcast/broadcast.go
package broadcast

import (
	"encoding/json"

	"github.com/pablobitw/goosegame/chat"
	"github.com/pablobitw/goosegame/game"
	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/network"
	"github.com/pablobitw/goosegame/sanction"
	"github.com/pablobitw/goosegame/session"
	"github.com/pablobitw/goosegame/votekick"
)

// 广播接口
type Broadcaster interface {
	BroadcastToUsers(usernames []string, msgID uint16, data []byte)
}

// KickedPayload is pushed to a player removed by a kick.
type KickedPayload struct {
	Reason  string              `json:"reason"`
	Outcome *models.KickOutcome `json:"outcome"`
}

// ChatPayload wraps a delivered chat line.
type ChatPayload struct {
	Message chat.Message `json:"message"`
}

// SessionBroadcaster 按用户名投递。投递失败的连接会被注销并关闭，错误不向上传播
type SessionBroadcaster struct {
	sessionManager *session.Manager
}

func NewSessionBroadcaster(sessionManager *session.Manager) *SessionBroadcaster {
	return &SessionBroadcaster{sessionManager: sessionManager}
}

func (b *SessionBroadcaster) BroadcastToUsers(usernames []string, msgID uint16, data []byte) {
	for _, username := range usernames {
		for _, s := range b.sessionManager.GetByUsername(username) {
			if err := s.Send(msgID, data); err != nil {
				// 对端已断开
				logger.Log.Warnw("delivery failed, unregistering connection", "player", username, "conn", s.GetID(), "msg", msgID, "err", err)
				b.sessionManager.Remove(s.GetID())
				s.Close()
			}
		}
	}
}

func (b *SessionBroadcaster) send(usernames []string, msgID uint16, v interface{}) {
	if len(usernames) == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorw("could not encode push message", "msg", msgID, "err", err)
		return
	}
	b.BroadcastToUsers(usernames, msgID, data)
}

func (b *SessionBroadcaster) TurnChanged(recipients []string, st *game.GameState) {
	b.send(recipients, network.MsgTypeTurnChanged, st)
}

func (b *SessionBroadcaster) ChatMessage(recipients []string, msg chat.Message) {
	b.send(recipients, network.MsgTypeChatMessage, ChatPayload{Message: msg})
}

func (b *SessionBroadcaster) SystemNotice(recipients []string, notice string) {
	b.send(recipients, network.MsgTypeSystemNotice, network.NoticePayload{Text: notice})
}

func (b *SessionBroadcaster) VoteStarted(recipients []string, ev votekick.VoteStarted) {
	b.send(recipients, network.MsgTypeVoteStarted, ev)
}

func (b *SessionBroadcaster) VoteEnded(recipients []string, ev votekick.VoteEnded) {
	b.send(recipients, network.MsgTypeVoteEnded, ev)
}

func (b *SessionBroadcaster) Kicked(username, reason string, outcome *models.KickOutcome) {
	b.send([]string{username}, network.MsgTypeKicked, KickedPayload{Reason: reason, Outcome: outcome})
}

var (
	_ game.Notifier     = (*SessionBroadcaster)(nil)
	_ chat.Notifier     = (*SessionBroadcaster)(nil)
	_ votekick.Notifier = (*SessionBroadcaster)(nil)
	_ sanction.Notifier = (*SessionBroadcaster)(nil)
)

package network

// 消息ID
const (
	MsgTypeHeartbeat = 1

	MsgTypeJoinLobby   = 101
	MsgTypeLeave       = 102
	MsgTypeCreateLobby = 103
	MsgTypeStartMatch  = 104

	MsgTypeRoll       = 201
	MsgTypeRollResult = 202
	// MsgTypeActivity refreshes the turn timer without moving.
	MsgTypeActivity = 203

	MsgTypeGetState    = 301
	MsgTypeTurnChanged = 304

	MsgTypeChat         = 401
	MsgTypeChatMessage  = 402
	MsgTypeSystemNotice = 403

	MsgTypeVoteStart   = 501
	MsgTypeVoteCast    = 502
	MsgTypeVoteStarted = 503
	MsgTypeVoteEnded   = 504
	MsgTypeVoteTally   = 505

	MsgTypeKicked = 601

	MsgTypeError = 900
)

// Request payloads. The player is always the connection's user.

type CreateLobbyRequest struct {
	Variant    string `json:"variant"`
	MaxPlayers int    `json:"max_players"`
}

type CodeRequest struct {
	Code string `json:"code"`
}

type ChatRequest struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type VoteStartRequest struct {
	TargetID uint   `json:"target_id"`
	Reason   string `json:"reason"`
}

type VoteCastRequest struct {
	Code    string `json:"code"`
	InFavor bool   `json:"in_favor"`
}

// ErrorPayload answers a rejected request.
type ErrorPayload struct {
	Request uint16 `json:"request"`
	Message string `json:"message"`
}

type NoticePayload struct {
	Text string `json:"text"`
}

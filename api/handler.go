// Package api exposes the game operations over HTTP JSON.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pablobitw/goosegame/board"
	"github.com/pablobitw/goosegame/chat"
	"github.com/pablobitw/goosegame/game"
	"github.com/pablobitw/goosegame/votekick"
)

// Handler 持有各核心组件，路由只做参数绑定和错误映射
type Handler struct {
	engine *game.Engine
	votes  *votekick.Coordinator
	chat   *chat.Service
}

func NewHandler(engine *game.Engine, votes *votekick.Coordinator, chat *chat.Service) *Handler {
	return &Handler{engine: engine, votes: votes, chat: chat}
}

type RegisterBody struct {
	Username string `json:"username" binding:"required"`
	Guest    bool   `json:"guest"`
}

type PlayerBody struct {
	PlayerID uint `json:"player_id" binding:"required"`
}

type CreateLobbyBody struct {
	PlayerID   uint   `json:"player_id" binding:"required"`
	Variant    string `json:"variant"`
	MaxPlayers int    `json:"max_players"`
}

type VoteBody struct {
	PlayerID uint   `json:"player_id" binding:"required"`
	TargetID uint   `json:"target_id" binding:"required"`
	Reason   string `json:"reason"`
}

type BallotBody struct {
	PlayerID uint `json:"player_id" binding:"required"`
	InFavor  bool `json:"in_favor"`
}

type ChatBody struct {
	PlayerID uint   `json:"player_id" binding:"required"`
	Text     string `json:"text"`
}

// statusFor maps a core error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrUnavailable), errors.Is(err, votekick.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, game.ErrSessionNotFound), errors.Is(err, game.ErrPlayerNotFound),
		errors.Is(err, votekick.ErrNoVote):
		return http.StatusNotFound
	case errors.Is(err, game.ErrNotHost), errors.Is(err, game.ErrBanned),
		errors.Is(err, game.ErrNotInSession), errors.Is(err, chat.ErrNotInLobby),
		errors.Is(err, votekick.ErrNotEligible):
		return http.StatusForbidden
	case errors.Is(err, game.ErrUnknownVariant), errors.Is(err, game.ErrInvalidMaxPlayers),
		errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, votekick.ErrSelfVote):
		return http.StatusBadRequest
	}
	return http.StatusConflict
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func bind(c *gin.Context, body interface{}) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

// Variants 可用棋盘
func (h *Handler) Variants(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"variants": board.Variants()})
}

func (h *Handler) Register(c *gin.Context) {
	var body RegisterBody
	if !bind(c, &body) {
		return
	}
	p, err := h.engine.Register(c.Request.Context(), body.Username, body.Guest)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) CreateLobby(c *gin.Context) {
	var body CreateLobbyBody
	if !bind(c, &body) {
		return
	}
	sess, err := h.engine.CreateLobby(c.Request.Context(), body.PlayerID, body.Variant, body.MaxPlayers)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) Join(c *gin.Context) {
	var body PlayerBody
	if !bind(c, &body) {
		return
	}
	if err := h.engine.Join(c.Request.Context(), c.Param("code"), body.PlayerID); err != nil {
		fail(c, err)
		return
	}
	h.State(c)
}

func (h *Handler) Start(c *gin.Context) {
	var body PlayerBody
	if !bind(c, &body) {
		return
	}
	if err := h.engine.Start(c.Request.Context(), c.Param("code"), body.PlayerID); err != nil {
		fail(c, err)
		return
	}
	h.State(c)
}

// Roll submits a dice roll. A rejected roll has no reason attached.
func (h *Handler) Roll(c *gin.Context) {
	var body PlayerBody
	if !bind(c, &body) {
		return
	}
	result := h.engine.RollDice(c.Request.Context(), c.Param("code"), body.PlayerID)
	if result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "roll rejected"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Ping keeps the match's turn timer alive for a member who is still playing.
func (h *Handler) Ping(c *gin.Context) {
	var body PlayerBody
	if !bind(c, &body) {
		return
	}
	if err := h.engine.Ping(c.Request.Context(), c.Param("code"), body.PlayerID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) State(c *gin.Context) {
	st, err := h.engine.GetState(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) Leave(c *gin.Context) {
	var body PlayerBody
	if !bind(c, &body) {
		return
	}
	if err := h.engine.Leave(c.Request.Context(), c.Param("code"), body.PlayerID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left"})
}

func (h *Handler) InitiateVote(c *gin.Context) {
	var body VoteBody
	if !bind(c, &body) {
		return
	}
	tally, err := h.votes.Initiate(c.Request.Context(), body.PlayerID, body.TargetID, body.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tally)
}

func (h *Handler) CastVote(c *gin.Context) {
	var body BallotBody
	if !bind(c, &body) {
		return
	}
	tally, err := h.votes.Cast(c.Request.Context(), c.Param("code"), body.PlayerID, body.InFavor)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tally)
}

func (h *Handler) VoteStatus(c *gin.Context) {
	tally, open := h.votes.Status(c.Param("code"))
	if !open {
		fail(c, votekick.ErrNoVote)
		return
	}
	c.JSON(http.StatusOK, tally)
}

func (h *Handler) Chat(c *gin.Context) {
	var body ChatBody
	if !bind(c, &body) {
		return
	}
	p, err := h.engine.Player(c.Request.Context(), body.PlayerID)
	if err != nil {
		fail(c, err)
		return
	}
	out, err := h.chat.Send(c.Request.Context(), c.Param("code"), p.Username, body.Text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": out.Kind.String(), "message": out.Message, "notice": out.Notice})
}

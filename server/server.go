package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/pablobitw/goosegame/api"
	"github.com/pablobitw/goosegame/archive"
	"github.com/pablobitw/goosegame/broadcast"
	"github.com/pablobitw/goosegame/chat"
	"github.com/pablobitw/goosegame/config"
	"github.com/pablobitw/goosegame/game"
	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/moderation"
	"github.com/pablobitw/goosegame/monitor"
	"github.com/pablobitw/goosegame/network"
	"github.com/pablobitw/goosegame/persistence"
	"github.com/pablobitw/goosegame/room"
	gameserver_rpc "github.com/pablobitw/goosegame/rpc"
	"github.com/pablobitw/goosegame/sanction"
	"github.com/pablobitw/goosegame/session"
	"github.com/pablobitw/goosegame/timer"
	"github.com/pablobitw/goosegame/votekick"
	"github.com/pablobitw/goosegame/watchdog"
)

const heartbeatInterval = 30 * time.Second

type GameServer struct {
	cfg            *config.Config
	store          persistence.Store
	monitor        *monitor.Monitor
	roomManager    *room.Manager
	sessionManager *session.Manager
	broadcaster    *broadcast.SessionBroadcaster

	engine   *game.Engine
	ledger   *sanction.Ledger
	votes    *votekick.Coordinator
	pipeline *moderation.Pipeline
	chat     *chat.Service
	watchdog *watchdog.Watchdog
	timers   *timer.Manager
	archiver *archive.Archiver

	router       *gin.Engine
	httpServer   *http.Server
	rpcServer    *gameserver_rpc.Server
	upgrader     websocket.Upgrader
	shutdownChan chan struct{}
}

// NewGameServer builds every component and wires their events together.
// rdb may be nil unless the Redis spam backend is selected.
func NewGameServer(cfg *config.Config, store persistence.Store, rdb *redis.Client, mon *monitor.Monitor) (*GameServer, error) {
	s := &GameServer{
		cfg:            cfg,
		store:          store,
		monitor:        mon,
		roomManager:    room.NewRoomManager(),
		sessionManager: session.NewManager(),
		timers:         timer.NewManager(100 * time.Millisecond),
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.broadcaster = broadcast.NewSessionBroadcaster(s.sessionManager)

	// 对局引擎与踢出台账互相引用，构造后再接线
	s.engine = game.NewEngine(store, s.roomManager, game.Config{
		MinPlayers:     cfg.Game.MinPlayers,
		MaxPlayers:     cfg.Game.MaxPlayers,
		AFKKickAfter:   cfg.Game.AFKKickAfter,
		DefaultVariant: cfg.Game.DefaultVariant,
	}, game.WithNotifier(s.broadcaster), game.WithMonitor(mon))
	s.ledger = sanction.NewLedger(store, sanction.Config{
		TemporaryDuration:  cfg.Sanction.TemporaryDuration,
		EscalationStep:     cfg.Sanction.EscalationStep,
		PermanentThreshold: cfg.Sanction.PermanentThreshold,
	}, sanction.WithNotifier(s.broadcaster), sanction.WithMonitor(mon))
	s.ledger.SetRemover(s.engine)
	s.engine.SetKicker(s.ledger)

	s.votes = votekick.NewCoordinator(votekick.Config{
		MinPlayers:          cfg.VoteKick.MinPlayers,
		ProtectionThreshold: cfg.Game.ProtectionThreshold,
		Window:              cfg.VoteKick.Window,
	}, s.engine, s.ledger,
		votekick.WithNotifier(s.broadcaster), votekick.WithTimers(s.timers), votekick.WithMonitor(mon))

	pipeline, err := newPipeline(cfg.Moderation, rdb)
	if err != nil {
		return nil, err
	}
	s.pipeline = pipeline
	s.chat = chat.NewService(pipeline, s.engine, s.ledger, s.broadcaster,
		chat.WithMonitor(mon), chat.WithMaxLength(cfg.Moderation.MaxMessageLength))

	s.watchdog = watchdog.New(s.engine, cfg.Game.TurnTimeLimit, cfg.Game.WatchdogInterval, watchdog.WithMonitor(mon))
	if cfg.Archive.Dir != "" {
		s.archiver = archive.NewArchiver(cfg.Archive.Dir, store)
	}

	s.engine.OnSessionStarted(func(sess models.Session) { s.watchdog.Monitor(sess.Code) })
	s.engine.OnActivity(s.watchdog.Touch)
	s.engine.OnPlayerRemoved(s.votes.PlayerRemoved)
	s.engine.OnSessionFinished(func(sess models.Session) {
		s.watchdog.Unmonitor(sess.Code)
		s.votes.SessionFinished(sess)
		s.pipeline.ForgetLobby(sess.Code)
		if s.archiver != nil {
			s.archiver.SessionFinished(sess)
		}
	})

	s.router = api.NewRouter(cfg.Server.AllowedOrigins)
	api.SetupRoutes(s.router, api.NewHandler(s.engine, s.votes, s.chat))
	s.router.GET("/ws", s.handleWebSocket)

	// 初始化RPC服务器
	rpcServer, err := gameserver_rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		return nil, err
	}
	if err := rpcServer.Register(gameserver_rpc.NewAdminService(store, s.ledger)); err != nil {
		rpcServer.Stop()
		return nil, err
	}
	s.rpcServer = rpcServer

	return s, nil
}

func newPipeline(cfg config.ModerationConfig, rdb *redis.Client) (*moderation.Pipeline, error) {
	words := moderation.DefaultWords()
	if cfg.WordListPath != "" {
		loaded, err := moderation.LoadWordList(cfg.WordListPath)
		if err != nil {
			return nil, err
		}
		words = loaded
	}

	var opts []moderation.Option
	if cfg.SpamBackend == "redis" {
		if rdb == nil {
			return nil, errors.New("redis spam backend selected without a redis client")
		}
		opts = append(opts, moderation.WithSpamLimiter(moderation.NewRedisSpamLimiter(rdb, cfg.SpamLimit, cfg.SpamWindow)))
	}
	return moderation.NewPipeline(moderation.Config{
		SpamLimit:           cfg.SpamLimit,
		SpamWindow:          cfg.SpamWindow,
		CensorshipThreshold: cfg.CensorshipThreshold,
		PunishmentKicks:     cfg.PunishmentKicks,
	}, moderation.NewFilter(words), opts...), nil
}

// Handler exposes the HTTP routes, including /ws.
func (s *GameServer) Handler() http.Handler {
	return s.router
}

// Resume puts every match still in progress back under the watchdog.
func (s *GameServer) Resume(ctx context.Context) error {
	codes, err := s.engine.ActiveSessions(ctx)
	if err != nil {
		return err
	}
	for _, code := range codes {
		s.watchdog.Monitor(code)
	}
	logger.Log.Infof("Resumed %d active sessions", len(codes))
	return nil
}

func (s *GameServer) Start() error {
	go s.rpcServer.Start()
	if err := s.Resume(context.Background()); err != nil {
		logger.Log.Warnw("could not resume active sessions", "err", err)
	}
	s.watchdog.Start()

	s.httpServer = &http.Server{Addr: s.cfg.Server.HTTPAddress, Handler: s.router}
	logger.Log.Infof("Game server listening on %s", s.cfg.Server.HTTPAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GameServer) Shutdown(ctx context.Context) {
	close(s.shutdownChan)
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Log.Warnw("http shutdown", "err", err)
		}
	}
	s.watchdog.Stop()
	s.timers.Stop()
	s.rpcServer.Stop()
}

func (s *GameServer) handleWebSocket(c *gin.Context) {
	username := c.Query("user")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user"})
		return
	}
	player, err := s.engine.Register(c.Request.Context(), username, c.Query("guest") == "1")
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn, player)
}

func (s *GameServer) handleConnection(conn *websocket.Conn, player *models.Player) {
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(heartbeatInterval)
	sess := session.NewSession(uuid.New().String(), wsConn)
	sess.PlayerID = player.ID
	sess.Username = player.Username
	s.sessionManager.Add(sess)
	s.monitor.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, session ID: %s, player: %s", wsConn.RemoteAddr(), sess.GetID(), player.Username)

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecOnlinePlayers()
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	ctx := context.Background()
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.Touch()
		sess.Send(network.MsgTypeHeartbeat, nil)
	case network.MsgTypeCreateLobby:
		var req network.CreateLobbyRequest
		if s.decode(sess, packet, &req) {
			lobby, err := s.engine.CreateLobby(ctx, sess.PlayerID, req.Variant, req.MaxPlayers)
			s.reply(sess, packet.MsgID, lobby, err)
		}
	case network.MsgTypeJoinLobby:
		var req network.CodeRequest
		if s.decode(sess, packet, &req) {
			s.replyState(ctx, sess, packet.MsgID, req.Code, s.engine.Join(ctx, req.Code, sess.PlayerID))
		}
	case network.MsgTypeStartMatch:
		var req network.CodeRequest
		if s.decode(sess, packet, &req) {
			s.replyState(ctx, sess, packet.MsgID, req.Code, s.engine.Start(ctx, req.Code, sess.PlayerID))
		}
	case network.MsgTypeLeave:
		var req network.CodeRequest
		if s.decode(sess, packet, &req) {
			s.reply(sess, packet.MsgID, network.NoticePayload{Text: "left"}, s.engine.Leave(ctx, req.Code, sess.PlayerID))
		}
	case network.MsgTypeRoll:
		var req network.CodeRequest
		if s.decode(sess, packet, &req) {
			if result := s.engine.RollDice(ctx, req.Code, sess.PlayerID); result != nil {
				s.reply(sess, network.MsgTypeRollResult, result, nil)
			} else {
				s.sendError(sess, packet.MsgID, "roll rejected")
			}
		}
	case network.MsgTypeActivity:
		var req network.CodeRequest
		if s.decode(sess, packet, &req) {
			s.reply(sess, packet.MsgID, network.NoticePayload{Text: "ok"}, s.engine.Ping(ctx, req.Code, sess.PlayerID))
		}
	case network.MsgTypeGetState:
		var req network.CodeRequest
		if s.decode(sess, packet, &req) {
			st, err := s.engine.GetState(ctx, req.Code)
			s.reply(sess, network.MsgTypeTurnChanged, st, err)
		}
	case network.MsgTypeChat:
		var req network.ChatRequest
		if s.decode(sess, packet, &req) {
			if _, err := s.chat.Send(ctx, req.Code, sess.Username, req.Text); err != nil {
				s.sendError(sess, packet.MsgID, err.Error())
			}
		}
	case network.MsgTypeVoteStart:
		var req network.VoteStartRequest
		if s.decode(sess, packet, &req) {
			tally, err := s.votes.Initiate(ctx, sess.PlayerID, req.TargetID, req.Reason)
			s.reply(sess, network.MsgTypeVoteTally, tally, err)
		}
	case network.MsgTypeVoteCast:
		var req network.VoteCastRequest
		if s.decode(sess, packet, &req) {
			tally, err := s.votes.Cast(ctx, req.Code, sess.PlayerID, req.InFavor)
			s.reply(sess, network.MsgTypeVoteTally, tally, err)
		}
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
		s.sendError(sess, packet.MsgID, "unknown message type")
	}
}

func (s *GameServer) decode(sess *session.Session, packet *network.Packet, v interface{}) bool {
	if err := json.Unmarshal(packet.Data, v); err != nil {
		s.sendError(sess, packet.MsgID, "malformed request")
		return false
	}
	return true
}

func (s *GameServer) reply(sess *session.Session, msgID uint16, v interface{}, err error) {
	if err != nil {
		s.sendError(sess, msgID, err.Error())
		return
	}
	if err := sess.SendJSON(msgID, v); err != nil {
		logger.Log.Warnw("reply failed", "player", sess.Username, "msg", msgID, "err", err)
	}
}

func (s *GameServer) replyState(ctx context.Context, sess *session.Session, msgID uint16, code string, err error) {
	if err != nil {
		s.sendError(sess, msgID, err.Error())
		return
	}
	st, err := s.engine.GetState(ctx, code)
	s.reply(sess, msgID, st, err)
}

func (s *GameServer) sendError(sess *session.Session, request uint16, message string) {
	if err := sess.SendJSON(network.MsgTypeError, network.ErrorPayload{Request: request, Message: message}); err != nil {
		logger.Log.Warnw("error reply failed", "player", sess.Username, "err", err)
	}
}

package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"

	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/persistence"
	"github.com/pablobitw/goosegame/sanction"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	server   *rpc.Server
}

// NewServer creates a new RPC server listening on addr.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		server:   rpc.NewServer(),
	}, nil
}

// Register exposes the exported methods of rcvr.
func (s *Server) Register(rcvr interface{}) error {
	return s.server.Register(rcvr)
}

// Addr returns the address actually bound.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.server.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

var ErrKickFailed = errors.New("kick could not be recorded")

// AdminService is the struct that exposes admin RPC methods.
type AdminService struct {
	store  persistence.Store
	ledger *sanction.Ledger
}

func NewAdminService(store persistence.Store, ledger *sanction.Ledger) *AdminService {
	return &AdminService{store: store, ledger: ledger}
}

type PlayerArgs struct {
	Username string
}

type PlayerRecordReply struct {
	Player    models.Player
	Stats     models.PlayerStats
	Sanctions []models.Sanction
}

// GetPlayerRecord returns a player's account, stats and sanction history.
func (a *AdminService) GetPlayerRecord(args *PlayerArgs, reply *PlayerRecordReply) error {
	ctx := context.Background()
	player, sanctions, err := a.ledger.Record(ctx, args.Username)
	if err != nil {
		return err
	}
	stats, err := a.store.GetStats(ctx, player.ID)
	if err != nil {
		return err
	}
	reply.Player = *player
	reply.Stats = *stats
	reply.Sanctions = sanctions
	return nil
}

type KickArgs struct {
	Username string
	Reason   string
}

type KickReply struct {
	Outcome models.KickOutcome
}

// KickPlayer routes a manual kick through the sanction ledger.
func (a *AdminService) KickPlayer(args *KickArgs, reply *KickReply) error {
	ctx := context.Background()
	player, err := a.store.GetPlayerByUsername(ctx, args.Username)
	if err != nil {
		return err
	}
	code := ""
	if player.SessionID != 0 {
		if sess, err := a.store.GetSession(ctx, player.SessionID); err == nil {
			code = sess.Code
		}
	}
	reason := args.Reason
	if reason == "" {
		reason = "removed by an administrator"
	}
	outcome := a.ledger.ProcessKick(ctx, player.Username, code, reason, models.KickSourceAdmin)
	if outcome == nil {
		return ErrKickFailed
	}
	reply.Outcome = *outcome
	return nil
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/pablobitw/goosegame/config"
	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/monitor"
	"github.com/pablobitw/goosegame/persistence"
	"github.com/pablobitw/goosegame/server"
)

func openStore(cfg config.DatabaseConfig) (persistence.Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Log.Warn("Using the in-memory store; nothing survives a restart.")
		return persistence.NewMemoryStore(), nil
	case "sqlite":
		return persistence.NewGormSQLite(cfg.Sqlite.Path)
	default:
		return persistence.NewGormPostgreSQL(
			cfg.Postgres.Host,
			cfg.Postgres.Port,
			cfg.Postgres.User,
			cfg.Postgres.Password,
			cfg.Postgres.DBName,
		)
	}
}

func openRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func main() {
	configDir := flag.String("config", ".", "directory holding config.yaml")
	flag.Parse()

	// Initialize logger
	logger.Init("info")
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Log.Level)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize Database
	store, err := openStore(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	logger.Log.Infof("Database connection successful (%s).", cfg.Database.Driver)

	var rdb *redis.Client
	if cfg.Moderation.SpamBackend == "redis" {
		rdb, err = openRedis(cfg.Redis)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
	}

	mon := monitor.NewMonitor("goose")
	mon.StartServer(cfg.Server.MetricsAddress)

	// Initialize Game Server
	gameServer, err := server.NewGameServer(cfg, store, rdb, mon)
	if err != nil {
		logger.Log.Fatalf("Failed to create game server: %v", err)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("Shutting down game server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		gameServer.Shutdown(ctx)
	}()

	// Start Server
	logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}

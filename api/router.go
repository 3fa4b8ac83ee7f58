package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with CORS for the given origins.
func NewRouter(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if len(allowedOrigins) == 0 {
		return r
	}
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}
	r.Use(cors.New(cfg))
	return r
}

// SetupRoutes 注册所有API路由
func SetupRoutes(router *gin.Engine, h *Handler) {
	api := router.Group("/api")
	{
		api.GET("/variants", h.Variants)
		api.POST("/players", h.Register)
		api.POST("/lobbies", h.CreateLobby)
		api.POST("/votes", h.InitiateVote)

		lobby := api.Group("/lobbies/:code")
		{
			lobby.GET("/state", h.State)
			lobby.POST("/join", h.Join)
			lobby.POST("/start", h.Start)
			lobby.POST("/roll", h.Roll)
			lobby.POST("/ping", h.Ping)
			lobby.POST("/leave", h.Leave)
			lobby.POST("/chat", h.Chat)

			lobby.GET("/vote", h.VoteStatus)
			lobby.POST("/ballots", h.CastVote)
		}
	}
}

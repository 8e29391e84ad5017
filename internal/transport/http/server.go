package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/quasarchat/quasar-server/internal/auth"
	"github.com/quasarchat/quasar-server/internal/config"
	"github.com/quasarchat/quasar-server/internal/core"
	"github.com/quasarchat/quasar-server/internal/presence"
	"github.com/quasarchat/quasar-server/internal/store"
	"github.com/quasarchat/quasar-server/internal/voice"
)

// NewServer builds the HTTP server: REST endpoints plus the four WebSocket
// entry points.
func NewServer(
	registry *core.Registry,
	voiceReg *voice.Registry,
	coordinator *presence.Coordinator,
	authService *auth.Service,
	directory store.Directory,
	cfg *config.Config,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, voiceReg, directory, logger)
	api := router.Group("/api")
	api.POST("/login", apiHandlers.Login)

	protected := api.Group("")
	protected.Use(AuthMiddleware(authService, logger))
	protected.GET("/channels/:id/voice/members", apiHandlers.VoiceMembers)
	protected.GET("/servers/:id/voice-presence", apiHandlers.ServerVoicePresence)

	wsHandlers := NewWSHandlers(registry, voiceReg, coordinator, authService, directory, cfg.HeartbeatTimeout, logger)
	ws := router.Group("/ws")
	ws.GET("/channels/:id", wsHandlers.ChannelWS)
	ws.GET("/servers/:id", wsHandlers.ServerWS)
	ws.GET("/me", wsHandlers.PersonalWS)
	ws.GET("/voice/:id", wsHandlers.VoiceWS)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// Package http serves the local operator API on top of the orchestrator.
package http

import (
	"time"

	"github.com/dkeye/vocs/internal/app/orch"
	"github.com/dkeye/vocs/internal/config"
	"github.com/dkeye/vocs/internal/protocol/vocs"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "VocsSessions"
	userKey        = "user"
	clientTokenKey = "client_token"
)

// API is what the handlers drive.
type API struct {
	Orch    *orch.Orchestrator
	Vocs    *vocs.Client
	Limiter *LoginLimiter
}

func NewAPI(o *orch.Orchestrator, v *vocs.Client) *API {
	return &API{Orch: o, Vocs: v, Limiter: NewLoginLimiter(5, time.Minute)}
}

// ClientTokenMiddleware tags every browser with a long lived token so log
// lines from one operator console can be told apart.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// RequireUser rejects requests without a logged in operator.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := sessions.Default(c).Get(userKey).(string)
		if user == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "login required"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, a *API) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.HTTP.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, MaxAge: int(cfg.SessionTTL.Seconds())})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Str("addr", cfg.HTTP.Addr).Msg("router setup")

	api := r.Group("/api")
	api.GET("/servers", a.handleServers)
	api.POST("/login", a.handleLogin)

	authed := api.Group("", RequireUser())
	authed.GET("/roles", a.handleRoles)
	authed.POST("/roles/authorize", a.handleAuthorize)
	authed.GET("/loops", a.handleLoops)
	authed.POST("/logout", a.handleLogout)

	return r
}

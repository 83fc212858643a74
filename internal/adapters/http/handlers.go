package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/vocs/internal/app/orch"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type AuthorizeRequest struct {
	Role string `json:"role"`
}

type ServerStatus struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Lead  bool   `json:"lead"`
	Prime bool   `json:"prime"`
	State string `json:"state"`
	Tasks int    `json:"tasks"`
	Error string `json:"error,omitempty"`
}

func (a *API) handleServers(c *gin.Context) {
	set := a.Orch.Set
	out := make([]ServerStatus, 0, len(set.List()))
	for _, conn := range set.List() {
		st := ServerStatus{
			Name:  conn.Name(),
			URL:   conn.URL(),
			Lead:  set.IsLead(conn),
			Prime: conn == set.Prime(),
			State: conn.State().String(),
			Tasks: conn.TasksRunning(),
		}
		if se := conn.ServerError(); se != nil {
			st.Error = se.Error()
		}
		out = append(out, st)
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.User == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid credentials"})
		return
	}
	if !a.Limiter.Allow(req.User) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
		return
	}

	if err := a.Orch.Login(c.Request.Context(), req.User, req.Password); err != nil {
		log.Warn().Str("module", "adapters.http").
			Str("user", req.User).
			Str("client", c.GetString(clientTokenKey)).
			Err(err).
			Msg("login failed")
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}

	sess := sessions.Default(c)
	sess.Set(userKey, req.User)
	if err := sess.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	u, _ := a.Orch.Set.CurrentUser()
	c.JSON(http.StatusOK, u)
}

func (a *API) handleRoles(c *gin.Context) {
	if err := a.Orch.CollectRoles(c.Request.Context()); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	u, _ := a.Orch.Set.CurrentUser()
	roles := u.Roles
	if roles == nil {
		roles = []domain.Role{}
	}
	c.JSON(http.StatusOK, roles)
}

func (a *API) handleAuthorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Role == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing role"})
		return
	}
	if err := a.Orch.AuthorizeRole(c.Request.Context(), domain.RoleID(req.Role)); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	u, _ := a.Orch.Set.CurrentUser()
	c.JSON(http.StatusOK, gin.H{"role": u.Role})
}

func (a *API) handleLoops(c *gin.Context) {
	loops, err := a.Vocs.CollectLoops(c.Request.Context(), nil)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	if loops == nil {
		loops = []domain.Loop{}
	}
	c.JSON(http.StatusOK, loops)
}

func (a *API) handleLogout(c *gin.Context) {
	_ = a.Orch.Logout(c.Request.Context())
	sess := sessions.Default(c)
	sess.Clear()
	sess.Options(sessions.Options{Path: "/", MaxAge: -1})
	_ = sess.Save()
	c.Status(http.StatusNoContent)
}

func statusOf(err error) int {
	switch {
	case core.IsAuthError(err), errors.Is(err, orch.ErrLoginFailed):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrNotConnected), errors.Is(err, core.ErrDisconnected):
		return http.StatusServiceUnavailable
	case core.ServerCode(err) != 0:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

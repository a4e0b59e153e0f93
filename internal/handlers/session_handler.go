package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/justsurfingit/applicant-timeline/internal/dtos"
	"github.com/justsurfingit/applicant-timeline/internal/portal"
	"github.com/justsurfingit/applicant-timeline/internal/session"
)

type SessionManager interface {
	Login(u session.User) error
	Logout() error
	Current() (session.User, bool)
}

type SessionHandler struct {
	Sessions SessionManager
}

func NewSessionHandler(sessions SessionManager) *SessionHandler {
	return &SessionHandler{Sessions: sessions}
}

// Login is the POST /session endpoint
func (h *SessionHandler) Login(c *gin.Context) {
	var req dtos.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}
	user := session.User{ID: req.ID, Name: req.Name, Email: req.Email, Role: portal.Role(req.Role), Token: req.Token}
	if err := h.Sessions.Login(user); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Login failed: " + err.Error()})
		return
	}
	current, _ := h.Sessions.Current()
	c.JSON(http.StatusOK, sessionResponse(current))
}

// Current is the GET /session endpoint
func (h *SessionHandler) Current(c *gin.Context) {
	user, ok := h.Sessions.Current()
	if !ok {
		respondError(c, session.ErrNoSession)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(user))
}

// Logout is the DELETE /session endpoint
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.Sessions.Logout(); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func sessionResponse(u session.User) dtos.SessionResponse {
	return dtos.SessionResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(u.Role)}
}

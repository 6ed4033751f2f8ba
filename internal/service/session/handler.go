package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"persistenceai/pkg/lock"
	"persistenceai/pkg/logger"
	"persistenceai/pkg/pathkey"
	"persistenceai/pkg/registry"
	"persistenceai/pkg/validator"
)

type Handler struct {
	controller *Controller
	logger     logger.Logger
}

func NewHandler(controller *Controller, l logger.Logger) *Handler {
	if l == nil {
		l = logger.Nop{}
	}
	return &Handler{
		controller: controller,
		logger:     l,
	}
}

// CreateSessionHandler creates a session for a directory or attaches to the
// live one.
// @Summary Create session
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body CreateSessionRequest true "Directory to bind"
// @Success 201 {object} CreateSessionResponse
// @Success 200 {object} CreateSessionResponse "Attached to the live session"
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /sessions [post]
func (h *Handler) CreateSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "directory is required"})
			return
		}

		res, err := h.controller.CreateSession(c.Request.Context(), req.Directory)
		if err != nil {
			h.fail(c, "create session", err)
			return
		}

		status := http.StatusCreated
		if res.Attached {
			status = http.StatusOK
		}
		c.JSON(status, CreateSessionResponse{
			SessionID: res.Session.ID,
			Directory: res.Session.Key.String(),
			Attached:  res.Attached,
		})
	}
}

// GetSessionHandler returns session metadata.
// @Summary Get session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} SessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [get]
func (h *Handler) GetSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.sessionID(c, "get session")
		if !ok {
			return
		}
		s, err := h.controller.Get(c.Request.Context(), id)
		if err != nil {
			h.fail(c, "get session", err)
			return
		}
		c.JSON(http.StatusOK, toSessionResponse(s))
	}
}

// ListSessionsHandler returns every session, tombstones included.
// @Summary List sessions
// @Tags sessions
// @Produce json
// @Success 200 {object} ListSessionsResponse
// @Router /sessions [get]
func (h *Handler) ListSessionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := h.controller.List(c.Request.Context())
		resp := ListSessionsResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
		for _, s := range sessions {
			resp.Sessions = append(resp.Sessions, toSessionResponse(s))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// CloseSessionHandler closes a session. Closing twice succeeds.
// @Summary Close session
// @Tags sessions
// @Param id path string true "Session ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/close [post]
func (h *Handler) CloseSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.sessionID(c, "close session")
		if !ok {
			return
		}
		if _, err := h.controller.CloseSession(c.Request.Context(), id); err != nil {
			h.fail(c, "close session", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// TouchSessionHandler renews the session lock and last access time.
// @Summary Touch session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} SessionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Lock token expired"
// @Failure 410 {object} ErrorResponse "Session closed"
// @Router /sessions/{id}/touch [post]
func (h *Handler) TouchSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.sessionID(c, "touch session")
		if !ok {
			return
		}
		s, err := h.controller.Touch(c.Request.Context(), id)
		if err != nil {
			h.fail(c, "touch session", err)
			return
		}
		c.JSON(http.StatusOK, toSessionResponse(s))
	}
}

// ResumeSessionHandler reactivates an Idle session.
// @Summary Resume session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} SessionResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /sessions/{id}/resume [post]
func (h *Handler) ResumeSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.sessionID(c, "resume session")
		if !ok {
			return
		}
		s, err := h.controller.Resume(c.Request.Context(), id)
		if err != nil {
			h.fail(c, "resume session", err)
			return
		}
		c.JSON(http.StatusOK, toSessionResponse(s))
	}
}

// sessionID answers 404 for ids that cannot name any session.
func (h *Handler) sessionID(c *gin.Context, op string) (string, bool) {
	id := c.Param("id")
	if err := validator.ValidateSessionID(id); err != nil {
		h.fail(c, op, fmt.Errorf("%w: %w", registry.ErrNotFound, err))
		return "", false
	}
	return id, true
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), op, logger.Err(err))
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pathkey.ErrInvalidPath), errors.Is(err, registry.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicateSession),
		errors.Is(err, lock.ErrLockHeld),
		errors.Is(err, lock.ErrTokenExpired):
		return http.StatusConflict
	case errors.Is(err, registry.ErrStaleState):
		return http.StatusGone
	case errors.Is(err, registry.ErrDegraded), errors.Is(err, registry.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package session

import (
	"time"

	"persistenceai/pkg/registry"
)

type CreateSessionRequest struct {
	Directory string `json:"directory" binding:"required"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Directory string `json:"directory"`
	Attached  bool   `json:"attached,omitempty"`
}

type SessionResponse struct {
	ID             string     `json:"id"`
	Directory      string     `json:"directory"`
	State          string     `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CloseReason    string     `json:"close_reason,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toSessionResponse(s registry.Session) SessionResponse {
	resp := SessionResponse{
		ID:             s.ID,
		Directory:      s.Key.String(),
		State:          string(s.State),
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
		CloseReason:    string(s.CloseReason),
	}
	if !s.ClosedAt.IsZero() {
		closedAt := s.ClosedAt
		resp.ClosedAt = &closedAt
	}
	return resp
}

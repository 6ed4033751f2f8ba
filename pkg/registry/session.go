package registry

import (
	"errors"
	"fmt"
	"time"

	"persistenceai/pkg/pathkey"
)

// State is the lifecycle state of a session.
type State string

const (
	StateActive State = "active"
	StateIdle   State = "idle"
	StateClosed State = "closed"
)

func (s State) Valid() bool {
	switch s {
	case StateActive, StateIdle, StateClosed:
		return true
	}
	return false
}

// CloseReason records why a session became a tombstone.
type CloseReason string

const (
	ReasonClosed     CloseReason = "closed"
	ReasonEvicted    CloseReason = "evicted"
	ReasonSuperseded CloseReason = "superseded"
)

// ErrInvalidSession is returned for records that break structural invariants.
var ErrInvalidSession = errors.New("invalid session")

// Session is the registry record for one directory-bound session.
type Session struct {
	ID             string      `json:"id"`
	Key            pathkey.Key `json:"key"`
	State          State       `json:"state"`
	CreatedAt      time.Time   `json:"created_at"`
	LastAccessedAt time.Time   `json:"last_accessed_at"`
	OwnerToken     string      `json:"owner_token,omitempty"`
	ClosedAt       time.Time   `json:"closed_at,omitzero"`
	CloseReason    CloseReason `json:"close_reason,omitempty"`
}

// NewSession builds an Active session owned by ownerToken.
func NewSession(id string, key pathkey.Key, ownerToken string, now time.Time) (Session, error) {
	s := Session{
		ID:             id,
		Key:            key,
		State:          StateActive,
		CreatedAt:      now,
		LastAccessedAt: now,
		OwnerToken:     ownerToken,
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Validate checks the structural invariants of a record.
func (s Session) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidSession)
	case s.Key == "":
		return fmt.Errorf("%w: %s: empty key", ErrInvalidSession, s.ID)
	case !s.State.Valid():
		return fmt.Errorf("%w: %s: unknown state %q", ErrInvalidSession, s.ID, s.State)
	case s.CreatedAt.IsZero():
		return fmt.Errorf("%w: %s: missing created_at", ErrInvalidSession, s.ID)
	case s.LastAccessedAt.Before(s.CreatedAt):
		return fmt.Errorf("%w: %s: last access before creation", ErrInvalidSession, s.ID)
	case s.State == StateClosed && s.OwnerToken != "":
		return fmt.Errorf("%w: %s: closed session holds a lock token", ErrInvalidSession, s.ID)
	}
	return nil
}

// Closed reports whether the session is a tombstone.
func (s Session) Closed() bool {
	return s.State == StateClosed
}

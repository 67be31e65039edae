// Package session defines the Session lifecycle state machine and the
// SessionStore capability the core consumes; persistence itself is an
// external collaborator (§1 Scope).
package session

import (
	"context"
	"time"

	"github.com/hubenschmidt/coachserver/internal/errs"
	"github.com/hubenschmidt/coachserver/internal/model"
)

// allowedTransitions is the §3 Lifecycle state machine:
// Active → Paused ↔ Active → {Completed, Cancelled, Expired, Error}.
// Transitions beyond terminal states are rejected.
var allowedTransitions = map[model.SessionState]map[model.SessionState]bool{
	model.StateActive: {
		model.StatePaused:    true,
		model.StateCompleted: true,
		model.StateCancelled: true,
		model.StateExpired:   true,
		model.StateError:     true,
	},
	model.StatePaused: {
		model.StateActive:    true,
		model.StateCompleted: true,
		model.StateCancelled: true,
		model.StateExpired:   true,
		model.StateError:     true,
	},
}

// Transition validates and applies a state change, returning
// InvalidSessionState if the transition is not permitted.
func Transition(s *model.Session, to model.SessionState) error {
	allowed, ok := allowedTransitions[s.State]
	if !ok || !allowed[to] {
		return errs.New(errs.InvalidSessionState, "transition not permitted", map[string]any{
			"from": string(s.State), "to": string(to),
		})
	}

	now := time.Now().UTC()
	switch to {
	case model.StateActive:
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	case model.StateCompleted, model.StateCancelled, model.StateExpired, model.StateError:
		s.EndedAt = &now
	}
	s.State = to
	return nil
}

// IsExpired reports whether s has passed its created_at+max_duration
// deadline (§3 Lifecycle).
func IsExpired(s *model.Session, now time.Time) bool {
	return now.After(s.ExpiresAt())
}

// IncrementProcessingErrors bumps the monotonically non-decreasing
// processing_errors counter (§3 Invariants).
func IncrementProcessingErrors(s *model.Session) {
	s.ProcessingErrors++
}

// FeedbackQuery filters the append-only FeedbackItem list (§6 REST
// surface GET /sessions/{id}/feedback).
type FeedbackQuery struct {
	Type   model.FeedbackType
	Limit  int
	Offset int
}

// ListQuery filters the session list (§6 REST surface GET /sessions).
type ListQuery struct {
	UserID string
	Status model.SessionState
	Limit  int
	Offset int
}

// Store is the SessionStore capability the core consumes (§1 Scope):
// create/get/update/delete/list/feedback-append. Concrete adapters
// (Postgres, SQLite) live outside this package.
type Store interface {
	Create(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, s *model.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q ListQuery) ([]*model.Session, error)
	AppendFeedback(ctx context.Context, sessionID string, item model.FeedbackItem) error
	ListFeedback(ctx context.Context, sessionID string, q FeedbackQuery) ([]model.FeedbackItem, error)
}

package session

import (
	"testing"
	"time"

	"github.com/hubenschmidt/coachserver/internal/errs"
	"github.com/hubenschmidt/coachserver/internal/model"
)

func newSession(state model.SessionState) *model.Session {
	return &model.Session{
		ID:        "s1",
		State:     state,
		CreatedAt: time.Now().UTC(),
		Config:    model.DefaultSessionConfig("en"),
	}
}

func TestTransition_ActiveToPausedAndBack(t *testing.T) {
	s := newSession(model.StateActive)
	if err := Transition(s, model.StatePaused); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State != model.StatePaused {
		t.Fatalf("expected paused, got %v", s.State)
	}
	if err := Transition(s, model.StateActive); err != nil {
		t.Fatalf("unexpected error resuming: %v", err)
	}
}

func TestTransition_TerminalStateRejectsFurtherTransitions(t *testing.T) {
	s := newSession(model.StateActive)
	if err := Transition(s, model.StateCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.EndedAt == nil {
		t.Fatal("expected ended_at to be set on terminal transition")
	}

	err := Transition(s, model.StateActive)
	if err == nil {
		t.Fatal("expected error transitioning out of a terminal state")
	}
	ce, ok := err.(*errs.CoachError)
	if !ok || ce.Kind != errs.InvalidSessionState {
		t.Fatalf("expected InvalidSessionState, got %v", err)
	}
}

func TestIsExpired(t *testing.T) {
	s := newSession(model.StateActive)
	s.Config.MaxDurationSeconds = 1
	s.CreatedAt = time.Now().UTC().Add(-2 * time.Second)

	if !IsExpired(s, time.Now().UTC()) {
		t.Fatal("expected session to be expired")
	}
}

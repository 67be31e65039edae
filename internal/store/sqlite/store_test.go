package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hubenschmidt/coachserver/internal/model"
	"github.com/hubenschmidt/coachserver/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{
		ID:        "s1",
		UserID:    "u1",
		State:     model.StateActive,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Config:    model.DefaultSessionConfig("en"),
	}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "u1" || got.Config.Language != "en" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestGet_MissingReturnsSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for missing session")
	}
}

func TestUpdateAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{
		ID:        "s2",
		UserID:    "u2",
		State:     model.StateActive,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Config:    model.DefaultSessionConfig("en"),
	}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sess.State = model.StateCompleted
	if err := s.Update(ctx, sess); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	list, err := s.List(ctx, session.ListQuery{UserID: "u2"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].State != model.StateCompleted {
		t.Fatalf("expected one completed session, got %+v", list)
	}
}

func TestAppendAndListFeedback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{ID: "s3", CreatedAt: time.Now().UTC(), Config: model.DefaultSessionConfig("en"), State: model.StateActive}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	item := model.FeedbackItem{
		ID:           "f1",
		Type:         "realtime",
		Severity:     "warning",
		ShortMessage: "slow down",
		Source:       model.SourceRule,
		ProducedAt:   time.Now().UTC(),
	}
	if err := s.AppendFeedback(ctx, "s3", item); err != nil {
		t.Fatalf("AppendFeedback failed: %v", err)
	}

	items, err := s.ListFeedback(ctx, "s3", session.FeedbackQuery{})
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(items) != 1 || items[0].ShortMessage != "slow down" {
		t.Fatalf("expected one feedback item, got %+v", items)
	}
}

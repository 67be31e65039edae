package upstream

import (
	"context"
	"errors"
	"testing"

	"github.com/hubenschmidt/coachserver/internal/errs"
	"github.com/hubenschmidt/coachserver/internal/model"
)

type stubCoachClient struct {
	calls   int
	results []result
}

type result struct {
	cf  *model.CoachingFeedback
	err error
}

func (s *stubCoachClient) GenerateCoaching(ctx context.Context, req CoachingRequest) (*model.CoachingFeedback, error) {
	r := s.results[s.calls]
	s.calls++
	return r.cf, r.err
}

func TestParseCoachingFeedback_RejectsMissingField(t *testing.T) {
	_, err := parseCoachingFeedback(`{"feedback_summary":"ok"}`)
	if err == nil {
		t.Fatal("expected error for missing required fields")
	}
	var ce *errs.CoachError
	if !errors.As(err, &ce) || ce.Kind != errs.LLMResponseInvalid {
		t.Fatalf("expected LLMResponseInvalid, got %v", err)
	}
}

func TestParseCoachingFeedback_RejectsInvalidJSON(t *testing.T) {
	_, err := parseCoachingFeedback(`not json`)
	if err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestParseCoachingFeedback_Valid(t *testing.T) {
	body := `{"feedback_summary":"good job","strengths":["clear"],"improvements":[],"encouragement":"keep going","next_focus":"pace"}`
	cf, err := parseCoachingFeedback(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cf.Source != model.SourceLLM {
		t.Fatalf("expected source llm, got %v", cf.Source)
	}
}

func TestRetryingCoachClient_RetriesOnTimeoutThenSucceeds(t *testing.T) {
	stub := &stubCoachClient{results: []result{
		{err: errs.New(errs.LLMTimeout, "timed out", nil)},
		{cf: &model.CoachingFeedback{FeedbackSummary: "ok"}},
	}}
	r := NewRetryingCoachClient(stub)
	r.baseDelay = 0
	r.capDelay = 0

	cf, err := r.GenerateCoaching(context.Background(), CoachingRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cf.FeedbackSummary != "ok" {
		t.Fatalf("unexpected result: %+v", cf)
	}
	if stub.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", stub.calls)
	}
}

func TestRetryingCoachClient_NoRetryOnQuotaExceeded(t *testing.T) {
	stub := &stubCoachClient{results: []result{
		{err: errs.New(errs.LLMQuotaExceeded, "quota exceeded", nil)},
	}}
	r := NewRetryingCoachClient(stub)
	r.baseDelay = 0
	r.capDelay = 0

	_, err := r.GenerateCoaching(context.Background(), CoachingRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if stub.calls != 1 {
		t.Fatalf("expected exactly 1 call (no retry), got %d", stub.calls)
	}
}

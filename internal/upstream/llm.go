package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/coachserver/internal/errs"
	"github.com/hubenschmidt/coachserver/internal/langconfig"
	"github.com/hubenschmidt/coachserver/internal/model"
)

// CoachClient produces a structured CoachingFeedback object from a
// session's metrics and language style (§4.3(b)).
type CoachClient interface {
	GenerateCoaching(ctx context.Context, req CoachingRequest) (*model.CoachingFeedback, error)
}

// CoachingRequest is the input to an LLM coaching call.
type CoachingRequest struct {
	Language     langconfig.Language
	Style        langconfig.CoachingStyle
	Metrics      *model.VoiceMetrics
	Performance  *model.PerformanceMetrics
	PriorThemes  []string
	Model        string
}

// CoachRouter dispatches CoachClient calls to a named engine backend,
// defaulting to its configured fallback engine so it can itself be
// handed anywhere a plain CoachClient is expected. FeedbackGenerator
// names its configured engine through GenerateCoachingFor when it holds
// a CoachRouter; GenerateCoaching uses the default engine.
type CoachRouter struct {
	*Router[CoachClient]
	defaultEngine string
}

// NewCoachRouter creates a CoachRouter from registered engine backends.
func NewCoachRouter(backends map[string]CoachClient, fallback string) *CoachRouter {
	return &CoachRouter{Router: NewRouter(backends, fallback), defaultEngine: fallback}
}

// GenerateCoaching implements CoachClient by routing to the router's
// default engine.
func (r *CoachRouter) GenerateCoaching(ctx context.Context, req CoachingRequest) (*model.CoachingFeedback, error) {
	return r.GenerateCoachingFor(ctx, r.defaultEngine, req)
}

// GenerateCoachingFor routes to the named engine explicitly and
// generates coaching feedback for it.
func (r *CoachRouter) GenerateCoachingFor(ctx context.Context, engine string, req CoachingRequest) (*model.CoachingFeedback, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "no coaching backend for engine "+engine, err)
	}
	return backend.GenerateCoaching(ctx, req)
}

// OllamaCoachClient requests a structured JSON coaching object from an
// Ollama-compatible chat endpoint, adapting the teacher's Ollama chat
// client (internal/pipeline/llm.go) to a single non-streamed JSON reply
// instead of a token stream.
type OllamaCoachClient struct {
	url    string
	model  string
	client *http.Client
}

// NewOllamaCoachClient creates an Ollama-backed CoachClient.
func NewOllamaCoachClient(url, model string, poolSize int) *OllamaCoachClient {
	return &OllamaCoachClient{
		url:    url,
		model:  model,
		client: NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

func (c *OllamaCoachClient) GenerateCoaching(ctx context.Context, req CoachingRequest) (*model.CoachingFeedback, error) {
	useModel := c.model
	if req.Model != "" {
		useModel = req.Model
	}

	body := ollamaCoachRequest{
		Model:  useModel,
		Stream: false,
		Format: "json",
		Messages: []ollamaCoachMessage{
			{Role: "system", Content: coachingSystemPrompt(req.Style)},
			{Role: "user", Content: coachingUserPrompt(req)},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Wrap(errs.LLMResponseInvalid, "marshal coaching request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.PipelineConfigError, "build coaching request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.LLMTimeout, "coaching request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.FromUpstreamStatus(resp.StatusCode, "llm")
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errs.Wrap(errs.LLMResponseInvalid, "read coaching response", err)
	}

	var chunk ollamaCoachResponse
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, errs.Wrap(errs.LLMResponseInvalid, "parse coaching response envelope", err)
	}

	return parseCoachingFeedback(chunk.Message.Content)
}

// parseCoachingFeedback validates the LLM's JSON content against the
// §4.3(b) shape using gjson before unmarshalling, so a malformed or
// partial reply degrades to LLMResponseInvalid rather than a zero-value
// CoachingFeedback silently reaching the client.
func parseCoachingFeedback(content string) (*model.CoachingFeedback, error) {
	if !gjson.Valid(content) {
		return nil, errs.New(errs.LLMResponseInvalid, "coaching reply is not valid JSON", nil)
	}
	parsed := gjson.Parse(content)
	required := []string{"feedback_summary", "strengths", "improvements", "encouragement", "next_focus"}
	for _, field := range required {
		if !parsed.Get(field).Exists() {
			return nil, errs.New(errs.LLMResponseInvalid, "coaching reply missing field "+field, map[string]any{"field": field})
		}
	}

	var cf model.CoachingFeedback
	if err := json.Unmarshal([]byte(content), &cf); err != nil {
		return nil, errs.Wrap(errs.LLMResponseInvalid, "unmarshal coaching reply", err)
	}
	cf.Source = model.SourceLLM
	return &cf, nil
}

func coachingSystemPrompt(style langconfig.CoachingStyle) string {
	return fmt.Sprintf(
		"You are a presentation coach. Respond only with a JSON object with keys "+
			"feedback_summary, strengths (array of strings), improvements (array of "+
			"{area, current_issue, actionable_tip, why_important}), encouragement, next_focus. "+
			"Tone: %s, culture: %s.", style.Descriptor, style.Culture,
	)
}

func coachingUserPrompt(req CoachingRequest) string {
	m := req.Metrics
	return fmt.Sprintf(
		"pace=%.1fwpm volume_consistency=%.2f clarity=%.2f voice_activity_ratio=%.2f prior_themes=%v",
		m.PaceWPM, m.VolumeConsistency, m.ClarityScore, m.VoiceActivityRatio, req.PriorThemes,
	)
}

type ollamaCoachRequest struct {
	Model    string               `json:"model"`
	Stream   bool                 `json:"stream"`
	Format   string               `json:"format"`
	Messages []ollamaCoachMessage `json:"messages"`
}

type ollamaCoachMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaCoachResponse struct {
	Message ollamaCoachMessage `json:"message"`
}

// retryableLLMKind reports whether an LLM error kind is retried: the
// errs.Retryable kinds plus LLMResponseInvalid (a malformed reply gets
// another attempt); LLMQuotaExceeded and ValidationError never are.
func retryableLLMKind(k errs.Kind) bool {
	switch k {
	case errs.LLMQuotaExceeded, errs.ValidationError:
		return false
	default:
		return errs.Retryable(k) || k == errs.LLMResponseInvalid
	}
}

// RetryingCoachClient wraps a CoachClient with the §4.3(b)/§7 backoff
// policy: at most 3 attempts, exponential backoff starting at 4s and
// capped at 10s, skipping retry entirely for non-retryable kinds.
type RetryingCoachClient struct {
	inner      CoachClient
	maxAttempts int
	baseDelay   time.Duration
	capDelay    time.Duration
}

// NewRetryingCoachClient wraps inner with the standard retry policy.
func NewRetryingCoachClient(inner CoachClient) *RetryingCoachClient {
	return &RetryingCoachClient{
		inner:       inner,
		maxAttempts: 3,
		baseDelay:   4 * time.Second,
		capDelay:    10 * time.Second,
	}
}

func (r *RetryingCoachClient) GenerateCoaching(ctx context.Context, req CoachingRequest) (*model.CoachingFeedback, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		cf, err := r.inner.GenerateCoaching(ctx, req)
		if err == nil {
			return cf, nil
		}
		lastErr = err

		var ce *errs.CoachError
		if !asCoachError(err, &ce) || !retryableLLMKind(ce.Kind) {
			return nil, err
		}
		if attempt == r.maxAttempts-1 {
			break
		}

		delay := r.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if delay > r.capDelay {
			delay = r.capDelay
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func asCoachError(err error, target **errs.CoachError) bool {
	ce, ok := err.(*errs.CoachError)
	if ok {
		*target = ce
	}
	return ok
}

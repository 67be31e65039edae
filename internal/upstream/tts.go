package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/coachserver/internal/errs"
)

// TTSRequest is the input contract of §4.7(b).
type TTSRequest struct {
	Text         string
	SSML         string
	VoiceID      string
	Model        string
	OutputFormat string
	SampleRate   int
}

// TTSResult is the output contract of §4.7(b).
type TTSResult struct {
	AudioBytes []byte
	SampleRate int
	Visemes    []string
	VoiceID    string
	Model      string
	LatencyMs  float64
}

// TTSClient synthesizes speech from text via an HTTP TTS service,
// adapting the teacher's Piper HTTP client (internal/pipeline/tts.go).
type TTSClient struct {
	baseURL       string
	defaultVoice  string
	voiceAliases  map[string]string
	client        *http.Client
}

// NewTTSClient creates a TTS client. defaultVoice is the configured
// default; aliases maps known textual aliases to concrete voice IDs.
func NewTTSClient(baseURL, defaultVoice string, aliases map[string]string, poolSize int) *TTSClient {
	if defaultVoice == "" {
		defaultVoice = "en_US-lessac-low" // hard-coded known-good default (§4.7(b))
	}
	return &TTSClient{
		baseURL:      baseURL,
		defaultVoice: defaultVoice,
		voiceAliases: aliases,
		client:       NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

// resolveVoice implements the §4.7(b) precedence: explicit request →
// configured default → hard-coded known-good default. Unknown aliases
// fall back to the default rather than forwarding a value that would
// induce an upstream 404.
func (c *TTSClient) resolveVoice(requested string) (voice string, warning string) {
	if requested == "" {
		return c.defaultVoice, ""
	}
	if id, ok := c.voiceAliases[requested]; ok {
		return id, ""
	}
	// Concrete voice IDs have the form lang_REGION-name-quality; a value
	// without a hyphen is treated as an alias.
	looksLikeID := strings.Contains(requested, "-")
	if looksLikeID {
		return requested, ""
	}
	return c.defaultVoice, fmt.Sprintf("unknown voice alias %q, using default", requested)
}

// Synthesize performs the synchronous TTS call of §4.7(b).
func (c *TTSClient) Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error) {
	start := time.Now()
	voice, _ := c.resolveVoice(req.VoiceID)

	payload, err := json.Marshal(ttsWireRequest{
		Text:         req.Text,
		SSML:         req.SSML,
		VoiceID:      voice,
		Model:        req.Model,
		OutputFormat: req.OutputFormat,
		SampleRate:   req.SampleRate,
	})
	if err != nil {
		return nil, errs.Wrap(errs.PipelineConfigError, "marshal tts request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.PipelineConfigError, "build tts request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.ServiceUnavailable, "tts request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errs.FromUpstreamStatus(resp.StatusCode, "tts")
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.ServiceUnavailable, "read tts response", err)
	}

	return &TTSResult{
		AudioBytes: audio,
		SampleRate: req.SampleRate,
		VoiceID:    voice,
		Model:      req.Model,
		LatencyMs:  float64(time.Since(start).Milliseconds()),
	}, nil
}

// StreamSynthesize implements the §4.7(c) chunked passthrough proxy:
// bytes are copied verbatim to w as they arrive. If the upstream
// responds with status >= 400, a single JSON error frame is written
// instead (distinguishable by its leading '{') and no audio bytes
// follow. It returns the count of bytes forwarded, for metrics.
func (c *TTSClient) StreamSynthesize(ctx context.Context, req TTSRequest, w io.Writer) (int64, error) {
	voice, _ := c.resolveVoice(req.VoiceID)

	payload, err := json.Marshal(ttsWireRequest{
		Text: req.Text, SSML: req.SSML, VoiceID: voice, Model: req.Model,
		OutputFormat: req.OutputFormat, SampleRate: req.SampleRate,
	})
	if err != nil {
		return 0, errs.Wrap(errs.PipelineConfigError, "marshal tts-stream request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize-stream", bytes.NewReader(payload))
	if err != nil {
		return 0, errs.Wrap(errs.PipelineConfigError, "build tts-stream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		ce := errs.Wrap(errs.ServiceUnavailable, "tts-stream request failed", err)
		writeErrorFrame(w, ce)
		return 0, ce
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		ce := errs.FromUpstreamStatus(resp.StatusCode, "tts")
		writeErrorFrame(w, ce)
		return 0, ce
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, errs.Wrap(errs.ServiceUnavailable, "copy tts-stream body", err)
	}
	return n, nil
}

func writeErrorFrame(w io.Writer, ce *errs.CoachError) {
	env := ce.ToEnvelope()
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	_, _ = w.Write(b)
}

type ttsWireRequest struct {
	Text         string `json:"text,omitempty"`
	SSML         string `json:"ssml,omitempty"`
	VoiceID      string `json:"voice_id"`
	Model        string `json:"model,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty"`
}

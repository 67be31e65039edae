package main

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/coachserver/internal/analyzer"
	"github.com/hubenschmidt/coachserver/internal/audio"
	"github.com/hubenschmidt/coachserver/internal/connmgr"
	"github.com/hubenschmidt/coachserver/internal/errs"
	"github.com/hubenschmidt/coachserver/internal/feedback"
	"github.com/hubenschmidt/coachserver/internal/langconfig"
	"github.com/hubenschmidt/coachserver/internal/metricsagg"
	"github.com/hubenschmidt/coachserver/internal/model"
	"github.com/hubenschmidt/coachserver/internal/session"
	"github.com/hubenschmidt/coachserver/internal/upstream"
)

// maxUploadBytes is the §6 REST surface ceiling for a full-file upload.
const maxUploadBytes = 10 << 20

var allowedUploadExts = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".ogg": true,
}

type deps struct {
	store   session.Store
	connMgr *connmgr.Manager
	avatar  *upstream.AvatarBridge
	tts     *upstream.TTSClient
}

// registerRoutes wires all HTTP endpoints to the shared mux (§6
// External Interfaces).
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/health", d.handleHealthDetailed)

	mux.HandleFunc("POST /sessions", d.handleCreateSession)
	mux.HandleFunc("GET /sessions", d.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", d.handleGetSession)
	mux.HandleFunc("PUT /sessions/{id}", d.handleUpdateSession)
	mux.HandleFunc("DELETE /sessions/{id}", d.handleDeleteSession)
	mux.HandleFunc("GET /sessions/{id}/feedback", d.handleListFeedback)
	mux.HandleFunc("POST /sessions/{id}/feedback/generate", d.handleGenerateFeedback)
	mux.HandleFunc("GET /sessions/{id}/analytics", d.handleAnalytics)

	mux.HandleFunc("POST /sessions/{id}/audio/upload", d.handleAudioUpload)
	mux.HandleFunc("POST /sessions/{id}/audio/analyze", d.handleAudioAnalyze)

	mux.HandleFunc("POST /tts", d.handleTTS)
	mux.HandleFunc("POST /tts-stream", d.handleTTSStream)

	mux.HandleFunc("GET /session/{session_id}", d.handleSessionSocket)
	mux.HandleFunc("GET /avatar/{session_id}", d.handleAvatarSocket)
}

// withRequestID stamps every response with an X-Request-ID, echoing the
// caller's header when present (§6 Correlation).
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleHealthDetailed reports a per-service status map without any
// network round trip. Only the store is checked (it is "unavailable",
// with a 503, when no store is configured); "tts" and "coach" are
// always reported as "ok" and are not probed.
func (d deps) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{
		"store": "ok",
		"tts":   "ok",
		"coach": "ok",
	}
	status := http.StatusOK
	if d.store == nil {
		services["store"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":   statusLabel(status),
		"services": services,
	})
}

func statusLabel(code int) string {
	if code == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}

func (d deps) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      string `json:"user_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Language    string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.New(errs.ValidationError, "invalid request body", nil))
		return
	}
	if body.Language == "" {
		body.Language = "en"
	}

	sess := &model.Session{
		ID:          uuid.NewString(),
		UserID:      body.UserID,
		Title:       body.Title,
		Description: body.Description,
		State:       model.StateActive,
		CreatedAt:   time.Now().UTC(),
		Config:      model.DefaultSessionConfig(body.Language),
	}
	if err := d.store.Create(r.Context(), sess); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (d deps) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := d.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (d deps) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	existing, err := d.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.New(errs.ValidationError, "invalid request body", nil))
		return
	}
	if body.Title != nil {
		existing.Title = *body.Title
	}
	if body.Description != nil {
		existing.Description = *body.Description
	}
	if err := d.store.Update(r.Context(), existing); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (d deps) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := d.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d deps) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r, 20, 100)
	q := session.ListQuery{
		UserID: r.URL.Query().Get("user_id"),
		Status: model.SessionState(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	list, err := d.store.List(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (d deps) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r, 20, 100)
	items, err := d.store.ListFeedback(r.Context(), r.PathValue("id"), session.FeedbackQuery{
		Type:   model.FeedbackType(r.URL.Query().Get("type")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// paginationParams clamps limit to [1, max] and offset to [0, +inf),
// defaulting limit when absent or unparsable (§6 GET /sessions).
func paginationParams(r *http.Request, defaultLimit, max int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > max {
		limit = max
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// handleGenerateFeedback runs one on-demand coaching pass against a
// caller-supplied VoiceMetrics snapshot and appends the resulting
// FeedbackItems to the session's persisted feedback list (§6
// POST /sessions/{id}/feedback/generate).
func (d deps) handleGenerateFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	sess, err := d.store.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	var vm model.VoiceMetrics
	if err := json.NewDecoder(r.Body).Decode(&vm); err != nil {
		writeError(w, errs.New(errs.ValidationError, "invalid request body", nil))
		return
	}

	gen := feedback.New(langconfig.Language(sess.Config.Language), nil, "")
	items, coaching := gen.Generate(r.Context(), &vm, 1, 1, 0, false)
	for _, item := range items {
		if err := d.store.AppendFeedback(r.Context(), sessionID, item); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feedback_items": items,
		"coaching":       coaching,
	})
}

// handleAnalytics summarizes the session's persisted feedback into
// per-type counts and the session's wall-clock duration (§6
// GET /sessions/{id}/analytics). Trend/benchmark detail beyond what
// persisted FeedbackItems carry is out of scope absent a stored
// VoiceMetrics history.
func (d deps) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	sess, err := d.store.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := d.store.ListFeedback(r.Context(), sessionID, session.FeedbackQuery{Limit: 1000})
	if err != nil {
		writeError(w, err)
		return
	}

	byType := map[model.FeedbackType]int{}
	for _, item := range items {
		byType[item.Type]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":        sessionID,
		"duration_seconds":  sess.DurationSeconds(),
		"feedback_count":    len(items),
		"feedback_by_type":  byType,
		"processing_errors": sess.ProcessingErrors,
	})
}

// handleAudioUpload decodes a multipart-uploaded audio file and runs
// one synchronous analysis pass over it (§6 POST
// /sessions/{id}/audio/upload). Persisted blob storage is not wired:
// no blob store exists behind session.Store, so store_audio is
// accepted as a config flag but the raw bytes are not retained.
func (d deps) handleAudioUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	sess, err := d.store.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, errs.Wrap(errs.AudioTooLarge, "upload exceeds size limit", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errs.New(errs.ValidationError, "missing file field", nil))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUploadExts[ext] {
		writeError(w, errs.New(errs.AudioFormatError, "unsupported file extension", nil))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, errs.Wrap(errs.AudioFormatError, "failed to read upload", err))
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, errs.New(errs.AudioTooLarge, "upload exceeds size limit", nil))
		return
	}

	samples, sampleRate, warned, err := audio.DecodeContainer(data, ext)
	if err != nil {
		writeError(w, err)
		return
	}

	lang := langconfig.Language(sess.Config.Language)
	vm, err := analyzer.New(lang).Analyze(samples, sampleRate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"voice_metrics":  vm,
		"decode_warning": warned,
	})
}

// handleAudioAnalyze runs one synchronous VoiceAnalyzer pass over a
// JSON-carried chunk, without touching the live WebSocket pipeline
// (§6 POST /sessions/{id}/audio/analyze).
func (d deps) handleAudioAnalyze(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	sess, err := d.store.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		AudioArray  []float32 `json:"audio_array"`
		AudioBase64 string    `json:"audio_base64"`
		SampleRate  int       `json:"sample_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.New(errs.ValidationError, "invalid request body", nil))
		return
	}
	if body.SampleRate <= 0 {
		writeError(w, errs.New(errs.ValidationError, "sample_rate is required", nil))
		return
	}

	samples := body.AudioArray
	if len(samples) == 0 && body.AudioBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(body.AudioBase64)
		if err != nil {
			writeError(w, errs.New(errs.AudioFormatError, "invalid base64 audio", nil))
			return
		}
		decoded, _, err := audio.Decode(raw, audio.CodecPCM, body.SampleRate)
		if err != nil {
			writeError(w, err)
			return
		}
		samples = decoded
	}
	if len(samples) == 0 {
		writeError(w, errs.New(errs.ValidationError, "audio_array or audio_base64 is required", nil))
		return
	}

	lang := langconfig.Language(sess.Config.Language)
	vm, err := analyzer.New(lang).Analyze(samples, body.SampleRate)
	if err != nil {
		writeError(w, err)
		return
	}
	perf := metricsagg.New(lang).Update(vm)
	writeJSON(w, http.StatusOK, map[string]any{
		"voice_metrics":      vm,
		"performance_update": perf,
	})
}

func (d deps) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req upstream.TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.ValidationError, "invalid request body", nil))
		return
	}
	result, err := d.tts.Synthesize(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d deps) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	var req upstream.TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.ValidationError, "invalid request body", nil))
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	if _, err := d.tts.StreamSynthesize(r.Context(), req, w); err != nil {
		return // error frame already written by StreamSynthesize
	}
}

func (d deps) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	d.connMgr.ServeHTTP(r.PathValue("session_id"), w, r)
}

func (d deps) handleAvatarSocket(w http.ResponseWriter, r *http.Request) {
	d.avatar.ServeHTTP(r.PathValue("session_id"), w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	ce, ok := err.(*errs.CoachError)
	if !ok {
		ce = errs.Wrap(errs.StorageUnavailable, "unexpected error", err)
	}
	env := ce.ToEnvelope()
	writeJSON(w, env.Status, env)
}

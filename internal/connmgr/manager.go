// Package connmgr implements ConnectionManager (C6): accepts
// bidirectional client channels keyed by session id, owns per-session
// AudioBuffer/SessionPipeline/SessionStats, and fans messages in/out
// with backpressure (§4.6).
package connmgr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/coachserver/internal/audio"
	"github.com/hubenschmidt/coachserver/internal/errs"
	"github.com/hubenschmidt/coachserver/internal/langconfig"
	"github.com/hubenschmidt/coachserver/internal/metrics"
	"github.com/hubenschmidt/coachserver/internal/model"
	"github.com/hubenschmidt/coachserver/internal/session"
	"github.com/hubenschmidt/coachserver/internal/sessionpipeline"
	"github.com/hubenschmidt/coachserver/internal/upstream"
)

const (
	defaultAudioChunkTimeout = 5 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultChunkSamples      = 16000 // 1s @ 16kHz canonical rate, tuned by config in practice
	maxMessageBytes          = 1 << 20
	outboundQueueCapacity    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config wires the Manager's shared, process-wide collaborators.
type Config struct {
	Store             session.Store
	Coach             upstream.CoachClient
	CoachEngine       string
	CanonicalSampleRate int
	AudioChunkTimeout time.Duration
	HeartbeatInterval time.Duration
	ChunkSamples      int
}

// Manager multiplexes many concurrent sessions. The active-session map
// is the only cross-session shared mutable state (§5 Shared-resource
// policy); it is protected by a reader/writer discipline (RWMutex).
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*sessionHandle
}

// New creates a Manager.
func New(cfg Config) *Manager {
	if cfg.CanonicalSampleRate <= 0 {
		cfg.CanonicalSampleRate = 16000
	}
	if cfg.AudioChunkTimeout <= 0 {
		cfg.AudioChunkTimeout = defaultAudioChunkTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = defaultChunkSamples
	}
	return &Manager{cfg: cfg, sessions: map[string]*sessionHandle{}}
}

// sessionHandle is one connected session's private state, owned
// exclusively by its driver goroutine (§3 Ownership summary).
type sessionHandle struct {
	conn     *websocket.Conn
	sess     *model.Session
	buffer   *audio.Buffer
	pipeline *sessionpipeline.Pipeline

	statsMu sync.Mutex
	stats   SessionStats

	writeMu sync.Mutex
	out     chan outboundItem
}

// snapshotStats returns a copy of the stats block; heartbeatLoop reads
// it from a different goroutine than the one mutating it.
func (h *sessionHandle) snapshotStats() SessionStats {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}

func (h *sessionHandle) bumpStat(f func(*SessionStats)) {
	h.statsMu.Lock()
	f(&h.stats)
	h.statsMu.Unlock()
}

type outboundItem struct {
	env      outboundEnvelope
	priority string // "essential" | "low"
}

// ServeHTTP upgrades the connection for sessionID and runs the session
// for the connection's lifetime (§4.6).
func (m *Manager) ServeHTTP(sessionID string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("connmgr upgrade failed", "error", err, "session_id", sessionID)
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	defer conn.Close()

	m.runSession(sessionID, conn)
}

func (m *Manager) runSession(sessionID string, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := m.resolveOrCreateSession(ctx, sessionID)
	if err != nil {
		slog.Error("resolve session failed", "error", err, "session_id", sessionID)
		return
	}

	handle := &sessionHandle{
		conn:   conn,
		sess:   sess,
		buffer: audio.NewBuffer(m.cfg.CanonicalSampleRate, audio.DefaultMaxBufferSeconds),
		pipeline: sessionpipeline.New(sessionpipeline.Config{
			SessionID:                  sessionID,
			Language:                   langconfig.Language(sess.Config.Language),
			EnableParallelProcessing:   sess.Config.EnableParallelProcessing,
			FeedbackFrequency:          sess.Config.FeedbackFrequency,
			MetricsCalculationInterval: sess.Config.MetricsCalculationInterval,
			ChunkTimeoutSeconds:        sess.Config.ChunkTimeoutSeconds,
			Coach:                      m.cfg.Coach,
			CoachEngine:                m.cfg.CoachEngine,
		}),
		stats: SessionStats{ConnectedAt: time.Now().UTC()},
		out:   make(chan outboundItem, outboundQueueCapacity),
	}

	m.mu.Lock()
	m.sessions[sessionID] = handle
	m.mu.Unlock()
	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer func() {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		metrics.SessionsActive.Dec()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		handle.writerLoop(ctx)
	}()

	handle.enqueue(outboundEnvelope{
		Type:    envSessionInitialized,
		Payload: map[string]any{"processors": []string{"analyzer", "feedback", "metrics"}},
	}, "essential")

	heartbeatTicker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	go handle.heartbeatLoop(ctx, heartbeatTicker)

	m.messageLoop(ctx, handle)

	m.finalizeSession(ctx, handle)
	cancel()
	close(handle.out)
	wg.Wait()
}

func (m *Manager) resolveOrCreateSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if m.cfg.Store == nil {
		return &model.Session{
			ID:        sessionID,
			State:     model.StateActive,
			CreatedAt: time.Now().UTC(),
			Config:    model.DefaultSessionConfig("en"),
		}, nil
	}
	sess, err := m.cfg.Store.Get(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	sess = &model.Session{
		ID:        sessionID,
		State:     model.StateActive,
		CreatedAt: time.Now().UTC(),
		Config:    model.DefaultSessionConfig("en"),
	}
	return sess, m.cfg.Store.Create(ctx, sess)
}

// messageLoop runs the §4.6 step 4 receive loop: a missing message for
// a full audio_chunk_timeout interval is a continue, not an error.
func (m *Manager) messageLoop(ctx context.Context, h *sessionHandle) {
	for {
		_ = h.conn.SetReadDeadline(time.Now().Add(m.cfg.AudioChunkTimeout))
		msgType, data, err := h.conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.bumpStat(func(s *SessionStats) { s.MessagesReceived++ })
		if m.handleMessage(ctx, h, data) == errEndSession {
			return
		}
	}
}

type loopSignal int

const (
	errNone loopSignal = iota
	errEndSession
)

func (m *Manager) handleMessage(ctx context.Context, h *sessionHandle, data []byte) loopSignal {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.enqueue(outboundEnvelope{Type: envError, Payload: map[string]any{"message": "malformed message"}}, "essential")
		h.bumpStat(func(s *SessionStats) { s.ErrorsCount++ })
		return errNone
	}

	switch msg.Type {
	case msgAudioChunk:
		m.handleAudioChunk(ctx, h, msg)
	case msgControlCommand:
		return m.handleControlCommand(ctx, h, msg)
	case msgConfigUpdate:
		m.handleConfigUpdate(h, msg)
	case msgHeartbeat:
		h.enqueue(outboundEnvelope{Type: envHeartbeatResponse, Payload: h.snapshotStats()}, "essential")
	case msgRequestSummary:
		summary := h.pipeline.Summary()
		h.enqueue(outboundEnvelope{Type: "summary", Payload: summary}, "essential")
	default:
		h.enqueue(outboundEnvelope{Type: envError, Payload: map[string]any{"message": "unknown message type"}}, "essential")
		h.bumpStat(func(s *SessionStats) { s.ErrorsCount++ })
	}
	return errNone
}

func (m *Manager) handleAudioChunk(ctx context.Context, h *sessionHandle, msg inboundMessage) {
	raw, err := base64.StdEncoding.DecodeString(msg.AudioDataBase64)
	if err != nil {
		h.enqueue(outboundEnvelope{Type: "audio_processing_error", Payload: errs.New(errs.AudioFormatError, "invalid base64 audio", nil).ToEnvelope()}, "essential")
		h.bumpStat(func(s *SessionStats) { s.ErrorsCount++ })
		return
	}

	sampleRate := msg.SampleRate
	if sampleRate <= 0 {
		sampleRate = h.buffer.SampleRate()
	}
	if err := h.buffer.Append(raw, audio.CodecPCM, sampleRate); err != nil {
		h.enqueue(outboundEnvelope{Type: "audio_processing_error", Payload: errs.Wrap(errs.AudioFormatError, "append failed", err).ToEnvelope()}, "essential")
		h.bumpStat(func(s *SessionStats) { s.ErrorsCount++ })
		return
	}

	for {
		samples, ok := h.buffer.ReadChunk(m.cfg.ChunkSamples)
		if !ok {
			return
		}
		var chunkNumber int
		h.bumpStat(func(s *SessionStats) {
			s.AudioChunksProcessed++
			chunkNumber = s.AudioChunksProcessed
		})
		metrics.ChunksProcessed.Inc()

		chunk := model.AudioChunk{
			SessionID:      h.sess.ID,
			ChunkID:        chunkIDFor(h.sess.ID, chunkNumber),
			ChunkNumber:    chunkNumber,
			Samples:        samples,
			SampleRate:     h.buffer.SampleRate(),
			Timestamp:      time.Now().UTC(),
			SequenceNumber: msg.SequenceNumber,
		}

		envelopes := h.pipeline.Process(ctx, chunk)
		m.forwardEnvelopes(h, envelopes)
	}
}

func (m *Manager) forwardEnvelopes(h *sessionHandle, envelopes []sessionpipeline.Envelope) {
	for _, e := range envelopes {
		priority := "essential"
		if e.Type == sessionpipeline.EnvelopeRealtimeFeedback && e.Realtime != nil && e.Realtime.Priority == "normal" {
			priority = "low"
		}
		if e.Type == sessionpipeline.EnvelopeRealtimeFeedback {
			h.bumpStat(func(s *SessionStats) { s.FeedbackItemsSent++ })
		}
		h.enqueue(outboundEnvelope{Type: string(e.Type), Payload: e}, priority)
	}
}

func (m *Manager) handleControlCommand(ctx context.Context, h *sessionHandle, msg inboundMessage) loopSignal {
	switch msg.Command {
	case cmdStartSession:
		_ = session.Transition(h.sess, model.StateActive)
		h.enqueue(outboundEnvelope{Type: envSessionStarted}, "essential")
	case cmdPauseSession:
		_ = session.Transition(h.sess, model.StatePaused)
		h.enqueue(outboundEnvelope{Type: envSessionPaused}, "essential")
	case cmdResumeSession:
		_ = session.Transition(h.sess, model.StateActive)
		h.enqueue(outboundEnvelope{Type: envSessionResumed}, "essential")
	case cmdEndSession:
		_ = session.Transition(h.sess, model.StateCompleted)
		summary := h.pipeline.Summary()
		h.enqueue(outboundEnvelope{Type: envSessionEnded, Payload: summary}, "essential")
		return errEndSession
	}
	return errNone
}

func (m *Manager) handleConfigUpdate(h *sessionHandle, msg inboundMessage) {
	var cu configUpdate
	if msg.Config != nil {
		_ = json.Unmarshal(msg.Config, &cu)
	}
	if cu.EnableParallelProcessing != nil {
		h.sess.Config.EnableParallelProcessing = *cu.EnableParallelProcessing
	}
	if cu.FeedbackFrequency != nil {
		h.sess.Config.FeedbackFrequency = *cu.FeedbackFrequency
	}
	if cu.MetricsCalculationInterval != nil {
		h.sess.Config.MetricsCalculationInterval = *cu.MetricsCalculationInterval
	}
	h.pipeline.ApplyConfig(sessionpipeline.ConfigUpdate{
		EnableParallelProcessing:   cu.EnableParallelProcessing,
		FeedbackFrequency:         cu.FeedbackFrequency,
		MetricsCalculationInterval: cu.MetricsCalculationInterval,
	})
	h.enqueue(outboundEnvelope{Type: envConfigUpdated, Payload: h.sess.Config}, "essential")
}

func (m *Manager) finalizeSession(ctx context.Context, h *sessionHandle) {
	if m.cfg.Store != nil {
		_ = m.cfg.Store.Update(ctx, h.sess)
	}
}

func chunkIDFor(sessionID string, n int) string {
	return sessionID + "-chunk-" + strconv.Itoa(n)
}

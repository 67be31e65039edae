package connmgr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/coachserver/internal/model"
	"github.com/hubenschmidt/coachserver/internal/upstream"
)

type stubCoach struct{}

func (stubCoach) GenerateCoaching(ctx context.Context, req upstream.CoachingRequest) (*model.CoachingFeedback, error) {
	return &model.CoachingFeedback{Source: model.SourceFallback, FeedbackSummary: "keep going"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	mgr := New(Config{
		Coach:             stubCoach{},
		AudioChunkTimeout: 300 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mgr.ServeHTTP("test-session", w, r)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) outboundEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env outboundEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope failed: %v", err)
	}
	return env
}

func pcmSamples(n int, freqHz, sampleRate float64) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(10000 * math.Sin(2*math.Pi*freqHz*float64(i)/sampleRate))
		buf[2*i] = byte(v)
		buf[2*i+1] = byte(v >> 8)
	}
	return buf
}

func TestServeHTTP_SendsSessionInitializedFirst(t *testing.T) {
	srv, url := newTestServer(t)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()

	env := readEnvelope(t, conn)
	if env.Type != envSessionInitialized {
		t.Fatalf("expected session_initialized first, got %s", env.Type)
	}
}

func TestAudioChunk_ProducesCoachingResult(t *testing.T) {
	srv, url := newTestServer(t)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()
	_ = readEnvelope(t, conn) // session_initialized

	raw := pcmSamples(16000, 150, 16000)
	msg := inboundMessage{
		Type:            msgAudioChunk,
		AudioDataBase64: base64.StdEncoding.EncodeToString(raw),
		SampleRate:      16000,
	}
	body, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn)
		if env.Type == "coaching_result" {
			return
		}
	}
	t.Fatal("expected a coaching_result envelope")
}

func TestHeartbeat_RepliesWithStats(t *testing.T) {
	srv, url := newTestServer(t)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()
	_ = readEnvelope(t, conn) // session_initialized

	body, _ := json.Marshal(inboundMessage{Type: msgHeartbeat})
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Type != envHeartbeatResponse {
		t.Fatalf("expected heartbeat_response, got %s", env.Type)
	}
}

func TestEndSession_EmitsSessionEndedAndClosesLoop(t *testing.T) {
	srv, url := newTestServer(t)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()
	_ = readEnvelope(t, conn) // session_initialized

	body, _ := json.Marshal(inboundMessage{Type: msgControlCommand, Command: cmdEndSession})
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Type != envSessionEnded {
		t.Fatalf("expected session_ended, got %s", env.Type)
	}
}

func TestUnknownMessageType_RepliesWithError(t *testing.T) {
	srv, url := newTestServer(t)
	defer srv.Close()

	conn := dial(t, url)
	defer conn.Close()
	_ = readEnvelope(t, conn) // session_initialized

	body, _ := json.Marshal(inboundMessage{Type: "bogus"})
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Type != envError {
		t.Fatalf("expected error envelope, got %s", env.Type)
	}
}

package upstream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/coachserver/internal/errs"
)

// AvatarBridgeConfig configures the two-direction avatar tunnel
// (§4.7(d)).
type AvatarBridgeConfig struct {
	// UpstreamURLResolver returns the upstream avatar WS URL for a
	// session, or "" if the avatar service did not supply one.
	UpstreamURLResolver func(sessionID string) (string, error)
	// FallbackURL is the hard-coded pattern used when the resolver
	// returns no URL, gated by FallbackEnabled per the Open Question
	// (ii) decision recorded in DESIGN.md.
	FallbackURL     string
	FallbackEnabled bool
	DialTimeout     time.Duration
}

var avatarUpgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AvatarBridge upgrades a client connection and tunnels it to an
// upstream talking-avatar WebSocket service, translating control
// frames and forwarding opaque binary media both ways.
type AvatarBridge struct {
	cfg    AvatarBridgeConfig
	dialer *websocket.Dialer
}

// NewAvatarBridge creates an AvatarBridge.
func NewAvatarBridge(cfg AvatarBridgeConfig) *AvatarBridge {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &AvatarBridge{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
}

type avatarFrame struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Stage   string          `json:"stage,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Text    string          `json:"text,omitempty"`
}

const (
	avatarStageAccepted         = "accepted"
	avatarStageUpstreamConnected = "upstream_connected"

	avatarErrConnectFailed      = "CONNECT_FAILED"
	avatarErrServiceInitFailed  = "SERVICE_INIT_FAILED"
	avatarErrUpstreamHTTPError  = "UPSTREAM_HTTP_ERROR"
	avatarErrStreamException    = "STREAM_EXCEPTION"
)

// ServeHTTP upgrades the client connection and runs the avatar tunnel
// for the lifetime of the session.
func (b *AvatarBridge) ServeHTTP(sessionID string, w http.ResponseWriter, r *http.Request) {
	client, err := avatarUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("avatar bridge upgrade failed", "error", err, "session_id", sessionID)
		return
	}
	defer client.Close()

	// Exactly one accepted frame precedes anything else (§4.7(d)).
	sendClientFrame(client, avatarFrame{Type: "avatar.meta", Stage: avatarStageAccepted})

	upstreamURL, err := b.resolveUpstreamURL(sessionID)
	if err != nil {
		sendClientFrame(client, avatarFrame{Type: "avatar.error", Code: avatarErrServiceInitFailed, Message: err.Error()})
		return
	}

	upstreamConn, _, err := b.dialer.Dial(upstreamURL, nil)
	if err != nil {
		sendClientFrame(client, avatarFrame{Type: "avatar.error", Code: avatarErrConnectFailed, Message: err.Error()})
		return
	}
	defer upstreamConn.Close()

	sendClientFrame(client, avatarFrame{Type: "avatar.meta", Stage: avatarStageUpstreamConnected})

	done := make(chan struct{})
	go b.pumpUpstreamToClient(upstreamConn, client, done)
	b.pumpClientToUpstream(client, upstreamConn)
	<-done
}

func (b *AvatarBridge) resolveUpstreamURL(sessionID string) (string, error) {
	if b.cfg.UpstreamURLResolver != nil {
		url, err := b.cfg.UpstreamURLResolver(sessionID)
		if err != nil {
			return "", errs.Wrap(errs.ServiceUnavailable, "resolve avatar upstream url", err)
		}
		if url != "" {
			return url, nil
		}
	}
	if b.cfg.FallbackEnabled && b.cfg.FallbackURL != "" {
		return b.cfg.FallbackURL, nil
	}
	return "", errs.New(errs.ConfigurationError, "avatar upstream url unavailable and fallback disabled", nil)
}

// pumpClientToUpstream translates client control frames (avatar.start,
// avatar.forward, avatar.end) and opaque binary audio into upstream
// messages.
func (b *AvatarBridge) pumpClientToUpstream(client, upstream *websocket.Conn) {
	for {
		msgType, data, err := client.ReadMessage()
		if err != nil {
			_ = upstream.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		if msgType == websocket.BinaryMessage {
			if err := upstream.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
			continue
		}

		var frame avatarFrame
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		switch frame.Type {
		case "avatar.start", "avatar.forward":
			if err := upstream.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case "avatar.end":
			_ = upstream.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// pumpUpstreamToClient forwards upstream frames to the client, wrapping
// JSON text frames as avatar.upstream and non-JSON text as
// avatar.upstream_text, and binary frames verbatim.
func (b *AvatarBridge) pumpUpstreamToClient(upstream, client *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		msgType, data, err := upstream.ReadMessage()
		if err != nil {
			sendClientFrame(client, avatarFrame{Type: "avatar.end"})
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if err := client.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case websocket.TextMessage:
			if json.Valid(data) {
				sendClientFrame(client, avatarFrame{Type: "avatar.upstream", Data: json.RawMessage(data)})
			} else {
				sendClientFrame(client, avatarFrame{Type: "avatar.upstream_text", Text: string(data)})
			}
		}
	}
}

func sendClientFrame(conn *websocket.Conn, f avatarFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		slog.Error("avatar bridge write failed", "error", err)
	}
}

package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/sistemas-dev/sistemas/internal/api"
	"github.com/sistemas-dev/sistemas/internal/config"
	"github.com/sistemas-dev/sistemas/internal/credential"
	"github.com/sistemas-dev/sistemas/internal/session"
	"github.com/sistemas-dev/sistemas/internal/voice"
)

const (
	// readLimit fits a base64 canvas snapshot inside a scene message.
	readLimit     = 8 << 20
	touchInterval = 30 * time.Second
)

// ConnectorFunc returns a streaming connector for one API key.
type ConnectorFunc func(ctx context.Context, apiKey string) (voice.Connector, error)

// WebSocketHandler serves /ws/voice.
type WebSocketHandler struct {
	sessions      *session.Manager
	sockets       *SessionManager
	connectors    ConnectorFunc
	resolver      credential.Resolver
	opts          voice.Options
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates the voice socket handler.
func NewWebSocketHandler(sessions *session.Manager, sockets *SessionManager, connectors ConnectorFunc, cfg *config.Config) *WebSocketHandler {
	opts := voice.DefaultOptions()
	opts.Model = cfg.Voice.Model
	opts.Voice = cfg.Voice.Voice
	opts.InputRate = cfg.Voice.InputSampleRate
	opts.OutputRate = cfg.Voice.OutputSampleRate
	opts.SnapshotInterval = cfg.Voice.SnapshotInterval

	return &WebSocketHandler{
		sessions:      sessions,
		sockets:       sockets,
		connectors:    connectors,
		resolver:      credential.Resolver{Source: cfg.CredentialSource, HostKey: cfg.APIKey},
		opts:          opts,
		allowedOrigin: cfg.FrontendURL,
		isDev:         cfg.IsDevelopment(),
	}
}

// RegisterRoutes registers the socket route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/voice", h.ServeHTTP)
}

// ServeHTTP upgrades the request and runs one voice session until the
// browser disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	slog.Info("Voice socket request", "session_id", sessionID, "ip", credential.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	s, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	key, err := h.resolver.Resolve(r)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	connector, err := h.connectors(r.Context(), key)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	ws.SetReadLimit(readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.sockets.Register(sessionID, ws)
	defer h.sockets.Unregister(sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := slog.Default().With("session_id", sessionID)
	out := NewOutbox(ws, 0, logger)
	defer func() { _ = out.Close() }()

	bridge := NewBridge(out, logger)
	ctrl := voice.NewController(voice.Deps{
		Devices:    bridge,
		Connector:  connector,
		Snapshots:  s.Board,
		Transcript: s.Transcript,
		Observer:   bridge,
	}, h.opts, logger)

	if err := s.AttachVoice(ctrl); err != nil {
		out.Send(outbound{Type: msgError, Message: err.Error()})
		return
	}
	defer func() {
		bridge.Disconnect()
		s.DetachVoice(ctrl)
	}()

	out.Send(outbound{Type: msgState, State: ctrl.State().String()})
	h.readLoop(ctx, ws, s, ctrl, bridge, out)
	slog.Info("Voice socket ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

//nolint:gocognit // Message dispatch coordinates the socket, bridge and controller.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, s *session.Session, ctrl *voice.Controller, bridge *Bridge, out *Outbox) {
	var lastTouch time.Time
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", s.ID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", s.ID)
			}
			return
		}

		if typ == websocket.MessageBinary {
			bridge.DeliverAudio(data)
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed socket message", "error", err, "session_id", s.ID)
			continue
		}

		switch msg.Type {
		case msgStart:
			// Opening is entered before the next message is read, so a
			// following stop always reaches this session.
			if err := ctrl.Begin(ctx, func(err error) { reportStart(err, out) }); err != nil {
				reportStart(err, out)
			}
		case msgStop:
			ctrl.Cancel()
		case msgOpened, msgDeviceError, msgClock:
			bridge.Deliver(msg)
		case msgScene:
			s.Board.Report(msg.Ready == nil || *msg.Ready, msg.Elements, msg.Snapshot)
		case msgPing:
			out.Send(outbound{Type: msgPong})
		default:
			slog.Debug("Unknown socket message", "type", msg.Type, "session_id", s.ID)
		}

		if time.Since(lastTouch) > touchInterval {
			lastTouch = time.Now()
			go h.touch(s.ID)
		}
	}
}

func reportStart(err error, out *Outbox) {
	switch {
	case err == nil, errors.Is(err, voice.ErrStopped):
	case errors.Is(err, voice.ErrAlreadyRunning):
		out.Send(outbound{Type: msgError, Message: err.Error()})
	default:
		// Open failures already reached the browser through Observer.Failed.
		slog.Debug("Voice session did not start", "error", err)
	}
}

// touch keeps a socket-only session from expiring while the user talks.
func (h *WebSocketHandler) touch(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.sessions.Get(ctx, sessionID); err != nil {
		slog.Warn("Failed to update last seen", "error", err, "session_id", sessionID)
	}
}

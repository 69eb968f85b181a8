package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/sistemas-dev/sistemas/internal/config"
	"github.com/sistemas-dev/sistemas/internal/credential"
	"github.com/sistemas-dev/sistemas/internal/diagram"
	"github.com/sistemas-dev/sistemas/internal/domain"
	"github.com/sistemas-dev/sistemas/internal/scene"
	"github.com/sistemas-dev/sistemas/internal/session"
)

const (
	maxBodyBytes   = 8 << 20
	defaultWidth   = 800
	defaultHeight  = 600
	maxDiagramSide = 4096
)

// TurnerFunc builds a text turn client for one API key.
type TurnerFunc func(ctx context.Context, apiKey string) (session.Turner, error)

// SessionHandler serves the catalog and session endpoints.
type SessionHandler struct {
	sessions *session.Manager
	turners  TurnerFunc
	resolver credential.Resolver
	cfg      *config.Config
	onExit   func(sessionID string)
}

// NewSessionHandler creates the session handler.
func NewSessionHandler(sessions *session.Manager, turners TurnerFunc, cfg *config.Config) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		turners:  turners,
		resolver: credential.Resolver{Source: cfg.CredentialSource, HostKey: cfg.APIKey},
		cfg:      cfg,
	}
}

// SetExitHook registers fn to run after a session is exited.
func (h *SessionHandler) SetExitHook(fn func(sessionID string)) {
	h.onExit = fn
}

// RegisterRoutes registers the API routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/problems", h.ListProblems)
		r.Post("/sessions", h.CreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.ExitSession)
			r.Put("/scene", h.PutScene)
			r.With(credential.Middleware(h.resolver, WriteError)).Post("/messages", h.PostMessage)
			r.Get("/diagram.svg", h.GetDiagram)
		})
	})
}

// GetConfig returns what the browser needs before an interview starts.
func (h *SessionHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"credential_source":  h.cfg.CredentialSource,
		"key_header":         credential.HeaderName,
		"text_model":         h.cfg.Text.Model,
		"voice_model":        h.cfg.Voice.Model,
		"voice_name":         h.cfg.Voice.Voice,
		"input_sample_rate":  h.cfg.Voice.InputSampleRate,
		"output_sample_rate": h.cfg.Voice.OutputSampleRate,
		"snapshot_interval":  h.cfg.Voice.SnapshotInterval.Milliseconds(),
		"brand":              h.sessions.Catalog().Brand,
	})
}

// ListProblems returns the catalog in order.
func (h *SessionHandler) ListProblems(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string][]domain.Problem{"problems": h.sessions.Catalog().List()})
}

type createSessionRequest struct {
	ProblemID string `json:"problem_id"`
}

// CreateSession starts an interview for the selected problem.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.ProblemID == "" {
		Error(w, http.StatusBadRequest, "problem_id is required")
		return
	}

	s, err := h.sessions.Create(r.Context(), req.ProblemID)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusCreated, presentSession(s.View()))
}

// GetSession returns the session's transcript, graph and flags.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, presentSession(s.View()))
}

// ExitSession stops voice and destroys the session.
func (h *SessionHandler) ExitSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Exit(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	if h.onExit != nil {
		h.onExit(id)
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

type sceneRequest struct {
	Ready    *bool           `json:"ready"`
	Elements []scene.Element `json:"elements"`
	Snapshot []byte          `json:"snapshot,omitempty"`
}

// PutScene records the latest canvas state and optional JPEG snapshot.
func (h *SessionHandler) PutScene(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	var req sceneRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	s.Board.Report(req.Ready == nil || *req.Ready, req.Elements, req.Snapshot)

	JSON(w, http.StatusOK, map[string]string{
		"board_state": scene.Classify(s.Board.Canvas()).String(),
		"summary":     s.Board.Summary(),
	})
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Reply        string                    `json:"reply"`
	Architecture *domain.ArchitectureGraph `json:"architecture,omitempty"`
	Session      sessionResponse           `json:"session"`
}

// PostMessage runs one text turn.
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	turner, err := h.turners(r.Context(), credential.APIKeyFromContext(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}

	ctx := r.Context()
	if h.cfg.Text.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Text.Timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.SendText(ctx, turner, req.Text)
	if err != nil {
		WriteError(w, err)
		return
	}
	slog.Info("Text turn completed",
		"session_id", s.ID,
		"duration", time.Since(start),
		"architecture", reply.Architecture != nil)

	JSON(w, http.StatusOK, messageResponse{
		Reply:        reply.Text,
		Architecture: reply.Architecture,
		Session:      presentSession(s.View()),
	})
}

// GetDiagram renders the session's current graph as SVG. Each pin=id:x:y
// query value holds that node in place.
func (h *SessionHandler) GetDiagram(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	width := dimension(r, "width", defaultWidth)
	height := dimension(r, "height", defaultHeight)

	var pins []diagram.Pin
	for _, raw := range r.URL.Query()["pin"] {
		p, err := diagram.ParsePin(raw)
		if err != nil {
			WriteError(w, err)
			return
		}
		pins = append(pins, p)
	}

	var buf bytes.Buffer
	if err := diagram.Render(&buf, s.Graph(), width, height, pins...); err != nil {
		WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func dimension(r *http.Request, name string, fallback float64) float64 {
	v, err := strconv.ParseFloat(r.URL.Query().Get(name), 64)
	if err != nil || v <= 0 || v > maxDiagramSide {
		return fallback
	}
	return v
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %v: %w", err, errdefs.ErrInvalidArgument)
	}
	return nil
}

type entryResponse struct {
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
}

type sessionResponse struct {
	ID         string                    `json:"id"`
	Problem    domain.Problem            `json:"problem"`
	Entries    []entryResponse           `json:"entries"`
	Graph      *domain.ArchitectureGraph `json:"graph,omitempty"`
	Composing  bool                      `json:"composing"`
	BoardState string                    `json:"board_state"`
	VoiceState string                    `json:"voice_state"`
}

// presentSession renders entries the way the chat shows them: system
// entries hidden and the whiteboard envelope stripped.
func presentSession(v session.View) sessionResponse {
	out := sessionResponse{
		ID:         v.ID,
		Problem:    v.Problem,
		Entries:    make([]entryResponse, 0, len(v.Entries)),
		Graph:      v.Graph,
		Composing:  v.Composing,
		BoardState: v.Board,
		VoiceState: v.VoiceState,
	}
	for _, e := range v.Entries {
		if e.Role == domain.RoleSystem {
			continue
		}
		out.Entries = append(out.Entries, entryResponse{
			Role:      e.Role,
			Content:   e.Display(),
			Timestamp: e.Timestamp.UnixMilli(),
		})
	}
	return out
}

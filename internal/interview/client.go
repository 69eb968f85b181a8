// Package interview implements the request/response text turn of a mock interview.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/containerd/errdefs"

	"github.com/sistemas-dev/sistemas/internal/domain"
)

// ErrRequestFailed is returned when the completion endpoint cannot be reached
// or rejects the request.
var ErrRequestFailed = fmt.Errorf("text turn request failed: %w", errdefs.ErrUnavailable)

// FallbackReply is shown when the model returns no text.
const FallbackReply = "I'm sorry, I couldn't generate a response."

// Turn is one forwarded transcript entry in model terms.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// Request is everything sent to the completion endpoint in one call.
type Request struct {
	Model             string
	Turns             []Turn
	SystemInstruction string
	Temperature       float32
	TopP              float32
}

// Generator issues a single completion request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Reply is the result of a text turn.
type Reply struct {
	Text         string
	Architecture *domain.ArchitectureGraph
}

// Options tunes the request sent on every turn.
type Options struct {
	Model       string
	Temperature float32
	TopP        float32
}

// DefaultOptions returns the interviewer's sampling defaults.
func DefaultOptions() Options {
	return Options{
		Model:       "gemini-3-flash-preview",
		Temperature: 0.7,
		TopP:        0.95,
	}
}

// TextClient sends transcripts to a Generator. One attempt per call.
type TextClient struct {
	gen    Generator
	opts   Options
	logger *slog.Logger
}

// NewTextClient creates a client. A nil logger uses slog.Default().
func NewTextClient(gen Generator, opts Options, logger *slog.Logger) *TextClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextClient{gen: gen, opts: opts, logger: logger}
}

// Send forwards the non-system entries and parses any architecture payload
// in the reply. A malformed payload is logged and the raw text returned.
func (c *TextClient) Send(ctx context.Context, entries []domain.Entry) (Reply, error) {
	req := Request{
		Model:             c.opts.Model,
		Turns:             toTurns(entries),
		SystemInstruction: TextInstruction(),
		Temperature:       c.opts.Temperature,
		TopP:              c.opts.TopP,
	}

	text, err := c.gen.Generate(ctx, req)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if text == "" {
		text = FallbackReply
	}

	clean, graph, err := ExtractArchitecture(text)
	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			c.logger.Warn("Failed to parse architecture payload", "error", err)
		}
		return Reply{Text: text}, nil
	}
	if graph != nil {
		if dangling := graph.DanglingLinks(); len(dangling) > 0 {
			c.logger.Warn("Architecture payload has unrenderable links", "count", len(dangling))
		}
	}
	return Reply{Text: clean, Architecture: graph}, nil
}

func toTurns(entries []domain.Entry) []Turn {
	turns := make([]Turn, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case domain.RoleSystem:
			continue
		case domain.RoleAssistant:
			turns = append(turns, Turn{Role: "model", Text: e.Content})
		default:
			turns = append(turns, Turn{Role: "user", Text: e.Content})
		}
	}
	return turns
}

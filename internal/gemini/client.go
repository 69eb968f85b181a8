// Package gemini adapts google.golang.org/genai to the interview text and
// voice interfaces.
package gemini

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"google.golang.org/genai"

	"github.com/sistemas-dev/sistemas/internal/interview"
)

// ErrMissingKey is returned when no API key is available for a request.
var ErrMissingKey = fmt.Errorf("gemini api key is required: %w", errdefs.ErrPermissionDenied)

// Client is a genai client bound to one credential.
type Client struct {
	api *genai.Client
}

// NewClient creates a client for the Gemini API backend.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingKey
	}
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{api: api}, nil
}

// Generate implements interview.Generator with a single GenerateContent call.
func (c *Client) Generate(ctx context.Context, req interview.Request) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Turns))
	for _, t := range req.Turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
		TopP:        genai.Ptr(req.TopP),
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	resp, err := c.api.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

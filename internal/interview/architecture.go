package interview

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sistemas-dev/sistemas/internal/domain"
)

// ErrMalformedPayload reports an architecture block that is present but unusable.
var ErrMalformedPayload = errors.New("malformed architecture payload")

var architectureBlock = regexp.MustCompile("```json_architecture[ \t]*\r?\n([\\s\\S]*?)\r?\n[ \t]*```")

// ExtractArchitecture looks for one fenced json_architecture block in text.
// With no block it returns text unchanged and a nil graph. With a valid block
// it returns the text with the block removed and the parsed graph. With a
// block that fails to parse it returns text unchanged, a nil graph and an
// error wrapping ErrMalformedPayload.
func ExtractArchitecture(text string) (string, *domain.ArchitectureGraph, error) {
	m := architectureBlock.FindStringSubmatchIndex(text)
	if m == nil {
		return text, nil, nil
	}

	graph, err := parseGraph(text[m[2]:m[3]])
	if err != nil {
		return text, nil, err
	}

	return strings.TrimSpace(text[:m[0]] + text[m[1]:]), graph, nil
}

func parseGraph(raw string) (*domain.ArchitectureGraph, error) {
	var shape struct {
		Nodes *[]domain.ComponentNode `json:"nodes"`
		Links []domain.Connection     `json:"links"`
	}
	if err := json.Unmarshal([]byte(raw), &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if shape.Nodes == nil {
		return nil, fmt.Errorf("%w: missing nodes", ErrMalformedPayload)
	}
	seen := make(map[string]struct{}, len(*shape.Nodes))
	for _, n := range *shape.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node without id", ErrMalformedPayload)
		}
		if _, dup := seen[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrMalformedPayload, n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	links := shape.Links
	if links == nil {
		links = []domain.Connection{}
	}
	return &domain.ArchitectureGraph{Nodes: *shape.Nodes, Links: links}, nil
}

package interview

import (
	"errors"
	"testing"
)

func TestExtractArchitectureWithoutBlock(t *testing.T) {
	t.Parallel()

	text, graph, err := ExtractArchitecture("plain reply")
	if err != nil || graph != nil || text != "plain reply" {
		t.Fatalf("ExtractArchitecture() = %q, %v, %v", text, graph, err)
	}
}

func TestExtractArchitectureRejectsWrongShape(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not an object": "```json_architecture\n[1,2,3]\n```",
		"missing nodes": "```json_architecture\n{\"links\": []}\n```",
		"duplicate ids": "```json_architecture\n{\"nodes\":[{\"id\":\"a\"},{\"id\":\"a\"}]}\n```",
		"empty id":      "```json_architecture\n{\"nodes\":[{\"label\":\"x\"}]}\n```",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			text, graph, err := ExtractArchitecture(in)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
			if graph != nil || text != in {
				t.Fatalf("expected raw text and no graph, got %q, %v", text, graph)
			}
		})
	}
}

func TestExtractArchitectureDefaultsLinks(t *testing.T) {
	t.Parallel()

	_, graph, err := ExtractArchitecture("```json_architecture\r\n{\"nodes\":[{\"id\":\"db\",\"type\":\"database\"}]}\r\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if graph == nil || len(graph.Nodes) != 1 || graph.Links == nil {
		t.Fatalf("unexpected graph %+v", graph)
	}
}

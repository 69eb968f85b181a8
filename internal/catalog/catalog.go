// Package catalog holds the read-only list of interview problems.
package catalog

import (
	_ "embed"
	"fmt"

	"github.com/containerd/errdefs"
	"gopkg.in/yaml.v3"

	"github.com/sistemas-dev/sistemas/internal/domain"
)

//go:embed problems.yaml
var builtin []byte

// Link is a labelled outbound URL shown in the shell footer.
type Link struct {
	Label string `json:"label" yaml:"label"`
	URL   string `json:"url" yaml:"url"`
}

// Brand is the static copy shown around the interview.
type Brand struct {
	Name         string `json:"name" yaml:"name"`
	Subtitle     string `json:"subtitle" yaml:"subtitle"`
	MentorHandle string `json:"mentor_handle" yaml:"mentor_handle"`
	MentorURL    string `json:"mentor_url" yaml:"mentor_url"`
	Quote        string `json:"quote" yaml:"quote"`
	Footer       string `json:"footer" yaml:"footer"`
	Copyright    string `json:"copyright" yaml:"copyright"`
	Links        struct {
		Quick     []Link `json:"quick" yaml:"quick"`
		Community []Link `json:"community" yaml:"community"`
	} `json:"links" yaml:"links"`
}

// Catalog is an ordered, immutable set of problems.
type Catalog struct {
	Brand    Brand
	problems []domain.Problem
	byID     map[string]int
}

type document struct {
	Brand    Brand            `yaml:"brand"`
	Problems []domain.Problem `yaml:"problems"`
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Problems) == 0 {
		return nil, fmt.Errorf("catalog has no problems: %w", errdefs.ErrInvalidArgument)
	}

	c := &Catalog{Brand: doc.Brand, problems: doc.Problems, byID: make(map[string]int, len(doc.Problems))}
	for i, p := range doc.Problems {
		if p.ID == "" {
			return nil, fmt.Errorf("problem %d has no id: %w", i, errdefs.ErrInvalidArgument)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate problem id %q: %w", p.ID, errdefs.ErrInvalidArgument)
		}
		if !p.Difficulty.Valid() {
			return nil, fmt.Errorf("problem %q has difficulty %q: %w", p.ID, p.Difficulty, errdefs.ErrInvalidArgument)
		}
		if p.InitialPrompt == "" {
			return nil, fmt.Errorf("problem %q has no initial prompt: %w", p.ID, errdefs.ErrInvalidArgument)
		}
		c.byID[p.ID] = i
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("builtin catalog: %v", err))
	}
	return c
}

// List returns the problems in catalog order.
func (c *Catalog) List() []domain.Problem {
	out := make([]domain.Problem, len(c.problems))
	copy(out, c.problems)
	return out
}

// Get returns the problem with the given id.
func (c *Catalog) Get(id string) (domain.Problem, error) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Problem{}, fmt.Errorf("problem %q: %w", id, errdefs.ErrNotFound)
	}
	return c.problems[i], nil
}

package catalog

import (
	"testing"

	"github.com/containerd/errdefs"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := Default()
	got := c.List()
	wantIDs := []string{"url-shortener", "whatsapp-clone", "netflix-clone", "rate-limiter"}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d problems, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("problem %d = %q, want %q", i, got[i].ID, id)
		}
		if got[i].InitialPrompt == "" || len(got[i].Tags) == 0 {
			t.Errorf("problem %q incomplete: %+v", id, got[i])
		}
	}
	if c.Brand.Name != "Sistemas" {
		t.Errorf("brand name = %q", c.Brand.Name)
	}
}

func TestGetUnknownProblem(t *testing.T) {
	t.Parallel()

	_, err := Default().Get("nope")
	if !errdefs.IsNotFound(err) {
		t.Fatalf("Get(nope) = %v, want not found", err)
	}
}

func TestListIsACopy(t *testing.T) {
	t.Parallel()

	c := Default()
	l := c.List()
	l[0].Title = "changed"
	if p, _ := c.Get(l[0].ID); p.Title == "changed" {
		t.Fatal("List exposed internal state")
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":      "problems: []",
		"duplicate":  "problems:\n- {id: a, difficulty: Easy, initial_prompt: x}\n- {id: a, difficulty: Easy, initial_prompt: y}",
		"difficulty": "problems:\n- {id: a, difficulty: Trivial, initial_prompt: x}",
		"prompt":     "problems:\n- {id: a, difficulty: Easy}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse([]byte(doc)); !errdefs.IsInvalidArgument(err) {
				t.Fatalf("Parse = %v, want invalid argument", err)
			}
		})
	}
}

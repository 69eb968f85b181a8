// Package scene turns the candidate's drawing canvas into text the model can read.
package scene

import (
	"fmt"
	"strings"
	"sync"
)

const (
	// NotReady is returned when the canvas has not initialized yet.
	NotReady = "No elements on the drawing board yet."
	// EmptyBoard is returned when the canvas is ready but holds nothing.
	EmptyBoard = "The drawing board is empty."

	header = "The current architecture drawing contains:"
)

// Element is one shape on the canvas, in the drawing tool's own field names.
type Element struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	IsDeleted bool   `json:"isDeleted,omitempty"`
}

// Canvas is the latest known drawing state. A nil *Canvas means the canvas
// has not reported in yet.
type Canvas struct {
	Elements []Element `json:"elements"`
}

// State distinguishes "not ready" from "nothing drawn".
type State int

const (
	StateNotReady State = iota
	StateEmpty
	StateDrawn
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not_ready"
	case StateEmpty:
		return "empty"
	case StateDrawn:
		return "drawn"
	default:
		return "unknown"
	}
}

// Live returns the non-deleted elements in canvas order.
func (c *Canvas) Live() []Element {
	if c == nil {
		return nil
	}
	out := make([]Element, 0, len(c.Elements))
	for _, e := range c.Elements {
		if !e.IsDeleted {
			out = append(out, e)
		}
	}
	return out
}

// Classify reports the canvas state without building the summary text.
func Classify(c *Canvas) State {
	if c == nil {
		return StateNotReady
	}
	if len(c.Live()) == 0 {
		return StateEmpty
	}
	return StateDrawn
}

// Summarize describes the canvas, one line per live element.
func Summarize(c *Canvas) string {
	switch Classify(c) {
	case StateNotReady:
		return NotReady
	case StateEmpty:
		return EmptyBoard
	}

	var b strings.Builder
	b.WriteString(header)
	for _, e := range c.Live() {
		b.WriteString("\n- ")
		b.WriteString(e.Type)
		if e.Text != "" {
			fmt.Fprintf(&b, " labeled %q", e.Text)
		}
	}
	return b.String()
}

// Enrich wraps a typed message with the whiteboard summary for text turns.
func Enrich(summary, message string) string {
	return "[Current Whiteboard State]:\n" + summary + "\n\n[User Message]:\n" + message
}

// Board holds the latest canvas state and pixel snapshot reported by the
// browser. It is safe for concurrent use.
type Board struct {
	mu       sync.RWMutex
	canvas   *Canvas
	snapshot []byte
}

// SetCanvas replaces the element list. Passing nil marks the canvas not ready.
func (b *Board) SetCanvas(c *Canvas) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c == nil {
		b.canvas = nil
		return
	}
	cp := &Canvas{Elements: append([]Element(nil), c.Elements...)}
	b.canvas = cp
}

// Canvas returns the current canvas or nil when not ready.
func (b *Board) Canvas() *Canvas {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.canvas
}

// Summary summarizes the current canvas.
func (b *Board) Summary() string {
	return Summarize(b.Canvas())
}

// SetSnapshot stores the latest rendered JPEG frame of the canvas.
func (b *Board) SetSnapshot(jpeg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = append(b.snapshot[:0:0], jpeg...)
}

// Snapshot returns the latest JPEG frame, or false if none was reported.
func (b *Board) Snapshot() ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.snapshot) == 0 {
		return nil, false
	}
	return b.snapshot, true
}

// Report applies one canvas update from the browser. ready=false marks the
// canvas not ready; an empty snapshot leaves the previous one in place.
func (b *Board) Report(ready bool, elements []Element, snapshot []byte) {
	if ready {
		b.SetCanvas(&Canvas{Elements: elements})
	} else {
		b.SetCanvas(nil)
	}
	if len(snapshot) > 0 {
		b.SetSnapshot(snapshot)
	}
}

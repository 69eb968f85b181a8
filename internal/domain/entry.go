// Package domain contains core domain types for the Sistemas interview service.
package domain

import (
	"strings"
	"time"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// userMessageMarker separates the whiteboard summary from what the candidate typed.
const userMessageMarker = "[User Message]:\n"

// Entry is one turn in a session transcript. Entries are immutable once appended.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry returns an entry stamped with the current time.
func NewEntry(role Role, content string) Entry {
	return Entry{Role: role, Content: content, Timestamp: time.Now()}
}

// Display returns the content shown in the chat view. Enriched user messages
// carry a whiteboard summary that only the model should see.
func (e Entry) Display() string {
	if _, after, ok := strings.Cut(e.Content, userMessageMarker); ok {
		return after
	}
	return e.Content
}

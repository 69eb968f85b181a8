package domain

import "time"

// SessionRecord is the persisted envelope of one interview session.
type SessionRecord struct {
	ID         string     `json:"id"`
	ProblemID  string     `json:"problem_id"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Ended reports whether the session has been exited or expired.
func (r *SessionRecord) Ended() bool {
	return r.EndedAt != nil
}

package bughousedto

import "time"

type SessionSummary struct {
	Name       string    `json:"name"`
	Seated     int       `json:"seated"`
	UpdatedAt  time.Time `json:"updatedAt"`
	URL        string    `json:"url,omitempty"`
	Connection int       `json:"connections,omitempty"`
}

type SessionList struct {
	Sessions []SessionSummary `json:"sessions"`
}

type CreateSessionRequest struct {
	NewSessionName string `json:"newSessionName"`
}

// Event is what gets mirrored to external observers for each state change.
type Event struct {
	Session string    `json:"session"`
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

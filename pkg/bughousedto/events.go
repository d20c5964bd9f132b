// Package bughousedto holds the JSON shapes exchanged with browsers and
// other clients over the session websocket and HTTP API.
package bughousedto

import (
	"encoding/json"
	"fmt"
)

const (
	EventInitGame            = "initGame"
	EventPlayerNameChanged   = "playerNameChanged"
	EventNameChangeConfirmed = "nameChangeConfirmed"
	EventMove                = "move"
	EventGameChanged         = "gameChanged"
	EventPieceCaptured       = "pieceCaptured"
	EventMoveRejected        = "moveRejected"
	EventError               = "error"
)

// Envelope wraps every websocket text frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload under the given event type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

type Player struct {
	Name string `json:"name"`
}

// Hands maps "board1WhiteHand" etc. to piece letters in capture order.
type Hands map[string][]string

type InitGame struct {
	Session   string            `json:"session"`
	ConnID    string            `json:"connId"`
	FEN1      string            `json:"fen1"`
	FEN2      string            `json:"fen2"`
	Turn1     string            `json:"turn1"`
	Turn2     string            `json:"turn2"`
	Players   map[string]Player `json:"players"`
	Hands     Hands             `json:"hands"`
	Terminal1 string            `json:"terminal1"`
	Terminal2 string            `json:"terminal2"`
	MatchOver bool              `json:"matchOver"`
}

// PlayerNameChanged is both the seat claim request and its broadcast.
// An empty name in a broadcast means the seat was vacated.
type PlayerNameChanged struct {
	Seat string `json:"seat"`
	Name string `json:"name"`
}

type NameChangeConfirmed struct {
	Seat string `json:"seat"`
	Name string `json:"name"`
}

type MoveRequest struct {
	Board int       `json:"board"`
	Move  MoveField `json:"move"`
}

// MoveField accepts either a notation string ("e2e4", "Nf3") or an object
// {"from":"e2","to":"e4","promotion":"q"}.
type MoveField struct {
	Text      string `json:"-"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
}

func (m *MoveField) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = MoveField{Text: s}
		return nil
	}
	type plain MoveField
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("move must be a string or {from,to,promotion}: %w", err)
	}
	*m = MoveField(p)
	return nil
}

func (m MoveField) MarshalJSON() ([]byte, error) {
	if m.Text != "" {
		return json.Marshal(m.Text)
	}
	type plain MoveField
	return json.Marshal(plain(m))
}

type GameChanged struct {
	Board     int    `json:"board"`
	FEN       string `json:"fen"`
	Move      string `json:"move"`
	SAN       string `json:"san"`
	Seat      string `json:"seat"`
	Terminal  string `json:"terminal"`
	MatchOver bool   `json:"matchOver"`
	Hands     Hands  `json:"hands"`
}

type PieceCaptured struct {
	Board int    `json:"board"`
	Piece string `json:"piece"`
	Hand  string `json:"hand"`
	Hands Hands  `json:"hands"`
}

type MoveRejected struct {
	Board   int    `json:"board"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	FEN     string `json:"fen,omitempty"`
}

// Error reports a refused non-move request to its sender.
type Error struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

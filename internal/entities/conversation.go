package entities

import (
	"encoding/json"
	"time"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

type EntryType string

const (
	EntryText        EntryType = "text"
	EntryInteractive EntryType = "interactive"
)

const (
	StatusReceived = "received"
	StatusSent     = "sent"
	StatusFailed   = "failed"
)

// Entry is one message in a user's conversation log.
type Entry struct {
	ID         string                 `json:"id" bson:"id"`
	ExternalID string                 `json:"externalId,omitempty" bson:"externalId,omitempty"`
	Direction  Direction              `json:"direction" bson:"direction"`
	Type       EntryType              `json:"type" bson:"type"`
	Status     string                 `json:"status,omitempty" bson:"status,omitempty"`
	Payload    map[string]interface{} `json:"payload" bson:"payload"`
	Timestamp  time.Time              `json:"timestamp" bson:"timestamp"`
}

// ConversationRecord holds the append-only message log of one user.
type ConversationRecord struct {
	UserID       string    `json:"idUser" bson:"idUser"`
	Entries      []Entry   `json:"messages" bson:"messages"`
	LastActivity time.Time `json:"date" bson:"date"`
}

// PayloadOf converts any JSON-serializable value into a generic document.
func PayloadOf(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

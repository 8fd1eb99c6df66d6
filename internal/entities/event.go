package entities

import "time"

type MessageType string

const (
	MessageText        MessageType = "text"
	MessageInteractive MessageType = "interactive"
	MessageAudio       MessageType = "audio"
)

// InboundEvent is a single message notification delivered by the WhatsApp
// webhook. It is never mutated after parsing.
type InboundEvent struct {
	ExternalID    string      // wamid, unique per delivery
	From          string      // idUser (sender phone number)
	Timestamp     time.Time   // provider timestamp
	Type          MessageType // "text", "interactive", "audio", ...
	Text          string      // text body
	ReplyID       string      // interactive reply id
	ReplyTitle    string      // interactive reply title
	PhoneNumberID string      // business number the event was delivered to
	Signature     string      // X-Hub-Signature-256 of the enclosing delivery
	RetryCount    int
	Raw           map[string]interface{} // original message object, kept for the conversation log
}

// Content returns the user-visible part of the message.
func (e InboundEvent) Content() string {
	if e.Type == MessageInteractive {
		if e.ReplyTitle != "" {
			return e.ReplyTitle
		}
		return e.ReplyID
	}
	return e.Text
}

// Payload is what gets persisted for the inbound entry.
func (e InboundEvent) Payload() map[string]interface{} {
	if len(e.Raw) > 0 {
		return e.Raw
	}
	p := map[string]interface{}{
		"id":        e.ExternalID,
		"from":      e.From,
		"type":      string(e.Type),
		"timestamp": e.Timestamp.Unix(),
	}
	switch e.Type {
	case MessageText:
		p["text"] = map[string]interface{}{"body": e.Text}
	case MessageInteractive:
		p["interactive"] = map[string]interface{}{"id": e.ReplyID, "title": e.ReplyTitle}
	}
	return p
}

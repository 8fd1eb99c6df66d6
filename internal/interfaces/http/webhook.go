package http

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

// WebhookPayload is the Cloud API webhook delivery.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Messages         []json.RawMessage `json:"messages,omitempty"`
	Statuses         []json.RawMessage `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Message struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *TextContent        `json:"text,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
	Button      *ButtonContent      `json:"button,omitempty"`
}

type TextContent struct {
	Body string `json:"body"`
}

type InteractiveContent struct {
	Type        string      `json:"type"`
	ButtonReply *ReplyTitle `json:"button_reply,omitempty"`
	ListReply   *ReplyTitle `json:"list_reply,omitempty"`
}

type ReplyTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ButtonContent is the reply to a template quick-reply button.
type ButtonContent struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// toEvent maps one raw message onto an InboundEvent.
func toEvent(raw json.RawMessage, phoneNumberID, signature string) (entities.InboundEvent, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return entities.InboundEvent{}, err
	}
	var original map[string]interface{}
	if err := json.Unmarshal(raw, &original); err != nil {
		return entities.InboundEvent{}, err
	}

	ev := entities.InboundEvent{
		ExternalID:    msg.ID,
		From:          msg.From,
		Timestamp:     parseUnix(msg.Timestamp),
		Type:          entities.MessageType(msg.Type),
		PhoneNumberID: phoneNumberID,
		Signature:     signature,
		Raw:           original,
	}

	switch {
	case msg.Type == "text" && msg.Text != nil:
		ev.Text = SanitizeString(msg.Text.Body)
	case msg.Type == "interactive" && msg.Interactive != nil:
		reply := msg.Interactive.ButtonReply
		if reply == nil {
			reply = msg.Interactive.ListReply
		}
		if reply != nil {
			ev.ReplyID = reply.ID
			ev.ReplyTitle = SanitizeString(reply.Title)
		}
	case msg.Type == "button" && msg.Button != nil:
		ev.Type = entities.MessageInteractive
		ev.ReplyID = msg.Button.Payload
		ev.ReplyTitle = SanitizeString(msg.Button.Text)
	}
	return ev, nil
}

func parseUnix(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

package entities

// OutboundMessage is the request body of the WhatsApp Cloud API send endpoint.
type OutboundMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextBody    `json:"text,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
}

type TextBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// Interactive is a "cta_url" interactive message: body, optional footer and
// a single URL button.
type Interactive struct {
	Type   string            `json:"type"`
	Body   InteractiveText   `json:"body"`
	Footer *InteractiveText  `json:"footer,omitempty"`
	Action InteractiveAction `json:"action"`
}

type InteractiveText struct {
	Text string `json:"text"`
}

type InteractiveAction struct {
	Name       string        `json:"name"`
	Parameters CTAParameters `json:"parameters"`
}

type CTAParameters struct {
	DisplayText string `json:"display_text"`
	URL         string `json:"url"`
}

// EntryType maps the message onto the conversation log type.
func (m OutboundMessage) EntryType() EntryType {
	if m.Type == "interactive" {
		return EntryInteractive
	}
	return EntryText
}

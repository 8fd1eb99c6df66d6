package usecases

import (
	"unicode/utf8"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

// Cloud API field limits, in characters.
const (
	MaxTextBody        = 4096
	MaxInteractiveBody = 1024
	MaxButtonLabel     = 20
	MaxFooter          = 60
)

const ellipsis = "…"

// Composer builds send API payloads. It never fails: oversized fields are
// cut and marked with an ellipsis.
type Composer struct {
	Footer string
}

func NewComposer(footer string) *Composer {
	return &Composer{Footer: footer}
}

func (c *Composer) ComposeText(userID, text string) entities.OutboundMessage {
	return entities.OutboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               userID,
		Type:             "text",
		Text:             &entities.TextBody{Body: truncate(text, MaxTextBody)},
	}
}

func (c *Composer) ComposeInteractive(userID, text, ctaLabel, ctaURL string) entities.OutboundMessage {
	in := &entities.Interactive{
		Type: "cta_url",
		Body: entities.InteractiveText{Text: truncate(text, MaxInteractiveBody)},
		Action: entities.InteractiveAction{
			Name: "cta_url",
			Parameters: entities.CTAParameters{
				DisplayText: truncate(ctaLabel, MaxButtonLabel),
				URL:         ctaURL,
			},
		},
	}
	if c.Footer != "" {
		in.Footer = &entities.InteractiveText{Text: truncate(c.Footer, MaxFooter)}
	}
	return entities.OutboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               userID,
		Type:             "interactive",
		Interactive:      in,
	}
}

// truncate cuts s to at most max runes, the last one being the ellipsis.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + ellipsis
}

package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

const defaultGraphAPIURL = "https://graph.facebook.com/v21.0"

type WhatsAppBusinessClient struct {
	baseURL       string
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func NewWhatsAppBusinessClient(baseURL, accessToken, phoneNumberID string, timeout time.Duration) (*WhatsAppBusinessClient, error) {
	if accessToken == "" || phoneNumberID == "" {
		return nil, errors.New("whatsapp: access token and phone number id are required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultGraphAPIURL
	}
	if timeout <= 0 {
		timeout = defaultSCITimeout
	}
	return &WhatsAppBusinessClient{
		baseURL:       baseURL,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		httpClient:    &http.Client{Timeout: timeout},
	}, nil
}

// Send posts msg to the Cloud API and returns the wamid of the sent message.
func (w *WhatsAppBusinessClient) Send(ctx context.Context, msg entities.OutboundMessage) (string, error) {
	if msg.MessagingProduct == "" {
		msg.MessagingProduct = "whatsapp"
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)
	req.Header.Set("Content-Type", "application/json")

	var out sendResponse
	if err := doJSON(w.httpClient, req, &out); err != nil {
		return "", fmt.Errorf("whatsapp: send to %s: %w", msg.To, err)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

// TelegramAlerter pushes operator alerts to a Telegram chat.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramAlerter(token string, chatID int64) (*TelegramAlerter, error) {
	return NewTelegramAlerterWithEndpoint(token, tgbotapi.APIEndpoint, chatID)
}

// NewTelegramAlerterWithEndpoint talks to a Bot API at endpoint, a format
// string taking the token and the method name.
func NewTelegramAlerterWithEndpoint(token, endpoint string, chatID int64) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramAlerter{bot: bot, chatID: chatID}, nil
}

func (t *TelegramAlerter) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	_, err := t.bot.Send(msg)
	return err
}

// NopAlerter drops every alert.
type NopAlerter struct{}

func (NopAlerter) Alert(context.Context, string) error { return nil }

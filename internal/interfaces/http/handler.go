package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/juanvgus/prueba-syc/internal/entities"
	"github.com/juanvgus/prueba-syc/internal/usecases"
)

const WebhookPath = "/api/webhookMeta/webhookMessage"

// Dispatcher accepts inbound events for processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev entities.InboundEvent) usecases.Outcome
}

type Handler struct {
	dispatcher    Dispatcher
	verifyToken   string
	appSecret     string
	phoneNumberID string
	log           zerolog.Logger
}

func NewHandler(dispatcher Dispatcher, verifyToken, appSecret, phoneNumberID string, log zerolog.Logger) *Handler {
	return &Handler{
		dispatcher:    dispatcher,
		verifyToken:   verifyToken,
		appSecret:     appSecret,
		phoneNumberID: phoneNumberID,
		log:           log,
	}
}

// RateSettings configures the per-client limit of the operator API.
type RateSettings struct {
	Limit rate.Limit
	Burst int
}

func SetupRoutes(r *gin.Engine, h *Handler, admin *AdminHandler, auth *usecases.AuthUsecase, middleware *Middleware, origin string, limits RateSettings) {
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(MaxWebhookBody))
	r.Use(CORSMiddleware(origin))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET(WebhookPath, h.VerifyWebhook)
	r.POST(WebhookPath, h.ReceiveWebhook)

	authGroup := r.Group("/api/auth")
	authGroup.Use(middleware.RateLimitPerClient(limits.Limit, limits.Burst))
	{
		authGroup.POST("/login", func(c *gin.Context) {
			var loginReq struct {
				Username string `json:"username" binding:"required"`
				Password string `json:"password" binding:"required"`
			}
			if err := c.ShouldBindJSON(&loginReq); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := auth.Login(loginReq.Username, loginReq.Password)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
	}

	api := r.Group("/api")
	api.Use(middleware.AuthRequired(), middleware.RateLimitPerClient(limits.Limit, limits.Burst))
	{
		api.GET("/reports/:idUser", admin.GetReport)
		api.GET("/reports/:idUser/qr", admin.GetReportQR)
		api.GET("/conversations/:idUser", admin.GetConversation)
	}
}

// VerifyWebhook answers the subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.verifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	h.log.Warn().Str("mode", mode).Msg("webhook verification rejected")
	c.String(http.StatusForbidden, "Forbidden")
}

// ReceiveWebhook checks the delivery is authentic and dispatches every
// message in it. Processing failures never change the 200 answer.
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader("X-Hub-Signature-256")
	if !VerifySignature(h.appSecret, signature, body) {
		h.log.Warn().Str("client_ip", c.ClientIP()).Msg("webhook signature mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	received, ignored := 0, 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Value.Metadata.PhoneNumberID != h.phoneNumberID {
				ignored += len(change.Value.Messages)
				h.log.Warn().
					Str("phone_number_id", change.Value.Metadata.PhoneNumberID).
					Msg("delivery for another phone number ignored")
				continue
			}
			for _, raw := range change.Value.Messages {
				ev, err := toEvent(raw, change.Value.Metadata.PhoneNumberID, signature)
				if err != nil || ev.ExternalID == "" || !ValidUserID(ev.From) {
					ignored++
					h.log.Warn().Err(err).Msg("malformed webhook message skipped")
					continue
				}
				out := h.dispatcher.Dispatch(c.Request.Context(), ev)
				h.log.Info().
					Str("idUser", ev.From).
					Str("externalId", ev.ExternalID).
					Str("type", string(ev.Type)).
					Bool("duplicate", out.Duplicate).
					Msg("webhook message accepted")
				received++
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "received": received, "ignored": ignored})
}

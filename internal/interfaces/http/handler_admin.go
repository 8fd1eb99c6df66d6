package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/juanvgus/prueba-syc/internal/interfaces"
)

// AdminHandler serves the operator lookups.
type AdminHandler struct {
	store interfaces.ConversationStore
	log   zerolog.Logger
}

func NewAdminHandler(store interfaces.ConversationStore, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{store: store, log: log}
}

func (h *AdminHandler) userID(c *gin.Context) (string, bool) {
	id := c.Param("idUser")
	if !ValidUserID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid idUser"})
		return "", false
	}
	return id, true
}

// GetReport returns the latest debt report of a user
func (h *AdminHandler) GetReport(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}
	report, err := h.store.LatestReport(c.Request.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("idUser", id).Msg("load report failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load report"})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetReportQR renders the payment URL of the latest report as a PNG QR code
func (h *AdminHandler) GetReportQR(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}
	report, err := h.store.LatestReport(c.Request.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("idUser", id).Msg("load report failed")
		c.String(http.StatusInternalServerError, "Failed to load report")
		return
	}
	if report == nil || report.Report.PaymentURL == "" {
		c.String(http.StatusNotFound, "No payment link for this user")
		return
	}

	png, err := qrcode.Encode(report.Report.PaymentURL, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// GetConversation returns the message log of a user
func (h *AdminHandler) GetConversation(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}
	record, err := h.store.Conversation(c.Request.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("idUser", id).Msg("load conversation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

package handler

import (
	"net/http"

	"app/internal/service"

	"github.com/rs/zerolog"
)

// WebhookHandler receives billing provider webhooks. These endpoints are
// authenticated by signature, not by user JWT.
type WebhookHandler struct {
	polarSvc *service.PolarService
	logger   zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(polarSvc *service.PolarService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{polarSvc: polarSvc, logger: logger}
}

// RegisterRoutes registers the webhook endpoints.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/polar", h.HandlePolar)
}

// HandlePolar godoc
// @Summary Receive a Polar webhook event
// @Description Verifies the Standard Webhooks signature and applies the billing event to the entitlement store.
// @Tags webhooks
// @Accept json
// @Success 200 {string} string "ok"
// @Failure 400 {string} string "signature verification failed"
// @Failure 500 {string} string "failed to apply event"
// @Router /webhooks/polar [post]
func (h *WebhookHandler) HandlePolar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	h.polarSvc.HandleWebhook(w, r)
}

package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// ChatHandler proxies chat requests to the AI service, gated by the caller's
// subscription tier and the per-tier rate limit.
type ChatHandler struct {
	subSvc       service.SubscriptionService
	rateLimitSvc *service.RateLimitService
	aiClient     service.AIClient
	limitFree    int
	limitPro     int
	validate     *validator.Validate
	logger       zerolog.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(subSvc service.SubscriptionService, rateLimitSvc *service.RateLimitService, aiClient service.AIClient, limitFree, limitPro int, v *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		subSvc:       subSvc,
		rateLimitSvc: rateLimitSvc,
		aiClient:     aiClient,
		limitFree:    limitFree,
		limitPro:     limitPro,
		validate:     v,
		logger:       logger,
	}
}

// RegisterRoutes registers the chat endpoints.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/chat", authMiddleware(http.HandlerFunc(h.Chat)))
}

// Chat godoc
// @Summary Stream a chat response from the AI service
// @Description Checks the caller's tier and rate limit, then proxies the SSE stream from the upstream AI service.
// @Tags chat
// @Accept json
// @Produce text/event-stream
// @Param chat body dto.ChatRequest true "Chat request"
// @Success 200 {string} string "SSE stream"
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 429 {string} string "rate limit exceeded"
// @Failure 502 {string} string "ai service unavailable"
// @Router /chat [post]
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req dto.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Default FREE rows are active but carry no product; only paid
	// entitlements get the pro budget.
	tier := "free"
	limit := h.limitFree
	access := h.subSvc.GetAccessStatus(r.Context(), userID)
	if access.HasAccess && access.PolarProductID != nil {
		tier = "pro"
		limit = h.limitPro
	}

	rl := h.rateLimitSvc.Check(r.Context(), tier, userID, limit)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	if !rl.Allowed {
		retryAfter := int(time.Until(rl.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	stream, err := h.aiClient.StreamChat(r.Context(), userID, req.Message, req.Model)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to stream chat response")
		http.Error(w, "ai service unavailable", http.StatusBadGateway)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				h.logger.Warn().Err(err).Str("user_id", userID).Msg("chat stream interrupted")
			}
			return
		}
	}
}

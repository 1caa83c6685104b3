package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// AIClient proxies chat requests to the upstream AI service.
type AIClient interface {
	StreamChat(ctx context.Context, userID string, messageParts []map[string]interface{}, model string) (io.ReadCloser, error)
}

type aiClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewAIClient(baseURL string, logger zerolog.Logger) AIClient {
	return &aiClient{
		baseURL: baseURL,
		client:  &http.Client{
			// No timeout for streaming - rely on context cancellation instead
		},
		logger: logger.With().Str("service", "AIClient").Logger(),
	}
}

type aiChatRequest struct {
	UserID  string                   `json:"user_id"`
	Message []map[string]interface{} `json:"message"`
	Model   string                   `json:"model"`
}

// StreamChat forwards the message to the AI service and returns the raw SSE
// stream. The caller owns closing the returned body.
func (c *aiClient) StreamChat(ctx context.Context, userID string, messageParts []map[string]interface{}, model string) (io.ReadCloser, error) {
	reqBody := aiChatRequest{
		UserID:  userID,
		Message: messageParts,
		Model:   model,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	url := fmt.Sprintf("%s/chat", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request to AI service: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			c.logger.Warn().Err(readErr).Int("status_code", resp.StatusCode).Msg("Failed to read error body from AI service")
			return nil, fmt.Errorf("ai service returned status %d", resp.StatusCode)
		}

		errorMsg := string(bodyBytes)
		c.logger.Error().
			Int("status_code", resp.StatusCode).
			Str("error_body", errorMsg).
			Msg("AI service returned error")

		return nil, fmt.Errorf("ai service returned status %d: %s", resp.StatusCode, errorMsg)
	}

	return resp.Body, nil
}

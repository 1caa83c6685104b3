package dto

// ChatRequest is the payload proxied to the upstream AI service.
type ChatRequest struct {
	Message []map[string]interface{} `json:"message" validate:"required,min=1"`
	Model   string                   `json:"model"`
}

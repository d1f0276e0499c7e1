package server

import "github.com/mohammad-safakhou/analyst/internal/modelcfg"

// HTTPError is the JSON error envelope emitted by the error handler.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ChatRequest struct {
	Query string `json:"query"`
}

// DirectChatResponse echoes the invocation alongside the merged output of
// the named agents.
type DirectChatResponse struct {
	AgentName string `json:"agent_name"`
	Query     string `json:"query"`
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

type SessionResponse struct {
	ID            string            `json:"id"`
	ChatID        string            `json:"chat_id"`
	UserID        string            `json:"user_id,omitempty"`
	Dataset       string            `json:"dataset"`
	FrameName     string            `json:"frame_name"`
	Description   string            `json:"description"`
	ModelSettings modelcfg.Settings `json:"model_settings"`
}

type DatasetUpdateRequest struct {
	Name        string `json:"name"`
	FrameName   string `json:"frame_name,omitempty"`
	Description string `json:"description,omitempty"`
}

type SetUserRequest struct {
	UserID string `json:"user_id"`
}

type ModelSettingsRequest struct {
	Provider            string  `json:"provider,omitempty"`
	Model               string  `json:"model"`
	Temperature         float64 `json:"temperature"`
	MaxTokens           *int    `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int    `json:"max_completion_tokens,omitempty"`
}

type AgentInfo struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Inputs      []string `json:"inputs,omitempty"`
}

type AgentListResponse struct {
	Standard []AgentInfo `json:"standard"`
	Template []AgentInfo `json:"template"`
	Custom   []AgentInfo `json:"custom"`
}

type CustomAgentRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Inputs      []string `json:"inputs"`
}

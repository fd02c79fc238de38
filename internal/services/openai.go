package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/pbem-engine/pkg/chat"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
)

// OpenAIService implements LLMService against any OpenAI-compatible
// chat completions endpoint
type OpenAIService struct {
	apiKey     string
	modelName  string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// OpenAIChatRequest represents the request structure for chat completions
type OpenAIChatRequest struct {
	Model       string             `json:"model"`
	Messages    []chat.ChatMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

// OpenAIChoice represents a single choice in the response
type OpenAIChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		Refusal string `json:"refusal,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// OpenAIChatResponse represents the response structure for chat completions
type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIService creates a chat completions client. An empty baseURL
// uses the public OpenAI endpoint.
func NewOpenAIService(apiKey, modelName, baseURL string, logger *slog.Logger) *OpenAIService {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &OpenAIService{
		apiKey:    apiKey,
		modelName: modelName,
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger: logger,
	}
}

func (c *OpenAIService) Name() string {
	return "openai:" + c.modelName
}

// Complete sends a chat completions request with the system prompt as
// the first message
func (c *OpenAIService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := req.Messages()
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}
	if req.System != "" {
		messages = append([]chat.ChatMessage{{Role: chat.ChatRoleSystem, Content: req.System}}, messages...)
	}

	settings := SettingsFor(req.Profile)
	request := OpenAIChatRequest{
		Model:       c.modelName,
		Messages:    messages,
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp OpenAIChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from API")
	}

	choice := chatResp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("model refused to respond: %s", choice.Message.Refusal)
	}
	if choice.Message.Content == "" {
		return "", fmt.Errorf("no text content found in response")
	}

	c.logger.Debug("OpenAI completion finished",
		"profile", req.Profile,
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens)

	return choice.Message.Content, nil
}

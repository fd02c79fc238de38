package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/pbem-engine/pkg/chat"
	"google.golang.org/genai"
)

// GeminiService implements LLMService using the Gemini API
type GeminiService struct {
	client    *genai.Client
	modelName string
	logger    *slog.Logger
}

// NewGeminiService creates a Gemini client. baseURL is optional and only
// used to point the client at a test server.
func NewGeminiService(ctx context.Context, apiKey, modelName, baseURL string, logger *slog.Logger) (*GeminiService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiService{
		client:    client,
		modelName: modelName,
		logger:    logger,
	}, nil
}

func (g *GeminiService) Name() string {
	return "gemini:" + g.modelName
}

func (g *GeminiService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := req.Messages()
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}

	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == chat.ChatRoleAgent {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	settings := SettingsFor(req.Profile)
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(settings.Temperature)),
		MaxOutputTokens: int32(settings.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no text content found in response")
	}
	return text, nil
}

package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/stationwx/wxboard/internal/ai"
	"github.com/stationwx/wxboard/pkg/logger"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// Client is a Google Gemini chat provider.
type Client struct {
	client *genai.Client
	logger *logger.Logger
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, apiKey string, log *logger.Logger) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{
		client: c,
		logger: log.Named("gemini"),
	}, nil
}

// ChatCompletion implements ai.ChatProvider on the Gemini text API.
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, cfg ai.ChatConfig) (string, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	genCfg := &genai.GenerateContentConfig{}
	if cfg.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	var system, user []string
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
		} else {
			user = append(user, m.Content)
		}
	}
	if len(system) > 0 {
		genCfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n"), genai.RoleUser)
	}

	c.logger.Debug("Sending chat completion request",
		logger.String("model", model),
		logger.Int("messages", len(messages)))

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(strings.Join(user, "\n\n")), genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}

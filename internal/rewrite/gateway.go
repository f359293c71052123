// Package rewrite sends chat news through an OpenAI-compatible completion
// service for editorial cleanup.
package rewrite

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/news"
)

// Defaults for the hosted rewrite service.
const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.5
	DefaultTimeout     = 60 * time.Second
)

// SystemInstruction constrains the service to light editing.
const SystemInstruction = "You are an experienced news editor. Rewrite the text carefully: " +
	"keep every fact and the original meaning, remove service tags and broadcast mentions " +
	"such as @everyone and @here, and fix obvious typos. Never invent events or add claims " +
	"that are not in the text. Put a short headline on the first line. " +
	"Answer in the language of the original text."

// Config configures a Gateway.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// Gateway rewrites text. It never fails: any error returns the input as is.
type Gateway struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *logging.Logger
}

// New creates a gateway.
func New(cfg Config, logger *logging.Logger) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Gateway{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Rewrite returns the edited text, or original on any failure. There is one
// request per call and no retry.
func (g *Gateway) Rewrite(ctx context.Context, original string) string {
	out, err := g.complete(ctx, original)
	if err != nil {
		g.logger.Warning("[rewrite] using original text: %v", err)
		return original
	}
	return out
}

func (g *Gateway) complete(ctx context.Context, original string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: SystemInstruction,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: original,
			},
		},
		Temperature: g.temperature,
	})
	if err != nil {
		return "", news.Errorf(news.KindTransient, "rewrite", err)
	}

	if len(resp.Choices) == 0 {
		return "", news.Errorf(news.KindTransient, "rewrite", errors.New("response has no choices"))
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", news.Errorf(news.KindTransient, "rewrite", errors.New("response has empty content"))
	}
	return content, nil
}

package appraisal

import (
	"context"
	"errors"
	"strings"
	"unicode"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// LLMCaller sends one prompt and returns the model's text. Photos are URLs.
type LLMCaller interface {
	Complete(ctx context.Context, prompt string, photos []string) (string, error)
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type AnthropicConfig struct {
	APIKey            string
	Model             string
	MaxTokens         int64
	RequestsPerSecond float64
}

type AnthropicCaller struct {
	messages  AnthropicMessager
	model     anthropic.Model
	maxTokens int64
	limiter   *rate.Limiter
}

func NewAnthropicCaller(cfg AnthropicConfig) (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	model := anthropic.ModelClaudeSonnet4_20250514
	if strings.TrimSpace(cfg.Model) != "" {
		model = anthropic.Model(cfg.Model)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &AnthropicCaller{
		messages:  newAnthropicClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(limit, 1),
	}, nil
}

func (a *AnthropicCaller) Complete(ctx context.Context, prompt string, photos []string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(photos)+1)
	for _, url := range photos {
		if strings.TrimSpace(url) == "" {
			continue
		}
		blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: url}))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	} else {
		// Fence and payload share a line; drop the language tag.
		s = strings.TrimLeftFunc(s, unicode.IsLetter)
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

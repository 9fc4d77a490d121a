package structuring

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
)

// Generation is the raw outcome of one model call.
type Generation struct {
	Text  string
	Usage models.TokenUsage
}

// Generator is the external language-model capability. Treated as
// unreliable: it may return malformed output, be rate-limited, or time
// out.
type Generator interface {
	Generate(ctx context.Context, system, user string) (*Generation, error)
}

// OpenAIGenerator implements Generator against an OpenAI-compatible
// chat-completions endpoint.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator for the given credentials.
// A custom baseURL targets self-hosted OpenAI-compatible endpoints.
func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIGenerator{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Generate performs one chat completion and reports token usage.
func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string) (*Generation, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(0.2),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	return &Generation{
		Text: resp.Choices[0].Message.Content,
		Usage: models.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

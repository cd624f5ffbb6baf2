package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Retry        RetryPolicy
}

// OpenAIProvider implements Provider over the OpenAI chat completions API.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	retry        RetryPolicy
}

// NewOpenAIProvider builds an OpenAI-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryPolicy()
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
		retry:        retry,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []Model {
	return []Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
		{ID: "o3-mini", Name: "o3-mini", ContextSize: 200000},
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := toOpenAIMessages(req.System, req.Messages)
	apiReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
		Tools:     toOpenAITools(req.Tools),
	}

	out := make(chan CompletionChunk)

	var stream *openai.ChatCompletionStream
	err := p.retry.Retry(ctx, isRetryableOpenAIError, func() error {
		s, err := p.client.CreateChatCompletionStream(ctx, apiReq)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		defer stream.Close()

		var inputTokens, outputTokens int
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			if err != nil {
				select {
				case out <- CompletionChunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if resp.Usage != nil {
				inputTokens = resp.Usage.PromptTokens
				outputTokens = resp.Usage.CompletionTokens
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					select {
					case out <- CompletionChunk{Text: choice.Delta.Content}:
					case <-ctx.Done():
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ref := &ToolCallRef{ID: tc.ID, Name: tc.Function.Name, Input: []byte(tc.Function.Arguments)}
					select {
					case out <- CompletionChunk{ToolCall: ref}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func toOpenAIMessages(system string, msgs []CompletionMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		role := m.Role
		switch role {
		case "tool":
			for _, tr := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}
		msg := openai.ChatCompletionMessage{Role: role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Schema),
			},
		})
	}
	return out
}

func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return false
}

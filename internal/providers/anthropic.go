package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	DefaultModel string
	Retry        RetryPolicy
}

// AnthropicProvider implements Provider over the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	retry        RetryPolicy
}

// NewAnthropicProvider builds an Anthropic-backed provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: api key required")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryPolicy()
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: model,
		retry:        retry,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []Model {
	return []Model{
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(req.Messages),
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget <= 0 {
			budget = 4096
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	out := make(chan CompletionChunk)

	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	err := p.retry.Retry(ctx, isRetryableAnthropicError, func() error {
		stream = p.client.Messages.NewStreaming(ctx, params)
		return nil
	})
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)

		var inputTokens, outputTokens int64
		var currentToolCall *ToolCallRef
		var currentToolInput strings.Builder
		inThinkingBlock := false

		send := func(c CompletionChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				ms := event.AsMessageStart()
				if ms.Message.Usage.InputTokens > 0 {
					inputTokens = ms.Message.Usage.InputTokens
				}

			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				switch block.Type {
				case "thinking":
					inThinkingBlock = true
					if !send(CompletionChunk{ThinkingStart: true}) {
						return
					}
				case "tool_use":
					tu := block.AsToolUse()
					currentToolCall = &ToolCallRef{ID: tu.ID, Name: tu.Name}
					currentToolInput.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" && !send(CompletionChunk{Text: delta.Text}) {
						return
					}
				case "thinking_delta":
					if delta.Thinking != "" && !send(CompletionChunk{Thinking: delta.Thinking}) {
						return
					}
				case "input_json_delta":
					currentToolInput.WriteString(delta.PartialJSON)
				}

			case "content_block_stop":
				if inThinkingBlock {
					inThinkingBlock = false
					if !send(CompletionChunk{ThinkingEnd: true}) {
						return
					}
				} else if currentToolCall != nil {
					currentToolCall.Input = []byte(currentToolInput.String())
					ref := currentToolCall
					currentToolCall = nil
					if !send(CompletionChunk{ToolCall: ref}) {
						return
					}
				}

			case "message_delta":
				md := event.AsMessageDelta()
				if md.Usage.OutputTokens > 0 {
					outputTokens = md.Usage.OutputTokens
				}

			case "message_stop":
				send(CompletionChunk{Done: true, InputTokens: int(inputTokens), OutputTokens: int(outputTokens)})
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(CompletionChunk{Err: err})
		}
	}()

	return out, nil
}

func toAnthropicMessages(msgs []CompletionMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolResults))
			for _, tr := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func toAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{}, t.Name))
	}
	return out
}

func isRetryableAnthropicError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

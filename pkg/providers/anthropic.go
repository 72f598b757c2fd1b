package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ikamba/ikamba-agent/pkg/logger"
)

type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey, apiBase string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*Response, error) {
	params := buildAnthropicParams(messages, tools, model, options)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAnthropicError(err)
	}
	return convertAnthropicMessage(msg), nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onDelta func(string)) (*Response, error) {
	params := buildAnthropicParams(messages, tools, model, options)

	stream := p.client.Messages.NewStreaming(ctx, params)
	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			logger.WarnCF("providers", "Stream accumulate failed",
				map[string]interface{}{"error": err.Error()})
			continue
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
				if delta.Text != "" && onDelta != nil {
					onDelta(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapAnthropicError(err)
	}
	return convertAnthropicMessage(&message), nil
}

func buildAnthropicParams(messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(intOption(options, "max_tokens", 2048)),
	}
	if temp := floatOption(options, "temperature", -1); temp >= 0 {
		params.Temperature = anthropic.Float(temp)
	}

	for _, m := range messages {
		switch m.Role {
		case "system":
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				name := tc.Name
				input := tc.Arguments
				if tc.Function != nil {
					name = tc.Function.Name
					if input == nil {
						input = map[string]interface{}{}
						_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, name))
			}
			if len(blocks) > 0 {
				params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
			for _, url := range m.Media {
				blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: url}))
			}
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}

	for _, t := range tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Function.Name,
				Description: anthropic.String(t.Function.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Function.Parameters["properties"],
					Required:   stringSlice(t.Function.Parameters["required"]),
				},
			},
		})
	}
	return params
}

func convertAnthropicMessage(msg *anthropic.Message) *Response {
	resp := &Response{
		FinishReason: string(msg.StopReason),
		Usage: &Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			args := map[string]interface{}{}
			raw := []byte(b.JSON.Input.Raw())
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					logger.WarnCF("providers", "Unparseable tool use input",
						map[string]interface{}{"tool": b.Name, "error": err.Error()})
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        b.ID,
				Type:      "function",
				Name:      b.Name,
				Arguments: args,
				Function: &FunctionCall{
					Name:      b.Name,
					Arguments: string(raw),
				},
			})
		}
	}
	return resp
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return &RateLimitError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return err
}

func stringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

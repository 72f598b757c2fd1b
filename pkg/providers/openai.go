package providers

import (
	"context"
	"encoding/json"
	"errors"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/ikamba/ikamba-agent/pkg/logger"
)

// OpenAIProvider talks to the OpenAI chat completions API (or any
// compatible endpoint via api_base).
type OpenAIProvider struct {
	client openai.Client
}

func NewOpenAIProvider(apiKey, apiBase string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*Response, error) {
	params := p.buildParams(messages, tools, model, options)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return &Response{}, nil
	}
	return p.convertCompletion(completion), nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onDelta func(string)) (*Response, error) {
	params := p.buildParams(messages, tools, model, options)

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" && onDelta != nil {
				onDelta(delta)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(acc.Choices) == 0 {
		return &Response{}, nil
	}
	return p.convertCompletion(&acc.ChatCompletion), nil
}

func (p *OpenAIProvider) buildParams(messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    convertMessages(messages),
		MaxTokens:   openai.Int(int64(intOption(options, "max_tokens", 2048))),
		Temperature: openai.Float(floatOption(options, "temperature", 0.3)),
	}
	if len(tools) > 0 {
		converted := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
		for _, t := range tools {
			converted = append(converted, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
				Name:        t.Function.Name,
				Description: openai.String(t.Function.Description),
				Parameters:  shared.FunctionParameters(t.Function.Parameters),
			}))
		}
		params.Tools = converted
	}
	return params
}

func convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args := ""
				name := tc.Name
				if tc.Function != nil {
					args = tc.Function.Arguments
					name = tc.Function.Name
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      name,
							Arguments: args,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			if len(m.Media) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(m.Content),
			}
			for _, url := range m.Media {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: url,
				}))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

func (p *OpenAIProvider) convertCompletion(completion *openai.ChatCompletion) *Response {
	choice := completion.Choices[0]
	resp := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				logger.WarnCF("providers", "Unparseable tool call arguments",
					map[string]interface{}{"tool": tc.Function.Name, "error": err.Error()})
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Type:      "function",
			Name:      tc.Function.Name,
			Arguments: args,
			Function: &FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return resp
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return &RateLimitError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return err
}

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ikamba/ikamba-agent/pkg/config"
	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/providers"
	"github.com/ikamba/ikamba-agent/pkg/tools"
	"github.com/ikamba/ikamba-agent/pkg/utils"
)

// TranscriptStore is the per-channel conversation memory.
type TranscriptStore interface {
	AppendTranscript(ctx context.Context, channelID string, msg providers.Message, maxTurns int) error
	Transcript(ctx context.Context, channelID string) ([]providers.Message, error)
}

// UsageSink receives token accounting for every model call. A nil
// usage means the provider omitted counts for that call.
type UsageSink interface {
	RecordTurn(channelKey, provider, model string, usage *providers.Usage)
}

// Request is one inbound chat turn.
type Request struct {
	Channel    string
	ChatID     string
	UserID     string
	Content    string
	ImagePaths []string // local files downloaded by the channel
}

// Reply is the final assistant output for a turn. Content is the full
// text; deltas were already streamed through the callback.
type Reply struct {
	Content  string
	ToolsRun []string
}

// Loop drives one request end to end: assemble context, ask the model,
// run at most one round of tool calls, ask once more, stream the
// answer.
type Loop struct {
	provider    providers.LLMProvider
	registry    *tools.ToolRegistry
	assembler   *Assembler
	prompts     *PromptBuilder
	transcripts TranscriptStore

	model           string
	maxTokens       int
	temperature     float64
	requestTimeout  time.Duration
	historyTurns    int
	paymentKeywords []string

	usage UsageSink
}

// SetUsageSink enables token accounting. Optional.
func (l *Loop) SetUsageSink(sink UsageSink) {
	l.usage = sink
}

func NewLoop(
	provider providers.LLMProvider,
	registry *tools.ToolRegistry,
	assembler *Assembler,
	prompts *PromptBuilder,
	transcripts TranscriptStore,
	cfg config.AgentConfig,
) *Loop {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Loop{
		provider:        provider,
		registry:        registry,
		assembler:       assembler,
		prompts:         prompts,
		transcripts:     transcripts,
		model:           cfg.Model,
		maxTokens:       cfg.MaxTokens,
		temperature:     cfg.Temperature,
		requestTimeout:  timeout,
		historyTurns:    cfg.HistoryTurns,
		paymentKeywords: cfg.PaymentKeywords,
	}
}

// Process handles one turn. onDelta receives raw text fragments as the
// model produces them; callers wrap it with the streaming relay.
func (l *Loop) Process(ctx context.Context, req Request, onDelta func(string)) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, l.requestTimeout)
	defer cancel()

	channelID := transcriptKey(req.Channel, req.ChatID)

	snap := l.assembler.Snapshot(ctx, channelID, req.UserID)

	turn := tools.Turn{
		Channel:    req.Channel,
		ChatID:     req.ChatID,
		UserID:     req.UserID,
		AccountID:  snap.AccountID,
		ImagePaths: req.ImagePaths,
	}
	l.registry.SetTurn(turn)

	history, err := l.transcripts.Transcript(ctx, channelID)
	if err != nil {
		logger.WarnCF("agent", "Transcript load failed, starting fresh", map[string]interface{}{
			"channel_id": channelID,
			"error":      err.Error(),
		})
		history = nil
	}

	// A proof image after payment instructions never goes through the
	// model: it must reach upload_payment_proof no matter how the model
	// would have described it.
	if len(req.ImagePaths) > 0 && l.paymentEvidence(history) {
		return l.shortCircuitProof(ctx, channelID, req, onDelta)
	}

	systemPrompt := l.prompts.BuildSystemPrompt(snap, req.Channel)
	media := encodeMedia(req.ImagePaths)
	messages := l.prompts.BuildMessages(systemPrompt, history, req.Content, media)

	options := map[string]interface{}{
		"max_tokens":  l.maxTokens,
		"temperature": l.temperature,
	}
	defs := l.registry.GetDefinitions()

	first, err := l.provider.ChatStream(ctx, messages, defs, l.model, options, onDelta)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	l.recordUsage(channelID, first.Usage)

	reply := &Reply{Content: first.Content}
	if len(first.ToolCalls) > 0 {
		reply, err = l.runToolRound(ctx, channelID, messages, first, options, onDelta)
		if err != nil {
			return nil, err
		}
	}

	l.remember(ctx, channelID, req, reply.Content)
	return reply, nil
}

// runToolRound executes every requested call in the model's order,
// appends the outputs in that same order, and makes exactly one
// follow-up call without tools.
func (l *Loop) runToolRound(ctx context.Context, channelID string, messages []providers.Message, first *providers.Response, options map[string]interface{}, onDelta func(string)) (*Reply, error) {
	messages = append(messages, providers.Message{
		Role:      "assistant",
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})

	var ran []string
	for _, tc := range first.ToolCalls {
		result := l.registry.Execute(ctx, tc.Name, tc.Arguments)
		ran = append(ran, tc.Name)

		content := result.ForLLM
		if content == "" && result.Err != nil {
			content = result.Err.Error()
		}
		logger.InfoCF("agent", "Tool executed", map[string]interface{}{
			"tool":     tc.Name,
			"is_error": result.IsError,
		})
		messages = append(messages, providers.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: tc.ID,
		})
	}

	final, err := l.provider.ChatStream(ctx, messages, nil, l.model, options, onDelta)
	if err != nil {
		return nil, fmt.Errorf("follow-up model call: %w", err)
	}
	l.recordUsage(channelID, final.Usage)
	return &Reply{Content: final.Content, ToolsRun: ran}, nil
}

func (l *Loop) recordUsage(channelKey string, u *providers.Usage) {
	if l.usage == nil {
		return
	}
	l.usage.RecordTurn(channelKey, providers.InferProviderFromModel(l.model), l.model, u)
}

// shortCircuitProof invokes upload_payment_proof directly and streams
// a synthesized confirmation.
func (l *Loop) shortCircuitProof(ctx context.Context, channelID string, req Request, onDelta func(string)) (*Reply, error) {
	logger.InfoCF("agent", "Proof image short-circuit", map[string]interface{}{
		"channel": req.Channel,
		"user_id": req.UserID,
	})

	result := l.registry.Execute(ctx, "upload_payment_proof", map[string]interface{}{})

	var content string
	if result.IsError {
		content = "I could not attach your payment proof: " + strings.TrimSpace(stripJSONError(result.ForLLM)) + ". Please try sending the receipt again."
	} else {
		content = "Thank you, I received your payment proof. Your transfer is now being verified and you will get a confirmation shortly."
	}

	if onDelta != nil {
		onDelta(content)
	}
	l.remember(ctx, channelID, req, content)
	return &Reply{Content: content, ToolsRun: []string{"upload_payment_proof"}}, nil
}

// paymentEvidence reports whether the transcript shows payment
// instructions were already presented: an explicit payment tag in an
// assistant turn, or any configured payment keyword.
func (l *Loop) paymentEvidence(history []providers.Message) bool {
	for _, msg := range history {
		if msg.Role == "assistant" && strings.Contains(msg.Content, "[[PAYMENT:") {
			return true
		}
		lower := strings.ToLower(msg.Content)
		for _, kw := range l.paymentKeywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

// remember appends the user turn and the assistant reply. Transcript
// failures are logged, never surfaced.
func (l *Loop) remember(ctx context.Context, channelID string, req Request, replyContent string) {
	userTurn := providers.Message{Role: "user", Content: req.Content}
	if len(req.ImagePaths) > 0 && userTurn.Content == "" {
		userTurn.Content = "[image]"
	}
	if err := l.transcripts.AppendTranscript(ctx, channelID, userTurn, l.historyTurns); err != nil {
		logger.WarnCF("agent", "Transcript append failed", map[string]interface{}{
			"channel_id": channelID,
			"error":      err.Error(),
		})
		return
	}
	if replyContent != "" {
		_ = l.transcripts.AppendTranscript(ctx, channelID, providers.Message{
			Role:    "assistant",
			Content: replyContent,
		}, l.historyTurns)
	}
}

func transcriptKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// encodeMedia turns downloaded image files into data URLs for the
// multimodal providers. Unreadable files are skipped.
func encodeMedia(paths []string) []string {
	var out []string
	for _, p := range paths {
		if url, err := utils.ImageDataURL(p); err == nil {
			out = append(out, url)
		} else {
			logger.WarnCF("agent", "Skipping unreadable image", map[string]interface{}{
				"path":  p,
				"error": err.Error(),
			})
		}
	}
	return out
}

// stripJSONError pulls the error field out of a structured tool
// result, falling back to the raw payload.
func stripJSONError(payload string) string {
	const marker = `"error":"`
	i := strings.Index(payload, marker)
	if i < 0 {
		return payload
	}
	rest := payload[i+len(marker):]
	if j := strings.Index(rest, `"`); j >= 0 {
		return rest[:j]
	}
	return rest
}

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ikamba/ikamba-agent/pkg/config"
	"github.com/ikamba/ikamba-agent/pkg/providers"
	"github.com/ikamba/ikamba-agent/pkg/remit"
	"github.com/ikamba/ikamba-agent/pkg/tools"
)

// Fakes for the assembler's read interfaces.

type stubRates struct {
	rates map[string]float64
	err   error
}

func (s *stubRates) Rates(ctx context.Context) (map[string]float64, error) {
	return s.rates, s.err
}

type stubAdjustments struct{ adj map[string]float64 }

func (s *stubAdjustments) Adjustments(ctx context.Context) (map[string]float64, error) {
	return s.adj, nil
}

type stubReceivers struct{ receivers []remit.PaymentReceiver }

func (s *stubReceivers) ActiveReceivers(ctx context.Context) ([]remit.PaymentReceiver, error) {
	return s.receivers, nil
}

type stubRecipients struct {
	byUser map[string][]remit.Recipient
}

func (s *stubRecipients) RecentRecipients(ctx context.Context, userID string, limit int) ([]remit.Recipient, error) {
	return s.byUser[userID], nil
}

func (s *stubRecipients) SaveRecipient(ctx context.Context, r remit.Recipient) error { return nil }

type stubTxs struct {
	byUser map[string][]remit.Transaction
}

func (s *stubTxs) CreateTransaction(ctx context.Context, tx remit.Transaction) error { return nil }

func (s *stubTxs) GetTransaction(ctx context.Context, id string) (*remit.Transaction, error) {
	return nil, nil
}

func (s *stubTxs) RecentTransactions(ctx context.Context, userID string, limit int) ([]remit.Transaction, error) {
	return s.byUser[userID], nil
}

func (s *stubTxs) TransactionsByStatus(ctx context.Context, userID string, status remit.TransactionStatus) ([]remit.Transaction, error) {
	return nil, nil
}

func (s *stubTxs) UpdateStatus(ctx context.Context, id string, status remit.TransactionStatus) error {
	return nil
}

func (s *stubTxs) AttachProof(ctx context.Context, id, proofPath string) error { return nil }

type stubLinker struct {
	account string
	linked  bool
}

func (s *stubLinker) LinkedAccount(ctx context.Context, channelID string) (string, bool, error) {
	return s.account, s.linked, nil
}

func (s *stubLinker) Link(ctx context.Context, channelID, accountID string) error { return nil }

// scriptedProvider returns canned responses and records each call.
type scriptedProvider struct {
	responses []*providers.Response
	calls     []scriptedCall
}

type scriptedCall struct {
	messages []providers.Message
	tools    []providers.ToolDefinition
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, defs []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.Response, error) {
	return p.ChatStream(ctx, messages, defs, model, options, nil)
}

func (p *scriptedProvider) ChatStream(ctx context.Context, messages []providers.Message, defs []providers.ToolDefinition, model string, options map[string]interface{}, onDelta func(string)) (*providers.Response, error) {
	p.calls = append(p.calls, scriptedCall{messages: messages, tools: defs})
	if len(p.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	if onDelta != nil && resp.Content != "" {
		onDelta(resp.Content)
	}
	return resp, nil
}

type memTranscripts struct {
	byChannel map[string][]providers.Message
}

func (m *memTranscripts) AppendTranscript(ctx context.Context, channelID string, msg providers.Message, maxTurns int) error {
	if m.byChannel == nil {
		m.byChannel = map[string][]providers.Message{}
	}
	m.byChannel[channelID] = append(m.byChannel[channelID], msg)
	return nil
}

func (m *memTranscripts) Transcript(ctx context.Context, channelID string) ([]providers.Message, error) {
	return m.byChannel[channelID], nil
}

// recordingTool remembers its invocations.
type recordingTool struct {
	name   string
	result *tools.ToolResult
	calls  []map[string]interface{}
}

func (t *recordingTool) Name() string        { return t.name }
func (t *recordingTool) Description() string { return "test tool" }

func (t *recordingTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *recordingTool) Execute(ctx context.Context, args map[string]interface{}) *tools.ToolResult {
	t.calls = append(t.calls, args)
	return t.result
}

func newTestAssembler(linker remit.IdentityLinker) *Assembler {
	return NewAssembler(
		remit.NewCalculator(0.02, nil),
		&stubRates{rates: map[string]float64{"RUBRWF": 15.0}},
		&stubAdjustments{},
		&stubReceivers{},
		&stubRecipients{},
		&stubTxs{},
		linker,
	)
}

func newTestLoop(provider providers.LLMProvider, registry *tools.ToolRegistry, transcripts TranscriptStore) *Loop {
	if registry == nil {
		registry = tools.NewToolRegistry()
	}
	cfg := config.AgentConfig{
		Model:           "gpt-4o",
		MaxTokens:       512,
		Temperature:     0.3,
		RequestTimeout:  30,
		HistoryTurns:    20,
		PaymentKeywords: []string{"sberbank", "i paid"},
	}
	return NewLoop(provider, registry, newTestAssembler(&stubLinker{}), NewPromptBuilder(registry), transcripts, cfg)
}

func TestProcessPlainAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.Response{
		{Content: "Hello, how can I help?", FinishReason: "stop"},
	}}
	transcripts := &memTranscripts{}
	loop := newTestLoop(provider, nil, transcripts)

	var streamed strings.Builder
	reply, err := loop.Process(context.Background(), Request{
		Channel: "whatsapp", ChatID: "123", UserID: "u1", Content: "hi",
	}, func(s string) { streamed.WriteString(s) })
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reply.Content != "Hello, how can I help?" {
		t.Fatalf("unexpected reply: %q", reply.Content)
	}
	if streamed.String() != reply.Content {
		t.Fatalf("deltas should carry the full answer, got %q", streamed.String())
	}
	if len(provider.calls) != 1 {
		t.Fatalf("expected exactly one model call, got %d", len(provider.calls))
	}
	if len(provider.calls[0].tools) != 0 {
		t.Fatalf("empty registry should expose no tools")
	}

	history := transcripts.byChannel["whatsapp:123"]
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("transcript not recorded: %+v", history)
	}
}

func TestProcessOneToolRound(t *testing.T) {
	tool := &recordingTool{
		name:   "get_delivery_methods",
		result: &tools.ToolResult{ForLLM: `{"success":true}`},
	}
	registry := tools.NewToolRegistry()
	registry.Register(tool)

	provider := &scriptedProvider{responses: []*providers.Response{
		{
			ToolCalls: []providers.ToolCall{
				{ID: "call_1", Type: "function", Name: "get_delivery_methods", Arguments: map[string]interface{}{"currency": "RWF"}},
			},
			FinishReason: "tool_calls",
		},
		{Content: "You can receive via MTN Mobile Money.", FinishReason: "stop"},
	}}
	loop := newTestLoop(provider, registry, &memTranscripts{})

	reply, err := loop.Process(context.Background(), Request{
		Channel: "whatsapp", ChatID: "123", UserID: "u1", Content: "how can they receive?",
	}, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(tool.calls) != 1 {
		t.Fatalf("tool should run exactly once, ran %d", len(tool.calls))
	}
	if len(provider.calls) != 2 {
		t.Fatalf("expected two model calls, got %d", len(provider.calls))
	}
	if len(provider.calls[1].tools) != 0 {
		t.Fatalf("follow-up call must not offer tools")
	}
	if reply.Content != "You can receive via MTN Mobile Money." {
		t.Fatalf("unexpected final reply: %q", reply.Content)
	}
	if len(reply.ToolsRun) != 1 || reply.ToolsRun[0] != "get_delivery_methods" {
		t.Fatalf("tools run not reported: %v", reply.ToolsRun)
	}

	// The follow-up transcript must carry the assistant tool-call turn
	// and the tool output, in order.
	second := provider.calls[1].messages
	var sawAssistant, sawTool bool
	for _, m := range second {
		if m.Role == "assistant" && len(m.ToolCalls) == 1 {
			sawAssistant = true
		}
		if m.Role == "tool" {
			if !sawAssistant {
				t.Fatalf("tool output before its assistant call")
			}
			if m.ToolCallID != "call_1" {
				t.Fatalf("tool output not linked to call: %q", m.ToolCallID)
			}
			sawTool = true
		}
	}
	if !sawTool {
		t.Fatalf("tool output missing from follow-up messages")
	}
}

func TestProcessToolOutputsKeepModelOrder(t *testing.T) {
	first := &recordingTool{name: "op_a", result: &tools.ToolResult{ForLLM: `{"a":1}`}}
	second := &recordingTool{name: "op_b", result: &tools.ToolResult{ForLLM: `{"b":2}`}}
	registry := tools.NewToolRegistry()
	registry.Register(first)
	registry.Register(second)

	provider := &scriptedProvider{responses: []*providers.Response{
		{
			ToolCalls: []providers.ToolCall{
				{ID: "c1", Type: "function", Name: "op_b", Arguments: map[string]interface{}{}},
				{ID: "c2", Type: "function", Name: "op_a", Arguments: map[string]interface{}{}},
			},
			FinishReason: "tool_calls",
		},
		{Content: "done", FinishReason: "stop"},
	}}
	loop := newTestLoop(provider, registry, &memTranscripts{})

	if _, err := loop.Process(context.Background(), Request{Channel: "web", ChatID: "1", UserID: "u1", Content: "go"}, nil); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	var toolTurns []string
	for _, m := range provider.calls[1].messages {
		if m.Role == "tool" {
			toolTurns = append(toolTurns, m.ToolCallID)
		}
	}
	if len(toolTurns) != 2 || toolTurns[0] != "c1" || toolTurns[1] != "c2" {
		t.Fatalf("tool outputs must follow the model's requested order, got %v", toolTurns)
	}
}

func TestProofImageShortCircuit(t *testing.T) {
	proofTool := &recordingTool{
		name:   "upload_payment_proof",
		result: &tools.ToolResult{ForLLM: `{"success":true,"transactionId":"IKB-1"}`},
	}
	registry := tools.NewToolRegistry()
	registry.Register(proofTool)

	provider := &scriptedProvider{}
	transcripts := &memTranscripts{byChannel: map[string][]providers.Message{
		"whatsapp:123": {
			{Role: "user", Content: "I want to send money"},
			{Role: "assistant", Content: "Pay here [[PAYMENT:10000:RUB:40817810:Ikamba LLC:Sberbank:]]"},
		},
	}}
	loop := newTestLoop(provider, registry, transcripts)

	var streamed strings.Builder
	reply, err := loop.Process(context.Background(), Request{
		Channel: "whatsapp", ChatID: "123", UserID: "u1",
		ImagePaths: []string{"/tmp/receipt.jpg"},
	}, func(s string) { streamed.WriteString(s) })
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(provider.calls) != 0 {
		t.Fatalf("short-circuit must bypass the model, saw %d calls", len(provider.calls))
	}
	if len(proofTool.calls) != 1 {
		t.Fatalf("upload_payment_proof should run exactly once, ran %d", len(proofTool.calls))
	}
	if streamed.String() == "" || streamed.String() != reply.Content {
		t.Fatalf("short-circuit result must be streamed: %q vs %q", streamed.String(), reply.Content)
	}
}

func TestProofShortCircuitKeywordEvidence(t *testing.T) {
	proofTool := &recordingTool{
		name:   "upload_payment_proof",
		result: &tools.ToolResult{ForLLM: `{"success":true}`},
	}
	registry := tools.NewToolRegistry()
	registry.Register(proofTool)

	transcripts := &memTranscripts{byChannel: map[string][]providers.Message{
		"whatsapp:55": {
			{Role: "user", Content: "I paid via Sberbank just now"},
		},
	}}
	loop := newTestLoop(&scriptedProvider{}, registry, transcripts)

	if _, err := loop.Process(context.Background(), Request{
		Channel: "whatsapp", ChatID: "55", UserID: "u1",
		ImagePaths: []string{"/tmp/receipt.jpg"},
	}, nil); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(proofTool.calls) != 1 {
		t.Fatalf("keyword evidence should trigger the short-circuit")
	}
}

func TestImageWithoutEvidenceGoesToModel(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.Response{
		{Content: "Nice photo! How can I help?", FinishReason: "stop"},
	}}
	loop := newTestLoop(provider, nil, &memTranscripts{})

	if _, err := loop.Process(context.Background(), Request{
		Channel: "whatsapp", ChatID: "9", UserID: "u1", Content: "look",
		ImagePaths: []string{"/tmp/nonexistent.jpg"},
	}, nil); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(provider.calls) != 1 {
		t.Fatalf("image without payment evidence must still reach the model")
	}
}

func TestProcessModelFailure(t *testing.T) {
	loop := newTestLoop(&scriptedProvider{}, nil, &memTranscripts{})
	_, err := loop.Process(context.Background(), Request{Channel: "web", ChatID: "1", UserID: "u1", Content: "hi"}, nil)
	if err == nil {
		t.Fatalf("model failure must surface as an error")
	}
}

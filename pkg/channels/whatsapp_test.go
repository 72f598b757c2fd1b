package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ikamba/ikamba-agent/pkg/agent"
	"github.com/ikamba/ikamba-agent/pkg/config"
)

type fakeAgent struct {
	reply    *agent.Reply
	requests chan agent.Request
}

func newFakeAgent(reply string) *fakeAgent {
	return &fakeAgent{
		reply:    &agent.Reply{Content: reply},
		requests: make(chan agent.Request, 4),
	}
}

func (f *fakeAgent) Process(ctx context.Context, req agent.Request, onDelta func(string)) (*agent.Reply, error) {
	f.requests <- req
	return f.reply, nil
}

func whatsappConfig() config.WhatsAppConfig {
	return config.WhatsAppConfig{
		Enabled:       true,
		AccessToken:   "token",
		PhoneNumberID: "12345",
		VerifyToken:   "secret-verify",
		GraphVersion:  "v22.0",
	}
}

func TestWebhookVerifyHandshake(t *testing.T) {
	ch := NewWhatsAppChannel(whatsappConfig(), newFakeAgent("ok"))

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=secret-verify&hub.challenge=12321", nil)
	rec := httptest.NewRecorder()
	ch.HandleWebhook(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "12321" {
		t.Fatalf("handshake should echo the challenge, got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12321", nil)
	rec = httptest.NewRecorder()
	ch.HandleWebhook(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong token must be rejected, got %d", rec.Code)
	}
}

func TestWebhookInboundTextReachesAgent(t *testing.T) {
	fa := newFakeAgent("Muraho! How can I help?")
	ch := NewWhatsAppChannel(whatsappConfig(), fa)

	// Capture the outbound Graph send instead of hitting the network.
	sent := make(chan map[string]interface{}, 1)
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		_ = json.Unmarshal(body, &payload)
		sent <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer graph.Close()
	ch.graphBase = graph.URL

	inbound := `{"entry":[{"changes":[{"value":{"messages":[{"from":"250788123456","id":"wamid.1","type":"text","text":{"body":"hello"}}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(inbound))
	rec := httptest.NewRecorder()
	ch.HandleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("webhook must always return 200, got %d", rec.Code)
	}

	select {
	case got := <-fa.requests:
		if got.Channel != "whatsapp" || got.ChatID != "250788123456" || got.Content != "hello" {
			t.Fatalf("unexpected request: %+v", got)
		}
		if got.UserID != "whatsapp:250788123456" {
			t.Fatalf("user id should be channel-prefixed: %q", got.UserID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("agent never received the message")
	}

	select {
	case payload := <-sent:
		if payload["to"] != "250788123456" || payload["type"] != "text" {
			t.Fatalf("unexpected outbound payload: %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reply was never sent")
	}
}

func TestWebhookAllowlistBlocks(t *testing.T) {
	cfg := whatsappConfig()
	cfg.AllowFrom = config.FlexibleStringSlice{"79991234567"}
	fa := newFakeAgent("ok")
	ch := NewWhatsAppChannel(cfg, fa)

	inbound := `{"entry":[{"changes":[{"value":{"messages":[{"from":"250788123456","id":"wamid.1","type":"text","text":{"body":"hello"}}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(inbound))
	rec := httptest.NewRecorder()
	ch.HandleWebhook(rec, req)

	select {
	case <-fa.requests:
		t.Fatalf("blocked sender must not reach the agent")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWebhookButtonReply(t *testing.T) {
	fa := newFakeAgent("ok")
	ch := NewWhatsAppChannel(whatsappConfig(), fa)

	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer graph.Close()
	ch.graphBase = graph.URL

	inbound := `{"entry":[{"changes":[{"value":{"messages":[{"from":"250788123456","id":"wamid.2","type":"interactive","interactive":{"button_reply":{"id":"send_rwf","title":"Send to Rwanda"}}}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(inbound))
	ch.HandleWebhook(httptest.NewRecorder(), req)

	select {
	case got := <-fa.requests:
		if got.Content != "send_rwf" {
			t.Fatalf("button reply should forward the button id: %q", got.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("agent never received the button reply")
	}
}

func TestRenderReply(t *testing.T) {
	content := "Your transfer:\n[[TRANSFER:10000:RUB:100:9900:15.3:151470:RWF]]\nPay with [[COPY:Account:40817810]]\n[[QUICK_REPLIES:Yes|confirm,No|cancel]]"
	rendered := RenderReply(content)

	if strings.Contains(rendered.Text, "[[") || strings.Contains(rendered.Text, "]]") {
		t.Fatalf("tags must be stripped from plain text: %q", rendered.Text)
	}
	if !strings.Contains(rendered.Text, "Account: 40817810") {
		t.Fatalf("copy tag should inline as label: value, got %q", rendered.Text)
	}
	if len(rendered.QuickReplies) != 2 || rendered.QuickReplies[0].Value != "confirm" {
		t.Fatalf("quick replies not extracted: %+v", rendered.QuickReplies)
	}
}

func TestRenderReplyTransferBlock(t *testing.T) {
	rendered := RenderReply("[[TRANSFER:10000:RUB:100:9900:15.3:151470:RWF]]")

	for _, want := range []string{
		"💰 *Transfer Summary*",
		"Send: *10000 RUB*",
		"Fee: 100 RUB",
		"Rate: 1 RUB = 15.3 RWF",
		"Receive: *151470 RWF*",
	} {
		if !strings.Contains(rendered.Text, want) {
			t.Fatalf("transfer block missing %q in:\n%s", want, rendered.Text)
		}
	}
}

func TestRenderReplyPaymentBlock(t *testing.T) {
	content := "Please pay now.\n[[PAYMENT:10000:RUB:2202201234567890:IVAN PETROV:Sberbank:]]"
	rendered := RenderReply(content)

	for _, want := range []string{
		"💳 *Payment Details*",
		"Amount: *10000 RUB*",
		"Bank: Sberbank",
		"2202201234567890",
		"Name: IVAN PETROV",
		"send screenshot",
	} {
		if !strings.Contains(rendered.Text, want) {
			t.Fatalf("payment block missing %q in:\n%s", want, rendered.Text)
		}
	}

	if len(rendered.QuickReplies) != 2 {
		t.Fatalf("payment reply should carry two buttons: %+v", rendered.QuickReplies)
	}
	if rendered.QuickReplies[0].Value != "paid" || rendered.QuickReplies[1].Value != "cancel" {
		t.Fatalf("unexpected button values: %+v", rendered.QuickReplies)
	}
}

func TestRenderReplyPaymentKeepsModelReplies(t *testing.T) {
	content := "[[PAYMENT:10000:RUB:2202201234567890:IVAN PETROV::]]\n[[QUICK_REPLIES:✅ I Paid|paid,❌ Cancel|cancel]]"
	rendered := RenderReply(content)

	if !strings.Contains(rendered.Text, "Bank: Sberbank") {
		t.Fatalf("empty provider should fall back to Sberbank:\n%s", rendered.Text)
	}
	if len(rendered.QuickReplies) != 2 {
		t.Fatalf("tagged buttons must not be duplicated: %+v", rendered.QuickReplies)
	}
}

func TestRenderReplyRecipientBlock(t *testing.T) {
	content := "[[RECIPIENT:Jean Bosco:+250788123456:151470:RWF:MTN MoMo:::RW]]"
	rendered := RenderReply(content)

	for _, want := range []string{
		"👤 *Recipient Details*",
		"Name: Jean Bosco",
		"Phone: +250788123456",
		"Receives: *151470 RWF*",
		"Via: MTN MoMo",
	} {
		if !strings.Contains(rendered.Text, want) {
			t.Fatalf("recipient block missing %q in:\n%s", want, rendered.Text)
		}
	}
	if len(rendered.QuickReplies) != 0 {
		t.Fatalf("recipient alone should add no buttons: %+v", rendered.QuickReplies)
	}
}

func TestRenderReplyShorthandReplies(t *testing.T) {
	rendered := RenderReply("Choose: [[REPLIES:RWF,UGX,KES]]")
	if len(rendered.QuickReplies) != 3 || rendered.QuickReplies[2].Label != "KES" {
		t.Fatalf("shorthand replies not extracted: %+v", rendered.QuickReplies)
	}
}

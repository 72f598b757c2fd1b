// Package channels connects messaging platforms to the agent loop:
// inbound messages become requests, replies are rendered per platform.
package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/ikamba/ikamba-agent/pkg/agent"
	"github.com/ikamba/ikamba-agent/pkg/tagproto"
)

// Agent is the request handler channels dispatch into.
type Agent interface {
	Process(ctx context.Context, req agent.Request, onDelta func(string)) (*agent.Reply, error)
}

// RenderedReply is a platform-neutral rendering of a tagged reply:
// plain text plus any quick-reply choices extracted from the tags.
type RenderedReply struct {
	Text         string
	QuickReplies []tagproto.QuickReply
}

const blockDivider = "━━━━━━━━━━━━━━━━━━"

// RenderReply turns display tags into chat-channel text. Transfer,
// payment, recipient, and confirmation payloads become formatted
// blocks, copy tags become "label: value" lines, quick replies are
// pulled out for platform buttons, and leftover tags are stripped.
// A payment block always carries I Paid / Cancel buttons.
func RenderReply(content string) RenderedReply {
	decoded := tagproto.Decode(content)

	text := tagproto.InlineCopies(decoded.Text)
	text = tagproto.StripTags(text)

	if decoded.Transfer != nil {
		text = joinBlocks(transferBlock(decoded.Transfer), text)
	}
	if decoded.Payment != nil {
		text = joinBlocks(text, paymentBlock(decoded.Payment))
	}
	if decoded.Recipient != nil {
		text = joinBlocks(text, recipientBlock(decoded.Recipient))
	}
	if decoded.Success != nil {
		text = joinBlocks(text, successBlock(decoded.Success))
	}

	replies := decoded.QuickReplies
	for _, v := range decoded.Replies {
		replies = append(replies, tagproto.QuickReply{Label: v, Value: v})
	}
	if decoded.Payment != nil {
		replies = appendMissing(replies,
			tagproto.QuickReply{Label: "✅ I Paid", Value: "paid"},
			tagproto.QuickReply{Label: "❌ Cancel", Value: "cancel"},
		)
	}

	return RenderedReply{
		Text:         text,
		QuickReplies: replies,
	}
}

func joinBlocks(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}

func transferBlock(t *tagproto.Transfer) string {
	return "💰 *Transfer Summary*\n" + blockDivider + "\n" +
		fmt.Sprintf("Send: *%s %s*\n", t.SendAmount, t.SendCurrency) +
		fmt.Sprintf("Fee: %s %s\n", t.Fee, t.SendCurrency) +
		fmt.Sprintf("Rate: 1 %s = %s %s\n", t.SendCurrency, t.Rate, t.ReceiveCurrency) +
		fmt.Sprintf("Receive: *%s %s*\n", t.ReceiveAmount, t.ReceiveCurrency) +
		blockDivider
}

func paymentBlock(p *tagproto.Payment) string {
	provider := p.Provider
	if provider == "" {
		provider = "Sberbank"
	}
	return "💳 *Payment Details*\n" + blockDivider + "\n" +
		fmt.Sprintf("Amount: *%s %s*\n", p.Amount, p.Currency) +
		fmt.Sprintf("Bank: %s\n", provider) +
		fmt.Sprintf("Card: `%s`\n", p.AccountNumber) +
		fmt.Sprintf("Name: %s\n", p.AccountHolder) +
		blockDivider + "\n" +
		"_Copy card number and pay, then send screenshot_"
}

func recipientBlock(r *tagproto.Recipient) string {
	via := r.Provider
	if via == "" {
		via = "Mobile Money"
	}
	return "👤 *Recipient Details*\n" + blockDivider + "\n" +
		fmt.Sprintf("Name: %s\n", r.Name) +
		fmt.Sprintf("Phone: %s\n", r.Phone) +
		fmt.Sprintf("Receives: *%s %s*\n", r.ReceiveAmount, r.ReceiveCurrency) +
		fmt.Sprintf("Via: %s\n", via) +
		blockDivider
}

func successBlock(s *tagproto.Success) string {
	return "✅ *Transfer Confirmed*\n" + blockDivider + "\n" +
		fmt.Sprintf("Order: %s\n", s.OrderID) +
		fmt.Sprintf("Recipient: %s\n", s.RecipientName) +
		fmt.Sprintf("Amount: *%s %s* → *%s %s*\n", s.Amount, s.Currency, s.ReceiveAmount, s.ReceiveCurrency) +
		blockDivider
}

func appendMissing(replies []tagproto.QuickReply, extra ...tagproto.QuickReply) []tagproto.QuickReply {
	for _, e := range extra {
		present := false
		for _, qr := range replies {
			if qr.Value == e.Value {
				present = true
				break
			}
		}
		if !present {
			replies = append(replies, e)
		}
	}
	return replies
}

// allowlist is the shared sender filter. An empty list allows everyone.
type allowlist struct {
	allowed map[string]bool
}

func newAllowlist(ids []string) *allowlist {
	if len(ids) == 0 {
		return &allowlist{}
	}
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			m[id] = true
		}
	}
	return &allowlist{allowed: m}
}

func (a *allowlist) Allows(id string) bool {
	if a.allowed == nil {
		return true
	}
	return a.allowed[id]
}

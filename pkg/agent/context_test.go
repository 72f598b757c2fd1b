package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ikamba/ikamba-agent/pkg/providers"
	"github.com/ikamba/ikamba-agent/pkg/remit"
	"github.com/ikamba/ikamba-agent/pkg/tools"
)

func TestSnapshotDegradesOnAnyFailure(t *testing.T) {
	asm := NewAssembler(
		remit.NewCalculator(0.02, nil),
		&stubRates{err: errors.New("upstream down")},
		&stubAdjustments{},
		&stubReceivers{receivers: []remit.PaymentReceiver{{ID: "r1", Currency: "RUB", Active: true}}},
		&stubRecipients{byUser: map[string][]remit.Recipient{"u1": {{Name: "Alice"}}}},
		&stubTxs{},
		&stubLinker{},
	)

	snap := asm.Snapshot(context.Background(), "whatsapp:1", "u1")
	if len(snap.Rates) != 0 || len(snap.Receivers) != 0 || len(snap.Recipients) != 0 {
		t.Fatalf("one failed read must degrade the whole snapshot, got %+v", snap)
	}
	if snap.Verified {
		t.Fatalf("degraded snapshot must not claim verification")
	}
}

func TestSnapshotAppliesMargin(t *testing.T) {
	asm := newTestAssembler(&stubLinker{})
	snap := asm.Snapshot(context.Background(), "whatsapp:1", "u1")

	want := 15.0 * 1.02
	got := snap.Rates["RUBRWF"]
	if got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("displayed rate must include the margin: got %v want %v", got, want)
	}
	if _, ok := snap.Rates["RWFRUB"]; !ok {
		t.Fatalf("inverse corridor rate missing: %v", snap.Rates)
	}
}

func TestSnapshotVerifiedIdentityWins(t *testing.T) {
	recipients := &stubRecipients{byUser: map[string][]remit.Recipient{
		"guest-7":  {{Name: "Guest Saved"}},
		"acc-real": {{Name: "Account Saved"}},
	}}
	txs := &stubTxs{byUser: map[string][]remit.Transaction{
		"acc-real": {{ID: "IKB-1", UserID: "acc-real"}},
	}}
	asm := NewAssembler(
		remit.NewCalculator(0.02, nil),
		&stubRates{rates: map[string]float64{"RUBRWF": 15.0}},
		&stubAdjustments{},
		&stubReceivers{},
		recipients,
		txs,
		&stubLinker{account: "acc-real", linked: true},
	)

	snap := asm.Snapshot(context.Background(), "whatsapp:7", "guest-7")
	if !snap.Verified || snap.AccountID != "acc-real" {
		t.Fatalf("verified account not reported: %+v", snap)
	}
	if len(snap.Recipients) != 1 || snap.Recipients[0].Name != "Account Saved" {
		t.Fatalf("user-scoped reads must be re-issued under the verified id: %+v", snap.Recipients)
	}
	if len(snap.Transactions) != 1 || snap.Transactions[0].ID != "IKB-1" {
		t.Fatalf("transactions must come from the verified account: %+v", snap.Transactions)
	}
}

func TestSnapshotCapsLists(t *testing.T) {
	var many []remit.Recipient
	for i := 0; i < 12; i++ {
		many = append(many, remit.Recipient{Name: "r"})
	}
	asm := NewAssembler(
		remit.NewCalculator(0.02, nil),
		&stubRates{rates: map[string]float64{"RUBRWF": 15.0}},
		&stubAdjustments{},
		&stubReceivers{},
		&stubRecipients{byUser: map[string][]remit.Recipient{"u1": many}},
		&stubTxs{},
		&stubLinker{},
	)

	snap := asm.Snapshot(context.Background(), "whatsapp:1", "u1")
	if len(snap.Recipients) > maxPromptRecipients {
		t.Fatalf("recipient list must be capped at %d, got %d", maxPromptRecipients, len(snap.Recipients))
	}
}

func TestSystemPromptSections(t *testing.T) {
	pb := NewPromptBuilder(tools.NewToolRegistry())
	snap := ContextSnapshot{
		Rates: map[string]float64{"RUBRWF": 15.3},
		Receivers: []remit.PaymentReceiver{
			{Provider: "Sberbank", Currency: "RUB", AccountNumber: "40817810", AccountHolder: "Ikamba LLC", Active: true},
		},
		AccountID: "acc1",
		Verified:  true,
	}

	prompt := pb.BuildSystemPrompt(snap, "whatsapp")
	for _, want := range []string{"RUBRWF", "Sberbank", "acc1", "[[TRANSFER:", "[[PAYMENT:"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}

	empty := pb.BuildSystemPrompt(ContextSnapshot{}, "whatsapp")
	if !strings.Contains(empty, "temporarily unavailable") {
		t.Fatalf("empty rates must warn the model off quoting numbers")
	}
}

func TestBuildMessagesDropsOrphanedToolTurns(t *testing.T) {
	pb := NewPromptBuilder(tools.NewToolRegistry())
	msgs := pb.BuildMessages("sys", []providers.Message{
		{Role: "tool", Content: "orphan", ToolCallID: "x"},
		{Role: "user", Content: "earlier"},
	}, "now", nil)

	if msgs[0].Role != "system" {
		t.Fatalf("first message must be the system prompt")
	}
	for _, m := range msgs {
		if m.Role == "tool" {
			t.Fatalf("orphaned tool turn must be dropped")
		}
	}
	if msgs[len(msgs)-1].Role != "user" || msgs[len(msgs)-1].Content != "now" {
		t.Fatalf("current message must be last: %+v", msgs[len(msgs)-1])
	}
}

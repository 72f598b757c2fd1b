package usage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ikamba/ikamba-agent/pkg/providers"
)

func TestRecordTurnAndQuery(t *testing.T) {
	tmp := t.TempDir()
	s := NewStore(filepath.Join(tmp, "usage.json"))

	s.RecordTurn("whatsapp:250788123456", "openai", "gpt-4o", &providers.Usage{
		PromptTokens:     120,
		CompletionTokens: 40,
		TotalTokens:      160,
	})
	s.RecordTurn("telegram:42", "anthropic", "claude-sonnet-4-5", nil)

	recs := s.Query(Filter{ChannelKey: "whatsapp:250788123456"})
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if !recs[0].UsageKnown || recs[0].TotalTokens != 160 {
		t.Fatalf("usage not captured: %+v", recs[0])
	}

	recs = s.Query(Filter{Provider: "ANTHROPIC"})
	if len(recs) != 1 || recs[0].UsageKnown {
		t.Fatalf("provider filter should be case-insensitive and keep unknown-usage calls: %+v", recs)
	}
	if recs[0].Reason == "" {
		t.Fatalf("nil usage should be recorded with a reason")
	}

	if _, err := os.Stat(filepath.Join(tmp, "usage.json")); err != nil {
		t.Fatalf("ledger file missing: %v", err)
	}
}

func TestStoreReloadsLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")

	s := NewStore(path)
	s.Add(Record{ChannelKey: "web:c1", Provider: "openai", PromptTokens: 10, CompletionTokens: 5, UsageKnown: true})

	s2 := NewStore(path)
	recs := s2.Query(Filter{ChannelKey: "web:c1"})
	if len(recs) != 1 {
		t.Fatalf("reloaded store should see persisted records, got %d", len(recs))
	}
	if recs[0].TotalTokens != 15 {
		t.Fatalf("total should be derived on Add, got %d", recs[0].TotalTokens)
	}
	if recs[0].DayKey == "" {
		t.Fatalf("day key should be stamped on Add")
	}
}

func TestAggregateAndBreakdown(t *testing.T) {
	records := []Record{
		{Provider: "openai", PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120, UsageKnown: true},
		{Provider: "openai", PromptTokens: 50, CompletionTokens: 10, TotalTokens: 60, UsageKnown: true},
		{Provider: "anthropic"},
	}

	agg := AggregateRecords(records)
	if agg.Calls != 3 || agg.KnownCalls != 2 || agg.UnknownCalls != 1 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
	if agg.TotalTokens != 180 {
		t.Fatalf("total = %d, want 180", agg.TotalTokens)
	}

	by := ProviderBreakdown(records)
	if by["openai"].Calls != 2 || by["anthropic"].UnknownCalls != 1 {
		t.Fatalf("unexpected breakdown: %+v", by)
	}
}

func TestQueryLimitKeepsNewest(t *testing.T) {
	s := NewStore("")
	for i := 0; i < 5; i++ {
		s.Add(Record{ChannelKey: "web:c1", Model: string(rune('a' + i))})
	}
	recs := s.Query(Filter{Limit: 2})
	if len(recs) != 2 || recs[1].Model != "e" {
		t.Fatalf("limit should keep the newest records: %+v", recs)
	}
}

func TestHumanTokens(t *testing.T) {
	cases := map[int]string{
		0:         "0",
		999:       "999",
		1000:      "1K",
		1500:      "1.5K",
		2_300_000: "2.3M",
	}
	for n, want := range cases {
		if got := HumanTokens(n); got != want {
			t.Fatalf("HumanTokens(%d) = %q, want %q", n, got, want)
		}
	}
	if got := GroupedInt(1234567); got != "1,234,567" {
		t.Fatalf("GroupedInt = %q", got)
	}
}

// Package usage keeps a per-call token ledger so operators can see
// what each channel and provider costs.
package usage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ikamba/ikamba-agent/pkg/providers"
)

type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	DayKey           string    `json:"day_key"`
	ChannelKey       string    `json:"channel_key"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	UsageKnown       bool      `json:"usage_known"`
	Reason           string    `json:"reason"`
}

type Filter struct {
	ChannelKey string
	DayKey     string
	Provider   string
	Limit      int
}

type Aggregate struct {
	Calls            int
	KnownCalls       int
	UnknownCalls     int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Store is an append-only ledger persisted as one JSON file. Writes
// are best-effort: a broken disk never fails a chat turn.
type Store struct {
	mu      sync.RWMutex
	records []Record
	path    string
}

func NewStore(path string) *Store {
	s := &Store{
		records: make([]Record, 0, 256),
		path:    path,
	}
	if path != "" {
		_ = os.MkdirAll(filepath.Dir(path), 0755)
		s.load()
	}
	return s
}

func (s *Store) TodayKey() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (s *Store) Add(r Record) {
	if r.DayKey == "" {
		r.DayKey = s.TodayKey()
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.PromptTokens + r.CompletionTokens
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()

	s.save()
}

// RecordTurn logs one model call made on behalf of a channel
// conversation. A nil usage is still recorded so call counts stay
// honest when a provider omits token counts.
func (s *Store) RecordTurn(channelKey, provider, model string, u *providers.Usage) {
	r := Record{
		ChannelKey: channelKey,
		Provider:   provider,
		Model:      model,
	}
	if u != nil {
		r.PromptTokens = u.PromptTokens
		r.CompletionTokens = u.CompletionTokens
		r.TotalTokens = u.TotalTokens
		r.UsageKnown = true
	} else {
		r.Reason = "provider omitted usage"
	}
	s.Add(r)
}

func (s *Store) Query(f Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if f.ChannelKey != "" && r.ChannelKey != f.ChannelKey {
			continue
		}
		if f.DayKey != "" && r.DayKey != f.DayKey {
			continue
		}
		if f.Provider != "" && !strings.EqualFold(r.Provider, f.Provider) {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func AggregateRecords(records []Record) Aggregate {
	var agg Aggregate
	for _, r := range records {
		agg.Calls++
		if r.UsageKnown {
			agg.KnownCalls++
			agg.PromptTokens += r.PromptTokens
			agg.CompletionTokens += r.CompletionTokens
			agg.TotalTokens += r.TotalTokens
		} else {
			agg.UnknownCalls++
		}
	}
	return agg
}

func ProviderBreakdown(records []Record) map[string]Aggregate {
	out := map[string]Aggregate{}
	for _, r := range records {
		p := strings.TrimSpace(r.Provider)
		if p == "" {
			p = "unknown"
		}
		agg := out[p]
		agg.Calls++
		if r.UsageKnown {
			agg.KnownCalls++
			agg.PromptTokens += r.PromptTokens
			agg.CompletionTokens += r.CompletionTokens
			agg.TotalTokens += r.TotalTokens
		} else {
			agg.UnknownCalls++
		}
		out[p] = agg
	}
	return out
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return
	}
	s.records = records
}

func (s *Store) save() {
	if s.path == "" {
		return
	}
	s.mu.RLock()
	snapshot := make([]Record, len(s.records))
	copy(snapshot, s.records)
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, data, 0644)
}

package remit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ikamba/ikamba-agent/pkg/logger"
)

// HTTPRateSource fetches the live rate table over HTTP and caches it.
// Two upstream shapes are accepted: a flat object keyed by corridor
// pair with string or numeric values ({"RUBRWF": "15.30", ...}), and
// the er-api shape with the table nested under "rates" keyed by bare
// currency code. Malformed entries are skipped, never fatal.
type HTTPRateSource struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.Mutex
	cached    map[string]float64
	fetchedAt time.Time
}

func NewHTTPRateSource(url string, ttl time.Duration) *HTTPRateSource {
	return &HTTPRateSource{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPRateSource) Rates(ctx context.Context) (map[string]float64, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.fetchedAt) < s.ttl {
		rates := s.cached
		s.mu.Unlock()
		return rates, nil
	}
	s.mu.Unlock()

	rates, err := s.fetch(ctx)
	if err != nil {
		// Serve a stale table over failing the request outright.
		s.mu.Lock()
		stale := s.cached
		s.mu.Unlock()
		if stale != nil {
			logger.WarnCF("rates", "Serving stale rate table after fetch failure",
				map[string]interface{}{"error": err.Error()})
			return stale, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.cached = rates
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return rates, nil
}

func (s *HTTPRateSource) fetch(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build rates request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rates endpoint returned status %d", resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}

	// er-api nests the table under "rates" keyed by bare currency code;
	// prefix with the base code so lookups stay pair-keyed.
	prefix := ""
	if nested, ok := raw["rates"]; ok {
		var table map[string]json.RawMessage
		if err := json.Unmarshal(nested, &table); err == nil {
			if b, ok := raw["base_code"]; ok {
				_ = json.Unmarshal(b, &prefix)
			}
			raw = table
		}
	}

	rates := make(map[string]float64, len(raw))
	for key, v := range raw {
		f, ok := parseRate(v)
		if !ok || f == 0 {
			continue
		}
		rates[prefix+key] = f
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("rates endpoint returned no usable pairs")
	}
	return rates, nil
}

// parseRate accepts "15.30" and 15.30; anything else is skipped.
func parseRate(v json.RawMessage) (float64, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	return 0, false
}

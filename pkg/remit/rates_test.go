package remit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPRateSourceParsesStringValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"RUBRWF":"15.30","RUBUGX":28.5,"BROKEN":"n/a","NULLED":null,"NESTED":{"x":1}}`))
	}))
	defer srv.Close()

	src := NewHTTPRateSource(srv.URL, time.Minute)
	rates, err := src.Rates(context.Background())
	if err != nil {
		t.Fatalf("Rates: %v", err)
	}
	if rates["RUBRWF"] != 15.30 {
		t.Fatalf("expected 15.30, got %v", rates["RUBRWF"])
	}
	if rates["RUBUGX"] != 28.5 {
		t.Fatalf("expected 28.5, got %v", rates["RUBUGX"])
	}
	for _, key := range []string{"BROKEN", "NULLED", "NESTED"} {
		if _, ok := rates[key]; ok {
			t.Fatalf("malformed entry %q should be dropped, table: %v", key, rates)
		}
	}
}

func TestHTTPRateSourceNestedTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":"success","base_code":"RUB","rates":{"RWF":15.30,"UGX":28.5,"RUB":1}}`))
	}))
	defer srv.Close()

	src := NewHTTPRateSource(srv.URL, time.Minute)
	rates, err := src.Rates(context.Background())
	if err != nil {
		t.Fatalf("Rates: %v", err)
	}
	if rates["RUBRWF"] != 15.30 || rates["RUBUGX"] != 28.5 {
		t.Fatalf("nested table not re-keyed by pair: %v", rates)
	}
}

func TestHTTPRateSourceCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"RUBRWF":"15.30"}`))
	}))
	defer srv.Close()

	src := NewHTTPRateSource(srv.URL, time.Minute)
	for i := 0; i < 3; i++ {
		if _, err := src.Rates(context.Background()); err != nil {
			t.Fatalf("Rates: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single upstream fetch, got %d", hits.Load())
	}
}

func TestHTTPRateSourceServesStaleOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"RUBRWF":"15.30"}`))
	}))
	defer srv.Close()

	src := NewHTTPRateSource(srv.URL, time.Nanosecond)
	if _, err := src.Rates(context.Background()); err != nil {
		t.Fatalf("warm fetch: %v", err)
	}

	fail.Store(true)
	time.Sleep(time.Millisecond)
	rates, err := src.Rates(context.Background())
	if err != nil {
		t.Fatalf("expected stale table, got error: %v", err)
	}
	if rates["RUBRWF"] != 15.30 {
		t.Fatalf("stale table corrupted: %v", rates)
	}
}

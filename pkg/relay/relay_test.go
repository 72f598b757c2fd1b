package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func collect() (*Relay, *[]string) {
	var chunks []string
	r := New(func(s string) { chunks = append(chunks, s) })
	return r, &chunks
}

func TestPlainProseStreamsImmediately(t *testing.T) {
	r, chunks := collect()
	r.Write("Hello ")
	r.Write("world")
	r.Flush()

	if len(*chunks) != 2 {
		t.Fatalf("prose should pass through per fragment, got %v", *chunks)
	}
	if strings.Join(*chunks, "") != "Hello world" {
		t.Fatalf("content mangled: %q", strings.Join(*chunks, ""))
	}
}

func TestTagNeverSplitsAcrossChunks(t *testing.T) {
	r, chunks := collect()
	r.Write("Here is your quote: [[TRANS")
	r.Write("FER:10000:RUB:100:9900:15.3")
	r.Write(":151470:RWF]] enjoy")
	r.Flush()

	for _, c := range *chunks {
		open := strings.Count(c, "[[")
		closing := strings.Count(c, "]]")
		if open != closing {
			t.Fatalf("chunk has unbalanced tag markers: %q", c)
		}
	}
	joined := strings.Join(*chunks, "")
	if !strings.Contains(joined, "[[TRANSFER:10000:RUB:100:9900:15.3:151470:RWF]]") {
		t.Fatalf("tag lost in relay: %q", joined)
	}
}

func TestWithholdsWhileTagOpen(t *testing.T) {
	r, chunks := collect()
	r.Write("quote [[TRANSFER:10000")
	if len(*chunks) != 0 {
		t.Fatalf("nothing may be emitted while a tag is open, got %v", *chunks)
	}
	r.Write(":RUB:100:9900")
	if len(*chunks) != 0 {
		t.Fatalf("still open, still withheld, got %v", *chunks)
	}
	r.Write(":15.3:151470:RWF]]")
	if len(*chunks) != 1 {
		t.Fatalf("closing the tag should release one chunk, got %v", *chunks)
	}
}

func TestTrailingLoneBracketHeld(t *testing.T) {
	r, chunks := collect()
	r.Write("text [")
	if len(*chunks) != 1 || (*chunks)[0] != "text " {
		t.Fatalf("lone bracket must be held back: %v", *chunks)
	}
	r.Write("[TRANSFER:1:RUB:1:1:1:1:RWF]]")
	joined := strings.Join(*chunks, "")
	if !strings.Contains(joined, "[[TRANSFER:1:RUB:1:1:1:1:RWF]]") {
		t.Fatalf("bracket reassembly failed: %q", joined)
	}
}

func TestRepairAppliedOnClose(t *testing.T) {
	r, chunks := collect()
	r.Write("[[TRANSFER:sendAmount:10000:RUB:fee:100:netAmount:9900:rate:15.3:151470:RWF]]")
	r.Flush()

	joined := strings.Join(*chunks, "")
	if !strings.Contains(joined, "[[TRANSFER:10000:RUB:100:9900:15.3:151470:RWF]]") {
		t.Fatalf("labeled tag not repaired: %q", joined)
	}
}

func TestFlushRepairsResidual(t *testing.T) {
	r, chunks := collect()
	r.Write("truncated [[TRANSFER:10000:RUB")
	if len(*chunks) != 0 {
		t.Fatalf("open tag must be withheld until flush")
	}
	r.Flush()
	if len(*chunks) != 1 || !strings.Contains((*chunks)[0], "truncated") {
		t.Fatalf("flush must release the residual buffer: %v", *chunks)
	}
}

func TestMultipleTagsInOneFragment(t *testing.T) {
	r, chunks := collect()
	r.Write("a [[REPLIES:yes,no]] b [[COPY:Ref:IKB-1]] c")
	r.Flush()

	joined := strings.Join(*chunks, "")
	if joined != "a [[REPLIES:yes,no]] b [[COPY:Ref:IKB-1]] c" {
		t.Fatalf("multi-tag passthrough broken: %q", joined)
	}
}

func TestSSEWriterFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatalf("NewSSEWriter failed: %v", err)
	}

	if err := w.Send("hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := w.Send(""); err != nil {
		t.Fatalf("empty Send failed: %v", err)
	}
	if err := w.Done(); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	if err := w.Send("after done"); err != nil {
		t.Fatalf("post-done Send should be a no-op: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `data: {"content":"hello"}`+"\n\n") {
		t.Fatalf("missing content event: %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("missing DONE sentinel: %q", body)
	}
	if strings.Contains(body, "after done") {
		t.Fatalf("events after DONE must be dropped: %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("wrong content type: %q", ct)
	}
}

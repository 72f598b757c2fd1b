// Package relay forwards model output to the client without ever
// splitting a display tag across chunk boundaries.
package relay

import (
	"strings"

	"github.com/ikamba/ikamba-agent/pkg/tagproto"
)

const (
	openMarker  = "[["
	closeMarker = "]]"
)

// Relay buffers streamed fragments. Plain prose passes through as it
// arrives; anything after an unclosed tag marker is withheld until the
// tag closes, then repaired and emitted as one chunk.
type Relay struct {
	emit    func(string)
	pending string
}

func New(emit func(string)) *Relay {
	return &Relay{emit: emit}
}

// Write appends one incoming fragment and emits whatever is safe.
func (r *Relay) Write(fragment string) {
	r.pending += fragment

	for {
		open := strings.Index(r.pending, openMarker)
		if open < 0 {
			// A trailing lone bracket may become an open marker with
			// the next fragment.
			hold := 0
			if strings.HasSuffix(r.pending, "[") {
				hold = 1
			}
			if cut := len(r.pending) - hold; cut > 0 {
				r.emit(r.pending[:cut])
				r.pending = r.pending[cut:]
			}
			return
		}

		closing := strings.Index(r.pending[open:], closeMarker)
		if closing < 0 {
			// Open tag without its close: keep buffering, no matter
			// how many fragments follow.
			return
		}

		end := open + closing + len(closeMarker)
		r.emit(tagproto.RepairTransferTags(r.pending[:end]))
		r.pending = r.pending[end:]
	}
}

// Flush emits any residual buffer, repaired, at stream end.
func (r *Relay) Flush() {
	if r.pending == "" {
		return
	}
	r.emit(tagproto.RepairTransferTags(r.pending))
	r.pending = ""
}

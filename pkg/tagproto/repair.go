package tagproto

import (
	"strings"
)

// Field labels the model sometimes writes inline inside a TRANSFER tag,
// turning the positional record into a labeled one.
var transferLabels = map[string]bool{
	"sendamount":      true,
	"sendcurrency":    true,
	"fee":             true,
	"netamount":       true,
	"rate":            true,
	"receiveamount":   true,
	"receivecurrency": true,
	"amount":          true,
	"currency":        true,
}

// RepairTransferTags rewrites labeled TRANSFER tags back to the
// canonical seven-field positional form. Canonical tags and anything
// that cannot be reduced to seven value fields pass through unchanged,
// so the pass is idempotent.
func RepairTransferTags(text string) string {
	tags := tokenize(text)
	if len(tags) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, tag := range tags {
		if tag.kind != KindTransfer {
			continue
		}
		repaired, ok := repairTransferBody(tag.body)
		if !ok {
			continue
		}
		b.WriteString(text[last:tag.start])
		b.WriteString("[[TRANSFER:" + repaired + "]]")
		last = tag.end
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

func repairTransferBody(body string) (string, bool) {
	fields := strings.Split(body, ":")
	if len(fields) == recordArity[KindTransfer] {
		return "", false
	}

	values := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if transferLabels[strings.ToLower(f)] {
			continue
		}
		values = append(values, f)
	}
	if len(values) != recordArity[KindTransfer] {
		return "", false
	}
	return strings.Join(values, ":"), true
}

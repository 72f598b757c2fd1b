// Package tagproto implements the bracket-tag protocol the model uses to
// hand structured payloads to channel renderers: [[KIND:field:...:field]]
// records embedded in prose.
package tagproto

import (
	"fmt"
	"regexp"
	"strings"
)

type Kind string

const (
	KindTransfer     Kind = "TRANSFER"
	KindPayment      Kind = "PAYMENT"
	KindRecipient    Kind = "RECIPIENT"
	KindRecipients   Kind = "RECIPIENTS"
	KindSuccess      Kind = "SUCCESS"
	KindQuickReplies Kind = "QUICK_REPLIES"
	KindReplies      Kind = "REPLIES"
	KindCopy         Kind = "COPY"
)

// Fixed field counts for positional record kinds. PAYMENT carries a
// reserved trailing empty field on the wire, so its arity is six.
var recordArity = map[Kind]int{
	KindTransfer:  7,
	KindPayment:   6,
	KindRecipient: 8,
	KindSuccess:   8,
	KindCopy:      2,
}

// decodeOrder is the authoritative precedence when several kinds appear
// in one message. First match per kind wins.
var decodeOrder = []Kind{
	KindTransfer,
	KindPayment,
	KindSuccess,
	KindRecipients,
	KindRecipient,
	KindQuickReplies,
	KindReplies,
}

type Transfer struct {
	SendAmount      string
	SendCurrency    string
	Fee             string
	NetAmount       string
	Rate            string
	ReceiveAmount   string
	ReceiveCurrency string
}

type Payment struct {
	Amount        string
	Currency      string
	AccountNumber string
	AccountHolder string
	Provider      string
}

type Recipient struct {
	Name            string
	Phone           string
	ReceiveAmount   string
	ReceiveCurrency string
	Provider        string
	Bank            string
	AccountNumber   string
	Country         string
}

type Success struct {
	OrderID         string
	SenderName      string
	SenderEmail     string
	RecipientName   string
	Amount          string
	Currency        string
	ReceiveAmount   string
	ReceiveCurrency string
}

// RecipientEntry is one row of a RECIPIENTS list tag.
type RecipientEntry struct {
	Name     string
	Phone    string
	Provider string
	Bank     string
	Country  string
}

type QuickReply struct {
	Label string
	Value string
}

type Copy struct {
	Label string
	Value string
}

// Decoded holds the structured payloads extracted from one model reply,
// plus the prose that remains after the matched tags are removed.
type Decoded struct {
	Transfer     *Transfer
	Payment      *Payment
	Success      *Success
	Recipients   []RecipientEntry
	Recipient    *Recipient
	QuickReplies []QuickReply
	Replies      []string
	Text         string
}

// rawTag is one tokenized [[KIND:body]] occurrence with its position in
// the source text.
type rawTag struct {
	kind  Kind
	body  string
	start int
	end   int
}

// tokenize walks the text and collects every well-bracketed tag. Field
// grouping is left to the per-kind record parsers.
func tokenize(text string) []rawTag {
	var tags []rawTag
	for i := 0; i < len(text); {
		open := strings.Index(text[i:], "[[")
		if open < 0 {
			break
		}
		open += i
		rest := text[open+2:]
		closing := strings.Index(rest, "]]")
		if closing < 0 {
			break
		}
		inner := rest[:closing]
		colon := strings.IndexByte(inner, ':')
		if colon <= 0 || !isKindName(inner[:colon]) {
			i = open + 2
			continue
		}
		tags = append(tags, rawTag{
			kind:  Kind(inner[:colon]),
			body:  inner[colon+1:],
			start: open,
			end:   open + 2 + closing + 2,
		})
		i = open + 2 + closing + 2
	}
	return tags
}

func isKindName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return true
}

// parseRecord splits a positional record body and enforces the declared
// arity. A field count mismatch is an error, never a re-grouping.
func parseRecord(kind Kind, body string) ([]string, error) {
	want, ok := recordArity[kind]
	if !ok {
		return nil, fmt.Errorf("tagproto: %s is not a positional record kind", kind)
	}
	fields := strings.Split(body, ":")
	if len(fields) != want {
		return nil, fmt.Errorf("tagproto: %s expects %d fields, got %d", kind, want, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

// parseList splits a nested list body: comma-separated entries of
// pipe-separated columns.
func parseList(body string) [][]string {
	var rows [][]string
	for _, entry := range strings.Split(body, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		cols := strings.Split(entry, "|")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
		rows = append(rows, cols)
	}
	return rows
}

// Decode extracts structured payloads from a model reply. For each kind,
// the first occurrence that parses is authoritative and its matched
// substring is removed from the returned text. Tags that fail to parse
// are left in place for StripTags to sweep.
func Decode(text string) Decoded {
	out := Decoded{}
	tags := tokenize(text)

	matched := make(map[int]bool)
	for _, kind := range decodeOrder {
		for idx, tag := range tags {
			if tag.kind != kind || matched[idx] {
				continue
			}
			if applyTag(&out, tag) {
				matched[idx] = true
				break
			}
		}
	}

	// Remove matched substrings back to front so offsets stay valid.
	remaining := text
	for idx := len(tags) - 1; idx >= 0; idx-- {
		if matched[idx] {
			tag := tags[idx]
			remaining = remaining[:tag.start] + remaining[tag.end:]
		}
	}
	out.Text = remaining
	return out
}

func applyTag(out *Decoded, tag rawTag) bool {
	switch tag.kind {
	case KindTransfer:
		fields, err := parseRecord(KindTransfer, tag.body)
		if err != nil {
			return false
		}
		out.Transfer = &Transfer{
			SendAmount:      fields[0],
			SendCurrency:    fields[1],
			Fee:             fields[2],
			NetAmount:       fields[3],
			Rate:            fields[4],
			ReceiveAmount:   fields[5],
			ReceiveCurrency: fields[6],
		}
	case KindPayment:
		fields, err := parseRecord(KindPayment, tag.body)
		if err != nil {
			return false
		}
		out.Payment = &Payment{
			Amount:        fields[0],
			Currency:      fields[1],
			AccountNumber: fields[2],
			AccountHolder: fields[3],
			Provider:      fields[4],
		}
	case KindSuccess:
		fields, err := parseRecord(KindSuccess, tag.body)
		if err != nil {
			return false
		}
		out.Success = &Success{
			OrderID:         fields[0],
			SenderName:      fields[1],
			SenderEmail:     fields[2],
			RecipientName:   fields[3],
			Amount:          fields[4],
			Currency:        fields[5],
			ReceiveAmount:   fields[6],
			ReceiveCurrency: fields[7],
		}
	case KindRecipient:
		fields, err := parseRecord(KindRecipient, tag.body)
		if err != nil {
			return false
		}
		out.Recipient = &Recipient{
			Name:            fields[0],
			Phone:           fields[1],
			ReceiveAmount:   fields[2],
			ReceiveCurrency: fields[3],
			Provider:        fields[4],
			Bank:            fields[5],
			AccountNumber:   fields[6],
			Country:         fields[7],
		}
	case KindRecipients:
		rows := parseList(tag.body)
		if len(rows) == 0 {
			return false
		}
		entries := make([]RecipientEntry, 0, len(rows))
		for _, cols := range rows {
			e := RecipientEntry{Name: cols[0]}
			if len(cols) > 1 {
				e.Phone = cols[1]
			}
			if len(cols) > 2 {
				e.Provider = cols[2]
			}
			if len(cols) > 3 {
				e.Bank = cols[3]
			}
			if len(cols) > 4 {
				e.Country = cols[4]
			}
			entries = append(entries, e)
		}
		out.Recipients = entries
	case KindQuickReplies:
		rows := parseList(tag.body)
		if len(rows) == 0 {
			return false
		}
		replies := make([]QuickReply, 0, len(rows))
		for _, cols := range rows {
			qr := QuickReply{Label: cols[0], Value: cols[0]}
			if len(cols) > 1 && cols[1] != "" {
				qr.Value = cols[1]
			}
			replies = append(replies, qr)
		}
		out.QuickReplies = replies
	case KindReplies:
		rows := parseList(tag.body)
		if len(rows) == 0 {
			return false
		}
		values := make([]string, 0, len(rows))
		for _, cols := range rows {
			values = append(values, cols[0])
		}
		out.Replies = values
	default:
		return false
	}
	return true
}

// sanitizeField keeps encoded values from breaking record framing.
func sanitizeField(v string) string {
	v = strings.ReplaceAll(v, ":", " ")
	v = strings.ReplaceAll(v, "[[", "")
	v = strings.ReplaceAll(v, "]]", "")
	return strings.TrimSpace(v)
}

func encodeRecord(kind Kind, fields ...string) string {
	clean := make([]string, len(fields))
	for i, f := range fields {
		clean[i] = sanitizeField(f)
	}
	return fmt.Sprintf("[[%s:%s]]", kind, strings.Join(clean, ":"))
}

func EncodeTransfer(t Transfer) string {
	return encodeRecord(KindTransfer,
		t.SendAmount, t.SendCurrency, t.Fee, t.NetAmount, t.Rate, t.ReceiveAmount, t.ReceiveCurrency)
}

// EncodePayment emits the reserved trailing field so the wire arity
// stays six.
func EncodePayment(p Payment) string {
	return encodeRecord(KindPayment,
		p.Amount, p.Currency, p.AccountNumber, p.AccountHolder, p.Provider, "")
}

func EncodeRecipient(r Recipient) string {
	return encodeRecord(KindRecipient,
		r.Name, r.Phone, r.ReceiveAmount, r.ReceiveCurrency, r.Provider, r.Bank, r.AccountNumber, r.Country)
}

func EncodeSuccess(s Success) string {
	return encodeRecord(KindSuccess,
		s.OrderID, s.SenderName, s.SenderEmail, s.RecipientName, s.Amount, s.Currency, s.ReceiveAmount, s.ReceiveCurrency)
}

func EncodeRecipients(entries []RecipientEntry) string {
	rows := make([]string, 0, len(entries))
	for _, e := range entries {
		cols := []string{e.Name, e.Phone, e.Provider, e.Bank, e.Country}
		for i, c := range cols {
			cols[i] = sanitizeListField(c)
		}
		rows = append(rows, strings.Join(cols, "|"))
	}
	return fmt.Sprintf("[[%s:%s]]", KindRecipients, strings.Join(rows, ","))
}

func EncodeQuickReplies(replies []QuickReply) string {
	rows := make([]string, 0, len(replies))
	for _, qr := range replies {
		rows = append(rows, sanitizeListField(qr.Label)+"|"+sanitizeListField(qr.Value))
	}
	return fmt.Sprintf("[[%s:%s]]", KindQuickReplies, strings.Join(rows, ","))
}

func EncodeCopy(c Copy) string {
	return encodeRecord(KindCopy, c.Label, c.Value)
}

func sanitizeListField(v string) string {
	v = sanitizeField(v)
	v = strings.ReplaceAll(v, "|", " ")
	v = strings.ReplaceAll(v, ",", " ")
	return strings.TrimSpace(v)
}

var (
	copyTagRE    = regexp.MustCompile(`\[\[COPY:([^:\]]*):([^\]]*)\]\]`)
	genericTagRE = regexp.MustCompile(`\[\[[A-Z_]+:[^\]]*\]\]`)
	brackets     = strings.NewReplacer("[[", "", "]]", "")
	newlineRunRE = regexp.MustCompile(`\n{3,}`)
)

// InlineCopies rewrites COPY tags as plain "Label: value" text so the
// value survives on channels without a copy affordance.
func InlineCopies(text string) string {
	return copyTagRE.ReplaceAllString(text, "$1: $2")
}

// StripTags removes every remaining tag plus stray bracket pairs and
// collapses the blank runs they leave behind. Idempotent.
func StripTags(text string) string {
	text = genericTagRE.ReplaceAllString(text, "")
	text = brackets.Replace(text)
	text = newlineRunRE.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

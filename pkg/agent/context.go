package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/providers"
	"github.com/ikamba/ikamba-agent/pkg/remit"
	"github.com/ikamba/ikamba-agent/pkg/tools"
)

// Prompt size is bounded by capping the personalization lists.
const (
	maxPromptRecipients   = 5
	maxPromptTransactions = 5
)

// ContextSnapshot is everything live the system prompt needs for one
// request. A failed assembly yields the zero value, never an error.
type ContextSnapshot struct {
	Rates        map[string]float64 // customer-facing, margin applied
	Receivers    []remit.PaymentReceiver
	Recipients   []remit.Recipient
	Transactions []remit.Transaction
	AccountID    string // verified account, empty when unlinked
	Verified     bool
}

// Assembler gathers the snapshot with one concurrent fan-out per
// request.
type Assembler struct {
	calc        *remit.Calculator
	rates       remit.RateSource
	adjustments remit.AdjustmentSource
	receivers   remit.ReceiverDirectory
	recipients  remit.RecipientStore
	txs         remit.TransactionStore
	linker      remit.IdentityLinker
}

func NewAssembler(
	calc *remit.Calculator,
	rates remit.RateSource,
	adjustments remit.AdjustmentSource,
	receivers remit.ReceiverDirectory,
	recipients remit.RecipientStore,
	txs remit.TransactionStore,
	linker remit.IdentityLinker,
) *Assembler {
	return &Assembler{
		calc:        calc,
		rates:       rates,
		adjustments: adjustments,
		receivers:   receivers,
		recipients:  recipients,
		txs:         txs,
		linker:      linker,
	}
}

// Snapshot issues all independent reads concurrently and joins them.
// Any read failure degrades the whole snapshot to defaults rather than
// failing the request. When the channel identity resolves to a
// verified account, the user-scoped reads are re-issued under that
// account because the verified identity is authoritative.
func (a *Assembler) Snapshot(ctx context.Context, channelID, userID string) ContextSnapshot {
	var (
		rawRates     map[string]float64
		adjustments  map[string]float64
		receivers    []remit.PaymentReceiver
		recipients   []remit.Recipient
		transactions []remit.Transaction
		accountID    string
		linked       bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rawRates, err = a.rates.Rates(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		adjustments, err = a.adjustments.Adjustments(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		receivers, err = a.receivers.ActiveReceivers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		recipients, err = a.recipients.RecentRecipients(gctx, userID, maxPromptRecipients)
		return err
	})
	g.Go(func() error {
		var err error
		transactions, err = a.txs.RecentTransactions(gctx, userID, maxPromptTransactions)
		return err
	})
	g.Go(func() error {
		var err error
		accountID, linked, err = a.linker.LinkedAccount(gctx, channelID)
		return err
	})

	if err := g.Wait(); err != nil {
		logger.WarnCF("agent", "Context assembly degraded to defaults", map[string]interface{}{
			"channel_id": channelID,
			"error":      err.Error(),
		})
		return ContextSnapshot{Rates: map[string]float64{}}
	}

	if linked && accountID != "" && accountID != userID {
		if r, err := a.recipients.RecentRecipients(ctx, accountID, maxPromptRecipients); err == nil {
			recipients = r
		}
		if t, err := a.txs.RecentTransactions(ctx, accountID, maxPromptTransactions); err == nil {
			transactions = t
		}
	}

	if len(recipients) > maxPromptRecipients {
		recipients = recipients[:maxPromptRecipients]
	}
	if len(transactions) > maxPromptTransactions {
		transactions = transactions[:maxPromptTransactions]
	}

	snap := ContextSnapshot{
		Rates:        a.displayRates(rawRates, adjustments),
		Receivers:    receivers,
		Recipients:   recipients,
		Transactions: transactions,
	}
	if linked {
		snap.AccountID = accountID
		snap.Verified = true
	}
	return snap
}

// displayRates prices every supported corridor out of RUB with the
// margin and adjustments applied, so the prompt carries the same
// numbers create_transfer_order will charge.
func (a *Assembler) displayRates(rates, adjustments map[string]float64) map[string]float64 {
	out := map[string]float64{}
	if len(rates) == 0 {
		return out
	}
	for code := range remit.Currencies {
		if code == "RUB" {
			continue
		}
		rate, err := a.calc.CustomerRate(rates, adjustments, "RUB", code)
		if err != nil {
			continue
		}
		out["RUB"+code] = rate
		// Reverse corridor where the inbound flow is offered too.
		if rev, rerr := a.calc.CustomerRate(rates, adjustments, code, "RUB"); rerr == nil {
			out[code+"RUB"] = rev
		}
	}
	return out
}

// PromptBuilder renders the system prompt and the message list for a
// model call.
type PromptBuilder struct {
	tools *tools.ToolRegistry
}

func NewPromptBuilder(registry *tools.ToolRegistry) *PromptBuilder {
	return &PromptBuilder{tools: registry}
}

func (pb *PromptBuilder) BuildSystemPrompt(snap ContextSnapshot, channel string) string {
	var sb strings.Builder

	sb.WriteString(`# Ikamba

You are Ikamba, the assistant of a money transfer service sending money from Russia to Africa. You help customers check rates, create transfer orders, submit payment proof, and track transfers. Reply in the language the customer writes in (Russian, English, French, or Kinyarwanda).

## Rules
1. ALWAYS use the operations to act. Never invent order IDs, rates, or account numbers.
2. Amounts below ` + fmt.Sprintf("%.0f", remit.MinSendAmount) + ` RUB cannot be sent. Warn the customer above ` + fmt.Sprintf("%.0f", remit.MaxSendAmount) + ` RUB.
3. Before creating an order you need: sender name and phone, recipient name and phone, amount, destination currency, and delivery method.
4. When the customer sends a payment screenshot, call upload_payment_proof immediately.
5. Customers must verify their email before you show account history.
`)

	sb.WriteString("\n## Display tags\n")
	sb.WriteString("Embed these tags in replies so the app renders rich cards. Fields are positional, colon separated, no labels inside the tag:\n")
	sb.WriteString("- `[[TRANSFER:sendAmount:sendCurrency:fee:netAmount:rate:receiveAmount:receiveCurrency]]` after quoting a transfer\n")
	sb.WriteString("- `[[PAYMENT:amount:currency:accountNumber:accountHolder:provider:]]` with payment instructions\n")
	sb.WriteString("- `[[RECIPIENT:name:phone:receiveAmount:receiveCurrency:provider:bank:accountNumber:country]]` when confirming a recipient\n")
	sb.WriteString("- `[[SUCCESS:orderId:senderName:senderEmail:recipientName:amount:currency:receiveAmount:receiveCurrency]]` after an order is created\n")
	sb.WriteString("- `[[QUICK_REPLIES:label1|value1,label2|value2]]` to offer choices\n")
	sb.WriteString("- `[[COPY:label:value]]` for values the customer should copy, like account numbers\n")

	if len(snap.Rates) > 0 {
		sb.WriteString("\n## Current rates\n")
		keys := make([]string, 0, len(snap.Rates))
		for k := range snap.Rates {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("- %s: %.4f\n", k, snap.Rates[k]))
		}
		sb.WriteString(fmt.Sprintf("Fee: %.0f RUB per transfer, charged on the RUB side.\n", remit.FixedFeeRUB))
	} else {
		sb.WriteString("\n## Current rates\nLive rates are temporarily unavailable. Apologize and offer to try again shortly, do not quote numbers.\n")
	}

	if len(snap.Receivers) > 0 {
		sb.WriteString("\n## Payment accounts\n")
		for _, r := range snap.Receivers {
			sb.WriteString(fmt.Sprintf("- %s (%s): %s, %s\n", r.Provider, r.Currency, r.AccountNumber, r.AccountHolder))
		}
	}

	if snap.Verified {
		sb.WriteString(fmt.Sprintf("\n## Customer\nVerified account: %s\n", snap.AccountID))
	} else {
		sb.WriteString("\n## Customer\nNot verified. Offer email verification before showing history or profile data.\n")
	}

	if len(snap.Recipients) > 0 {
		sb.WriteString("\n## Saved recipients\n")
		for _, r := range snap.Recipients {
			sb.WriteString(fmt.Sprintf("- %s, %s, %s (%s)\n", r.Name, r.Phone, r.Provider, r.Currency))
		}
	}

	if len(snap.Transactions) > 0 {
		sb.WriteString("\n## Recent transfers\n")
		for _, tx := range snap.Transactions {
			sb.WriteString(fmt.Sprintf("- %s: %s %s to %s, %s\n",
				tx.ID,
				remit.FormatAmount(tx.SendAmount, tx.SendCurrency), tx.SendCurrency,
				tx.RecipientName,
				string(tx.Status)))
		}
	}

	sb.WriteString(fmt.Sprintf("\n## Session\nChannel: %s\nTime: %s\n", channel, time.Now().UTC().Format("2006-01-02 15:04 UTC")))

	return sb.String()
}

// BuildMessages assembles the full transcript for a model call. Leading
// orphaned tool turns are dropped because providers reject tool output
// without its matching assistant call.
func (pb *PromptBuilder) BuildMessages(systemPrompt string, history []providers.Message, currentMessage string, media []string) []providers.Message {
	for len(history) > 0 && history[0].Role == "tool" {
		history = history[1:]
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)

	current := providers.Message{Role: "user", Content: currentMessage}
	if len(media) > 0 {
		current.Media = media
		logger.DebugCF("agent", "Attached images to message", map[string]interface{}{
			"count": len(media),
		})
	}
	messages = append(messages, current)
	return messages
}

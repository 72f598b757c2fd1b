package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/remit"
)

// CreateOrderTool books a transfer order: it prices the corridor,
// snapshots the active payment receiver, persists the transaction in
// pending_payment, and returns payment instructions for the sender.
type CreateOrderTool struct {
	calc        *remit.Calculator
	rates       remit.RateSource
	adjustments remit.AdjustmentSource
	receivers   remit.ReceiverDirectory
	txs         remit.TransactionStore
	recipients  remit.RecipientStore
	profiles    remit.ProfileStore
	emails      remit.EmailSender
	adminEmail  string

	turn Turn
}

func NewCreateOrderTool(
	calc *remit.Calculator,
	rates remit.RateSource,
	adjustments remit.AdjustmentSource,
	receivers remit.ReceiverDirectory,
	txs remit.TransactionStore,
	recipients remit.RecipientStore,
	profiles remit.ProfileStore,
	emails remit.EmailSender,
	adminEmail string,
) *CreateOrderTool {
	return &CreateOrderTool{
		calc:        calc,
		rates:       rates,
		adjustments: adjustments,
		receivers:   receivers,
		txs:         txs,
		recipients:  recipients,
		profiles:    profiles,
		emails:      emails,
		adminEmail:  adminEmail,
	}
}

func (t *CreateOrderTool) Name() string {
	return "create_transfer_order"
}

func (t *CreateOrderTool) Description() string {
	return "Create a money transfer order. Prices the transfer, reserves payment instructions, and returns the order ID the sender must use as the payment reference."
}

func (t *CreateOrderTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"userId":         map[string]interface{}{"type": "string", "description": "Account or channel identity of the sender"},
			"senderName":     map[string]interface{}{"type": "string", "description": "Full name of the sender"},
			"senderPhone":    map[string]interface{}{"type": "string", "description": "Sender phone number with country prefix"},
			"senderEmail":    map[string]interface{}{"type": "string", "description": "Optional sender email for the order confirmation"},
			"recipientName":  map[string]interface{}{"type": "string", "description": "Full name of the recipient"},
			"recipientPhone": map[string]interface{}{"type": "string", "description": "Recipient phone number with country prefix"},
			"fromCurrency":   map[string]interface{}{"type": "string", "description": "Currency the sender pays in, e.g. RUB"},
			"toCurrency":     map[string]interface{}{"type": "string", "description": "Currency the recipient receives, e.g. RWF"},
			"sendAmount":     map[string]interface{}{"type": "number", "description": "Amount to send in fromCurrency"},
			"paymentMethod":  map[string]interface{}{"type": "string", "description": "How the sender pays, e.g. bank_transfer"},
			"deliveryMethod": map[string]interface{}{"type": "string", "description": "How the recipient is paid out, e.g. MTN Mobile Money"},
			"recipientBank":  map[string]interface{}{"type": "string", "description": "Recipient bank name for bank delivery"},
			"accountNumber":  map[string]interface{}{"type": "string", "description": "Recipient account number for bank delivery"},
			"recipientCountry": map[string]interface{}{
				"type": "string", "description": "Recipient country name",
			},
		},
		"required": []string{"senderName", "senderPhone", "recipientName", "recipientPhone", "fromCurrency", "toCurrency", "sendAmount", "paymentMethod", "deliveryMethod"},
	}
}

func (t *CreateOrderTool) SetTurn(turn Turn) {
	t.turn = turn
}

func (t *CreateOrderTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	userID := stringArg(args, "userId")
	if userID == "" {
		userID = t.turn.EffectiveUser()
	}
	if userID == "" {
		return JSONError("not authenticated: no user identity for this order")
	}

	sendAmount, ok := floatArg(args, "sendAmount")
	if !ok || sendAmount <= 0 {
		return JSONError("sendAmount must be a positive number")
	}

	from := strings.ToUpper(stringArg(args, "fromCurrency"))
	to := strings.ToUpper(stringArg(args, "toCurrency"))
	recipientPhone := strings.TrimSpace(stringArg(args, "recipientPhone"))
	if !remit.IsValidPhone(recipientPhone) {
		return JSONError("recipient phone %q is not a valid phone number", recipientPhone)
	}
	senderPhone := strings.TrimSpace(stringArg(args, "senderPhone"))
	if !remit.IsValidPhone(senderPhone) {
		return JSONError("sender phone %q is not a valid phone number", senderPhone)
	}

	rates, err := t.rates.Rates(ctx)
	if err != nil {
		return JSONError("exchange rates unavailable, try again shortly")
	}
	adjustments := map[string]float64{}
	if t.adjustments != nil {
		if adj, aerr := t.adjustments.Adjustments(ctx); aerr == nil {
			adjustments = adj
		}
	}

	quote, err := t.calc.Price(rates, adjustments, sendAmount, from, to)
	if err != nil {
		return JSONError("%v", err)
	}

	receiver, err := t.activeReceiver(ctx, from)
	if err != nil {
		return JSONError("%v", err)
	}

	orderID := newOrderID()
	now := time.Now().UTC()
	tx := remit.Transaction{
		ID:              orderID,
		UserID:          userID,
		SenderName:      stringArg(args, "senderName"),
		SenderEmail:     stringArg(args, "senderEmail"),
		RecipientName:   stringArg(args, "recipientName"),
		RecipientPhone:  recipientPhone,
		Provider:        stringArg(args, "deliveryMethod"),
		Bank:            stringArg(args, "recipientBank"),
		AccountNumber:   stringArg(args, "accountNumber"),
		SendAmount:      quote.SendAmount,
		SendCurrency:    quote.SendCurrency,
		Fee:             quote.Fee,
		NetAmount:       quote.NetAmount,
		Rate:            quote.Rate,
		ReceiveAmount:   quote.ReceiveAmount,
		ReceiveCurrency: quote.ReceiveCurrency,
		Status:          remit.StatusPendingPayment,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := t.txs.CreateTransaction(ctx, tx); err != nil {
		logger.ErrorCF("tools", "Failed to persist order", map[string]interface{}{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return JSONError("could not save the order, please try again")
	}

	t.saveRecipient(ctx, args, userID, recipientPhone, to)
	t.notify(ctx, tx)

	logger.InfoCF("tools", "Transfer order created", map[string]interface{}{
		"order_id": orderID,
		"user_id":  userID,
		"corridor": from + "->" + to,
		"amount":   quote.SendAmount,
	})

	return JSONResult(map[string]interface{}{
		"success": true,
		"orderId": orderID,
		"status":  string(tx.Status),
		"quote":   quote,
		"paymentInstructions": map[string]interface{}{
			"amount":        quote.SendAmount,
			"currency":      quote.SendCurrency,
			"accountNumber": receiver.AccountNumber,
			"accountHolder": receiver.AccountHolder,
			"provider":      receiver.Provider,
			"kind":          receiver.Kind,
			"reference":     orderID,
			"note":          fmt.Sprintf("Include reference %s with your payment", orderID),
		},
	})
}

func (t *CreateOrderTool) activeReceiver(ctx context.Context, currency string) (*remit.PaymentReceiver, error) {
	receivers, err := t.receivers.ActiveReceivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment accounts unavailable, try again shortly")
	}
	for i := range receivers {
		if receivers[i].Currency == currency && receivers[i].Active {
			return &receivers[i], nil
		}
	}
	return nil, fmt.Errorf("no active payment account for %s right now", currency)
}

func (t *CreateOrderTool) saveRecipient(ctx context.Context, args map[string]interface{}, userID, phone, currency string) {
	r := remit.Recipient{
		ID:            "rcp_" + uuid.NewString()[:8],
		UserID:        userID,
		Name:          stringArg(args, "recipientName"),
		Phone:         phone,
		Country:       stringArg(args, "recipientCountry"),
		Provider:      stringArg(args, "deliveryMethod"),
		Bank:          stringArg(args, "recipientBank"),
		AccountNumber: stringArg(args, "accountNumber"),
		Currency:      currency,
	}
	if err := t.recipients.SaveRecipient(ctx, r); err != nil {
		logger.WarnCF("tools", "Failed to save recipient", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

// notify sends the confirmation emails. Delivery is fire and forget,
// an email failure never fails the order.
func (t *CreateOrderTool) notify(ctx context.Context, tx remit.Transaction) {
	subject := fmt.Sprintf("Ikamba order %s", tx.ID)
	body := fmt.Sprintf(
		"<p>Order <b>%s</b> created.</p><p>%s %s to %s (%s %s). Fee %s %s.</p><p>Status: %s</p>",
		tx.ID,
		remit.FormatAmount(tx.SendAmount, tx.SendCurrency), tx.SendCurrency,
		tx.RecipientName,
		remit.FormatAmount(tx.ReceiveAmount, tx.ReceiveCurrency), tx.ReceiveCurrency,
		remit.FormatAmount(tx.Fee, tx.SendCurrency), tx.SendCurrency,
		remit.StatusDescription(tx.Status),
	)

	userEmail := tx.SenderEmail
	if userEmail == "" && t.profiles != nil {
		if p, err := t.profiles.GetProfile(ctx, tx.UserID); err == nil && p != nil {
			userEmail = p.Email
		}
	}
	remit.SendAsync(t.emails, userEmail, subject, body)
	remit.SendAsync(t.emails, t.adminEmail, "[admin] "+subject, body)
}

func newOrderID() string {
	return "IKB-" + strings.ToUpper(uuid.NewString()[:8])
}

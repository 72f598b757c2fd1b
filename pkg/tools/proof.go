package tools

import (
	"context"
	"strings"

	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/remit"
	"github.com/ikamba/ikamba-agent/pkg/store"
	"github.com/ikamba/ikamba-agent/pkg/utils"
)

// UploadProofTool attaches a payment-proof image from the current turn
// to a transaction and moves it to awaiting_confirmation. The image
// itself arrives through the channel, never as a call argument.
type UploadProofTool struct {
	txs    remit.TransactionStore
	proofs *store.ProofStore

	turn Turn
}

func NewUploadProofTool(txs remit.TransactionStore, proofs *store.ProofStore) *UploadProofTool {
	return &UploadProofTool{txs: txs, proofs: proofs}
}

func (t *UploadProofTool) Name() string {
	return "upload_payment_proof"
}

func (t *UploadProofTool) Description() string {
	return "Attach the payment receipt image the user just sent to their transfer order. Call this whenever the user shares a payment screenshot or receipt."
}

func (t *UploadProofTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"userId":        map[string]interface{}{"type": "string", "description": "Account or channel identity of the sender"},
			"transactionId": map[string]interface{}{"type": "string", "description": "Order ID to attach the proof to. Omit to use the most recent pending order."},
			"recipientName": map[string]interface{}{"type": "string", "description": "Recipient name from this conversation, used to pick the right order when no ID is given"},
			"sendAmount":    map[string]interface{}{"type": "number", "description": "Send amount shown to the user in this conversation"},
			"receiveAmount": map[string]interface{}{"type": "number", "description": "Receive amount shown to the user in this conversation"},
		},
		"required": []string{},
	}
}

func (t *UploadProofTool) SetTurn(turn Turn) {
	t.turn = turn
}

func (t *UploadProofTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	if len(t.turn.ImagePaths) == 0 {
		return JSONError("no payment proof image in this message, ask the user to send the receipt photo")
	}

	userID := stringArg(args, "userId")
	if userID == "" {
		userID = t.turn.EffectiveUser()
	}
	if userID == "" {
		return JSONError("not authenticated: no user identity")
	}

	tx, err := t.resolveTransaction(ctx, userID, stringArg(args, "transactionId"), stringArg(args, "recipientName"))
	if err != nil {
		return JSONError("%v", err)
	}
	if tx == nil {
		return JSONError("no active transfer order found, create the order first")
	}

	imagePath := t.turn.ImagePaths[0]
	rec, err := t.proofs.SaveFromLocalFile(tx.ID, t.turn.Channel, userID, imagePath, utils.DetectImageMimeType(imagePath))
	if err != nil {
		logger.ErrorCF("tools", "Failed to store payment proof", map[string]interface{}{
			"transaction_id": tx.ID,
			"error":          err.Error(),
		})
		return JSONError("could not store the payment proof, please resend the image")
	}

	if err := t.txs.AttachProof(ctx, tx.ID, rec.StoredPath); err != nil {
		return JSONError("could not update the order, please try again")
	}

	logger.InfoCF("tools", "Payment proof attached", map[string]interface{}{
		"transaction_id": tx.ID,
		"user_id":        userID,
		"proof_id":       rec.ID,
	})

	// Values the model just showed the user win over whatever a stale
	// draft has persisted.
	sendAmount := tx.SendAmount
	if v, ok := floatArg(args, "sendAmount"); ok && v > 0 {
		sendAmount = v
	}
	receiveAmount := tx.ReceiveAmount
	if v, ok := floatArg(args, "receiveAmount"); ok && v > 0 {
		receiveAmount = v
	}
	recipientName := tx.RecipientName
	if v := stringArg(args, "recipientName"); v != "" {
		recipientName = v
	}

	return JSONResult(map[string]interface{}{
		"success":       true,
		"transactionId": tx.ID,
		"proofUrl":      rec.StoredPath,
		"status":        string(remit.StatusAwaitingConfirmation),
		"orderDetails": map[string]interface{}{
			"recipientName":   recipientName,
			"sendAmount":      sendAmount,
			"sendCurrency":    tx.SendCurrency,
			"receiveAmount":   receiveAmount,
			"receiveCurrency": tx.ReceiveCurrency,
		},
	})
}

// resolveTransaction picks the order the proof belongs to: explicit ID
// first, then the user's most recent payable order, preferring a
// recipient-name match when the conversation names one.
func (t *UploadProofTool) resolveTransaction(ctx context.Context, userID, explicitID, recipientName string) (*remit.Transaction, error) {
	if explicitID != "" {
		tx, err := t.txs.GetTransaction(ctx, explicitID)
		if err != nil {
			return nil, err
		}
		return tx, nil
	}

	recent, err := t.txs.RecentTransactions(ctx, userID, 5)
	if err != nil {
		return nil, err
	}

	var fallback *remit.Transaction
	for i := range recent {
		tx := &recent[i]
		if tx.Status != remit.StatusPendingPayment && tx.Status != remit.StatusDraft {
			continue
		}
		if fallback == nil {
			fallback = tx
		}
		if recipientName != "" && strings.EqualFold(strings.TrimSpace(tx.RecipientName), strings.TrimSpace(recipientName)) {
			return tx, nil
		}
	}
	return fallback, nil
}

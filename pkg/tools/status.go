package tools

import (
	"context"
	"strings"

	"github.com/ikamba/ikamba-agent/pkg/remit"
)

// TransactionStatusTool returns one order with a human-readable status
// line the model can relay verbatim.
type TransactionStatusTool struct {
	txs remit.TransactionStore

	turn Turn
}

func NewTransactionStatusTool(txs remit.TransactionStore) *TransactionStatusTool {
	return &TransactionStatusTool{txs: txs}
}

func (t *TransactionStatusTool) Name() string {
	return "check_transaction_status"
}

func (t *TransactionStatusTool) Description() string {
	return "Look up a transfer order by its ID and report its current status."
}

func (t *TransactionStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"transactionId": map[string]interface{}{"type": "string", "description": "The order ID, e.g. IKB-1A2B3C4D"},
			"userId":        map[string]interface{}{"type": "string", "description": "Optional account identity for an ownership check"},
		},
		"required": []string{"transactionId"},
	}
}

func (t *TransactionStatusTool) SetTurn(turn Turn) {
	t.turn = turn
}

func (t *TransactionStatusTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	id := strings.TrimSpace(stringArg(args, "transactionId"))
	tx, err := t.txs.GetTransaction(ctx, id)
	if err != nil {
		return JSONError("could not look up the order, please try again")
	}
	if tx == nil {
		return JSONError("no order found with ID %s", id)
	}

	userID := stringArg(args, "userId")
	if userID == "" {
		userID = t.turn.EffectiveUser()
	}
	if userID != "" && tx.UserID != "" && tx.UserID != userID {
		return JSONError("no order found with ID %s", id)
	}

	return JSONResult(map[string]interface{}{
		"success":           true,
		"transaction":       transactionSummary(*tx),
		"statusDescription": remit.StatusDescription(tx.Status),
	})
}

// TransactionsByStatusTool lists the caller's orders filtered by a
// coarse status bucket.
type TransactionsByStatusTool struct {
	txs remit.TransactionStore

	turn Turn
}

func NewTransactionsByStatusTool(txs remit.TransactionStore) *TransactionsByStatusTool {
	return &TransactionsByStatusTool{txs: txs}
}

func (t *TransactionsByStatusTool) Name() string {
	return "get_user_transactions_by_status"
}

func (t *TransactionsByStatusTool) Description() string {
	return "List the user's transfer orders filtered by status: pending, processing, completed, cancelled, or all."
}

func (t *TransactionsByStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"userId": map[string]interface{}{"type": "string", "description": "Account identity whose orders to list"},
			"status": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"pending", "processing", "completed", "cancelled", "all"},
				"description": "Status bucket to filter by",
			},
			"limit": map[string]interface{}{"type": "number", "description": "Maximum number of orders to return, default 10"},
		},
		"required": []string{"status"},
	}
}

func (t *TransactionsByStatusTool) SetTurn(turn Turn) {
	t.turn = turn
}

// statusBuckets maps the coarse filter names to the stored statuses
// they cover.
var statusBuckets = map[string][]remit.TransactionStatus{
	"pending":    {remit.StatusPendingPayment, remit.StatusAwaitingConfirmation, remit.StatusDraft},
	"processing": {remit.StatusProcessing, remit.StatusSent},
	"completed":  {remit.StatusDelivered, remit.StatusCompleted},
	"cancelled":  {remit.StatusCancelled, remit.StatusFailed},
}

func (t *TransactionsByStatusTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	userID := stringArg(args, "userId")
	if userID == "" {
		userID = t.turn.EffectiveUser()
	}
	if userID == "" {
		return JSONError("not authenticated: verify the user's account first")
	}

	limit := intArg(args, "limit", 10)
	if limit <= 0 || limit > 10 {
		limit = 10
	}

	bucket := strings.ToLower(strings.TrimSpace(stringArg(args, "status")))
	var (
		txs []remit.Transaction
		err error
	)
	if bucket == "all" || bucket == "" {
		txs, err = t.txs.RecentTransactions(ctx, userID, limit)
	} else {
		statuses, ok := statusBuckets[bucket]
		if !ok {
			return JSONError("unknown status %q, use pending, processing, completed, cancelled, or all", bucket)
		}
		for _, s := range statuses {
			part, perr := t.txs.TransactionsByStatus(ctx, userID, s)
			if perr != nil {
				err = perr
				break
			}
			txs = append(txs, part...)
		}
		if len(txs) > limit {
			txs = txs[:limit]
		}
	}
	if err != nil {
		return JSONError("could not list orders, please try again")
	}

	summaries := make([]map[string]interface{}, 0, len(txs))
	for _, tx := range txs {
		summaries = append(summaries, transactionSummary(tx))
	}

	out := map[string]interface{}{
		"success":      true,
		"count":        len(summaries),
		"transactions": summaries,
	}
	if len(summaries) == 0 {
		if bucket == "" {
			bucket = "all"
		}
		if bucket == "all" {
			out["message"] = "No transactions found for this user"
		} else {
			out["message"] = "No " + bucket + " transactions found for this user"
		}
	}
	return JSONResult(out)
}

func transactionSummary(tx remit.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"transactionId":    tx.ID,
		"recipientName":    tx.RecipientName,
		"recipientPhone":   tx.RecipientPhone,
		"sendAmount":       tx.SendAmount,
		"sendCurrency":     tx.SendCurrency,
		"fee":              tx.Fee,
		"receiveAmount":    tx.ReceiveAmount,
		"receiveCurrency":  tx.ReceiveCurrency,
		"rate":             tx.Rate,
		"status":           string(tx.Status),
		"hasTransferProof": tx.ProofPath != "",
		"createdAt":        tx.CreatedAt.UTC(),
	}
}

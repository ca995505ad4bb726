package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sudo-init-do/mkopo/internal/ledger"
)

var ErrNoReference = errors.New("callback carries no reference")

// Gateways name the reference differently depending on product and version;
// the first non-empty one wins.
var referenceFields = []string{
	"external_reference",
	"reference",
	"transaction_reference",
	"TransactionReference",
	"CheckoutRequestID",
	"checkout_request_id",
}

var statusFields = []string{"status", "Status", "payment_status", "state"}

var receiptFields = []string{"mpesa_receipt_number", "MpesaReceiptNumber", "receipt_number"}

var reasonFields = []string{"failure_reason", "ResultDesc", "message"}

// lookup searches the top level of the payload, then a nested "data" object.
func lookup(payload map[string]any, keys []string) string {
	scopes := []map[string]any{payload}
	if data, ok := payload["data"].(map[string]any); ok {
		scopes = append(scopes, data)
	}
	for _, scope := range scopes {
		for _, k := range keys {
			switch v := scope[k].(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					return s
				}
			case float64:
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
	}
	return ""
}

// CallbackReference returns the first non-empty reference candidate.
func CallbackReference(payload map[string]any) string {
	return lookup(payload, referenceFields)
}

// CallbackStatus reads the payment status, falling back to M-Pesa style result codes.
func CallbackStatus(payload map[string]any) string {
	if s := lookup(payload, statusFields); s != "" {
		return s
	}
	code := lookup(payload, []string{"ResultCode", "result_code"})
	switch {
	case code == "":
		return ""
	case code == "0":
		return "completed"
	case code == "1032":
		return "cancelled"
	}
	return "failed"
}

// HandleCallback applies a gateway webhook. It returns the local reference it
// resolved so callers can log it.
func (r *Reconciler) HandleCallback(ctx context.Context, payload map[string]any) (string, Result, error) {
	key := CallbackReference(payload)
	if key == "" {
		return "", Result{}, ErrNoReference
	}

	tx, err := r.store.GetTransaction(ctx, key)
	if errors.Is(err, ledger.ErrNotFound) {
		tx, err = r.store.FindByGatewayReference(ctx, key)
	}
	if err != nil {
		return "", Result{}, fmt.Errorf("locate transaction %s: %w", key, err)
	}
	if tx.Type != ledger.TypeServiceFee {
		return tx.Reference, Result{}, fmt.Errorf("callback for %s: %w", tx.Reference, ledger.ErrNotServiceFee)
	}

	res, err := r.Apply(ctx, tx.Reference, Outcome{
		Status:        CallbackStatus(payload),
		ReceiptNumber: lookup(payload, receiptFields),
		FailureReason: lookup(payload, reasonFields),
		Source:        "webhook",
	})
	return tx.Reference, res, err
}

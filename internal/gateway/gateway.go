package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrRejected marks a well-formed gateway response that refused the request,
// as opposed to a transport failure or timeout.
var ErrRejected = errors.New("gateway rejected request")

// RejectedError carries the best-effort message extracted from the gateway body.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected request (status=%d): %s", e.StatusCode, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

type InitiateRequest struct {
	Phone     string
	Amount    decimal.Decimal
	Reference string
}

type InitiateResult struct {
	Success              bool   `json:"success"`
	TransactionReference string `json:"transaction_reference"`
	Message              string `json:"message"`
}

type PaymentStatus struct {
	Status             string          `json:"status"`
	Amount             decimal.Decimal `json:"amount"`
	MobileNumber       string          `json:"mobile_number"`
	MpesaReceiptNumber string          `json:"mpesa_receipt_number,omitempty"`
	FailureReason      string          `json:"failure_reason,omitempty"`
}

// Client is the payment gateway capability used by the API and the reconciler.
type Client interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	QueryStatus(ctx context.Context, transactionReference string) (*PaymentStatus, error)
}

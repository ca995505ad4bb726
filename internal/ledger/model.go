package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type TxType string

const (
	TypeServiceFee       TxType = "service_fee"
	TypeWithdrawal       TxType = "withdrawal"
	TypeLoanDisbursement TxType = "loan_disbursement"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
	StatusTimedOut   Status = "timed_out"
)

// Open reports whether a transaction in this status can still move.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusProcessing
}

// Metadata keys shared by the reconciler, handlers and receipts.
const (
	MetaGatewayReference = "gateway_reference"
	MetaLoanAmount       = "loan_amount"
	MetaRelatedReference = "related_reference"
	MetaReceiptNumber    = "mpesa_receipt_number"
	MetaFailureReason    = "failure_reason"
	MetaSettledBy        = "settled_by"
)

type Metadata map[string]any

// String returns the value for key when it is a non-empty string.
func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Decimal reads a monetary value stored either as a string or a JSON number.
func (m Metadata) Decimal(key string) (decimal.Decimal, bool) {
	if m == nil {
		return decimal.Zero, false
	}
	switch v := m[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case decimal.Decimal:
		return v, true
	}
	return decimal.Zero, false
}

func (m Metadata) merge(patch Metadata) Metadata {
	out := make(Metadata, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// User is a ledger account keyed by canonical phone number.
type User struct {
	Phone      string          `json:"phone"`
	Balance    decimal.Decimal `json:"balance"`
	Held       decimal.Decimal `json:"held"`
	HasPaidFee bool            `json:"has_paid_fee"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Transaction struct {
	ID          string          `json:"id"`
	Reference   string          `json:"reference"`
	UserPhone   string          `json:"user_phone"`
	Type        TxType          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Status      Status          `json:"status"`
	Description string          `json:"description"`
	Metadata    Metadata        `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Stats is the admin overview of the ledger.
type Stats struct {
	Users                int64            `json:"users"`
	FeePaidUsers         int64            `json:"fee_paid_users"`
	TotalBalance         decimal.Decimal  `json:"total_balance"`
	TotalHeld            decimal.Decimal  `json:"total_held"`
	TransactionsByStatus map[Status]int64 `json:"transactions_by_status"`
}

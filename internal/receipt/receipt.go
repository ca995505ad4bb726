package receipt

import (
	"time"

	"github.com/sudo-init-do/mkopo/internal/ledger"
)

type StatusClass string

const (
	ClassSuccess StatusClass = "success"
	ClassPending StatusClass = "pending"
	ClassFailure StatusClass = "failure"
)

// NotAvailable is shown for loan amounts that were never recorded.
const NotAvailable = "N/A"

func ClassOf(s ledger.Status) StatusClass {
	switch s {
	case ledger.StatusCompleted:
		return ClassSuccess
	case ledger.StatusPending, ledger.StatusProcessing:
		return ClassPending
	}
	return ClassFailure
}

// View is the public projection of a transaction.
type View struct {
	Reference        string          `json:"reference"`
	Type             ledger.TxType   `json:"type"`
	Phone            string          `json:"phone"`
	Amount           float64         `json:"amount"`
	Status           ledger.Status   `json:"status"`
	StatusClass      StatusClass     `json:"status_class"`
	Description      string          `json:"description"`
	LoanAmount       string          `json:"loan_amount"`
	GatewayReference string          `json:"gateway_reference,omitempty"`
	ReceiptNumber    string          `json:"mpesa_receipt_number,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	Metadata         ledger.Metadata `json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func defaultDescription(t ledger.TxType) string {
	switch t {
	case ledger.TypeServiceFee:
		return "Loan service fee"
	case ledger.TypeWithdrawal:
		return "Withdrawal to M-Pesa"
	case ledger.TypeLoanDisbursement:
		return "Loan disbursement"
	}
	return "Transaction"
}

// Build projects tx into a View. It never mutates tx.
func Build(tx *ledger.Transaction) View {
	desc := tx.Description
	if desc == "" {
		desc = defaultDescription(tx.Type)
	}
	loan := NotAvailable
	if d, ok := tx.Metadata.Decimal(ledger.MetaLoanAmount); ok {
		loan = d.StringFixed(2)
	} else if tx.Type == ledger.TypeLoanDisbursement {
		loan = tx.Amount.StringFixed(2)
	}
	meta := tx.Metadata
	if meta == nil {
		meta = ledger.Metadata{}
	}
	return View{
		Reference:        tx.Reference,
		Type:             tx.Type,
		Phone:            tx.UserPhone,
		Amount:           tx.Amount.InexactFloat64(),
		Status:           tx.Status,
		StatusClass:      ClassOf(tx.Status),
		Description:      desc,
		LoanAmount:       loan,
		GatewayReference: meta.String(ledger.MetaGatewayReference),
		ReceiptNumber:    meta.String(ledger.MetaReceiptNumber),
		FailureReason:    meta.String(ledger.MetaFailureReason),
		Metadata:         meta,
		CreatedAt:        tx.CreatedAt,
		UpdatedAt:        tx.UpdatedAt,
	}
}

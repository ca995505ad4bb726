package alerts

import "time"

// Task type constants
const (
	TaskPaymentPoll         = "payment:poll"
	TaskLoanDisbursed       = "notify:loan_disbursed"
	TaskPaymentFailed       = "notify:payment_failed"
	TaskAdminAlert          = "notify:admin_alert"
	TaskWithdrawalRequested = "notify:withdrawal_requested"
)

// Queue names
const (
	QueuePolls  = "polls"
	QueueNotify = "notify"
	QueueAlerts = "alerts"
)

// Envelope is what the webhook sender delivers.
type Envelope struct {
	Event     string `json:"event"`
	Severity  string `json:"severity,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Reference string `json:"reference,omitempty"`
	Text      string `json:"text"`
}

type PaymentPollPayload struct {
	Reference string `json:"reference"`
	// Attempt is added to asynq's retry count to number the polls.
	Attempt int `json:"attempt"`
}

type LoanDisbursedPayload struct {
	FeeReference          string    `json:"fee_reference"`
	DisbursementReference string    `json:"disbursement_reference"`
	Phone                 string    `json:"phone"`
	LoanAmount            string    `json:"loan_amount"`
	Envelope              Envelope  `json:"envelope"`
	SentAt                time.Time `json:"sent_at"`
}

type PaymentFailedPayload struct {
	Reference string    `json:"reference"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	Envelope  Envelope  `json:"envelope"`
	SentAt    time.Time `json:"sent_at"`
}

type AdminAlertPayload struct {
	Severity string    `json:"severity"` // info|warning|critical
	Message  string    `json:"message"`
	Envelope Envelope  `json:"envelope"`
	SentAt   time.Time `json:"sent_at"`
}

type WithdrawalRequestedPayload struct {
	Reference string    `json:"reference"`
	Phone     string    `json:"phone"`
	Amount    string    `json:"amount"`
	Envelope  Envelope  `json:"envelope"`
	SentAt    time.Time `json:"sent_at"`
}

package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/ledger"
)

// Enqueuer is the part of *asynq.Client the queue code uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func loanDisbursed(fee, disb *ledger.Transaction) LoanDisbursedPayload {
	return LoanDisbursedPayload{
		FeeReference:          fee.Reference,
		DisbursementReference: disb.Reference,
		Phone:                 fee.UserPhone,
		LoanAmount:            disb.Amount.StringFixed(2),
		Envelope: Envelope{
			Event:     TaskLoanDisbursed,
			Phone:     fee.UserPhone,
			Reference: fee.Reference,
			Text: fmt.Sprintf("Service fee %s received. Loan of KES %s credited to %s.",
				fee.Reference, disb.Amount.StringFixed(2), fee.UserPhone),
		},
		SentAt: time.Now(),
	}
}

func paymentFailed(fee *ledger.Transaction, reason string) PaymentFailedPayload {
	text := fmt.Sprintf("Payment %s was not completed (%s).", fee.Reference, fee.Status)
	if reason != "" {
		text = fmt.Sprintf("Payment %s was not completed (%s): %s", fee.Reference, fee.Status, reason)
	}
	return PaymentFailedPayload{
		Reference: fee.Reference,
		Phone:     fee.UserPhone,
		Status:    string(fee.Status),
		Reason:    reason,
		Envelope:  Envelope{Event: TaskPaymentFailed, Phone: fee.UserPhone, Reference: fee.Reference, Text: text},
		SentAt:    time.Now(),
	}
}

func adminAlert(severity, message string) AdminAlertPayload {
	return AdminAlertPayload{
		Severity: severity,
		Message:  message,
		Envelope: Envelope{Event: TaskAdminAlert, Severity: severity, Text: message},
		SentAt:   time.Now(),
	}
}

func withdrawalRequested(tx *ledger.Transaction) WithdrawalRequestedPayload {
	return WithdrawalRequestedPayload{
		Reference: tx.Reference,
		Phone:     tx.UserPhone,
		Amount:    tx.Amount.StringFixed(2),
		Envelope: Envelope{
			Event:     TaskWithdrawalRequested,
			Severity:  "info",
			Phone:     tx.UserPhone,
			Reference: tx.Reference,
			Text: fmt.Sprintf("Withdrawal %s of KES %s requested by %s and awaiting approval.",
				tx.Reference, tx.Amount.StringFixed(2), tx.UserPhone),
		},
		SentAt: time.Now(),
	}
}

// DirectNotifier delivers immediately through a Sender. It is the notifier
// for deployments without Redis.
type DirectNotifier struct {
	Sender Sender
	Log    *zap.Logger
}

func (n DirectNotifier) LoanDisbursed(ctx context.Context, fee, disb *ledger.Transaction) error {
	return n.Sender.Send(ctx, loanDisbursed(fee, disb).Envelope)
}

func (n DirectNotifier) PaymentFailed(ctx context.Context, fee *ledger.Transaction, reason string) error {
	return n.Sender.Send(ctx, paymentFailed(fee, reason).Envelope)
}

func (n DirectNotifier) AdminAlert(ctx context.Context, severity, message string) error {
	return n.Sender.Send(ctx, adminAlert(severity, message).Envelope)
}

func (n DirectNotifier) WithdrawalRequested(ctx context.Context, tx *ledger.Transaction) error {
	return n.Sender.Send(ctx, withdrawalRequested(tx).Envelope)
}

// QueueNotifier schedules notifications as asynq tasks so delivery retries
// survive restarts.
type QueueNotifier struct {
	enq Enqueuer
}

func NewQueueNotifier(enq Enqueuer) *QueueNotifier {
	return &QueueNotifier{enq: enq}
}

func (n *QueueNotifier) enqueue(ctx context.Context, taskType, queue string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = n.enq.EnqueueContext(ctx, asynq.NewTask(taskType, b), asynq.Queue(queue), asynq.MaxRetry(5))
	return err
}

func (n *QueueNotifier) LoanDisbursed(ctx context.Context, fee, disb *ledger.Transaction) error {
	return n.enqueue(ctx, TaskLoanDisbursed, QueueNotify, loanDisbursed(fee, disb))
}

func (n *QueueNotifier) PaymentFailed(ctx context.Context, fee *ledger.Transaction, reason string) error {
	return n.enqueue(ctx, TaskPaymentFailed, QueueNotify, paymentFailed(fee, reason))
}

func (n *QueueNotifier) AdminAlert(ctx context.Context, severity, message string) error {
	return n.enqueue(ctx, TaskAdminAlert, QueueAlerts, adminAlert(severity, message))
}

func (n *QueueNotifier) WithdrawalRequested(ctx context.Context, tx *ledger.Transaction) error {
	return n.enqueue(ctx, TaskWithdrawalRequested, QueueAlerts, withdrawalRequested(tx))
}

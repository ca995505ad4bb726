package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/gateway"
	"github.com/sudo-init-do/mkopo/internal/ledger"
)

var ErrNoGatewayReference = errors.New("transaction has no gateway reference yet")

// Tracker drives the poll loop for in-flight payments.
type Tracker interface {
	Track(ctx context.Context, reference string) error
	Stop(reference string)
}

// Publisher pushes status changes to live listeners.
type Publisher interface {
	Publish(reference, event string, data any)
}

// Notifier tells users and admins about settlement outcomes.
type Notifier interface {
	LoanDisbursed(ctx context.Context, fee, disbursement *ledger.Transaction) error
	PaymentFailed(ctx context.Context, fee *ledger.Transaction, reason string) error
	AdminAlert(ctx context.Context, severity, message string) error
}

// Outcome is a status report from either the poll loop or the webhook.
type Outcome struct {
	Status        string
	ReceiptNumber string
	FailureReason string
	Source        string
}

type Result struct {
	Action  Action
	Applied bool
	Status  ledger.Status
}

// Reconciler converges poll and webhook signals into one transaction status
// and applies settlement effects once.
type Reconciler struct {
	store       ledger.Store
	gw          gateway.Client
	tracker     Tracker
	pub         Publisher
	notify      Notifier
	defaultLoan decimal.Decimal
	log         *zap.Logger
}

type Options struct {
	Store             ledger.Store
	Gateway           gateway.Client
	Publisher         Publisher
	Notifier          Notifier
	DefaultLoanAmount decimal.Decimal
	Logger            *zap.Logger
}

func New(opts Options) *Reconciler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		store:       opts.Store,
		gw:          opts.Gateway,
		pub:         opts.Publisher,
		notify:      opts.Notifier,
		defaultLoan: opts.DefaultLoanAmount,
		log:         log,
	}
}

// UseTracker wires the poll driver. Trackers need the reconciler to poll, so
// this happens after construction.
func (r *Reconciler) UseTracker(t Tracker) {
	r.tracker = t
}

// Track starts polling for reference.
func (r *Reconciler) Track(ctx context.Context, reference string) error {
	if r.tracker == nil {
		return nil
	}
	return r.tracker.Track(ctx, reference)
}

func (r *Reconciler) stop(reference string) {
	if r.tracker != nil {
		r.tracker.Stop(reference)
	}
}

func (r *Reconciler) publish(reference, event string, data any) {
	if r.pub != nil {
		r.pub.Publish(reference, event, data)
	}
}

// LoanAmount is the amount credited when fee settles.
func (r *Reconciler) LoanAmount(fee *ledger.Transaction) decimal.Decimal {
	if d, ok := fee.Metadata.Decimal(ledger.MetaLoanAmount); ok && d.IsPositive() {
		return d
	}
	return r.defaultLoan
}

// Apply maps a gateway status to a transition and executes it.
func (r *Reconciler) Apply(ctx context.Context, reference string, o Outcome) (Result, error) {
	action, local := MapStatus(o.Status)
	log := r.log.With(zap.String("reference", reference), zap.String("source", o.Source), zap.String("gateway_status", o.Status))

	switch action {
	case ActionSettle:
		fee, err := r.store.GetTransaction(ctx, reference)
		if err != nil {
			return Result{Action: action}, err
		}
		meta := ledger.Metadata{ledger.MetaSettledBy: o.Source}
		if o.ReceiptNumber != "" {
			meta[ledger.MetaReceiptNumber] = o.ReceiptNumber
		}
		res, err := r.store.Settle(ctx, ledger.SettleRequest{
			Reference:  reference,
			LoanAmount: r.LoanAmount(fee),
			Metadata:   meta,
		})
		if err != nil {
			return Result{Action: action}, fmt.Errorf("settle %s: %w", reference, err)
		}
		if !res.Applied {
			log.Debug("settlement already applied", zap.String("status", string(res.Transaction.Status)))
			r.stop(reference)
			return Result{Action: action, Status: res.Transaction.Status}, nil
		}
		log.Info("payment settled",
			zap.String("phone", res.Transaction.UserPhone),
			zap.String("loan_amount", res.Disbursement.Amount.String()),
			zap.String("balance", res.User.Balance.String()))
		r.publish(reference, "status_changed", res.Transaction)
		if r.notify != nil {
			if err := r.notify.LoanDisbursed(ctx, res.Transaction, res.Disbursement); err != nil {
				log.Warn("loan disbursed notification failed", zap.Error(err))
			}
		}
		r.stop(reference)
		return Result{Action: action, Applied: true, Status: ledger.StatusCompleted}, nil

	case ActionFail:
		ok, err := r.store.Fail(ctx, reference, local, o.FailureReason)
		if err != nil {
			return Result{Action: action}, fmt.Errorf("fail %s: %w", reference, err)
		}
		if ok {
			log.Info("payment failed", zap.String("status", string(local)), zap.String("reason", o.FailureReason))
			if tx, err := r.store.GetTransaction(ctx, reference); err == nil {
				r.publish(reference, "status_changed", tx)
				if r.notify != nil {
					if err := r.notify.PaymentFailed(ctx, tx, o.FailureReason); err != nil {
						log.Warn("payment failed notification failed", zap.Error(err))
					}
				}
			}
		}
		r.stop(reference)
		return Result{Action: action, Applied: ok, Status: local}, nil
	}

	log.Debug("unmapped gateway status, leaving transaction pending")
	return Result{Action: ActionUnknown, Status: ledger.StatusPending}, nil
}

// Poll queries the gateway once for reference. done is true when the
// transaction is terminal and polling should stop.
func (r *Reconciler) Poll(ctx context.Context, reference string) (bool, error) {
	tx, err := r.store.GetTransaction(ctx, reference)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return true, err
		}
		return false, err
	}
	if !tx.Status.Open() {
		return true, nil
	}
	gwRef := tx.Metadata.String(ledger.MetaGatewayReference)
	if gwRef == "" {
		return false, ErrNoGatewayReference
	}

	st, err := r.gw.QueryStatus(ctx, gwRef)
	if err != nil {
		return false, fmt.Errorf("query status %s: %w", gwRef, err)
	}
	res, err := r.Apply(ctx, reference, Outcome{
		Status:        st.Status,
		ReceiptNumber: st.MpesaReceiptNumber,
		FailureReason: st.FailureReason,
		Source:        "poll",
	})
	if err != nil {
		return false, err
	}
	return res.Action != ActionUnknown, nil
}

// TimeOut ends polling for a transaction that never reached a final status.
func (r *Reconciler) TimeOut(ctx context.Context, reference string, attempts int) error {
	reason := fmt.Sprintf("no final gateway status after %d attempts", attempts)
	ok, err := r.store.Fail(ctx, reference, ledger.StatusTimedOut, reason)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	r.log.Warn("payment timed out", zap.String("reference", reference), zap.Int("attempts", attempts))
	if tx, err := r.store.GetTransaction(ctx, reference); err == nil {
		r.publish(reference, "status_changed", tx)
	}
	if r.notify != nil {
		if err := r.notify.AdminAlert(ctx, "warning", "Payment "+reference+" timed out: "+reason); err != nil {
			r.log.Warn("timeout alert failed", zap.String("reference", reference), zap.Error(err))
		}
	}
	return nil
}

// Recover re-arms polling for service fees left open by a previous process.
func (r *Reconciler) Recover(ctx context.Context) (int, error) {
	open, err := r.store.ListTransactionsByStatus(ctx,
		[]ledger.TxType{ledger.TypeServiceFee},
		[]ledger.Status{ledger.StatusPending, ledger.StatusProcessing},
		ledger.MaxListLimit)
	if err != nil {
		return 0, fmt.Errorf("list open transactions: %w", err)
	}
	n := 0
	for _, tx := range open {
		if err := r.Track(ctx, tx.Reference); err != nil {
			r.log.Warn("re-arm polling failed", zap.String("reference", tx.Reference), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		r.log.Info("re-armed polling for open payments", zap.Int("count", n))
	}
	return n, nil
}

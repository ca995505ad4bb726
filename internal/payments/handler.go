package payments

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/gateway"
	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/reconcile"
)

// WithdrawalNotifier tells operators a withdrawal is waiting for payout.
type WithdrawalNotifier interface {
	WithdrawalRequested(ctx context.Context, tx *ledger.Transaction) error
}

type Options struct {
	Store          ledger.Store
	Gateway        gateway.Client
	Reconciler     *reconcile.Reconciler
	Notifier       WithdrawalNotifier
	MinWithdrawal  decimal.Decimal
	// CallbackSecret, when set, must arrive in the CallbackSecretHeader of
	// every webhook.
	CallbackSecret string
	Logger         *zap.Logger
}

// Handler serves the public payment API.
type Handler struct {
	store         ledger.Store
	gw            gateway.Client
	rec           *reconcile.Reconciler
	notify        WithdrawalNotifier
	minWithdrawal decimal.Decimal
	secret        []byte
	log           *zap.Logger
}

func New(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	minWithdrawal := opts.MinWithdrawal
	if !minWithdrawal.IsPositive() {
		minWithdrawal = decimal.NewFromInt(100)
	}
	return &Handler{
		store:         opts.Store,
		gw:            opts.Gateway,
		rec:           opts.Reconciler,
		notify:        opts.Notifier,
		minWithdrawal: minWithdrawal,
		secret:        []byte(opts.CallbackSecret),
		log:           log,
	}
}

// wholeCents reports whether d fits the ledger's NUMERIC(14,2) columns
// without rounding.
func wholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

// Register mounts the public routes.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/pay", h.Pay)
	e.GET("/balance/:phone", h.Balance)
	e.GET("/transactions/:phone", h.Transactions)
	e.POST("/withdraw", h.Withdraw)
	e.GET("/receipt/:reference", h.Receipt)
	e.GET("/receipt/:reference/pdf", h.ReceiptPDF)
	e.POST("/callback", h.Callback)
}

package admin

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/reconcile"
)

type Options struct {
	Store      ledger.Store
	Reconciler *reconcile.Reconciler
	Publisher  reconcile.Publisher
	Logger     *zap.Logger
}

// Handler serves the operator endpoints. Routes are expected to sit behind
// the JWT and admin guards.
type Handler struct {
	store ledger.Store
	rec   *reconcile.Reconciler
	pub   reconcile.Publisher
	log   *zap.Logger
}

func New(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: opts.Store, rec: opts.Reconciler, pub: opts.Publisher, log: log}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/stats", h.Stats)
	g.GET("/users", h.ListUsers)
	g.GET("/transactions", h.ListTransactions)
	g.POST("/transactions/:reference/reconcile", h.Reconcile)
	g.GET("/withdrawals/pending", h.ListPendingWithdrawals)
	g.POST("/withdrawals/:reference/approve", h.ApproveWithdrawal)
	g.POST("/withdrawals/:reference/reject", h.RejectWithdrawal)
}

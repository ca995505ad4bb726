package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/apperr"
	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/reconcile"
)

var knownStatuses = map[ledger.Status]bool{
	ledger.StatusPending: true, ledger.StatusProcessing: true, ledger.StatusCompleted: true,
	ledger.StatusFailed: true, ledger.StatusCancelled: true, ledger.StatusError: true,
	ledger.StatusTimedOut: true,
}

var knownTypes = map[ledger.TxType]bool{
	ledger.TypeServiceFee: true, ledger.TypeWithdrawal: true, ledger.TypeLoanDisbursement: true,
}

// splitList reads "a,b" style filters.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GET /admin/transactions?status=pending,processing&type=service_fee&limit=N
func (h *Handler) ListTransactions(c echo.Context) error {
	var statuses []ledger.Status
	for _, s := range splitList(c.QueryParam("status")) {
		st := ledger.Status(s)
		if !knownStatuses[st] {
			return apperr.InvalidInput("unknown status " + s)
		}
		statuses = append(statuses, st)
	}
	var types []ledger.TxType
	for _, s := range splitList(c.QueryParam("type")) {
		t := ledger.TxType(s)
		if !knownTypes[t] {
			return apperr.InvalidInput("unknown type " + s)
		}
		types = append(types, t)
	}

	txs, err := h.store.ListTransactionsByStatus(c.Request().Context(), types, statuses, queryLimit(c))
	if err != nil {
		return err
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "count": len(txs), "transactions": txs})
}

// POST /admin/transactions/:reference/reconcile polls the gateway once and
// applies whatever it reports.
func (h *Handler) Reconcile(c echo.Context) error {
	ref := c.Param("reference")
	ctx := c.Request().Context()

	tx, err := h.store.GetTransaction(ctx, ref)
	if err != nil {
		return apperr.From(err).With("reference", ref)
	}
	if tx.Type != ledger.TypeServiceFee {
		return apperr.BusinessRule("only service fee payments are reconciled against the gateway").With("reference", ref)
	}

	done, err := h.rec.Poll(ctx, ref)
	if err != nil {
		if errors.Is(err, reconcile.ErrNoGatewayReference) {
			return apperr.BusinessRule(err.Error()).With("reference", ref)
		}
		return apperr.Upstream(err).With("reference", ref)
	}
	h.log.Info("manual reconcile", zap.String("reference", ref), zap.Bool("final", done), zap.Any("by", c.Get("subject")))

	tx, err = h.store.GetTransaction(ctx, ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "final": done, "transaction": tx})
}

package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/apperr"
	"github.com/sudo-init-do/mkopo/internal/ledger"
)

type WithdrawActionRequest struct {
	Reason string `json:"reason"`
}

// GET /admin/withdrawals/pending
func (h *Handler) ListPendingWithdrawals(c echo.Context) error {
	txs, err := h.store.ListTransactionsByStatus(c.Request().Context(),
		[]ledger.TxType{ledger.TypeWithdrawal},
		[]ledger.Status{ledger.StatusProcessing},
		queryLimit(c))
	if err != nil {
		return err
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "pending_withdrawals": txs})
}

// POST /admin/withdrawals/:reference/approve releases the hold after payout.
func (h *Handler) ApproveWithdrawal(c echo.Context) error {
	return h.resolve(c, true)
}

// POST /admin/withdrawals/:reference/reject refunds the held amount.
func (h *Handler) RejectWithdrawal(c echo.Context) error {
	return h.resolve(c, false)
}

func (h *Handler) resolve(c echo.Context, success bool) error {
	ref := c.Param("reference")
	var req WithdrawActionRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return apperr.InvalidInput("invalid request body")
		}
	}
	if !success && req.Reason == "" {
		req.Reason = "rejected by operator"
	}

	tx, err := h.store.ResolveWithdrawal(c.Request().Context(), ref, success, req.Reason)
	if err != nil {
		return apperr.From(err).With("reference", ref)
	}
	want := ledger.StatusCompleted
	if !success {
		want = ledger.StatusFailed
	}
	if tx.Status != want {
		return apperr.BusinessRule("withdrawal already resolved as " + string(tx.Status)).With("reference", ref)
	}

	h.log.Info("withdrawal resolved",
		zap.String("reference", ref),
		zap.String("status", string(tx.Status)),
		zap.Any("by", c.Get("subject")))
	if h.pub != nil {
		h.pub.Publish(ref, "status_changed", tx)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "reference": ref, "status": tx.Status, "transaction": tx})
}

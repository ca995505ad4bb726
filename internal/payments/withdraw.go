package payments

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/apperr"
	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/phone"
)

type WithdrawRequest struct {
	Phone  any             `json:"phone"`
	Amount decimal.Decimal `json:"amount"`
}

// Withdraw handles POST /withdraw. The amount moves from balance to held and
// stays there until an operator approves or rejects the payout.
func (h *Handler) Withdraw(c echo.Context) error {
	var req WithdrawRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidInput("invalid request body")
	}
	msisdn, err := phone.NormalizeAny(req.Phone)
	if err != nil {
		return err
	}
	if !req.Amount.IsPositive() {
		return apperr.InvalidInput("amount must be greater than zero")
	}
	if !wholeCents(req.Amount) {
		return apperr.InvalidInput("amount must have at most 2 decimal places")
	}
	if req.Amount.LessThan(h.minWithdrawal) {
		return apperr.BusinessRule("minimum withdrawal amount is " + h.minWithdrawal.String())
	}

	ctx := c.Request().Context()
	ref := ledger.NewReference(ledger.PrefixWithdrawal)
	tx, user, err := h.store.Withdraw(ctx, ledger.WithdrawRequest{
		Reference:   ref,
		Phone:       msisdn,
		Amount:      req.Amount,
		Description: "Withdrawal to M-Pesa",
	})
	if err != nil {
		return err
	}

	h.log.Info("withdrawal requested",
		zap.String("reference", ref),
		zap.String("phone", msisdn),
		zap.String("amount", req.Amount.String()))
	if h.notify != nil {
		if err := h.notify.WithdrawalRequested(ctx, tx); err != nil {
			h.log.Warn("withdrawal notification failed", zap.String("reference", ref), zap.Error(err))
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"reference": tx.Reference,
		"status":    tx.Status,
		"amount":    tx.Amount.InexactFloat64(),
		"balance":   user.Balance.InexactFloat64(),
		"message":   "Withdrawal is being processed",
	})
}

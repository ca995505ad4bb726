package payments

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/phone"
)

// Balance handles GET /balance/:phone. Unknown numbers get a fresh zero account.
func (h *Handler) Balance(c echo.Context) error {
	msisdn, err := phone.Normalize(c.Param("phone"))
	if err != nil {
		return err
	}
	u, err := h.store.GetOrCreateUser(c.Request().Context(), msisdn)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"phone":        u.Phone,
		"balance":      u.Balance.InexactFloat64(),
		"held":         u.Held.InexactFloat64(),
		"has_paid_fee": u.HasPaidFee,
	})
}

// Transactions handles GET /transactions/:phone?limit=N, newest first.
func (h *Handler) Transactions(c echo.Context) error {
	msisdn, err := phone.Normalize(c.Param("phone"))
	if err != nil {
		return err
	}
	limit := ledger.DefaultListLimit
	if s := c.QueryParam("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	txs, err := h.store.ListTransactions(c.Request().Context(), msisdn, ledger.ClampLimit(limit))
	if err != nil {
		return err
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"phone":        msisdn,
		"count":        len(txs),
		"transactions": txs,
	})
}

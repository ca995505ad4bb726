package admin

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/mkopo/internal/ledger"
)

// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	st, err := h.store.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "stats": st})
}

// GET /admin/users?limit=N
func (h *Handler) ListUsers(c echo.Context) error {
	users, err := h.store.ListUsers(c.Request().Context(), queryLimit(c))
	if err != nil {
		return err
	}
	if users == nil {
		users = []ledger.User{}
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "users": users})
}

func queryLimit(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil {
		return ledger.DefaultListLimit
	}
	return ledger.ClampLimit(n)
}

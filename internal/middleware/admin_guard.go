package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWT.
const (
	ContextSubject = "subject"
	ContextRole    = "role"
)

// RequireRole rejects requests whose token role is not one of roles. It must
// run after JWT.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(ContextRole).(string)
			if role == "" || !slices.Contains(roles, role) {
				return c.JSON(http.StatusForbidden, echo.Map{
					"success": false,
					"error":   "operator access only",
				})
			}
			return next(c)
		}
	}
}

// AdminGuard admits admin tokens only.
var AdminGuard = RequireRole("admin")

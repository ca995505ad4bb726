package app

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sudo-init-do/mkopo/internal/admin"
	"github.com/sudo-init-do/mkopo/internal/apperr"
	"github.com/sudo-init-do/mkopo/internal/live"
	"github.com/sudo-init-do/mkopo/internal/logging"
	mware "github.com/sudo-init-do/mkopo/internal/middleware"
	"github.com/sudo-init-do/mkopo/internal/payments"
)

// Router builds the HTTP surface.
func (a *App) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = apperr.Handler(a.Log)

	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger(a.Log.Named("http")))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "mkopo"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if err := a.Store.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "store unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})

	payments.New(payments.Options{
		Store:          a.Store,
		Gateway:        a.Gateway,
		Reconciler:     a.Reconciler,
		Notifier:       a.Notifier,
		MinWithdrawal:  a.Config.MinWithdrawal,
		CallbackSecret: a.Config.CallbackSecret,
		Logger:         a.Log.Named("payments"),
	}).Register(e)

	e.GET("/ws/transactions/:reference", live.Handler(a.Hub, a.Store))

	// Per-IP rate limiting on the login endpoint.
	e.POST("/admin/login", a.Admin.Login, middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(5)))
	if a.Admin.Enabled() {
		g := e.Group("/admin", mware.JWT(a.Admin.Secret), mware.AdminGuard)
		admin.New(admin.Options{
			Store:      a.Store,
			Reconciler: a.Reconciler,
			Publisher:  a.Hub,
			Logger:     a.Log.Named("admin"),
		}).Register(g)
	} else {
		a.Log.Warn("admin API disabled: set ADMIN_PASSWORD_HASH and JWT_SECRET to enable it")
	}
	return e
}

package payments

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const CallbackSecretHeader = "X-Callback-Secret"

// Ack is the fixed webhook acknowledgement. The gateway retries anything else.
var Ack = echo.Map{"ResultCode": 0, "ResultDesc": "Accepted"}

// Callback handles POST /callback. Processing errors are logged, never returned.
func (h *Handler) Callback(c echo.Context) error {
	if len(h.secret) > 0 {
		got := []byte(c.Request().Header.Get(CallbackSecretHeader))
		if subtle.ConstantTimeCompare(got, h.secret) != 1 {
			h.log.Warn("callback rejected: bad secret", zap.String("remote_ip", c.RealIP()))
			return c.JSON(http.StatusOK, Ack)
		}
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		h.log.Warn("read callback body", zap.Error(err))
		return c.JSON(http.StatusOK, Ack)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn("callback is not a JSON object", zap.Error(err), zap.ByteString("body", body))
		return c.JSON(http.StatusOK, Ack)
	}

	ref, res, err := h.rec.HandleCallback(c.Request().Context(), payload)
	if err != nil {
		h.log.Warn("callback not applied", zap.String("reference", ref), zap.Error(err))
		return c.JSON(http.StatusOK, Ack)
	}
	h.log.Info("callback processed",
		zap.String("reference", ref),
		zap.String("action", res.Action.String()),
		zap.Bool("applied", res.Applied),
		zap.String("status", string(res.Status)))
	return c.JSON(http.StatusOK, Ack)
}

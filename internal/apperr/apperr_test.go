package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/gateway"
	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/phone"
)

func TestFromClassifies(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", phone.ErrInvalidPhone), http.StatusBadRequest},
		{ledger.ErrNotFound, http.StatusNotFound},
		{ledger.ErrFeeNotPaid, http.StatusBadRequest},
		{ledger.ErrInsufficientBalance, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
		{Upstream(&gateway.RejectedError{StatusCode: 422, Message: "bad"}), http.StatusBadRequest},
		{Upstream(errors.New("dial tcp")), http.StatusBadGateway},
	}
	for _, c := range cases {
		if got := From(c.err).HTTPStatus(); got != c.want {
			t.Fatalf("From(%v) status = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestHandlerHidesInternalDetail(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = Handler(zap.NewNop())
	e.GET("/x", func(c echo.Context) error { return errors.New("pq: connection refused") })
	e.GET("/y", func(c echo.Context) error {
		return BusinessRule("minimum withdrawal is 100").With("reference", "WD-1")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusInternalServerError || body["error"] != "internal server error" || body["success"] != false {
		t.Fatalf("unexpected internal envelope: %d %v", rec.Code, body)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/y", nil))
	body = map[string]any{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusBadRequest || body["reference"] != "WD-1" {
		t.Fatalf("unexpected business envelope: %d %v", rec.Code, body)
	}
}

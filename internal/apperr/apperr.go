package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/gateway"
	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/phone"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindBusinessRule
	KindNotFound
	KindUpstream
	KindUnauthorized
)

// Error is a classified API error. Fields are merged into the JSON envelope.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Fields  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// With attaches an extra envelope field, e.g. the reference of a failed payment.
func (e *Error) With(key string, v any) *Error {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = v
	return e
}

func InvalidInput(msg string) *Error { return &Error{Kind: KindInvalidInput, Message: msg} }

func BusinessRule(msg string) *Error { return &Error{Kind: KindBusinessRule, Message: msg} }

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// Upstream classifies a gateway failure: a rejection is the caller's problem
// (400), anything else is ours (502).
func Upstream(err error) *Error {
	e := &Error{Kind: KindUpstream, Message: "payment gateway unavailable", Status: http.StatusBadGateway, Err: err}
	var rej *gateway.RejectedError
	if errors.As(err, &rej) {
		e.Message = rej.Message
		if rej.StatusCode < 500 {
			e.Status = http.StatusBadRequest
		}
	}
	return e
}

// From classifies errors coming out of the domain packages.
func From(err error) *Error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, phone.ErrInvalidPhone):
		return &Error{Kind: KindInvalidInput, Message: "invalid phone number", Err: err}
	case errors.Is(err, ledger.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: "not found", Err: err}
	case errors.Is(err, ledger.ErrFeeNotPaid):
		return &Error{Kind: KindBusinessRule, Message: "service fee must be paid before withdrawing", Err: err}
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return &Error{Kind: KindBusinessRule, Message: "insufficient balance", Err: err}
	case errors.Is(err, ledger.ErrDuplicateReference):
		return &Error{Kind: KindBusinessRule, Message: "duplicate transaction reference", Err: err}
	}
	return Internal(err)
}

func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindInvalidInput, KindBusinessRule:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Handler renders every error as {"success": false, "error": "..."}.
func Handler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := http.StatusText(he.Code)
			if m, ok := he.Message.(string); ok {
				msg = m
			}
			_ = c.JSON(he.Code, echo.Map{"success": false, "error": msg})
			return
		}

		e := From(err)
		status := e.HTTPStatus()
		if status >= 500 {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err))
		}
		body := echo.Map{"success": false, "error": e.Message}
		for k, v := range e.Fields {
			body[k] = v
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

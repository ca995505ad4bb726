package payments

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/apperr"
	"github.com/sudo-init-do/mkopo/internal/gateway"
	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/phone"
)

type PayRequest struct {
	Phone      any                 `json:"phone"`
	Amount     decimal.Decimal     `json:"amount"`
	LoanAmount decimal.NullDecimal `json:"loan_amount"`
}

// Pay handles POST /pay: records a pending service fee, asks the gateway to
// collect it and starts tracking settlement.
func (h *Handler) Pay(c echo.Context) error {
	var req PayRequest
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
	if req.LoanAmount.Valid && !req.LoanAmount.Decimal.IsPositive() {
		return apperr.InvalidInput("loan_amount must be greater than zero")
	}
	if req.LoanAmount.Valid && !wholeCents(req.LoanAmount.Decimal) {
		return apperr.InvalidInput("loan_amount must have at most 2 decimal places")
	}

	ctx := c.Request().Context()
	ref := ledger.NewReference(ledger.PrefixServiceFee)
	log := h.log.With(zap.String("reference", ref), zap.String("phone", msisdn))

	if _, err := h.store.GetOrCreateUser(ctx, msisdn); err != nil {
		return apperr.From(err).With("reference", ref)
	}

	meta := ledger.Metadata{}
	if req.LoanAmount.Valid {
		meta[ledger.MetaLoanAmount] = req.LoanAmount.Decimal.String()
	}
	tx := &ledger.Transaction{
		Reference:   ref,
		UserPhone:   msisdn,
		Type:        ledger.TypeServiceFee,
		Amount:      req.Amount,
		Status:      ledger.StatusPending,
		Description: "Loan service fee",
		Metadata:    meta,
	}
	if err := h.store.CreateTransaction(ctx, tx); err != nil {
		return apperr.From(err).With("reference", ref)
	}

	res, err := h.gw.Initiate(ctx, gateway.InitiateRequest{Phone: msisdn, Amount: req.Amount, Reference: ref})
	if err != nil {
		upstream := apperr.Upstream(err)
		if _, ferr := h.store.Fail(ctx, ref, ledger.StatusError, upstream.Message); ferr != nil {
			log.Error("mark initiation failure", zap.Error(ferr))
		}
		log.Warn("gateway initiation failed", zap.Error(err))
		return upstream.With("reference", ref)
	}

	if _, err := h.store.UpdateTransactionStatus(ctx, ref, ledger.StatusPatch{
		Metadata: ledger.Metadata{ledger.MetaGatewayReference: res.TransactionReference},
	}); err != nil {
		log.Error("store gateway reference", zap.Error(err))
		return apperr.From(err).With("reference", ref)
	}

	if err := h.rec.Track(ctx, ref); err != nil {
		// The webhook can still settle it and Recover re-arms on restart.
		log.Error("start status polling", zap.Error(err))
	}

	msg := res.Message
	if msg == "" {
		msg = "Payment initiated. Complete the prompt on your phone."
	}
	log.Info("service fee initiated", zap.String("gateway_reference", res.TransactionReference))
	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"reference": ref,
		"status":    ledger.StatusPending,
		"message":   msg,
	})
}

package payments

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/mkopo/internal/apperr"
	"github.com/sudo-init-do/mkopo/internal/receipt"
)

// Receipt handles GET /receipt/:reference.
func (h *Handler) Receipt(c echo.Context) error {
	tx, err := h.store.GetTransaction(c.Request().Context(), c.Param("reference"))
	if err != nil {
		return apperr.From(err).With("reference", c.Param("reference"))
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "receipt": receipt.Build(tx)})
}

// ReceiptPDF handles GET /receipt/:reference/pdf.
func (h *Handler) ReceiptPDF(c echo.Context) error {
	tx, err := h.store.GetTransaction(c.Request().Context(), c.Param("reference"))
	if err != nil {
		return apperr.From(err).With("reference", c.Param("reference"))
	}
	view := receipt.Build(tx)

	var buf bytes.Buffer
	if err := receipt.WritePDF(&buf, view); err != nil {
		return apperr.Internal(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+receipt.FileName(view)+`"`)
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

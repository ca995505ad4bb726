package receipt

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
)

type rgb struct{ r, g, b int }

var bannerColors = map[StatusClass]rgb{
	ClassSuccess: {34, 139, 34},
	ClassPending: {230, 145, 0},
	ClassFailure: {200, 40, 40},
}

// FileName is the download name for a receipt document.
func FileName(v View) string {
	return "receipt-" + v.Reference + ".pdf"
}

// WritePDF renders v as a single A4 page: a banner coloured by status class,
// a details block and a diagonal status watermark.
func WritePDF(w io.Writer, v View) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Receipt "+v.Reference, true)
	pdf.SetAuthor("Mkopo", true)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	c := bannerColors[v.StatusClass]

	// banner
	pdf.SetFillColor(c.r, c.g, c.b)
	pdf.Rect(0, 0, pageW, 40, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetXY(20, 10)
	pdf.CellFormat(pageW-40, 10, "Payment Receipt", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.SetX(20)
	pdf.CellFormat(pageW-40, 8, strings.ToUpper(string(v.Status)), "", 1, "L", false, 0, "")

	// details
	pdf.SetTextColor(33, 33, 33)
	pdf.SetY(55)
	rows := [][2]string{
		{"Reference", v.Reference},
		{"Type", humanize(string(v.Type))},
		{"Phone", v.Phone},
		{"Amount", fmt.Sprintf("KES %.2f", v.Amount)},
		{"Loan amount", loanLabel(v.LoanAmount)},
		{"Status", humanize(string(v.Status))},
		{"Description", v.Description},
		{"Date", v.CreatedAt.Format("02 Jan 2006 15:04")},
	}
	if v.ReceiptNumber != "" {
		rows = append(rows, [2]string{"M-Pesa receipt", v.ReceiptNumber})
	}
	if v.FailureReason != "" {
		rows = append(rows, [2]string{"Reason", v.FailureReason})
	}
	for i, row := range rows {
		fill := i%2 == 0
		pdf.SetFillColor(245, 245, 245)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(50, 10, row[0], "", 0, "L", fill, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(pageW-90, 10, row[1], "", 1, "L", fill, 0, "")
	}

	// watermark
	pdf.SetAlpha(0.12, "Normal")
	pdf.SetTextColor(c.r, c.g, c.b)
	pdf.SetFont("Helvetica", "B", 80)
	mark := strings.ToUpper(string(v.StatusClass))
	cx, cy := pageW/2, pageH/2+30
	pdf.TransformBegin()
	pdf.TransformRotate(45, cx, cy)
	pdf.Text(cx-pdf.GetStringWidth(mark)/2, cy, mark)
	pdf.TransformEnd()
	pdf.SetAlpha(1, "Normal")

	pdf.SetTextColor(120, 120, 120)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetXY(20, pageH-25)
	pdf.CellFormat(pageW-40, 6, "This receipt was generated electronically and is valid without a signature.", "", 0, "C", false, 0, "")

	return pdf.Output(w)
}

func loanLabel(s string) string {
	if s == NotAvailable || s == "" {
		return NotAvailable
	}
	return "KES " + s
}

func humanize(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

package certificate

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/fx"

	"sign-vrtl/internal/domain/entity"
)

var Module = fx.Module("certificate",
	fx.Provide(NewRenderer),
)

// Renderer produces the completed document delivered once every signer has signed
type Renderer interface {
	Render(req *entity.SignRequest, items []*entity.SignRequestItem, logs []*entity.SignLog) ([]byte, error)
}

const (
	fontFamily = "Helvetica"
	dateFormat = "2006-01-02 15:04:05 MST"
)

type pdfRenderer struct {
	location *time.Location
}

func NewRenderer() Renderer {
	return &pdfRenderer{location: time.UTC}
}

// Render lays out a signature certificate: request summary, one row per signer and
// the audit trail with each entry's chained hash.
func (r *pdfRenderer) Render(req *entity.SignRequest, items []*entity.SignRequestItem, logs []*entity.SignLog) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(fontFamily, "", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 8, fmt.Sprintf("%s - page %d", req.Reference, pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(0, 10, "Signature Certificate", "", 1, "C", false, 0, "")
	pdf.SetFont(fontFamily, "", 11)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 7, req.Reference, "", 1, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(6)

	summary := [][2]string{
		{"Subject", req.Subject},
		{"Request ID", fmt.Sprintf("%d", req.ID)},
		{"State", string(req.State)},
		{"Created", r.format(req.CreatedAt)},
	}
	if req.CompletionDate != nil {
		summary = append(summary, [2]string{"Completed", r.format(*req.CompletionDate)})
	}
	for _, row := range summary {
		pdf.SetFont(fontFamily, "B", 10)
		pdf.CellFormat(40, 6, row[0]+":", "", 0, "L", false, 0, "")
		pdf.SetFont(fontFamily, "", 10)
		pdf.CellFormat(0, 6, row[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	r.table(pdf, "Signers",
		[]string{"Name", "Email", "Role", "State", "Signed at"},
		[]float64{40, 55, 30, 22, 33},
		signerRows(items, r.format),
	)
	pdf.Ln(6)

	r.table(pdf, "Audit trail",
		[]string{"Date", "Action", "State", "IP", "Hash"},
		[]float64{38, 20, 20, 26, 76},
		logRows(logs, r.format),
	)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render certificate: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *pdfRenderer) format(t time.Time) string {
	return t.In(r.location).Format(dateFormat)
}

func (r *pdfRenderer) table(pdf *gofpdf.Fpdf, title string, labels []string, widths []float64, rows [][]string) {
	pdf.SetFont(fontFamily, "B", 12)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")

	pdf.SetFont(fontFamily, "B", 8)
	pdf.SetFillColor(52, 73, 94)
	pdf.SetTextColor(255, 255, 255)
	for i, label := range labels {
		pdf.CellFormat(widths[i], 7, label, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(fontFamily, "", 7)
	pdf.SetTextColor(0, 0, 0)
	for n, row := range rows {
		if n%2 == 1 {
			pdf.SetFillColor(242, 242, 242)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		for i, val := range row {
			pdf.CellFormat(widths[i], 6, val, "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
	}
}

func signerRows(items []*entity.SignRequestItem, format func(time.Time) string) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		signed := ""
		if item.SigningDate != nil {
			signed = format(*item.SigningDate)
		}
		rows = append(rows, []string{item.SignerName, item.SignerEmail, item.Role, string(item.State), signed})
	}
	return rows
}

func logRows(logs []*entity.SignLog, format func(time.Time) string) [][]string {
	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, []string{format(l.Date), string(l.Action), string(l.RequestState), l.IP, l.LogHash})
	}
	return rows
}

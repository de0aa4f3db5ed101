package document

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// ContractData carries the enrollment facts printed on the tuition agreement.
type ContractData struct {
	StudentName     string
	StudentRA       string
	GuardianName    string
	SchoolYear      int
	AnnualTuition   decimal.Decimal
	RegistrationFee decimal.Decimal
	Installment     decimal.Decimal
	DueDay          int
	GeneratedAt     time.Time
}

// ContractRenderer produces the unsigned tuition agreement PDF.
type ContractRenderer struct{}

// NewContractRenderer constructs a contract renderer.
func NewContractRenderer() *ContractRenderer {
	return &ContractRenderer{}
}

// Render creates the agreement document for the given enrollment data.
func (r *ContractRenderer) Render(data ContractData) ([]byte, error) {
	if data.StudentName == "" {
		return nil, fmt.Errorf("contract requires a student name")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	title := fmt.Sprintf("TUITION AGREEMENT %d", data.SchoolYear)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Arial", "", 11)
	rows := [][2]string{
		{"Student", data.StudentName},
		{"Registration number", data.StudentRA},
		{"Guardian", data.GuardianName},
		{"Annual tuition", data.AnnualTuition.StringFixed(2)},
		{"Registration fee", data.RegistrationFee.StringFixed(2)},
		{"Monthly installment (12x)", data.Installment.StringFixed(2)},
		{"Installment due day", fmt.Sprintf("%d", data.DueDay)},
		{"Issued", data.GeneratedAt.Format("2006-01-02")},
	}
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(60, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(120, 8, row[1], "1", 1, "", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "", 9)
	pdf.MultiCell(0, 5, "The guardian identified above agrees to pay the registration fee and "+
		"twelve monthly installments on the due dates established in this agreement. Overdue "+
		"installments accrue a monthly penalty and daily moratorium interest as provided by the "+
		"school's payment policy.", "", "J", false)

	pdf.Ln(15)
	pdf.CellFormat(90, 8, "_________________________", "", 0, "C", false, 0, "")
	pdf.CellFormat(90, 8, "_________________________", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(90, 5, "Guardian signature", "", 0, "C", false, 0, "")
	pdf.CellFormat(90, 5, "School administration", "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render contract pdf: %w", err)
	}
	return buf.Bytes(), nil
}

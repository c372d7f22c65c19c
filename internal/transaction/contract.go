package transaction

import (
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"immotech/server/internal/models"
)

// Contract gathers everything printed on a contract.
type Contract struct {
	Transaction *models.Transaction
	Property    *models.Property
	Buyer       *models.User
	Seller      *models.User
	GeneratedAt time.Time
}

// Renderer writes a contract document to path.
type Renderer interface {
	Render(path string, c Contract) error
}

// PDFRenderer renders contracts as A4 PDF files.
type PDFRenderer struct{}

func (PDFRenderer) Render(path string, c Contract) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(contractTitle(c.Transaction)), false)
	pdf.SetCreator("immotech", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 12, tr(contractTitle(c.Transaction)), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Reference %s, issued %s", c.Transaction.ID, c.GeneratedAt.Format("02/01/2006"))), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	section := func(title string, lines ...string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, tr(title), "B", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		for _, l := range lines {
			pdf.MultiCell(0, 6, tr(l), "", "L", false)
		}
		pdf.Ln(4)
	}

	section("Parties",
		"Seller: "+partyLine(c.Seller),
		"Buyer: "+partyLine(c.Buyer),
	)

	if p := c.Property; p != nil {
		section("Property",
			p.Title,
			fmt.Sprintf("%s, %s %s", p.Location.Address, p.Location.PostalCode, p.Location.City),
			fmt.Sprintf("Type: %s, %.0f m², %d rooms", p.Type, p.Surface, p.Rooms),
		)
	} else {
		section("Property", "Property "+c.Transaction.PropertyID)
	}

	terms := []string{fmt.Sprintf("Amount: %.2f EUR", c.Transaction.Amount)}
	if d := c.Transaction.PaymentDetails; d != nil {
		if d.PaymentMethod != "" {
			terms = append(terms, "Payment method: "+d.PaymentMethod)
		}
		if d.CardLast4 != "" {
			terms = append(terms, "Card ending in "+d.CardLast4)
		}
	}
	if c.Transaction.PaymentDate != nil {
		terms = append(terms, "Paid on "+c.Transaction.PaymentDate.Format("02/01/2006"))
	}
	if b := c.Transaction.BookingDetails; b != nil && b.StartDate != "" {
		terms = append(terms, fmt.Sprintf("Rental period: %s to %s", b.StartDate, b.EndDate))
	}
	section("Terms", terms...)

	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(95, 8, tr("Seller signature"), "T", 0, "L", false, 0, "")
	pdf.CellFormat(95, 8, tr("Buyer signature"), "T", 1, "R", false, 0, "")

	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write contract %s: %w", path, err)
	}
	return nil
}

func contractTitle(t *models.Transaction) string {
	if t.Type == models.TypeRental {
		return "Rental Agreement"
	}
	return "Sale Agreement"
}

func partyLine(u *models.User) string {
	if u == nil {
		return "unknown"
	}
	if u.Email == "" {
		return u.FullName()
	}
	return fmt.Sprintf("%s <%s>", u.FullName(), u.Email)
}

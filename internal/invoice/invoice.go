// Package invoice renders PDF invoices for settled payments.
package invoice

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ukschat/ukschat/internal/models"
)

// Renderer writes invoice PDFs into a directory.
type Renderer struct {
	dir      string
	siteName string
	nowFn    func() time.Time
}

// NewRenderer constructs a renderer writing into dir.
func NewRenderer(dir, siteName string) *Renderer {
	if siteName == "" {
		siteName = "UKSChat"
	}
	return &Renderer{
		dir:      dir,
		siteName: siteName,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// FileName returns the invoice artifact name for a payment.
func FileName(paymentID uint64) string {
	return fmt.Sprintf("invoice_%d.pdf", paymentID)
}

// Path returns the absolute location of an invoice artifact.
func (r *Renderer) Path(name string) string {
	return filepath.Join(r.dir, filepath.Base(name))
}

// Render writes the invoice for payment and returns its name and path.
func (r *Renderer) Render(payment *models.Payment, user *models.User, plan *models.Plan) (string, string, error) {
	if payment == nil || user == nil || plan == nil {
		return "", "", fmt.Errorf("invoice: missing payment, user or plan")
	}
	if errMkdir := os.MkdirAll(r.dir, 0o755); errMkdir != nil {
		return "", "", fmt.Errorf("invoice: create dir: %w", errMkdir)
	}
	name := FileName(payment.ID)
	path := r.Path(name)

	issued := r.nowFn()
	if payment.SettledAt != nil {
		issued = payment.SettledAt.UTC()
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(r.siteName+" Invoice", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, r.siteName+" - Invoice")
	pdf.Ln(16)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Invoice ID : %d", payment.ID),
		fmt.Sprintf("User Email: %s", user.Email),
		fmt.Sprintf("Plan: %s", plan.Name),
		fmt.Sprintf("Amount: %s %.2f", payment.Currency, payment.Amount),
		fmt.Sprintf("Gateway: %s (%s)", payment.Gateway, payment.TransactionID),
		fmt.Sprintf("Date: %s", issued.Format("2006-01-02 15:04:05")),
	}
	for _, line := range lines {
		pdf.Cell(0, 8, line)
		pdf.Ln(8)
	}
	pdf.Ln(10)
	pdf.Cell(0, 8, "Thank you for your purchase!")
	pdf.Ln(8)
	pdf.Cell(0, 8, "Enjoy priority AI access")

	if errWrite := pdf.OutputFileAndClose(path); errWrite != nil {
		return "", "", fmt.Errorf("invoice: write pdf: %w", errWrite)
	}
	return name, path, nil
}

package bill

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment status of a bill
type Status string

const (
	StatusUnpaid Status = "UNPAID"
	// StatusProcessing is part of the status vocabulary but no transition
	// currently assigns it; bills stay UNPAID until payment succeeds.
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
)

// NotAvailable is stored in place of a field the extraction service could not read
const NotAvailable = "N/A"

// Bill represents a bill owed to a provider
type Bill struct {
	ID            string          `json:"id"`
	Provider      string          `json:"provider"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       string          `json:"due_date"` // YYYY-MM-DD or N/A
	InvoiceNumber string          `json:"invoice_number"`
	Status        Status          `json:"status"`
	ImageRef      string          `json:"image_ref,omitempty"`
	ImageType     string          `json:"image_type,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Payable reports whether the bill can still be paid
func (b Bill) Payable() bool {
	return b.Status == StatusUnpaid
}

// Details are the fields describing what is owed, as extracted from an image
// or entered by hand
type Details struct {
	Provider      string
	Amount        decimal.Decimal
	DueDate       string
	InvoiceNumber string
}

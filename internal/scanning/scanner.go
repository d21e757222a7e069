package scanning

import (
	"context"

	"github.com/shopspring/decimal"
)

// BillData contains the fields extracted from a bill image.
// String fields the model could not read are set to "N/A", never left empty.
type BillData struct {
	Provider      string          `json:"provider"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       string          `json:"due_date"` // YYYY-MM-DD or N/A
	InvoiceNumber string          `json:"invoice_number"`
}

// Scanner extracts bill fields from an image
type Scanner interface {
	// ScanBill analyzes a bill image/PDF. Unreadable images are reported as
	// an *ExtractionError.
	ScanBill(ctx context.Context, imageData []byte, contentType string) (*BillData, error)
	// Close closes the scanner and releases resources
	Close() error
}

// Assistant answers free-form questions
type Assistant interface {
	// Ask sends a single prompt and returns the full answer. Failures are
	// reported as a *QAError.
	Ask(ctx context.Context, prompt string) (string, error)
}

// Messages shown to the user when an AI call fails
const (
	ErrMsgExtraction = "Failed to analyze the bill. The image might be unclear or not a valid bill."
	ErrMsgQA         = "Failed to get an answer from the AI assistant."
)

// ExtractionError is an ordinary extraction failure: the service was
// unreachable, or the image could not be read as a bill
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return ErrMsgExtraction
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// QAError is a failed question to the assistant
type QAError struct {
	Err error
}

func (e *QAError) Error() string {
	return ErrMsgQA
}

func (e *QAError) Unwrap() error {
	return e.Err
}

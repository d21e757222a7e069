package bill

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// ManualEntry is a bill typed in by the user instead of scanned
type ManualEntry struct {
	Provider      string `json:"provider" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
	DueDate       string `json:"due_date" validate:"required,datetime=2006-01-02"`
	InvoiceNumber string `json:"invoice_number" validate:"required"`
}

// EntryError is a manual entry rejected with a message for the user
type EntryError struct {
	Message string
}

func (e *EntryError) Error() string {
	return e.Message
}

// Messages shown when a manual entry is rejected
const (
	ErrMsgFieldsRequired = "All fields are required."
	ErrMsgInvalidAmount  = "Please enter a valid positive amount."
	ErrMsgInvalidDueDate = "Due date must be in YYYY-MM-DD format."
)

// Details validates the entry and converts it to bill details
func (m ManualEntry) Details() (Details, error) {
	m.Provider = strings.TrimSpace(m.Provider)
	m.Amount = strings.TrimSpace(m.Amount)
	m.DueDate = strings.TrimSpace(m.DueDate)
	m.InvoiceNumber = strings.TrimSpace(m.InvoiceNumber)

	if err := validate.Struct(m); err != nil {
		return Details{}, entryError(err)
	}

	amount, err := decimal.NewFromString(m.Amount)
	if err != nil || !amount.IsPositive() {
		return Details{}, &EntryError{Message: ErrMsgInvalidAmount}
	}

	return Details{
		Provider:      m.Provider,
		Amount:        amount.Round(2),
		DueDate:       m.DueDate,
		InvoiceNumber: m.InvoiceNumber,
	}, nil
}

// entryError picks the user-facing message for a validation failure.
// Missing fields take precedence over a malformed date.
func entryError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &EntryError{Message: ErrMsgFieldsRequired}
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return &EntryError{Message: ErrMsgFieldsRequired}
		}
	}
	return &EntryError{Message: ErrMsgInvalidDueDate}
}

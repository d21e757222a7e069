package payment

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Field identifies one input of the card form
type Field string

const (
	FieldNumber Field = "number"
	FieldName   Field = "name"
	FieldExpiry Field = "expiry"
	FieldCVC    Field = "cvc"
)

// Fields lists the card form inputs in display order
var Fields = []Field{FieldNumber, FieldName, FieldExpiry, FieldCVC}

// ParseField maps an input name to a Field
func ParseField(name string) (Field, bool) {
	for _, f := range Fields {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}

// Validation messages shown next to the offending input
const (
	ErrMsgNumber        = "Card number must be 16 digits."
	ErrMsgName          = "Name is required."
	ErrMsgExpiryFormat  = "Format must be MM/YY."
	ErrMsgExpiryExpired = "Card is expired."
	ErrMsgCVC           = "CVC must be 3 or 4 digits."
)

const (
	cardNumberDigits = 16
	expiryDigits     = 4
)

var (
	nonDigitRe   = regexp.MustCompile(`\D`)
	whitespaceRe = regexp.MustCompile(`\s`)
	numberRe     = regexp.MustCompile(`^\d{16}$`)
	expiryRe     = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{2}$`)
	cvcRe        = regexp.MustCompile(`^\d{3,4}$`)
)

// CardDetails holds the raw card input for a single payment attempt.
// It is never persisted or logged.
type CardDetails struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Expiry string `json:"expiry"`
	CVC    string `json:"cvc"`
}

func (c *CardDetails) set(f Field, value string) {
	switch f {
	case FieldNumber:
		c.Number = value
	case FieldName:
		c.Name = value
	case FieldExpiry:
		c.Expiry = value
	case FieldCVC:
		c.CVC = value
	}
}

// FieldErrors maps a field to its current validation message.
// A missing or empty entry means the field is valid.
type FieldErrors map[Field]string

// None reports whether no field carries an error
func (e FieldErrors) None() bool {
	for _, msg := range e {
		if msg != "" {
			return false
		}
	}
	return true
}

func (e FieldErrors) clone() FieldErrors {
	out := make(FieldErrors, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Normalize reformats raw input for a field. Number and expiry are
// reformatted as the user types; name and cvc are kept verbatim.
func Normalize(f Field, raw string) string {
	switch f {
	case FieldNumber:
		return NormalizeCardNumber(raw)
	case FieldExpiry:
		return NormalizeExpiry(raw)
	}
	return raw
}

// NormalizeCardNumber strips everything but digits, keeps at most 16 of them
// and groups them in blocks of four separated by single spaces.
func NormalizeCardNumber(raw string) string {
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if len(digits) > cardNumberDigits {
		digits = digits[:cardNumberDigits]
	}

	var b strings.Builder
	for i := 0; i < len(digits); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(digits) {
			end = len(digits)
		}
		b.WriteString(digits[i:end])
	}
	return b.String()
}

// NormalizeExpiry strips everything but digits, keeps at most 4 of them and
// inserts a slash after the month once the year has started.
func NormalizeExpiry(raw string) string {
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if len(digits) > expiryDigits {
		digits = digits[:expiryDigits]
	}
	if len(digits) > 2 {
		return digits[:2] + "/" + digits[2:]
	}
	return digits
}

// ValidateField returns the validation message for a field value, or "" when
// the value is valid. today is only consulted for the expiry field.
func ValidateField(f Field, value string, today time.Time) string {
	switch f {
	case FieldNumber:
		if !numberRe.MatchString(whitespaceRe.ReplaceAllString(value, "")) {
			return ErrMsgNumber
		}
	case FieldName:
		if len(strings.TrimSpace(value)) < 2 {
			return ErrMsgName
		}
	case FieldExpiry:
		return validateExpiry(value, today)
	case FieldCVC:
		if !cvcRe.MatchString(value) {
			return ErrMsgCVC
		}
	}
	return ""
}

// validateExpiry checks MM/YY format first, then that the card is still valid.
// A card is valid through the last day of its expiration month.
func validateExpiry(value string, today time.Time) string {
	if !expiryRe.MatchString(value) {
		return ErrMsgExpiryFormat
	}

	month, _ := strconv.Atoi(value[:2])
	year, _ := strconv.Atoi(value[3:])

	loc := today.Location()
	// day 0 of the following month is the last day of this one
	lastDay := time.Date(2000+year, time.Month(month)+1, 0, 0, 0, 0, 0, loc)
	y, m, d := today.Date()
	if lastDay.Before(time.Date(y, m, d, 0, 0, 0, 0, loc)) {
		return ErrMsgExpiryExpired
	}
	return ""
}

// ComputeValidity derives whether the form may be submitted. It is a pure
// function of the current details and errors and is never stored.
func ComputeValidity(details CardDetails, errs FieldErrors) bool {
	if details.Number == "" || details.Name == "" || details.Expiry == "" || details.CVC == "" {
		return false
	}
	if !errs.None() {
		return false
	}
	if len(whitespaceRe.ReplaceAllString(details.Number, "")) != cardNumberDigits {
		return false
	}
	if len(details.Expiry) != 5 {
		return false
	}
	if !cvcRe.MatchString(details.CVC) {
		return false
	}
	return strings.TrimSpace(details.Name) != ""
}

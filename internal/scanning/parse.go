package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// rawBillData is the model's answer before coercion. Models are inconsistent
// about types, so amount is decoded loosely.
type rawBillData struct {
	Provider      *string `json:"provider"`
	Amount        any     `json:"amount"`
	DueDate       *string `json:"dueDate"`
	InvoiceNumber *string `json:"invoiceNumber"`
}

// notAvailable replaces string fields the model could not read
const notAvailable = "N/A"

var (
	dueDateFormats = []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
		"January 2, 2006",
		"Jan 2, 2006",
		"2 January 2006",
	}
	amountCharsRe = regexp.MustCompile(`[^0-9.,\-]`)
)

// extractJSON trims markdown fences and surrounding prose from a model answer
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parseBillJSON parses the JSON answer of a model into BillData
func parseBillJSON(text string) (*BillData, error) {
	text, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var raw rawBillData
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	return &BillData{
		Provider:      orNotAvailable(raw.Provider),
		Amount:        coerceAmount(raw.Amount),
		DueDate:       normalizeDueDate(orNotAvailable(raw.DueDate)),
		InvoiceNumber: orNotAvailable(raw.InvoiceNumber),
	}, nil
}

func orNotAvailable(s *string) string {
	if s == nil {
		return notAvailable
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return notAvailable
	}
	return v
}

// coerceAmount turns whatever the model returned into a non-negative amount
func coerceAmount(v any) decimal.Decimal {
	var d decimal.Decimal
	switch a := v.(type) {
	case float64:
		d = decimal.NewFromFloat(a)
	case string:
		parsed, err := decimal.NewFromString(normalizeAmountString(a))
		if err != nil {
			return decimal.Zero
		}
		d = parsed
	default:
		return decimal.Zero
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}

// normalizeAmountString strips currency symbols and thousands separators.
// The rightmost of "." and "," is the decimal point when both occur; a lone
// comma followed by one or two digits is a decimal comma ("12,5", "1.234,56").
func normalizeAmountString(s string) string {
	s = amountCharsRe.ReplaceAllString(s, "")
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")

	decimalComma := comma > dot && (dot >= 0 ||
		(strings.Count(s, ",") == 1 && len(s)-comma-1 <= 2 && len(s)-comma-1 > 0))
	if decimalComma {
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	}
	return strings.ReplaceAll(s, ",", "")
}

// normalizeDueDate converts a recognizable date to YYYY-MM-DD and anything
// else to N/A
func normalizeDueDate(s string) string {
	if s == notAvailable {
		return s
	}
	for _, format := range dueDateFormats {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return notAvailable
}

package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// billScanPrompt is the shared prompt used by all providers for scanning bills
const billScanPrompt = `Analyze this bill image. Extract the provider name, total amount due, due date, and invoice number.

Return ONLY valid JSON in this exact format:
{
  "provider": "Name of the company issuing the bill",
  "amount": 0.00,
  "dueDate": "YYYY-MM-DD",
  "invoiceNumber": "The unique invoice or bill number"
}

Important:
- The amount must be a number (not a string), the total amount due
- The due date must be in YYYY-MM-DD format
- If a value is missing, use 'N/A' for strings and 0 for numbers
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// preparedImage is an image ready to send to a vision model
type preparedImage struct {
	data      []byte
	mimeType  string
	converted bool
}

// prepareImage normalizes the MIME type and re-encodes anything that is not
// already PNG. PDFs are rendered from their first page.
func prepareImage(imageData []byte, contentType string) (*preparedImage, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	switch {
	case mimeType == "application/pdf":
		data, err := pdfToPNG(imageData)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return &preparedImage{data: data, mimeType: "image/png", converted: true}, nil
	case mimeType == "image/png" && !isHEIC(imageData, mimeType):
		return &preparedImage{data: imageData, mimeType: "image/png"}, nil
	default:
		data, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return &preparedImage{data: data, mimeType: "image/png", converted: true}, nil
	}
}

// pdfToPNG renders the first page of a PDF; bills are rarely longer
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

// imageToPNG decodes JPEG, GIF, PNG or HEIC/HEIF and re-encodes it as PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	if isHEIC(imageData, mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if err == image.ErrFormat {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEIC detects HEIC/HEIF by MIME type or by the ftyp box brand
func isHEIC(data []byte, mimeType string) bool {
	if strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif") {
		return true
	}
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

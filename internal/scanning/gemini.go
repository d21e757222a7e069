package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	defaultGeminiScanModel      = "gemini-2.5-flash"
	defaultGeminiAssistantModel = "gemini-2.5-pro"
)

// Gemini implements Scanner and Assistant using Google Gemini
type Gemini struct {
	client    *genai.Client
	scan      *genai.GenerativeModel
	assistant *genai.GenerativeModel
}

// NewGemini creates a new Gemini client. scanModel reads bill images,
// assistantModel answers questions; empty names select the defaults.
func NewGemini(apiKey, scanModel, assistantModel string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if scanModel == "" {
		scanModel = defaultGeminiScanModel
	}
	if assistantModel == "" {
		assistantModel = defaultGeminiAssistantModel
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		scan:      client.GenerativeModel(scanModel),
		assistant: client.GenerativeModel(assistantModel),
	}, nil
}

// ScanBill analyzes a bill and extracts its fields
func (g *Gemini) ScanBill(ctx context.Context, imageData []byte, contentType string) (*BillData, error) {
	img, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, &ExtractionError{Err: err}
	}

	// genai.ImageData takes the format suffix ("png"), not the MIME type
	text, err := generateText(ctx, g.scan,
		genai.ImageData(strings.TrimPrefix(img.mimeType, "image/"), img.data),
		genai.Text(billScanPrompt),
	)
	if err != nil {
		return nil, &ExtractionError{Err: err}
	}

	data, err := parseBillJSON(text)
	if err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("parsing bill data: %w", err)}
	}
	return data, nil
}

// Ask sends a free-form question to the assistant model
func (g *Gemini) Ask(ctx context.Context, prompt string) (string, error) {
	text, err := generateText(ctx, g.assistant, genai.Text(prompt))
	if err != nil {
		return "", &QAError{Err: err}
	}
	return text, nil
}

// generateText runs a single generation and joins the text parts of the
// first candidate
func generateText(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

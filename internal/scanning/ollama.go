package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOllamaURL            = "http://localhost:11434"
	defaultOllamaScanModel      = "llava"
	defaultOllamaAssistantModel = "llama3.1"
)

// Ollama implements Scanner and Assistant using a local Ollama server
type Ollama struct {
	baseURL        string
	scanModel      string
	assistantModel string
	client         *http.Client
}

// NewOllama creates a new Ollama client. scanModel must be a vision model
// (llava, qwen2-vl, bakllava); assistantModel may be any chat model.
// Request deadlines come from the caller's context.
func NewOllama(baseURL, scanModel, assistantModel string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if scanModel == "" {
		scanModel = defaultOllamaScanModel
	}
	if assistantModel == "" {
		assistantModel = defaultOllamaAssistantModel
	}

	return &Ollama{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		scanModel:      scanModel,
		assistantModel: assistantModel,
		client:         &http.Client{},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ScanBill analyzes a bill and extracts its fields
func (o *Ollama) ScanBill(ctx context.Context, imageData []byte, contentType string) (*BillData, error) {
	img, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, &ExtractionError{Err: err}
	}

	text, err := o.chat(ctx, ollamaChatRequest{
		Model: o.scanModel,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading bills and invoices. You must carefully read all text in images and extract accurate information.",
			},
			{
				Role:    "user",
				Content: billScanPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(img.data)},
			},
		},
	})
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
func (o *Ollama) Ask(ctx context.Context, prompt string) (string, error) {
	text, err := o.chat(ctx, ollamaChatRequest{
		Model: o.assistantModel,
		Messages: []ollamaMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", &QAError{Err: err}
	}
	if text == "" {
		return "", &QAError{Err: fmt.Errorf("empty response from ollama")}
	}
	return text, nil
}

// chat performs one non-streaming chat call and returns the message content
func (o *Ollama) chat(ctx context.Context, reqBody ollamaChatRequest) (string, error) {
	reqBody.Stream = false
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return strings.TrimSpace(chatResp.Message.Content), nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}

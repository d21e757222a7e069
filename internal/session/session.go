package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/invoicer/internal/bill"
	"github.com/zombor/invoicer/internal/metrics"
	"github.com/zombor/invoicer/internal/payment"
	"github.com/zombor/invoicer/internal/scanning"
)

// Screen is the page a session is currently on
type Screen string

const (
	ScreenLogin     Screen = "login"
	ScreenDashboard Screen = "dashboard"
	ScreenPayment   Screen = "payment"
)

var (
	// ErrUnauthenticated is returned for any operation before Login
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrBusy is returned while the same kind of request is still in flight
	ErrBusy = errors.New("a request is already in progress")
	// ErrEmptyPrompt is returned when asking a blank question
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrNotPayable is returned when paying a bill that is not UNPAID
	ErrNotPayable = errors.New("bill is not payable")
)

// IDGenerator generates unique IDs for bills
type IDGenerator interface {
	Generate() string
}

// uuidGenerator generates bill IDs from random UUIDs
type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return "bill_" + uuid.NewString()
}

// BillAdded describes a bill that was just added to a session
type BillAdded struct {
	Provider      string
	Amount        decimal.Decimal
	DueDate       string
	InvoiceNumber string
	ImageRef      string
}

// Deps are the collaborators and settings shared by all sessions
type Deps struct {
	Scanner   scanning.Scanner
	Assistant scanning.Assistant
	Images    bill.ImageStore
	Metrics   *metrics.Metrics

	// IDs defaults to random UUIDs, Clock to the wall clock
	IDs   IDGenerator
	Clock payment.Clock

	// PaymentDelay is the simulated payment duration (payment.DefaultDelay when 0)
	PaymentDelay time.Duration
	// ExtractTimeout and AskTimeout bound the AI calls; 0 means no deadline
	ExtractTimeout time.Duration
	AskTimeout     time.Duration

	// OnBillAdded, when set, is called after a bill is added
	OnBillAdded func(BillAdded)
}

func (d Deps) withDefaults() Deps {
	if d.IDs == nil {
		d.IDs = uuidGenerator{}
	}
	if d.Clock == nil {
		d.Clock = payment.SystemClock
	}
	if d.PaymentDelay == 0 {
		d.PaymentDelay = payment.DefaultDelay
	}
	return d
}

// Session is one user's state: login flag, bills, current screen and the
// payment in progress. Logout resets all of it.
type Session struct {
	deps Deps

	mu            sync.Mutex
	authenticated bool
	screen        Screen
	registry      *bill.Registry
	activeBillID  string
	form          *payment.Form
	extracting    bool
	asking        bool
	// epoch changes on every logout so late results from a previous login
	// are dropped
	epoch int
}

// New creates a logged-out session
func New(deps Deps) *Session {
	return &Session{
		deps:     deps.withDefaults(),
		screen:   ScreenLogin,
		registry: bill.NewRegistry(),
	}
}

// View is a snapshot of the session's navigation state
type View struct {
	Authenticated bool   `json:"authenticated"`
	Screen        Screen `json:"screen"`
	ActiveBillID  string `json:"active_bill_id,omitempty"`
	BillCount     int    `json:"bill_count"`
}

// View returns the current navigation state
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	return View{
		Authenticated: s.authenticated,
		Screen:        s.screen,
		ActiveBillID:  s.activeBillID,
		BillCount:     s.registry.Len(),
	}
}

// Login marks the session as authenticated and shows the dashboard
func (s *Session) Login() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authenticated = true
	s.screen = ScreenDashboard
}

// Logout discards the session's bills, images and payment state
func (s *Session) Logout() {
	s.mu.Lock()
	removed := s.registry.Reset()
	s.authenticated = false
	s.screen = ScreenLogin
	s.activeBillID = ""
	s.form = nil
	s.epoch++
	s.mu.Unlock()

	for _, b := range removed {
		s.deleteImage(b.ImageRef)
	}
	slog.Info("Session reset", "bills_discarded", len(removed))
}

// Bills returns the session's bills, most recent first
func (s *Session) Bills() ([]bill.Bill, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	return s.registry.List(), nil
}

// Bill returns a single bill
func (s *Session) Bill(id string) (bill.Bill, error) {
	if err := s.requireAuth(); err != nil {
		return bill.Bill{}, err
	}
	return s.registry.FindByID(id)
}

// BillImage returns the stored image of a bill and its content type.
// Manually entered bills have no image and return an empty ref.
func (s *Session) BillImage(id string) ([]byte, string, error) {
	b, err := s.Bill(id)
	if err != nil {
		return nil, "", err
	}
	if b.ImageRef == "" {
		return nil, "", nil
	}
	data, err := s.deps.Images.Get(b.ImageRef)
	if err != nil {
		return nil, "", fmt.Errorf("getting bill image: %w", err)
	}
	return data, b.ImageType, nil
}

// AddBill creates an UNPAID bill from details and puts it at the top of the list
func (s *Session) AddBill(details bill.Details, imageRef, imageType string) (bill.Bill, error) {
	s.mu.Lock()
	if !s.authenticated {
		s.mu.Unlock()
		return bill.Bill{}, ErrUnauthenticated
	}
	b := s.appendLocked(s.deps.IDs.Generate(), details, imageRef, imageType)
	s.mu.Unlock()

	s.billAdded(b, "manual")
	return b, nil
}

// AddManual validates a hand-typed bill and adds it
func (s *Session) AddManual(entry bill.ManualEntry) (bill.Bill, error) {
	if err := s.requireAuth(); err != nil {
		return bill.Bill{}, err
	}
	details, err := entry.Details()
	if err != nil {
		return bill.Bill{}, err
	}
	return s.AddBill(details, "", "")
}

// Extract stores an uploaded bill image, has the scanner read it and adds the
// resulting bill. The image is discarded if extraction fails. Only one
// extraction runs at a time per session.
func (s *Session) Extract(ctx context.Context, filename string, data []byte, contentType string) (bill.Bill, error) {
	s.mu.Lock()
	if !s.authenticated {
		s.mu.Unlock()
		return bill.Bill{}, ErrUnauthenticated
	}
	if s.extracting {
		s.mu.Unlock()
		return bill.Bill{}, ErrBusy
	}
	s.extracting = true
	epoch := s.epoch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.extracting = false
		s.mu.Unlock()
	}()

	id := s.deps.IDs.Generate()
	ref, err := s.deps.Images.Save(bill.ImageKey(id, filename), data)
	if err != nil {
		return bill.Bill{}, fmt.Errorf("saving image: %w", err)
	}

	if s.deps.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.ExtractTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.deps.Scanner.ScanBill(ctx, data, contentType)
	s.deps.Metrics.ObserveAIRequest("extract", time.Since(start), err)
	if err != nil {
		slog.Error("Failed to scan bill",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.deleteImage(ref)

		var extractionErr *scanning.ExtractionError
		if !errors.As(err, &extractionErr) {
			err = &scanning.ExtractionError{Err: err}
		}
		return bill.Bill{}, err
	}

	s.mu.Lock()
	if s.epoch != epoch || !s.authenticated {
		s.mu.Unlock()
		s.deleteImage(ref)
		return bill.Bill{}, ErrUnauthenticated
	}
	b := s.appendLocked(id, bill.Details{
		Provider:      result.Provider,
		Amount:        result.Amount,
		DueDate:       result.DueDate,
		InvoiceNumber: result.InvoiceNumber,
	}, ref, contentType)
	s.mu.Unlock()

	s.billAdded(b, "extraction")
	return b, nil
}

// Ask sends a question to the assistant. Only one question runs at a time
// per session.
func (s *Session) Ask(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)

	s.mu.Lock()
	if !s.authenticated {
		s.mu.Unlock()
		return "", ErrUnauthenticated
	}
	if prompt == "" {
		s.mu.Unlock()
		return "", ErrEmptyPrompt
	}
	if s.asking {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.asking = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.asking = false
		s.mu.Unlock()
	}()

	if s.deps.AskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.AskTimeout)
		defer cancel()
	}

	start := time.Now()
	answer, err := s.deps.Assistant.Ask(ctx, prompt)
	s.deps.Metrics.ObserveAIRequest("ask", time.Since(start), err)
	if err != nil {
		slog.Error("Failed to answer question", "prompt_length", len(prompt), "error", err)

		var qaErr *scanning.QAError
		if !errors.As(err, &qaErr) {
			err = &scanning.QAError{Err: err}
		}
		return "", err
	}
	return answer, nil
}

func (s *Session) requireAuth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authenticated {
		return ErrUnauthenticated
	}
	return nil
}

func (s *Session) appendLocked(id string, details bill.Details, imageRef, imageType string) bill.Bill {
	b := bill.Bill{
		ID:            id,
		Provider:      details.Provider,
		Amount:        details.Amount,
		DueDate:       details.DueDate,
		InvoiceNumber: details.InvoiceNumber,
		Status:        bill.StatusUnpaid,
		ImageRef:      imageRef,
		ImageType:     imageType,
		CreatedAt:     s.deps.Clock.Now(),
	}
	s.registry.Append(b)
	return b
}

func (s *Session) billAdded(b bill.Bill, source string) {
	slog.Info("Bill added",
		"bill_id", b.ID,
		"source", source,
		"provider", b.Provider,
		"amount", b.Amount.StringFixed(2),
		"due_date", b.DueDate,
	)
	s.deps.Metrics.BillAdded(source)
	if s.deps.OnBillAdded != nil {
		s.deps.OnBillAdded(BillAdded{
			Provider:      b.Provider,
			Amount:        b.Amount,
			DueDate:       b.DueDate,
			InvoiceNumber: b.InvoiceNumber,
			ImageRef:      b.ImageRef,
		})
	}
}

func (s *Session) deleteImage(ref string) {
	if ref == "" {
		return
	}
	if err := s.deps.Images.Delete(ref); err != nil {
		slog.Warn("Failed to delete image", "image_ref", ref, "error", err)
	}
}

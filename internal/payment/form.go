package payment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/invoicer/internal/bill"
)

// DefaultDelay is how long the simulated payment takes
const DefaultDelay = 2500 * time.Millisecond

// ErrMsgNoBill is the guard message shown when the form has no bill to pay
const ErrMsgNoBill = "No bill selected for payment."

var (
	// ErrNoBill is returned by operations on a form built without a bill
	ErrNoBill = errors.New("no bill selected for payment")
	// ErrNotEditable is returned when the form is processing or finished
	ErrNotEditable = errors.New("payment form is not editable")
	// ErrNotSubmittable is returned when submitting a form that is not valid
	ErrNotSubmittable = errors.New("payment form is not valid")
	// ErrUnknownField is returned for a field name the form does not have
	ErrUnknownField = errors.New("unknown card field")
)

// State is a step of the payment form lifecycle
type State string

const (
	// StateUnavailable is the guard state of a form built without a bill.
	// The only way out is Cancel.
	StateUnavailable State = "unavailable"
	StateEditing     State = "editing"
	StateProcessing  State = "processing"
	StateSucceeded   State = "succeeded"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateCancelled
}

// Event is emitted when the form reaches a terminal state
type Event interface {
	event()
}

// PaymentSucceeded is emitted once the simulated payment completes
type PaymentSucceeded struct {
	BillID string
}

// PaymentCancelled is emitted when the user abandons the payment
type PaymentCancelled struct{}

func (PaymentSucceeded) event() {}
func (PaymentCancelled) event() {}

// EventHandler receives terminal events. It is called without the form's
// lock held, so it may call back into the form.
type EventHandler func(Event)

// Clock provides the current time and the payment delay timer
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// Option configures a Form
type Option func(*Form)

// WithClock sets the clock used for expiry checks and the payment delay
func WithClock(c Clock) Option {
	return func(f *Form) { f.clock = c }
}

// WithDelay sets the simulated payment duration
func WithDelay(d time.Duration) Option {
	return func(f *Form) { f.delay = d }
}

// WithEventHandler sets the receiver of terminal events
func WithEventHandler(h EventHandler) Option {
	return func(f *Form) { f.onEvent = h }
}

// Form is the card payment form for a single bill
type Form struct {
	mu      sync.Mutex
	bill    *bill.Bill
	details CardDetails
	errors  FieldErrors
	state   State
	done    chan struct{}

	clock   Clock
	delay   time.Duration
	onEvent EventHandler
}

// NewForm creates a form for paying b. The form keeps its own copy of the
// bill. A nil bill yields a form in StateUnavailable.
func NewForm(b *bill.Bill, opts ...Option) *Form {
	f := &Form{
		errors: FieldErrors{},
		state:  StateEditing,
		done:   make(chan struct{}),
		clock:  SystemClock,
		delay:  DefaultDelay,
	}
	for _, opt := range opts {
		opt(f)
	}

	if b == nil {
		f.state = StateUnavailable
		return f
	}
	snapshot := *b
	f.bill = &snapshot
	return f
}

// View is a rendering snapshot of the form
type View struct {
	BillID         string          `json:"bill_id,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
	State          State           `json:"state"`
	Details        CardDetails     `json:"details"`
	Errors         FieldErrors     `json:"errors"`
	Submittable    bool            `json:"submittable"`
	InputsDisabled bool            `json:"inputs_disabled"`
	Error          string          `json:"error,omitempty"`
}

// View returns a snapshot of the form for rendering
func (f *Form) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

func (f *Form) viewLocked() View {
	v := View{
		State:          f.state,
		Details:        f.details,
		Errors:         f.errors.clone(),
		Submittable:    f.state == StateEditing && ComputeValidity(f.details, f.errors),
		InputsDisabled: f.state != StateEditing,
	}
	if f.bill == nil {
		v.Error = ErrMsgNoBill
		return v
	}
	v.BillID = f.bill.ID
	v.Provider = f.bill.Provider
	v.Amount = f.bill.Amount
	v.InvoiceNumber = f.bill.InvoiceNumber
	return v
}

// State returns the current lifecycle state
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// BillID returns the ID of the bill being paid, or "" for a guard form
func (f *Form) BillID() string {
	if f.bill == nil {
		return ""
	}
	return f.bill.ID
}

// Submittable reports whether Submit would start a payment
func (f *Form) Submittable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateEditing && ComputeValidity(f.details, f.errors)
}

// SetField normalizes raw input for a field, stores it and revalidates the
// field against the stored value.
func (f *Form) SetField(field Field, raw string) (View, error) {
	if _, ok := ParseField(string(field)); !ok {
		return f.View(), ErrUnknownField
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.editableLocked(); err != nil {
		return f.viewLocked(), err
	}

	value := Normalize(field, raw)
	f.details.set(field, value)
	f.errors[field] = ValidateField(field, value, f.clock.Now())

	return f.viewLocked(), nil
}

// Submit starts the simulated payment. An invalid form is left untouched.
// Once processing has started no further edits, cancels or submits are
// accepted; the payment always completes after the configured delay.
func (f *Form) Submit() (View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.editableLocked(); err != nil {
		return f.viewLocked(), err
	}
	if !ComputeValidity(f.details, f.errors) {
		return f.viewLocked(), ErrNotSubmittable
	}

	f.state = StateProcessing
	slog.Info("Payment processing", "bill_id", f.bill.ID)

	go f.process(f.clock.After(f.delay))

	return f.viewLocked(), nil
}

// process waits for the payment timer and completes the payment
func (f *Form) process(timer <-chan time.Time) {
	<-timer

	f.mu.Lock()
	if f.state != StateProcessing {
		f.mu.Unlock()
		return
	}
	f.finishLocked(StateSucceeded)
	billID := f.bill.ID
	f.mu.Unlock()

	slog.Info("Payment succeeded", "bill_id", billID)
	f.emit(PaymentSucceeded{BillID: billID})
	close(f.done)
}

// Cancel abandons the payment. It is rejected while a payment is processing.
func (f *Form) Cancel() error {
	f.mu.Lock()
	if f.state != StateEditing && f.state != StateUnavailable {
		f.mu.Unlock()
		return ErrNotEditable
	}
	f.finishLocked(StateCancelled)
	f.mu.Unlock()

	f.emit(PaymentCancelled{})
	close(f.done)
	return nil
}

// Wait blocks until the form reaches a terminal state and its event has been
// handled, or ctx is done
func (f *Form) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Form) editableLocked() error {
	switch f.state {
	case StateEditing:
		return nil
	case StateUnavailable:
		return ErrNoBill
	default:
		return ErrNotEditable
	}
}

// finishLocked moves to a terminal state and discards the card input.
// The caller closes done once the event has been delivered.
func (f *Form) finishLocked(s State) {
	f.state = s
	f.details = CardDetails{}
	f.errors = FieldErrors{}
}

func (f *Form) emit(e Event) {
	if f.onEvent != nil {
		f.onEvent(e)
	}
}

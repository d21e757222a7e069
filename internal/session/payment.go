package session

import (
	"log/slog"

	"github.com/zombor/invoicer/internal/payment"
)

// InitiatePayment opens the payment screen for an UNPAID bill
func (s *Session) InitiatePayment(id string) (payment.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authenticated {
		return payment.View{}, ErrUnauthenticated
	}
	if s.form != nil && s.form.State() == payment.StateProcessing {
		return s.form.View(), ErrBusy
	}

	b, err := s.registry.FindByID(id)
	if err != nil {
		return payment.View{}, err
	}
	if !b.Payable() {
		return payment.View{}, ErrNotPayable
	}

	var form *payment.Form
	form = payment.NewForm(&b,
		payment.WithClock(s.deps.Clock),
		payment.WithDelay(s.deps.PaymentDelay),
		payment.WithEventHandler(func(e payment.Event) {
			s.handlePaymentEvent(form, e)
		}),
	)

	s.form = form
	s.activeBillID = b.ID
	s.screen = ScreenPayment
	slog.Info("Payment started", "bill_id", b.ID)

	return form.View(), nil
}

// PaymentForm returns the active payment form, or nil when no payment is open
func (s *Session) PaymentForm() *payment.Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

// Payment returns the payment screen. Without an active payment this is the
// guard form that only offers cancel.
func (s *Session) Payment() (payment.View, error) {
	f, err := s.activeForm()
	if err != nil {
		return payment.View{}, err
	}
	return f.View(), nil
}

// SetPaymentField updates one card input of the active payment
func (s *Session) SetPaymentField(field payment.Field, raw string) (payment.View, error) {
	f, err := s.activeForm()
	if err != nil {
		return payment.View{}, err
	}
	return f.SetField(field, raw)
}

// SubmitPayment starts the simulated payment
func (s *Session) SubmitPayment() (payment.View, error) {
	f, err := s.activeForm()
	if err != nil {
		return payment.View{}, err
	}
	return f.Submit()
}

// CancelPayment abandons the active payment and returns to the dashboard.
// It fails with payment.ErrNotEditable while a payment is processing.
func (s *Session) CancelPayment() error {
	s.mu.Lock()
	if !s.authenticated {
		s.mu.Unlock()
		return ErrUnauthenticated
	}
	f := s.form
	if f == nil {
		s.screen = ScreenDashboard
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// the form's handler takes s.mu, so it must not be held here
	return f.Cancel()
}

func (s *Session) activeForm() (*payment.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authenticated {
		return nil, ErrUnauthenticated
	}
	if s.form == nil {
		return payment.NewForm(nil, payment.WithClock(s.deps.Clock)), nil
	}
	return s.form, nil
}

// handlePaymentEvent applies a terminal payment event to the session. Events
// from a form that is no longer active, e.g. after a logout, only count.
func (s *Session) handlePaymentEvent(f *payment.Form, e payment.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev := e.(type) {
	case payment.PaymentSucceeded:
		s.deps.Metrics.PaymentFinished("succeeded")
		if s.form != f {
			slog.Debug("Dropping result of stale payment", "bill_id", ev.BillID)
			return
		}
		if !s.registry.MarkPaid(ev.BillID) {
			slog.Warn("Paid bill was not unpaid", "bill_id", ev.BillID)
		}
	case payment.PaymentCancelled:
		s.deps.Metrics.PaymentFinished("cancelled")
		if s.form != f {
			return
		}
		slog.Info("Payment cancelled", "bill_id", f.BillID())
	}

	s.form = nil
	s.activeBillID = ""
	s.screen = ScreenDashboard
}

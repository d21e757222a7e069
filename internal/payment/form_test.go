package payment

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/invoicer/internal/bill"
)

// fakeClock returns a fixed time and hands out a timer the test fires
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
	timer  chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, timer: make(chan time.Time, 1)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	return c.timer
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func (c *fakeClock) Fire() {
	c.timer <- c.Now()
}

// eventRecorder collects emitted events
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

var _ = Describe("Form", func() {
	var (
		clock    *fakeClock
		recorder *eventRecorder
		b        *bill.Bill
		form     *Form
	)

	fillValid := func(f *Form) {
		_, err := f.SetField(FieldNumber, "4111111111111111")
		Expect(err).NotTo(HaveOccurred())
		_, err = f.SetField(FieldName, "Jane Doe")
		Expect(err).NotTo(HaveOccurred())
		_, err = f.SetField(FieldExpiry, "1299")
		Expect(err).NotTo(HaveOccurred())
		_, err = f.SetField(FieldCVC, "123")
		Expect(err).NotTo(HaveOccurred())
	}

	waitDone := func(f *Form) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(f.Wait(ctx)).To(Succeed())
	}

	BeforeEach(func() {
		clock = newFakeClock(today)
		recorder = &eventRecorder{}
		b = &bill.Bill{
			ID:            "bill_1",
			Provider:      "City Power",
			Amount:        decimal.RequireFromString("123.45"),
			DueDate:       "2024-07-01",
			InvoiceNumber: "INV-9",
			Status:        bill.StatusUnpaid,
		}
	})

	JustBeforeEach(func() {
		form = NewForm(b,
			WithClock(clock),
			WithDelay(3*time.Second),
			WithEventHandler(recorder.Handle),
		)
	})

	Describe("NewForm", func() {
		It("should start editing", func() {
			Expect(form.State()).To(Equal(StateEditing))
		})

		It("should show the bill summary", func() {
			view := form.View()
			Expect(view.BillID).To(Equal("bill_1"))
			Expect(view.Provider).To(Equal("City Power"))
			Expect(view.Amount.Equal(decimal.RequireFromString("123.45"))).To(BeTrue())
			Expect(view.InvoiceNumber).To(Equal("INV-9"))
			Expect(view.Error).To(BeEmpty())
		})

		It("should not be submittable", func() {
			Expect(form.Submittable()).To(BeFalse())
		})

		It("should keep its own copy of the bill", func() {
			b.Provider = "Changed"
			Expect(form.View().Provider).To(Equal("City Power"))
		})

		When("no bill is given", func() {
			BeforeEach(func() {
				b = nil
			})

			It("should be unavailable with the guard message", func() {
				view := form.View()
				Expect(view.State).To(Equal(StateUnavailable))
				Expect(view.Error).To(Equal(ErrMsgNoBill))
				Expect(view.InputsDisabled).To(BeTrue())
			})

			It("should reject edits", func() {
				_, err := form.SetField(FieldName, "Jane")
				Expect(err).To(MatchError(ErrNoBill))
			})

			It("should reject submit", func() {
				_, err := form.Submit()
				Expect(err).To(MatchError(ErrNoBill))
			})

			It("should allow cancel", func() {
				Expect(form.Cancel()).To(Succeed())
				Expect(form.State()).To(Equal(StateCancelled))
				Expect(recorder.Events()).To(ConsistOf(PaymentCancelled{}))
			})
		})
	})

	Describe("SetField", func() {
		It("should store the normalized value", func() {
			view, err := form.SetField(FieldNumber, "4111-1111-1111-1111")
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Details.Number).To(Equal("4111 1111 1111 1111"))
			Expect(view.Errors[FieldNumber]).To(BeEmpty())
		})

		It("should validate against the normalized value", func() {
			view, err := form.SetField(FieldExpiry, "0220")
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Details.Expiry).To(Equal("02/20"))
			Expect(view.Errors[FieldExpiry]).To(Equal(ErrMsgExpiryExpired))
		})

		It("should clear an error once corrected", func() {
			_, err := form.SetField(FieldCVC, "12")
			Expect(err).NotTo(HaveOccurred())
			view, err := form.SetField(FieldCVC, "123")
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Errors[FieldCVC]).To(BeEmpty())
		})

		It("should reject unknown fields", func() {
			_, err := form.SetField(Field("pin"), "1234")
			Expect(err).To(MatchError(ErrUnknownField))
		})

		When("all fields are valid", func() {
			JustBeforeEach(func() {
				fillValid(form)
			})

			It("should be submittable", func() {
				Expect(form.Submittable()).To(BeTrue())
				Expect(form.View().Submittable).To(BeTrue())
			})

			It("should not be submittable after the cvc becomes invalid", func() {
				view, err := form.SetField(FieldCVC, "12")
				Expect(err).NotTo(HaveOccurred())
				Expect(view.Submittable).To(BeFalse())
				Expect(view.Errors[FieldCVC]).To(Equal(ErrMsgCVC))
			})
		})
	})

	Describe("Submit", func() {
		When("the form is invalid", func() {
			It("should return ErrNotSubmittable and stay editing", func() {
				_, err := form.SetField(FieldName, "Jane Doe")
				Expect(err).NotTo(HaveOccurred())

				view, err := form.Submit()
				Expect(err).To(MatchError(ErrNotSubmittable))
				Expect(view.State).To(Equal(StateEditing))
				Expect(view.Details.Name).To(Equal("Jane Doe"))
				Expect(clock.Delays()).To(BeEmpty())
			})
		})

		When("the form is valid", func() {
			var (
				view View
				err  error
			)

			JustBeforeEach(func() {
				fillValid(form)
				view, err = form.Submit()
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should be processing with inputs disabled", func() {
				Expect(view.State).To(Equal(StateProcessing))
				Expect(view.InputsDisabled).To(BeTrue())
				Expect(view.Submittable).To(BeFalse())
			})

			It("should start one timer with the configured delay", func() {
				Eventually(clock.Delays).Should(Equal([]time.Duration{3 * time.Second}))
			})

			It("should reject edits while processing", func() {
				_, err := form.SetField(FieldCVC, "999")
				Expect(err).To(MatchError(ErrNotEditable))
			})

			It("should reject a second submit", func() {
				_, err := form.Submit()
				Expect(err).To(MatchError(ErrNotEditable))
			})

			It("should reject cancel while processing", func() {
				Expect(form.Cancel()).To(MatchError(ErrNotEditable))
				Expect(form.State()).To(Equal(StateProcessing))
			})

			It("should not emit before the delay elapses", func() {
				Consistently(recorder.Events, 50*time.Millisecond).Should(BeEmpty())
			})

			When("the delay elapses", func() {
				JustBeforeEach(func() {
					clock.Fire()
					waitDone(form)
				})

				It("should succeed", func() {
					Expect(form.State()).To(Equal(StateSucceeded))
				})

				It("should emit exactly one PaymentSucceeded with the bill id", func() {
					Expect(recorder.Events()).To(Equal([]Event{PaymentSucceeded{BillID: "bill_1"}}))
					Consistently(recorder.Events, 50*time.Millisecond).Should(HaveLen(1))
				})

				It("should discard the card details", func() {
					v := form.View()
					Expect(v.Details).To(Equal(CardDetails{}))
					Expect(v.Errors).To(BeEmpty())
				})

				It("should reject further submits", func() {
					_, err := form.Submit()
					Expect(err).To(MatchError(ErrNotEditable))
					Expect(recorder.Events()).To(HaveLen(1))
				})
			})
		})
	})

	Describe("Cancel", func() {
		JustBeforeEach(func() {
			fillValid(form)
		})

		It("should emit PaymentCancelled and discard the details", func() {
			Expect(form.Cancel()).To(Succeed())
			waitDone(form)

			Expect(recorder.Events()).To(Equal([]Event{PaymentCancelled{}}))
			view := form.View()
			Expect(view.State).To(Equal(StateCancelled))
			Expect(view.Details).To(Equal(CardDetails{}))
		})

		It("should only be accepted once", func() {
			Expect(form.Cancel()).To(Succeed())
			Expect(form.Cancel()).To(MatchError(ErrNotEditable))
			Expect(recorder.Events()).To(HaveLen(1))
		})
	})

	Describe("Wait", func() {
		It("should return the context error while not finished", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			Expect(form.Wait(ctx)).To(MatchError(context.Canceled))
		})
	})

	Describe("State", func() {
		It("should report terminal states", func() {
			Expect(StateSucceeded.Terminal()).To(BeTrue())
			Expect(StateCancelled.Terminal()).To(BeTrue())
			Expect(StateProcessing.Terminal()).To(BeFalse())
			Expect(StateEditing.Terminal()).To(BeFalse())
		})
	})
})

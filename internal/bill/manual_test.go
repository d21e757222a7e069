package bill

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("ManualEntry", func() {
	var (
		entry   ManualEntry
		details Details
		err     error
	)

	BeforeEach(func() {
		entry = ManualEntry{
			Provider:      " Water Co ",
			Amount:        "42.505",
			DueDate:       "2024-08-01",
			InvoiceNumber: "W-100",
		}
	})

	JustBeforeEach(func() {
		details, err = entry.Details()
	})

	When("all fields are valid", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should trim the text fields", func() {
			Expect(details.Provider).To(Equal("Water Co"))
		})

		It("should round the amount to cents", func() {
			Expect(details.Amount.Equal(decimal.RequireFromString("42.51"))).To(BeTrue())
		})

		It("should keep the due date", func() {
			Expect(details.DueDate).To(Equal("2024-08-01"))
		})
	})

	When("a field is blank", func() {
		BeforeEach(func() {
			entry.InvoiceNumber = "   "
		})

		It("should ask for all fields", func() {
			Expect(err).To(MatchError(ErrMsgFieldsRequired))
		})
	})

	When("a field is blank and the date is malformed", func() {
		BeforeEach(func() {
			entry.Provider = ""
			entry.DueDate = "08/01/2024"
		})

		It("should report the missing field", func() {
			Expect(err).To(MatchError(ErrMsgFieldsRequired))
		})
	})

	When("the amount is not a number", func() {
		BeforeEach(func() {
			entry.Amount = "abc"
		})

		It("should ask for a positive amount", func() {
			var entryErr *EntryError
			Expect(err).To(BeAssignableToTypeOf(entryErr))
			Expect(err).To(MatchError(ErrMsgInvalidAmount))
		})
	})

	When("the amount is zero", func() {
		BeforeEach(func() {
			entry.Amount = "0"
		})

		It("should ask for a positive amount", func() {
			Expect(err).To(MatchError(ErrMsgInvalidAmount))
		})
	})

	When("the amount is negative", func() {
		BeforeEach(func() {
			entry.Amount = "-5"
		})

		It("should ask for a positive amount", func() {
			Expect(err).To(MatchError(ErrMsgInvalidAmount))
		})
	})

	When("the due date is not YYYY-MM-DD", func() {
		BeforeEach(func() {
			entry.DueDate = "08/01/2024"
		})

		It("should report the date format", func() {
			Expect(err).To(MatchError(ErrMsgInvalidDueDate))
		})
	})
})

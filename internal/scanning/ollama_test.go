package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		ollama *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		ollama, err = NewOllama(server.URL()+"/", "llava", "llama3.1")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("NewOllama", func() {
		It("should fill in defaults", func() {
			o, err := NewOllama("", "", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(o.baseURL).To(Equal(defaultOllamaURL))
			Expect(o.scanModel).To(Equal(defaultOllamaScanModel))
			Expect(o.assistantModel).To(Equal(defaultOllamaAssistantModel))
		})
	})

	Describe("ScanBill", func() {
		var (
			pngData []byte
			data    *BillData
			err     error
		)

		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(png.Encode(&buf, testImage())).To(Succeed())
			pngData = buf.Bytes()
		})

		JustBeforeEach(func() {
			data, err = ollama.ScanBill(context.Background(), pngData, "image/png")
		})

		When("the model answers with bill JSON", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
					ghttp.VerifyContentType("application/json"),
					func(w http.ResponseWriter, r *http.Request) {
						var req ollamaChatRequest
						Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
						Expect(req.Model).To(Equal("llava"))
						Expect(req.Stream).To(BeFalse())
						Expect(req.Messages).To(HaveLen(2))
						Expect(req.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString(pngData)))
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
						Message: ollamaMessage{
							Role:    "assistant",
							Content: `{"provider": "City Power", "amount": 80, "dueDate": "2024-07-01", "invoiceNumber": "CP-7"}`,
						},
						Done: true,
					}),
				))
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the extracted bill", func() {
				Expect(data.Provider).To(Equal("City Power"))
				Expect(data.Amount.IntPart()).To(Equal(int64(80)))
				Expect(data.DueDate).To(Equal("2024-07-01"))
				Expect(data.InvoiceNumber).To(Equal("CP-7"))
			})
		})

		When("the API returns an error status", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
			})

			It("should return an ExtractionError", func() {
				var extractionErr *ExtractionError
				Expect(err).To(BeAssignableToTypeOf(extractionErr))
				Expect(err.Error()).To(Equal(ErrMsgExtraction))
				Expect(errors.Unwrap(err)).To(MatchError(ContainSubstring("status 500")))
			})
		})

		When("the answer is not JSON", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: "Sorry, I cannot read this."},
				}))
			})

			It("should return an ExtractionError", func() {
				var extractionErr *ExtractionError
				Expect(err).To(BeAssignableToTypeOf(extractionErr))
			})
		})

		When("the image cannot be decoded", func() {
			BeforeEach(func() {
				pngData = []byte("garbage")
			})

			It("should fail without calling the API", func() {
				var extractionErr *ExtractionError
				Expect(err).To(BeAssignableToTypeOf(extractionErr))
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})
	})

	Describe("Ask", func() {
		var (
			answer string
			err    error
			ctx    context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
		})

		JustBeforeEach(func() {
			answer, err = ollama.Ask(ctx, "When is my power bill due?")
		})

		When("the model answers", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
					func(w http.ResponseWriter, r *http.Request) {
						var req ollamaChatRequest
						Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
						Expect(req.Model).To(Equal("llama3.1"))
						Expect(req.Messages).To(HaveLen(1))
						Expect(req.Messages[0].Images).To(BeEmpty())
						Expect(req.Messages[0].Content).To(Equal("When is my power bill due?"))
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
						Message: ollamaMessage{Role: "assistant", Content: "  On July 1st.  "},
						Done:    true,
					}),
				))
			})

			It("should return the trimmed answer", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(answer).To(Equal("On July 1st."))
			})
		})

		When("the model answers with nothing", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{}))
			})

			It("should return a QAError", func() {
				var qaErr *QAError
				Expect(err).To(BeAssignableToTypeOf(qaErr))
				Expect(err.Error()).To(Equal(ErrMsgQA))
			})
		})

		When("the context expires", func() {
			BeforeEach(func() {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
				DeferCleanup(cancel)
				server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
					<-r.Context().Done()
				})
			})

			It("should return a QAError wrapping the deadline", func() {
				var qaErr *QAError
				Expect(err).To(BeAssignableToTypeOf(qaErr))
				Expect(err).To(MatchError(context.DeadlineExceeded))
			})
		})
	})
})

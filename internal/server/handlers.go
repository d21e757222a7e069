package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/invoicer/internal/bill"
	"github.com/zombor/invoicer/internal/payment"
	"github.com/zombor/invoicer/internal/scanning"
	"github.com/zombor/invoicer/internal/session"
)

// maxUploadSize bounds bill uploads; phone photos can be large
const maxUploadSize = int64(50 << 20) // 50MB

const errMsgTooLarge = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// placeholderImage is served for bills entered by hand
const placeholderImage = `<svg xmlns="http://www.w3.org/2000/svg" width="400" height="300" viewBox="0 0 400 300">` +
	`<rect width="400" height="300" fill="#e5e7eb"/>` +
	`<text x="200" y="155" font-family="sans-serif" font-size="20" fill="#6b7280" text-anchor="middle">Manual Entry</text>` +
	`</svg>`

type errorResponse struct {
	Error string        `json:"error"`
	Form  *payment.View `json:"form,omitempty"`
}

// errorStatus maps an error to its HTTP status and user message
func errorStatus(err error) (int, string) {
	var (
		entryErr      *bill.EntryError
		extractionErr *scanning.ExtractionError
		qaErr         *scanning.QAError
	)

	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		return http.StatusUnauthorized, "Not authenticated"
	case errors.As(err, &entryErr):
		return http.StatusUnprocessableEntity, entryErr.Message
	case errors.As(err, &extractionErr):
		return http.StatusBadGateway, extractionErr.Error()
	case errors.As(err, &qaErr):
		return http.StatusBadGateway, qaErr.Error()
	case errors.Is(err, bill.ErrNotFound):
		return http.StatusNotFound, "Bill not found"
	case errors.Is(err, payment.ErrUnknownField):
		return http.StatusNotFound, "Unknown card field"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "A request is already in progress. Please wait."
	case errors.Is(err, session.ErrNotPayable):
		return http.StatusConflict, "Only unpaid bills can be paid."
	case errors.Is(err, payment.ErrNotEditable):
		return http.StatusConflict, "Payment can no longer be changed."
	case errors.Is(err, payment.ErrNoBill):
		return http.StatusConflict, payment.ErrMsgNoBill
	case errors.Is(err, payment.ErrNotSubmittable):
		return http.StatusUnprocessableEntity, "Please correct the card details."
	case errors.Is(err, session.ErrEmptyPrompt):
		return http.StatusBadRequest, "Please enter a question."
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError writes a JSON error response for err
func writeError(w http.ResponseWriter, err error) {
	code, msg := errorStatus(err)
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

// writeFormError writes a JSON error response that also carries the form
func writeFormError(w http.ResponseWriter, view payment.View, err error) {
	code, msg := errorStatus(err)
	resp := errorResponse{Error: msg}
	if code != http.StatusUnauthorized {
		resp.Form = &view
	}
	writeJSON(w, code, resp)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleLogin opens a session for an authenticated caller, reusing the
// caller's session when it still has one
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Authenticate(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="Invoicer"`)
		writeError(w, session.ErrUnauthenticated)
		return
	}

	sess, ok := s.lookupSession(r)
	if !ok {
		var token string
		token, sess = s.sessions.Create()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	sess.Login()
	slog.Info("User logged in")

	writeJSON(w, http.StatusOK, sess.View())
}

// handleLogout resets and drops the caller's session
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		s.sessions.Remove(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleSession returns the caller's navigation state
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	view := sess.View()
	if !view.Authenticated {
		writeError(w, session.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleListBills returns all bills, most recent first
func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	bills, err := sess.Bills()
	if err != nil {
		writeError(w, err)
		return
	}

	// Ensure we always return an array, not nil
	if bills == nil {
		bills = []bill.Bill{}
	}
	writeJSON(w, http.StatusOK, bills)
}

// handleUploadBill extracts a bill from an uploaded image or PDF
func (s *Server) handleUploadBill(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		if errors.As(err, new(*http.MaxBytesError)) {
			msg = errMsgTooLarge
		}
		writeBadRequest(w, msg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		msg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			msg = "No file was selected. Please choose a file to upload."
		}
		writeBadRequest(w, msg)
		return
	}
	defer f.Close()

	if header.Size > s.maxUpload {
		writeBadRequest(w, errMsgTooLarge)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Error reading file. Please try again."})
		return
	}

	contentType := uploadContentType(header.Header.Get("Content-Type"), header.Filename)

	b, err := sess.Extract(r.Context(), header.Filename, data, contentType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// uploadContentType normalizes the declared content type, falling back to
// the file extension when none was sent
func uploadContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleAddManualBill adds a bill typed in by the user
func (s *Server) handleAddManualBill(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var entry bill.ManualEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}

	b, err := sess.AddManual(entry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// handleGetBill returns a single bill
func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	b, err := sess.Bill(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleGetBillImage returns the stored image of a bill, or a placeholder for
// bills without one
func (s *Server) handleGetBillImage(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	data, contentType, err := sess.BillImage(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	setCORSHeaders(w)
	if data == nil {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write([]byte(placeholderImage))
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handlePayBill opens the payment form for a bill
func (s *Server) handlePayBill(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	view, err := sess.InitiatePayment(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			writeFormError(w, view, err)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleGetPayment returns the payment form
func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	view, err := sess.Payment()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSetPaymentField updates one card input
func (s *Server) handleSetPaymentField(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	field, ok := payment.ParseField(r.PathValue("field"))
	if !ok {
		writeError(w, payment.ErrUnknownField)
		return
	}

	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}

	view, err := sess.SetPaymentField(field, req.Value)
	if err != nil {
		writeFormError(w, view, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSubmitPayment starts the simulated payment
func (s *Server) handleSubmitPayment(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	view, err := sess.SubmitPayment()
	if err != nil {
		writeFormError(w, view, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// handleCancelPayment abandons the payment and returns to the dashboard
func (s *Server) handleCancelPayment(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.CancelPayment(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleAsk forwards a question to the assistant
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}

	answer, err := sess.Ask(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

package server

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/invoicer/internal/session"
)

// SessionCookie is the cookie carrying the session token
const SessionCookie = "invoicer_session"

// Authenticator decides whether a login request may open a session
type Authenticator interface {
	Authenticate(r *http.Request) bool
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Authenticate checks basic auth credentials. Empty credentials let everyone in.
func (b BasicAuth) Authenticate(r *http.Request) bool {
	if b.Username == "" && b.Password == "" {
		return true
	}

	user, pass, ok := parseBasicAuth(r.Header.Get("Authorization"))
	if !ok {
		return false
	}
	return user == b.Username && pass == b.Password
}

func parseBasicAuth(header string) (string, string, bool) {
	if !strings.HasPrefix(header, "Basic ") {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return "", "", false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return "", "", false
	}
	return credentials[0], credentials[1], true
}

// Server handles HTTP requests for bills and payments
type Server struct {
	sessions *session.Manager
	auth     Authenticator
	metrics  http.Handler
	mux      *http.ServeMux

	// maxUpload caps the request body of bill uploads
	maxUpload int64
}

// NewServer creates a new Server with default mux. Metrics are served from
// gatherer, prometheus.DefaultGatherer when nil.
func NewServer(sessions *session.Manager, auth Authenticator, gatherer prometheus.Gatherer) *Server {
	return NewServerWithMux(sessions, auth, gatherer, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(sessions *session.Manager, auth Authenticator, gatherer prometheus.Gatherer, mux *http.ServeMux) *Server {
	if auth == nil {
		auth = BasicAuth{}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		sessions: sessions,
		auth:     auth,
		metrics:  promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		mux:      mux,

		maxUpload: maxUploadSize,
	}
	s.registerRoutes()
	return s
}

// sessionHandler is a handler that runs inside a session
type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// requireSession resolves the session cookie, rejecting requests without a
// live session
func (s *Server) requireSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.lookupSession(r)
		if !ok {
			writeError(w, session.ErrUnauthenticated)
			return
		}
		next(w, r, sess)
	}
}

func (s *Server) lookupSession(r *http.Request) (*session.Session, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	return s.sessions.Get(cookie.Value)
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/session", s.requireSession(s.handleSession))

	// bills
	s.mux.HandleFunc("GET /api/bills/{id}/image", s.requireSession(s.handleGetBillImage))
	s.mux.HandleFunc("POST /api/bills/{id}/pay", s.requireSession(s.handlePayBill))
	s.mux.HandleFunc("GET /api/bills/{id}", s.requireSession(s.handleGetBill))
	s.mux.HandleFunc("POST /api/bills/manual", s.requireSession(s.handleAddManualBill))
	s.mux.HandleFunc("GET /api/bills", s.requireSession(s.handleListBills))
	s.mux.HandleFunc("POST /api/bills", s.requireSession(s.handleUploadBill))

	// payment form
	s.mux.HandleFunc("GET /api/payment", s.requireSession(s.handleGetPayment))
	s.mux.HandleFunc("PUT /api/payment/fields/{field}", s.requireSession(s.handleSetPaymentField))
	s.mux.HandleFunc("POST /api/payment/submit", s.requireSession(s.handleSubmitPayment))
	s.mux.HandleFunc("POST /api/payment/cancel", s.requireSession(s.handleCancelPayment))

	s.mux.HandleFunc("POST /api/ask", s.requireSession(s.handleAsk))

	s.mux.Handle("GET /metrics", s.metrics)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	corsMiddleware(s.mux).ServeHTTP(w, r)
}

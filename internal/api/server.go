package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rickgao/nft-marketplace/internal/auth"
	"github.com/rickgao/nft-marketplace/internal/custody"
	"github.com/rickgao/nft-marketplace/internal/market"
	"github.com/rickgao/nft-marketplace/internal/metrics"
	"github.com/rickgao/nft-marketplace/internal/version"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server serves the marketplace HTTP API.
type Server struct {
	svc      *market.Service
	verifier *auth.Verifier
	custody  *custody.Registry // nil disables /v1/assets
	feed     http.Handler      // nil disables /v1/feed
	metrics  *metrics.Metrics
	currency Currency
	instance string
	logger   *slog.Logger

	mux *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCustodyEndpoints enables the dev mint and approve routes backed by reg.
func WithCustodyEndpoints(reg *custody.Registry) ServerOption {
	return func(s *Server) {
		s.custody = reg
	}
}

// WithFeed mounts h at /v1/feed.
func WithFeed(h http.Handler) ServerOption {
	return func(s *Server) {
		s.feed = h
	}
}

// WithMetrics records per-operation counters into m and serves them at
// /metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithCurrency sets how amounts are rendered.
func WithCurrency(c Currency) ServerOption {
	return func(s *Server) {
		s.currency = c
	}
}

// WithInstanceID is reported by /health.
func WithInstanceID(id string) ServerOption {
	return func(s *Server) {
		s.instance = id
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a Server for svc. Mutating routes authenticate with
// verifier.
func NewServer(svc *market.Service, verifier *auth.Verifier, opts ...ServerOption) *Server {
	s := &Server{
		svc:      svc,
		verifier: verifier,
		metrics:  metrics.New(),
		currency: Currency{Symbol: "ETH", Decimals: 18},
		logger:   slog.Default(),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /version", s.handleVersion)

	s.mux.HandleFunc("GET /v1/listings", s.handleListListings)
	s.mux.HandleFunc("POST /v1/listings", s.authed(s.handleCreateListing))
	s.mux.HandleFunc("GET /v1/listings/{collection}/{token}", s.handleGetListing)
	s.mux.HandleFunc("PUT /v1/listings/{collection}/{token}", s.authed(s.handleUpdateListing))
	s.mux.HandleFunc("DELETE /v1/listings/{collection}/{token}", s.authed(s.handleCancelListing))
	s.mux.HandleFunc("POST /v1/listings/{collection}/{token}/buy", s.authed(s.handleBuy))

	s.mux.HandleFunc("GET /v1/proceeds/{identity}", s.handleGetProceeds)
	s.mux.HandleFunc("POST /v1/proceeds/withdraw", s.authed(s.handleWithdraw))

	if s.custody != nil {
		s.mux.HandleFunc("POST /v1/assets/{collection}/mint", s.authed(s.handleMint))
		s.mux.HandleFunc("POST /v1/assets/{collection}/{token}/approve", s.authed(s.handleApprove))
		s.mux.HandleFunc("GET /v1/assets/{collection}/{token}", s.handleGetAsset)
	}
	if s.feed != nil {
		s.mux.Handle("GET /v1/feed", s.feed)
	}
}

// Handler returns the root handler with request logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", p)
				if !rec.wrote {
					s.writeError(rec, http.StatusInternalServerError, CodeInternal, "internal error", nil)
				}
			}
			s.logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		}()
		next.ServeHTTP(rec, r)
	})
}

// statusRecorder captures the response status. It forwards Hijack so the
// feed can upgrade through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	r.wrote = true
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type authedHandler func(w http.ResponseWriter, r *http.Request, caller string)

// authed resolves the bearer token before calling h.
func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.verifier.Authenticate(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, CodeUnauthenticated, err.Error(), nil)
			return
		}
		h(w, r, string(caller))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string, body *ErrorResponse) {
	if body == nil {
		body = &ErrorResponse{}
	}
	body.Error = code
	body.Message = msg
	s.writeJSON(w, status, body)
}

// fail writes err using its mapped status and code.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "error", err)
	}
	s.writeError(w, status, errorCode(err), err.Error(), nil)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("decode body: %v", err), nil)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Instance: s.instance,
		Seq:      s.svc.Seq(),
		Listings: len(s.svc.Listings()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, version.Get())
}

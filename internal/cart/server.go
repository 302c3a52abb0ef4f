package cart

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/smartkart/internal/product"
	"github.com/zombor/smartkart/internal/scanning"
	"github.com/zombor/smartkart/internal/speech"
)

// FrameSink accepts uploaded camera frames
type FrameSink interface {
	Push(frame scanning.Frame) error
}

// Transcript lists recent announcements and can silence the speaker
type Transcript interface {
	Recent(n int) []speech.Utterance
	Stop()
}

// Server handles HTTP requests for the shopping session
type Server struct {
	session    *Session
	recorder   *Recorder
	resolver   product.Resolver
	frames     FrameSink
	transcript Transcript
	basicAuth  BasicAuth
	mux        *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// ServerDeps are the collaborators a Server talks to. Frames and Transcript
// are optional; their routes answer 503 and an empty list when nil.
type ServerDeps struct {
	Session    *Session
	Recorder   *Recorder
	Resolver   product.Resolver
	Frames     FrameSink
	Transcript Transcript
}

// NewServer creates a new Server with default mux
func NewServer(deps ServerDeps, basicAuth BasicAuth) *Server {
	return NewServerWithMux(deps, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(deps ServerDeps, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		session:    deps.Session,
		recorder:   deps.Recorder,
		resolver:   deps.Resolver,
		frames:     deps.Frames,
		transcript: deps.Transcript,
		basicAuth:  basicAuth,
		mux:        mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="SmartKart"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /static/app.css", s.requireAuth(s.handleStaticCSS))
	s.mux.HandleFunc("GET /static/app.js", s.requireAuth(s.handleStaticJS))

	s.mux.HandleFunc("GET /api/session", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("POST /api/actions/{action}", s.requireAuth(s.handleAction))
	s.mux.HandleFunc("POST /api/barcodes", s.requireAuth(s.handleSubmitBarcode))
	s.mux.HandleFunc("POST /api/frames", s.requireAuth(s.handleUploadFrame))

	s.mux.HandleFunc("GET /api/history/{id}/file", s.requireAuth(s.handleGetRecordFile))
	s.mux.HandleFunc("GET /api/history/{id}", s.requireAuth(s.handleGetRecord))
	s.mux.HandleFunc("DELETE /api/history/{id}", s.requireAuth(s.handleDeleteRecord))
	s.mux.HandleFunc("GET /api/history", s.requireAuth(s.handleListRecords))
	s.mux.HandleFunc("GET /api/products", s.requireAuth(s.handleListProducts))
	s.mux.HandleFunc("GET /api/announcements", s.requireAuth(s.handleListAnnouncements))
	s.mux.HandleFunc("POST /api/announcements/stop", s.requireAuth(s.handleStopAnnouncements))

	s.mux.HandleFunc("GET /metrics", s.requireAuth(promhttp.Handler().ServeHTTP))

	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
}

// Handler returns the mux wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Server shutdown incomplete", "error", err)
		}
	}()

	slog.Info("Starting server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

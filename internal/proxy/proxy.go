// Package proxy serves fetch events over HTTP in front of the upstream origin.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/nutrifyke/offlinecache/internal/worker"
	"github.com/nutrifyke/offlinecache/schema"
	"go.uber.org/zap"
)

// Reserved paths that are never forwarded upstream.
const (
	HealthPath  = "/-/healthz"
	MetricsPath = "/-/metrics"
)

// hopHeaders are not copied from upstream responses.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Worker is the subset of *worker.Worker the server needs.
type Worker interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
	MatchOfflinePage(ctx context.Context, req *http.Request) (*http.Response, error)
	Status() schema.WorkerStatus
}

// Server routes requests to the worker.
type Server struct {
	Log     *zap.Logger
	worker  Worker
	metrics http.Handler
	router  *mux.Router
}

// NewServer builds the router. metrics may be nil to disable the metrics endpoint.
func NewServer(w Worker, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{Log: logger, worker: w, metrics: metrics}

	r := mux.NewRouter().SkipClean(true)
	r.HandleFunc(HealthPath, s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	if metrics != nil {
		r.Handle(MetricsPath, metrics).Methods(http.MethodGet)
	}
	r.PathPrefix("/").HandlerFunc(s.handleFetch)
	r.Use(s.logRequests)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("proxy listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.Log.Info("proxy shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.worker.Status()
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.Log.Warn("encode health status", zap.Error(err))
	}
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.worker.Fetch(r.Context(), r)
	if err == nil {
		s.writeResponse(w, resp)
		return
	}

	switch {
	case errors.Is(err, worker.ErrNoMatch):
		if isNavigation(r) {
			page, pageErr := s.worker.MatchOfflinePage(r.Context(), r)
			if pageErr == nil {
				s.writeResponse(w, page)
				return
			}
			if !errors.Is(pageErr, worker.ErrNoMatch) {
				s.Log.Warn("offline page lookup failed", zap.Error(pageErr))
			}
		}
		http.Error(w, "offline and not cached", http.StatusGatewayTimeout)

	case errors.Is(err, context.Canceled):
		// Client went away; nothing to write.

	default:
		s.Log.Warn("fetch failed", zap.String("path", r.URL.Path), zap.Error(err))
		var netErr *worker.NetworkError
		if errors.As(err, &netErr) {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		http.Error(w, "cache lookup failed", http.StatusInternalServerError)
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *http.Response) {
	defer func() { _ = resp.Body.Close() }()
	header := w.Header()
	for k, vv := range resp.Header {
		header[k] = append([]string(nil), vv...)
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.Log.Warn("copy response body", zap.Error(err))
	}
}

// isNavigation reports whether r looks like a page load rather than a subresource.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// statusWriter captures the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		s.Log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.RequestURI()),
			zap.Int("status", sw.status),
			zap.Bool("cached", sw.Header().Get(worker.CacheHeader) == worker.CacheHeaderHit),
			zap.Int64("bytes", sw.bytes),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"korah/internal/derive"
)

const maxBodySize = 1 << 20 // 1MB

// QueryFunc runs the whole pipeline for one query, writing newline-
// delimited records to w.
type QueryFunc func(ctx context.Context, query string, w io.Writer) error

// HealthFunc probes the completion backend.
type HealthFunc func(ctx context.Context) error

// Server exposes the query pipeline over HTTP: POST /query with a JSON
// body streams the same records the CLI prints, GET /health probes the
// backend.
type Server struct {
	addr   string
	handle QueryFunc
	health HealthFunc
	logger *slog.Logger
}

func New(addr string, handle QueryFunc, health HealthFunc, logger *slog.Logger) *Server {
	return &Server{addr: addr, handle: handle, health: health, logger: logger}
}

type queryRequest struct {
	Query string `json:"query"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /health", s.handleHealth)

	srv := &http.Server{
		Addr:        s.addr,
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "body must be a JSON object with a non-empty query field")
		return
	}

	fw := &flushWriter{w: w}
	w.Header().Set("Content-Type", "application/x-ndjson")

	if err := s.handle(r.Context(), req.Query, fw); err != nil {
		if fw.wrote {
			// Records already went out; all we can do is log.
			s.logger.Error("query failed mid-stream", "err", err)
			return
		}
		var exhausted *derive.ExhaustedError
		if errors.As(err, &exhausted) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// flushWriter pushes each emitted record to the client immediately and
// remembers whether the stream has started.
type flushWriter struct {
	w     http.ResponseWriter
	wrote bool
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if n > 0 {
		f.wrote = true
	}
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}

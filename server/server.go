// Package server exposes the research pipeline over HTTP and WebSocket.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/pkg/llm"
	"github.com/xhad/datallama/pkg/logger"
	"github.com/xhad/datallama/pkg/researcher"
	"github.com/xhad/datallama/pkg/store"
)

const serviceName = "datallama"

// Researcher gathers documents for a question.
type Researcher interface {
	Run(ctx context.Context, query string, topK int, obs researcher.Observer) ([]models.Document, researcher.Report)
}

// Synthesizer writes the cited answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, docs []models.Document, modelID string) (models.SynthesisResult, error)
}

// History records answers. It is optional.
type History interface {
	Save(ctx context.Context, rec store.Record) (store.Record, error)
	Recent(ctx context.Context, limit int) ([]store.Record, error)
	Related(ctx context.Context, question string, limit int) ([]store.Record, error)
}

type Config struct {
	Registry    *llm.Registry
	Researcher  Researcher
	Synthesizer Synthesizer
	History     History
	TopK        int
	// AllowedOrigins is a comma separated list; "*" allows any origin.
	AllowedOrigins string
	Logger         *zap.Logger
}

type Server struct {
	config   Config
	log      *zap.Logger
	validate *validator.Validate
	origins  map[string]bool
	anyOrig  bool
}

func NewWithConfig(config Config) (*Server, error) {
	if config.Researcher == nil {
		return nil, fmt.Errorf("researcher is required")
	}
	if config.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if config.Registry == nil {
		config.Registry = llm.DefaultRegistry()
	}
	if config.TopK <= 0 {
		config.TopK = 5
	}

	s := &Server{
		config:   config,
		log:      logger.OrNop(config.Logger),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		origins:  make(map[string]bool),
	}
	for _, o := range strings.Split(config.AllowedOrigins, ",") {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			s.anyOrig = true
		default:
			s.origins[o] = true
		}
	}
	return s, nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "The requested resource was not found", "")
	})

	return s.withRequestID(s.withCORS(s.withRecovery(mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

type modelsResponse struct {
	Models  []models.ModelDescriptor `json:"models"`
	Default string                   `json:"default"`
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{
		Models:  s.config.Registry.List(),
		Default: s.config.Registry.Default().ID,
	})
}

type historyResponse struct {
	OK      bool           `json:"ok"`
	Answers []store.Record `json:"answers"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.config.History == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Answer history is not enabled", "")
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be between 1 and 100", "")
			return
		}
		limit = n
	}

	var (
		records []store.Record
		err     error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		records, err = s.config.History.Related(r.Context(), q, limit)
	} else {
		records, err = s.config.History.Recent(r.Context(), limit)
	}
	if errors.Is(err, store.ErrNoEmbedder) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Similarity lookup needs an embedding model", "")
		return
	}
	if err != nil {
		s.log.Error("failed to read history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "Unable to read answer history", "")
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, historyResponse{OK: true, Answers: records})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (s.anyOrig || s.origins[origin]) {
			if s.anyOrig {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		s.log.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.log.Error("panic while serving request",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", p),
					zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR",
					"An unexpected error occurred. Please try again later.",
					capDetails(fmt.Sprint(p)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the WebSocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

type errorResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	Details   string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, errorType, message, details string) {
	writeJSON(w, status, errorResponse{Error: message, ErrorType: errorType, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const maxDetails = 200

func capDetails(s string) string {
	r := []rune(s)
	if len(r) > maxDetails {
		return string(r[:maxDetails])
	}
	return s
}

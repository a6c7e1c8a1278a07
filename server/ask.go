package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xhad/datallama/pkg/citation"
	"github.com/xhad/datallama/pkg/llm"
	"github.com/xhad/datallama/pkg/logger"
	"github.com/xhad/datallama/pkg/researcher"
	"github.com/xhad/datallama/pkg/store"
)

const (
	maxFormBytes   = 1 << 20
	historyTimeout = 5 * time.Second
)

const degradedWarning = "AI analysis temporarily unavailable due to high demand. " +
	"Please try again in a few minutes for full analysis."

type askRequest struct {
	Question string `validate:"required,min=3,max=1000"`
	Model    string `validate:"omitempty,max=200"`
}

type askResponse struct {
	OK                    bool             `json:"ok"`
	Answer                string           `json:"answer"`
	Citations             []string         `json:"citations"`
	CitationDetails       []citation.Entry `json:"citation_details"`
	SourceCount           int              `json:"source_count"`
	SyntheticCount        int              `json:"synthetic_count"`
	ProcessingTime        float64          `json:"processing_time"`
	ModelUsed             string           `json:"model_used"`
	ModelID               string           `json:"model_id"`
	Warning               string           `json:"warning,omitempty"`
	SuggestedAlternatives []string         `json:"suggested_alternatives,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	req := askRequest{
		Question: strings.TrimSpace(r.FormValue("question")),
		Model:    strings.TrimSpace(r.FormValue("model")),
	}
	if msg := s.checkRequest(req); msg != "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", msg, "")
		return
	}

	status, body := s.answer(r.Context(), req, nil, start)
	writeJSON(w, status, body)
}

// checkRequest returns a user-facing message when req is invalid.
func (s *Server) checkRequest(req askRequest) string {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return "Invalid request"
		}
		fe := verrs[0]
		if fe.Field() == "Model" {
			return "Model identifier is too long"
		}
		switch fe.Tag() {
		case "required":
			return "Question cannot be empty"
		case "min":
			return "Question is too short (min 3 characters)"
		case "max":
			return "Question is too long (max 1000 characters)"
		}
		return "Invalid question"
	}
	if req.Model != "" && !s.config.Registry.Known(req.Model) {
		return fmt.Sprintf("Unknown model %q; see /models for the available models", req.Model)
	}
	return ""
}

// answer runs research and synthesis for a validated request and returns the
// HTTP status and body to send.
func (s *Server) answer(ctx context.Context, req askRequest, obs researcher.Observer, start time.Time) (int, any) {
	log := s.log.With(zap.String("request_id", RequestID(ctx)))
	log.Info("processing question",
		zap.String("question", logger.Truncate(req.Question, 100)),
		zap.String("model", req.Model))

	docs, report := s.config.Researcher.Run(ctx, req.Question, s.config.TopK, obs)
	if len(docs) == 0 {
		log.Error("research returned no sources", zap.String("search_error", report.SearchErr))
		return http.StatusServiceUnavailable, errorResponse{
			Error:     "Unable to find relevant sources for your question. Please try rephrasing your query.",
			ErrorType: "NO_SOURCES_FOUND",
			Details:   "The research system could not retrieve any sources.",
		}
	}

	result, err := s.config.Synthesizer.Synthesize(ctx, req.Question, docs, req.Model)
	if err != nil {
		var fatal *llm.FatalError
		if errors.As(err, &fatal) {
			log.Error("synthesis failed permanently", zap.Error(err))
			return http.StatusBadGateway, errorResponse{
				Error:     "Unable to research your question at this time.",
				ErrorType: "RESEARCH_FAILED",
				Details:   capDetails(fatal.Hint()),
			}
		}
		log.Error("unexpected synthesis error", zap.Error(err))
		return http.StatusInternalServerError, errorResponse{
			Error:     "An unexpected error occurred. Please try again later.",
			ErrorType: "SYSTEM_ERROR",
			Details:   capDetails(err.Error()),
		}
	}

	resp := askResponse{
		OK:              true,
		Answer:          result.Answer,
		Citations:       result.Citations,
		CitationDetails: citation.Entries(docs),
		SourceCount:     result.SourceCount,
		SyntheticCount:  report.Synthetic,
		ProcessingTime:  math.Round(time.Since(start).Seconds()*100) / 100,
		ModelUsed:       result.ModelUsed,
		ModelID:         result.ModelID,
	}
	if result.Degraded() {
		resp.Warning = degradedWarning
		resp.SuggestedAlternatives = result.SuggestedAlternatives
	}

	log.Info("question processed",
		zap.Int("sources", resp.SourceCount),
		zap.Int("synthetic", resp.SyntheticCount),
		zap.Bool("degraded", result.Degraded()),
		zap.Float64("processing_time", resp.ProcessingTime))

	s.record(ctx, req.Question, resp, result.Degraded())
	return http.StatusOK, resp
}

func (s *Server) record(ctx context.Context, question string, resp askResponse, degraded bool) {
	if s.config.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	_, err := s.config.History.Save(ctx, store.Record{
		Question:    question,
		Answer:      resp.Answer,
		Citations:   resp.Citations,
		ModelID:     resp.ModelID,
		SourceCount: resp.SourceCount,
		Degraded:    degraded,
	})
	if err != nil {
		s.log.Warn("failed to save answer history", zap.Error(err))
	}
}

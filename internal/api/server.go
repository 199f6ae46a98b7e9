// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/alignment"
	"github.com/brightpath-labs/compass/internal/dedup"
	"github.com/brightpath-labs/compass/internal/fault"
	"github.com/brightpath-labs/compass/internal/insights"
	"github.com/brightpath-labs/compass/internal/modelperf"
	"github.com/brightpath-labs/compass/internal/orchestrator"
	"github.com/brightpath-labs/compass/internal/store"
	"github.com/brightpath-labs/compass/internal/themes"
)

// FeedbackProcessor runs one survey response through the pipeline.
type FeedbackProcessor interface {
	ProcessSurveyResponse(ctx context.Context, companyID, customerID uuid.UUID, responseID, text string) (*orchestrator.ProcessResult, error)
}

// ThemeDiscoverer clusters recent feedback into themes.
type ThemeDiscoverer interface {
	DiscoverThemes(ctx context.Context, companyID uuid.UUID) (*themes.Result, error)
}

// ThemeScorer batch-scores themes against the active strategy.
type ThemeScorer interface {
	ScoreThemes(ctx context.Context, companyID uuid.UUID, themeIDs []uuid.UUID) (*orchestrator.BatchResult, error)
}

// SingleThemeScorer scores one theme.
type SingleThemeScorer interface {
	ScoreThemeByID(ctx context.Context, themeID uuid.UUID) (*alignment.Result, error)
}

// TagCleaner detects and merges duplicate tags.
type TagCleaner interface {
	RunCleanup(ctx context.Context, companyID uuid.UUID, execute bool) (*dedup.CleanupResult, error)
}

// Reporter builds the weekly strategic snapshot.
type Reporter interface {
	GenerateWeeklyReport(ctx context.Context, companyID uuid.UUID) (*insights.WeeklyReport, error)
}

// Optimizer manages model rankings and A/B tests.
type Optimizer interface {
	Track(ctx context.Context, sample store.PerfSample) error
	Optimize(ctx context.Context, since time.Time) ([]modelperf.Ranking, error)
	StartABTest(ctx context.Context, cfg modelperf.ABTestConfig) (uuid.UUID, error)
	CloseABTest(ctx context.Context, id uuid.UUID) (map[string]float64, error)
	ExpireDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	RecordOutcome(ctx context.Context, id uuid.UUID, outcome map[string]float64) error
}

// PersistenceReader covers the direct read/write store paths the API serves.
type PersistenceReader interface {
	ListThemes(ctx context.Context, companyID uuid.UUID) ([]store.Theme, error)
	CreateStrategy(ctx context.Context, st store.Strategy) (uuid.UUID, error)
	ActivateStrategy(ctx context.Context, companyID, strategyID uuid.UUID) error
	ListABTests(ctx context.Context, status string) ([]store.ABTest, error)
	GetABTest(ctx context.Context, id uuid.UUID) (*store.ABTest, error)
}

// Publisher emits pipeline events.
type Publisher interface {
	Publish(subject string, data any) error
}

// Deps carries the wired pipeline components.
type Deps struct {
	Processor  FeedbackProcessor
	Discoverer ThemeDiscoverer
	Scorer     ThemeScorer
	ThemeScore SingleThemeScorer
	Cleaner    TagCleaner
	Reporter   Reporter
	Optimizer  Optimizer
	Store      PersistenceReader
	Bus        Publisher
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	logger *slog.Logger
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/compass/status", s.status)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(apiToken))

		r.Post("/feedback/process", s.processFeedback)

		r.Get("/themes", s.listThemes)
		r.Post("/themes/discover", s.discoverThemes)
		r.Post("/themes/score", s.scoreThemes)
		r.Post("/themes/{id}/score", s.scoreTheme)

		r.Post("/tags/cleanup", s.cleanupTags)

		r.Get("/insights/weekly-report", s.weeklyReport)

		r.Post("/strategies", s.createStrategy)
		r.Post("/strategies/{id}/activate", s.activateStrategy)

		r.Get("/abtests", s.listABTests)
		r.Post("/abtests", s.startABTest)
		r.Post("/abtests/expire", s.expireABTests)
		r.Post("/abtests/{id}/close", s.closeABTest)
		r.Post("/abtests/{id}/outcome", s.recordABTestOutcome)

		r.Post("/modelperf/samples", s.recordSample)
		r.Get("/modelperf/rankings", s.rankings)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("Authorization") != "Bearer "+token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "compass",
		"status":  "ready",
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the pipeline's error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case fault.IsValidation(err):
		code = http.StatusBadRequest
	case fault.IsNotFound(err):
		code = http.StatusNotFound
	case fault.IsConflict(err):
		code = http.StatusConflict
	case fault.IsUpstream(err):
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func parseID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, fault.Validationf("invalid %s: %v", param, err)
	}
	return id, nil
}

func queryUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return uuid.Nil, fault.Validationf("missing %s", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fault.Validationf("invalid %s: %v", key, err)
	}
	return id, nil
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/bus"
	"github.com/brightpath-labs/compass/internal/fault"
	"github.com/brightpath-labs/compass/internal/modelperf"
	"github.com/brightpath-labs/compass/internal/store"
)

type processFeedbackRequest struct {
	CompanyID  uuid.UUID `json:"company_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	ResponseID string    `json:"response_id"`
	Text       string    `json:"text"`
}

func (s *Server) processFeedback(w http.ResponseWriter, r *http.Request) {
	var req processFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Validationf("invalid JSON: %v", err))
		return
	}
	if req.CompanyID == uuid.Nil {
		s.writeError(w, fault.Validationf("missing company_id"))
		return
	}

	result, err := s.deps.Processor.ProcessSurveyResponse(r.Context(), req.CompanyID, req.CustomerID, req.ResponseID, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listThemes(w http.ResponseWriter, r *http.Request) {
	companyID, err := queryUUID(r, "company_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	list, err := s.deps.Store.ListThemes(r.Context(), companyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"themes": list, "count": len(list)})
}

type companyRequest struct {
	CompanyID uuid.UUID `json:"company_id"`
}

func (s *Server) discoverThemes(w http.ResponseWriter, r *http.Request) {
	var req companyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Validationf("invalid JSON: %v", err))
		return
	}
	if req.CompanyID == uuid.Nil {
		s.writeError(w, fault.Validationf("missing company_id"))
		return
	}

	result, err := s.deps.Discoverer.DiscoverThemes(r.Context(), req.CompanyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type scoreThemesRequest struct {
	CompanyID uuid.UUID   `json:"company_id"`
	ThemeIDs  []uuid.UUID `json:"theme_ids"`
}

// scoreThemes batch-scores the listed themes, or every theme of the company
// when theme_ids is omitted.
func (s *Server) scoreThemes(w http.ResponseWriter, r *http.Request) {
	var req scoreThemesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Validationf("invalid JSON: %v", err))
		return
	}
	if req.CompanyID == uuid.Nil {
		s.writeError(w, fault.Validationf("missing company_id"))
		return
	}

	ids := req.ThemeIDs
	if len(ids) == 0 {
		themes, err := s.deps.Store.ListThemes(r.Context(), req.CompanyID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		for _, t := range themes {
			ids = append(ids, t.ID)
		}
	}

	result, err := s.deps.Scorer.ScoreThemes(r.Context(), req.CompanyID, ids)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) scoreTheme(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.deps.ThemeScore.ScoreThemeByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cleanupRequest struct {
	CompanyID uuid.UUID `json:"company_id"`
	Execute   bool      `json:"execute"`
}

func (s *Server) cleanupTags(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Validationf("invalid JSON: %v", err))
		return
	}
	if req.CompanyID == uuid.Nil {
		s.writeError(w, fault.Validationf("missing company_id"))
		return
	}

	result, err := s.deps.Cleaner.RunCleanup(r.Context(), req.CompanyID, req.Execute)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) weeklyReport(w http.ResponseWriter, r *http.Request) {
	companyID, err := queryUUID(r, "company_id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	report, err := s.deps.Reporter.GenerateWeeklyReport(r.Context(), companyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type createStrategyRequest struct {
	CompanyID           uuid.UUID               `json:"company_id"`
	Version             int                     `json:"version"`
	TargetCustomer      string                  `json:"target_customer"`
	ProblemsWeSolve     []string                `json:"problems_we_solve"`
	ProblemsWeDontSolve []string                `json:"problems_we_dont_solve"`
	Keywords            []store.StrategyKeyword `json:"keywords"`
	Competitors         []string                `json:"competitors"`
}

func (s *Server) createStrategy(w http.ResponseWriter, r *http.Request) {
	var req createStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Validationf("invalid JSON: %v", err))
		return
	}
	if req.CompanyID == uuid.Nil {
		s.writeError(w, fault.Validationf("missing company_id"))
		return
	}
	for _, k := range req.Keywords {
		if k.Weight < -1 || k.Weight > 1 {
			s.writeError(w, fault.Validationf("keyword %q weight %f out of [-1,1]", k.Keyword, k.Weight))
			return
		}
	}

	id, err := s.deps.Store.CreateStrategy(r.Context(), store.Strategy{
		CompanyID:           req.CompanyID,
		Version:             req.Version,
		TargetCustomer:      req.TargetCustomer,
		ProblemsWeSolve:     req.ProblemsWeSolve,
		ProblemsWeDontSolve: req.ProblemsWeDontSolve,
		Keywords:            req.Keywords,
		Competitors:         req.Competitors,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) activateStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req companyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Validationf("invalid JSON: %v", err))
		return
	}
	if req.CompanyID == uuid.Nil {
		s.writeError(w, fault.Validationf("missing company_id"))
		return
	}

	if err := s.deps.Store.ActivateStrategy(r.Context(), req.CompanyID, id); err != nil {
		s.writeError(w, err)
		return
	}
	if s.deps.Bus != nil {
		if err := s.deps.Bus.Publish(bus.SubjectStrategyActivated, map[string]any{
			"company_id":  req.CompanyID,
			"strategy_id": id,
		}); err != nil {
			s.logger.Warn("strategy activation event not published", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_strategy_id": id})
}

func (s *Server) listABTests(w http.ResponseWriter, r *http.Request) {
	tests, err := s.deps.Store.ListABTests(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tests": tests, "count": len(tests)})
}

func (s *Server) startABTest(w http.ResponseWriter, r *http.Request) {
	var cfg modelperf.ABTestConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, fault.Validationf("invalid JSON: %v", err))
		return
	}

	id, err := s.deps.Optimizer.StartABTest(r.Context(), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.deps.Bus != nil {
		if err := s.deps.Bus.Publish(bus.SubjectABTestStarted, map[string]any{"id": id, "request_type": cfg.RequestType}); err != nil {
			s.logger.Warn("ab test start event not published", "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) closeABTest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	outcome, err := s.deps.Optimizer.CloseABTest(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.deps.Bus != nil {
		if err := s.deps.Bus.Publish(bus.SubjectABTestCompleted, map[string]any{"id": id, "outcome": outcome}); err != nil {
			s.logger.Warn("ab test completion event not published", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "outcome": outcome})
}

func (s *Server) expireABTests(w http.ResponseWriter, r *http.Request) {
	closed, err := s.deps.Optimizer.ExpireDue(r.Context(), time.Now().UTC())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.deps.Bus != nil {
		for _, id := range closed {
			if err := s.deps.Bus.Publish(bus.SubjectABTestCompleted, map[string]any{"id": id, "expired": true}); err != nil {
				s.logger.Warn("ab test completion event not published", "error", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": closed, "count": len(closed)})
}

func (s *Server) recordABTestOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var outcome map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		s.writeError(w, fault.Validationf("invalid JSON: %v", err))
		return
	}
	if err := s.deps.Optimizer.RecordOutcome(r.Context(), id, outcome); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type sampleRequest struct {
	RequestType    string     `json:"request_type"`
	ModelID        string     `json:"model_id"`
	AccuracyScore  float64    `json:"accuracy_score"`
	ResponseTimeMs float64    `json:"response_time_ms"`
	CostPerRequest float64    `json:"cost_per_request"`
	ABTestID       *uuid.UUID `json:"ab_test_id,omitempty"`
}

func (s *Server) recordSample(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Validationf("invalid JSON: %v", err))
		return
	}
	err := s.deps.Optimizer.Track(r.Context(), store.PerfSample{
		RequestType:    req.RequestType,
		ModelID:        req.ModelID,
		AccuracyScore:  req.AccuracyScore,
		ResponseTimeMs: req.ResponseTimeMs,
		CostPerRequest: req.CostPerRequest,
		ABTestID:       req.ABTestID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) rankings(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("since_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, fault.Validationf("invalid since_days %q", raw))
			return
		}
		days = n
	}

	rankings, err := s.deps.Optimizer.Optimize(r.Context(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rankings": rankings, "window_days": days})
}

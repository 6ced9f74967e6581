package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/indicators/pkg/analytics/dsl"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/logger"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/indicator"
)

// RunService is the part of indicator.Runner the HTTP layer drives.
type RunService interface {
	RunNow(ctx context.Context, req models.ReportRunRequest) (*models.ReportResult, models.ReportRun, error)
	Enqueue(ctx context.Context, req models.ReportRunRequest) (models.ReportRun, error)
	List(ctx context.Context, tenantID string, limit int) ([]models.ReportRun, error)
}

type IndicatorHandler struct {
	registry *indicator.Registry
	runs     RunService
}

func NewIndicatorHandler(registry *indicator.Registry, runs RunService) *IndicatorHandler {
	return &IndicatorHandler{registry: registry, runs: runs}
}

func (h *IndicatorHandler) Register(r *mux.Router) {
	r.HandleFunc("/indicators/reports", h.handleListReports).Methods(http.MethodGet)
	r.HandleFunc("/indicators/reports/{id}/run", h.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/indicators/runs", h.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/indicators/expressions/verify", h.handleVerify).Methods(http.MethodPost)
}

type reportSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Parameters  []string `json:"parameters"`
	Columns     []string `json:"columns"`
	Strategy    string   `json:"strategy,omitempty"`
}

func (h *IndicatorHandler) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports := h.registry.List()
	out := make([]reportSummary, 0, len(reports))
	for _, report := range reports {
		summary := reportSummary{
			ID:          report.ID,
			Name:        report.Name,
			Description: report.Description,
			Parameters:  report.Parameters,
			Columns:     make([]string, 0, len(report.Columns)),
		}
		if report.Strategy != nil {
			summary.Strategy = report.Strategy.Name()
		}
		for _, col := range report.Columns {
			summary.Columns = append(summary.Columns, col.Name)
		}
		out = append(out, summary)
	}
	writeJSON(w, map[string]interface{}{"reports": out})
}

func (h *IndicatorHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.ReportRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid run request", http.StatusBadRequest)
		return
	}
	req.ReportID = mux.Vars(r)["id"]
	if req.RequestedBy == "" {
		req.RequestedBy = r.Header.Get("X-User-ID")
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		run, err := h.runs.Enqueue(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, run)
		return
	}

	result, run, err := h.runs.RunNow(r.Context(), req)
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"report_id": req.ReportID,
			"run_id":    run.ID,
		}).Warn("indicator report run rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"run": run, "result": result})
}

func (h *IndicatorHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if val := r.URL.Query().Get("limit"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	runs, err := h.runs.List(r.Context(), r.URL.Query().Get("tenant_id"), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list indicator runs")
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"runs": runs})
}

type verifyRequest struct {
	Composition string   `json:"composition,omitempty"`
	Parameters  []string `json:"parameters,omitempty"`
}

type verifyResponse struct {
	Valid       bool     `json:"valid"`
	Composition string   `json:"composition,omitempty"`
	Names       []string `json:"names,omitempty"`
	Parameters  []string `json:"parameters,omitempty"`
	References  []string `json:"references,omitempty"`
}

// handleVerify parses a composition and parameter expressions without
// evaluating anything, returning their canonical forms.
func (h *IndicatorHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Composition == "" && len(req.Parameters) == 0 {
		http.Error(w, "composition or parameters required", http.StatusBadRequest)
		return
	}

	resp := verifyResponse{Valid: true}
	if req.Composition != "" {
		node, err := dsl.ParseComposition(req.Composition)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		resp.Composition = node.String()
		resp.Names = node.Names()
	}
	seen := make(map[string]bool)
	for _, p := range req.Parameters {
		expr, err := dsl.ParseParam(p)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		resp.Parameters = append(resp.Parameters, expr.String())
		for _, ref := range dsl.References(expr) {
			if !seen[ref] {
				seen[ref] = true
				resp.References = append(resp.References, ref)
			}
		}
	}
	writeJSON(w, resp)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, indicator.ErrReportNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, indicator.ErrPopulationTooLarge), errs.IsConfiguration(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "report run timed out", http.StatusGatewayTimeout)
	default:
		http.Error(w, "report run failed", http.StatusInternalServerError)
	}
}

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/compliscope/compliscope/internal/auth"
	"github.com/compliscope/compliscope/internal/catalog"
	"github.com/compliscope/compliscope/internal/models"
	"github.com/compliscope/compliscope/internal/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (s *Server) listIndustries(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, catalog.Industries())
}

func (s *Server) listScenarios(w http.ResponseWriter, r *http.Request) {
	industry := r.URL.Query().Get("industry")
	if industry == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "industry is required")
		return
	}

	scenarios, err := s.deps.Service.Scenarios(r.Context(), industry)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, scenarios)
}

func (s *Server) runSimulation(w http.ResponseWriter, r *http.Request) {
	var req service.SimulationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.ScenarioID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "scenarioId is required")
		return
	}

	result, err := s.deps.Service.Simulate(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Report != nil {
		status = http.StatusCreated
	}
	respondJSON(w, status, result)
}

type simulationPDFRequest struct {
	DocumentName string                     `json:"documentName"`
	Analysis     *models.PredictiveAnalysis `json:"analysis"`
}

func (s *Server) simulationPDF(w http.ResponseWriter, r *http.Request) {
	var req simulationPDFRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.DocumentName == "" {
		req.DocumentName = "Compliance Report"
	}

	exp, err := s.deps.Service.SimulationPDF(r.Context(), req.DocumentName, req.Analysis)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	writeExport(w, exp)
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Service.Reports(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	if r.URL.Query().Get("simulations") == "false" {
		actual := all[:0:0]
		for _, rep := range all {
			if !rep.IsSimulation {
				actual = append(actual, rep)
			}
		}
		all = actual
	}

	limit := defaultPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, maxPageSize)
		}
	}
	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n > 0 {
			offset = n
		}
	}

	total := len(all)
	start := min(offset, total)
	end := min(start+limit, total)

	respondJSONWithMeta(w, http.StatusOK, all[start:end], &apiMeta{
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	var report models.ComplianceReport
	if !decodeJSON(w, r, &report) {
		return
	}

	if report.DocumentName == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "documentName is required")
		return
	}

	if err := s.deps.Service.AddReport(r.Context(), auth.UserID(r.Context()), &report); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, report)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Service.Report(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "documentID"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

func (s *Server) deleteReport(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.deps.Service.DeleteReport(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "documentID"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "not_found", "Report not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) reportPDF(w http.ResponseWriter, r *http.Request) {
	exp, err := s.deps.Service.ReportPDF(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "documentID"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	writeExport(w, exp)
}

func (s *Server) exportHistoryCSV(w http.ResponseWriter, r *http.Request) {
	exp, err := s.deps.Service.HistoryCSV(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	writeExport(w, exp)
}

type compareRequest struct {
	Current *models.PredictiveAnalysis `json:"current,omitempty"`
	Metric  models.Metric              `json:"metric"`
}

func (s *Server) compareTrends(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Metric == "" {
		req.Metric = models.MetricOverall
	}

	cmp, err := s.deps.Service.Compare(r.Context(), auth.UserID(r.Context()), req.Current, req.Metric)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, cmp)
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kabuscan/kabuscan/internal/dataset"
	"github.com/kabuscan/kabuscan/internal/ensemble"
	"github.com/kabuscan/kabuscan/internal/modelstore"
	"github.com/kabuscan/kabuscan/internal/pipeline"
	"github.com/kabuscan/kabuscan/internal/scoring"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "kabuscan",
	})
}

// handleSystemStatus reports process and host resource usage.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := map[string]interface{}{
		"status":         "running",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"process_memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"num_gc":   m.NumGC,
		},
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		response["host_memory"] = map[string]interface{}{
			"total_mb":     vm.Total / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		response["cpu_percent"] = percents[0]
	}

	s.writeJSON(w, http.StatusOK, response)
}

// scoringRunRequest is the JSON body for POST /api/scoring/run. Labels
// are keyed by horizon days; dates use YYYY-MM-DD.
type scoringRunRequest struct {
	Columns []string `json:"columns"`
	Rows    []struct {
		Symbol   string             `json:"symbol"`
		Date     string             `json:"date"`
		Features []float64          `json:"features"`
		Labels   map[string]float64 `json:"labels"`
	} `json:"rows"`
	Fundamental map[string]float64   `json:"fundamental"`
	Risk        map[string]float64   `json:"risk"`
	Closes      map[string][]float64 `json:"closes"`
}

// handleScoringRun trains the ensemble on the posted frame and returns
// the full run report.
func (s *Server) handleScoringRun(w http.ResponseWriter, r *http.Request) {
	var req scoringRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	rows := make([]dataset.Row, 0, len(req.Rows))
	for i, in := range req.Rows {
		date, err := time.Parse("2006-01-02", in.Date)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "row "+strconv.Itoa(i)+": bad date "+in.Date)
			return
		}
		labels := make(map[int]float64, len(in.Labels))
		for key, value := range in.Labels {
			horizon, err := strconv.Atoi(key)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "row "+strconv.Itoa(i)+": bad horizon "+key)
				return
			}
			labels[horizon] = value
		}
		rows = append(rows, dataset.Row{
			Symbol:   in.Symbol,
			Date:     date,
			Features: in.Features,
			Labels:   labels,
		})
	}

	frame, err := dataset.NewFrame(req.Columns, rows)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.pipeline.Run(r.Context(), pipeline.Inputs{
		Frame:       frame,
		Fundamental: req.Fundamental,
		Risk:        req.Risk,
		Closes:      req.Closes,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dataset.ErrInsufficientData),
			errors.Is(err, scoring.ErrIncompleteScoreInput):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, ensemble.ErrEnsembleTraining):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, r.Context().Err()):
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// handleLatestRanking returns the most recent persisted run.
func (s *Server) handleLatestRanking(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	record, entries, err := s.runs.Latest()
	if err != nil {
		if errors.Is(err, pipeline.ErrNoRuns) {
			s.writeError(w, http.StatusNotFound, "no scoring runs yet")
			return
		}
		s.log.Error().Err(err).Msg("Failed to load latest run")
		s.writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":     record,
		"ranking": entries,
	})
}

// handleListModels returns stored model metadata.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "model store is not enabled")
		return
	}
	records, err := s.store.List()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list models")
		s.writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}
	if records == nil {
		records = []modelstore.Record{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": records,
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

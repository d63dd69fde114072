package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/regimeflow/regimeflow/internal/attribution"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.dataStore.AvailableSymbols()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbols": symbols,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()
	if startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			start = t
		}
	}
	if endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			end = t
		}
	}

	bars, err := s.dataStore.LoadBars(symbol, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": symbol,
		"bars":   bars,
		"count":  len(bars),
	})
}

func (s *Server) handleCurrentRegime(w http.ResponseWriter, r *http.Request) {
	state, ok := s.pipeline.Tracker.Current()
	if !ok {
		http.Error(w, "no regime state yet", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(state)
}

func (s *Server) handleRegimeHistory(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"history": s.pipeline.Tracker.History(),
	})
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transitions": s.tracker.Transitions(),
	})
}

func (s *Server) handlePortfolioSnapshot(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.pipeline.Portfolio.Snapshot(time.Now()))
}

func (s *Server) handleEquityCurve(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"equity_curve": s.tracker.EquityCurve(),
	})
}

func (s *Server) handleAttributionReport(w http.ResponseWriter, r *http.Request) {
	riskFreeRate := 0.0
	if rfr := r.URL.Query().Get("risk_free_rate"); rfr != "" {
		if parsed, err := strconv.ParseFloat(rfr, 64); err == nil {
			riskFreeRate = parsed
		}
	}
	report := attribution.BuildReport(s.tracker, riskFreeRate)
	if err := attribution.WriteJSON(w, report); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleAttributionReportCSV(w http.ResponseWriter, r *http.Request) {
	riskFreeRate := 0.0
	if rfr := r.URL.Query().Get("risk_free_rate"); rfr != "" {
		if parsed, err := strconv.ParseFloat(rfr, 64); err == nil {
			riskFreeRate = parsed
		}
	}
	w.Header().Set("Content-Type", "text/csv")
	report := attribution.BuildReport(s.tracker, riskFreeRate)
	if err := attribution.WriteCSV(w, report); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	handles := s.plugins.Handles()
	out := make([]map[string]interface{}, 0, len(handles))
	for key, h := range handles {
		out = append(out, map[string]interface{}{
			"key":   key,
			"type":  h.Type,
			"name":  h.Name,
			"state": h.State().String(),
			"info":  h.Plugin.Info(),
		})
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"plugins": out,
	})
}

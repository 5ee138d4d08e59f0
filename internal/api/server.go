package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Cathyyyy1/anomaly-monitor/internal/config"
	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
	"github.com/Cathyyyy1/anomaly-monitor/internal/pipeline"
	"github.com/Cathyyyy1/anomaly-monitor/internal/results"
	"github.com/Cathyyyy1/anomaly-monitor/internal/stats"
)

// Control is the slice of the pipeline the API is allowed to drive.
type Control interface {
	SetFrameSkip(n int)
	FrameSkip() int
	IsModelLoaded() bool
	UpdateConfig(cfg *config.Config)
	Reset()
	RunID() string
	State() pipeline.State
	Counters() *stats.Counters
}

type Server struct {
	cfg     *config.Manager
	results *results.Store
	freq    *stats.Store
	control Control
	promExp http.Handler
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status      string `json:"status"`
	Time        string `json:"time"`
	Version     string `json:"version"`
	ConfigPath  string `json:"config_path"`
	RunID       string `json:"run_id"`
	State       string `json:"state"`
	ModelLoaded bool   `json:"model_loaded"`
	FrameSkip   int    `json:"frame_skip"`
	Journal     bool   `json:"journal"`
	Publish     bool   `json:"publish"`
}

func Start(ctx context.Context, cfg *config.Manager, resultsStore *results.Store, freqStore *stats.Store, control Control, promExp http.Handler, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:     cfg,
		results: resultsStore,
		freq:    freqStore,
		control: control,
		promExp: promExp,
		logger:  logger,
		version: version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/results", server.handleResults)
	mux.HandleFunc("/anomalies", server.handleAnomalies)
	mux.HandleFunc("/stats", server.handleStats)
	mux.HandleFunc("/config/rules", server.handleRules)
	mux.HandleFunc("/config/frame_skip", server.handleFrameSkip)
	mux.HandleFunc("/admin/clear", server.handleClear)
	mux.HandleFunc("/admin/reset", server.handleReset)
	if promExp != nil {
		mux.Handle("/metrics", promExp)
	}

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Journal:    cfg.Journal.Enabled,
		Publish:    cfg.Publish.Enabled,
	}
	if s.control != nil {
		resp.RunID = s.control.RunID()
		resp.State = s.control.State().String()
		resp.ModelLoaded = s.control.IsModelLoaded()
		resp.FrameSkip = s.control.FrameSkip()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.FrameReport
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.results.Since(ts)
	} else {
		list = s.results.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": list,
		"count":   len(list),
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list := s.results.Anomalies(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": list,
		"count":     len(list),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{}
	if s.control != nil {
		resp["run"] = s.control.Counters().Snapshot()
	}
	if s.freq != nil {
		frequencies, updated := s.freq.GetAll()
		resp["frequencies"] = frequencies
		if !updated.IsZero() {
			resp["updated_at"] = updated.Format(time.RFC3339Nano)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.cfg.Get()
		writeJSON(w, http.StatusOK, map[string]any{"rules": cfg.Rules})
		return
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var rules config.RulesConfig
		if err := json.Unmarshal(body, &rules); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		current := s.cfg.Get()
		next := *current
		next.Rules = rules
		if err := config.Validate(&next); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if err := s.cfg.Update(&next); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.control != nil {
			s.control.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFrameSkip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<10))
	var req struct {
		FrameSkip int `json:"frame_skip"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.control == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	s.control.SetFrameSkip(req.FrameSkip)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "frame_skip": s.control.FrameSkip()})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.results != nil {
		s.results.Clear()
	}
	if s.freq != nil {
		s.freq.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.control != nil {
		s.control.Reset()
	}
	if s.freq != nil {
		s.freq.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

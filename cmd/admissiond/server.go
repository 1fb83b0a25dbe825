package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/failsafe-go/admission"
	"github.com/failsafe-go/admission/admissionhttp"
	"github.com/failsafe-go/admission/budget"
	"github.com/failsafe-go/admission/config"
)

var errNonFiniteFeedback = errors.New("feedback value must be finite")

type server struct {
	engine   *admission.Engine
	config   *config.Config
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	router   *mux.Router
}

func newServer(engine *admission.Engine, cfg *config.Config, gatherer prometheus.Gatherer, logger *slog.Logger) *server {
	s := &server{
		engine:   engine,
		config:   cfg,
		gatherer: gatherer,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *server) setupRoutes() {
	s.router.Handle("/work", admissionhttp.NewHandler(s.engine, http.HandlerFunc(s.handleWork))).Methods(http.MethodGet, http.MethodPost)
	s.router.Handle("/retry", admissionhttp.NewHandler(s.engine, http.HandlerFunc(s.handleRetry))).Methods(http.MethodPost)
	s.router.HandleFunc("/feedback/{kind}", s.handleFeedback).Methods(http.MethodPost)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	s.router.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleWork serves admitted original requests, which add to the retry budget.
func (s *server) handleWork(w http.ResponseWriter, r *http.Request) {
	s.engine.RetryBudget().RecordRequest()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "done"})
}

// handleRetry serves admitted retries, which must fit within the retry budget.
func (s *server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RetryBudget().AcquireRetry(); err != nil {
		if errors.Is(err, budget.ErrExceeded) {
			s.respondError(w, http.StatusTooManyRequests, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "done"})
}

func (s *server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	kind, err := admission.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	value, err := strconv.ParseFloat(r.URL.Query().Get("value"), 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", errNonFiniteFeedback, value))
		return
	}

	s.engine.Feedback(kind, value)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"kind":          kind.String(),
		"watermark":     s.engine.Watermark(kind),
		"admitFraction": s.engine.AdmitFraction(kind),
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.Status())
}

func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	bytes, err := config.Marshal(s.config)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(bytes)
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *server) respondError(w http.ResponseWriter, code int, err error) {
	s.respondJSON(w, code, map[string]string{"error": err.Error()})
}

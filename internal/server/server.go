// Package server provides the HTTP ingestion API for the remediation webhook.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autoheal-remediator/internal/auth"
	"github.com/invisible-tech/autoheal-remediator/internal/config"
	"github.com/invisible-tech/autoheal-remediator/internal/controller"
	"github.com/invisible-tech/autoheal-remediator/internal/rules"
	"github.com/invisible-tech/autoheal-remediator/internal/types"
	"github.com/invisible-tech/autoheal-remediator/internal/version"
)

const (
	defaultIncidentLimit = 100
	maxBodyBytes         = 1 << 20
)

// Response wraps the result of one handled alert.
type Response struct {
	Status string             `json:"status"`
	Result types.ActionResult `json:"result"`
}

// Server is the HTTP server for the webhook API.
type Server struct {
	cfg        config.RemediatorConfig
	engine     *controller.Engine
	rules      *rules.Store
	log        *logrus.Logger
	httpServer *http.Server
}

// New creates the HTTP server. Webhook and API routes go through gate.
func New(cfg config.RemediatorConfig, engine *controller.Engine, store *rules.Store, gate *auth.Gate, log *logrus.Logger) *Server {
	s := &Server{cfg: cfg, engine: engine, rules: store, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/webhook/falco", gate.Middleware(http.HandlerFunc(s.handleFalco)))
	mux.Handle("/alert", gate.Middleware(http.HandlerFunc(s.handleFalco)))
	mux.Handle("/webhook/prometheus", gate.Middleware(http.HandlerFunc(s.handlePrometheus)))
	mux.Handle("/api/v1/incidents", gate.Middleware(http.HandlerFunc(s.handleIncidents)))
	mux.Handle("/api/v1/rules", gate.Middleware(http.HandlerFunc(s.handleRules)))

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server. It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.cfg.HTTPAddr).Info("Remediation webhook listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "Auto-heal webhook is running",
		"version": version.Version,
	})
}

func (s *Server) handleFalco(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var alert types.FalcoEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&alert); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if alert.Rule == "" {
		http.Error(w, "rule is required", http.StatusBadRequest)
		return
	}
	s.log.WithFields(logrus.Fields{"rule": alert.Rule, "priority": alert.Priority, "hostname": alert.Hostname}).
		Info("Received Falco alert")

	res := s.engine.Handle(r.Context(), FalcoToEvent(alert))
	writeJSON(w, http.StatusOK, wrap(res))
}

func (s *Server) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var probe struct {
		Alerts json.RawMessage `json:"alerts"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if probe.Alerts != nil {
		var n types.AlertmanagerNotification
		if err := json.Unmarshal(body, &n); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		s.log.WithFields(logrus.Fields{"receiver": n.Receiver, "alerts": len(n.Alerts)}).Info("Received Alertmanager notification")
		out := make([]Response, 0, len(n.Alerts))
		for _, a := range n.Alerts {
			out = append(out, wrap(s.handlePrometheusAlert(r.Context(), a)))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	var alert types.PrometheusAlert
	if err := json.Unmarshal(body, &alert); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if alert.Labels["alertname"] == "" {
		http.Error(w, "labels.alertname is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, wrap(s.handlePrometheusAlert(r.Context(), alert)))
}

func (s *Server) handlePrometheusAlert(ctx context.Context, alert types.PrometheusAlert) types.ActionResult {
	event := PrometheusToEvent(alert)
	if strings.EqualFold(alert.Status, "resolved") {
		s.log.WithFields(logrus.Fields{"rule": event.Rule, "priority": event.Priority}).Info("Skipping resolved alert")
		return types.ActionResult{Status: types.StatusNoAction, Message: "alert resolved"}
	}
	return s.engine.Handle(ctx, event)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultIncidentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.engine.Incidents(limit))
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.rules.Table().Rules())
}

// FalcoToEvent normalizes a Falco payload. Output field values are
// stringified; nil values are dropped.
func FalcoToEvent(alert types.FalcoEvent) types.AlertEvent {
	md := make(map[string]string, len(alert.OutputFields))
	for k, v := range alert.OutputFields {
		if v == nil {
			continue
		}
		md[k] = fmt.Sprint(v)
	}
	return types.AlertEvent{
		Source:   types.SourceFalco,
		Rule:     alert.Rule,
		Priority: alert.Priority,
		Metadata: md,
	}
}

// PrometheusToEvent normalizes an Alertmanager alert. Severity defaults to
// "warning".
func PrometheusToEvent(alert types.PrometheusAlert) types.AlertEvent {
	md := make(map[string]string, len(alert.Labels))
	for k, v := range alert.Labels {
		md[k] = v
	}
	severity := alert.Labels["severity"]
	if severity == "" {
		severity = "warning"
	}
	return types.AlertEvent{
		Source:   types.SourcePrometheus,
		Rule:     alert.Labels["alertname"],
		Priority: severity,
		Metadata: md,
	}
}

func wrap(res types.ActionResult) Response {
	status := "success"
	if res.Status == types.StatusNoAction {
		status = string(types.StatusNoAction)
	}
	return Response{Status: status, Result: res}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

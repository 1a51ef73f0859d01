// Package controller provides the remediation engine: it decides what to do
// about an alert, executes the action, and keeps a record of every decision.
package controller

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autoheal-remediator/internal/config"
	"github.com/invisible-tech/autoheal-remediator/internal/types"
	"github.com/invisible-tech/autoheal-remediator/pkg/incidents"
)

// Prometheus metrics (registered once).
var (
	alertsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoheal_alerts_received_total",
			Help: "Total alerts received by the remediation engine",
		},
		[]string{"source"},
	)
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoheal_decisions_total",
			Help: "Rule decisions by source and whether an action was chosen",
		},
		[]string{"source", "matched"},
	)
	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoheal_remediations_total",
			Help: "Remediation outcomes by action type and status",
		},
		[]string{"type", "status"},
	)
	actionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoheal_remediation_duration_seconds",
			Help:    "Time spent executing remediation actions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(alertsReceived)
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(actionsTotal)
	prometheus.MustRegister(actionDuration)
}

// Decider chooses an action for an alert.
type Decider interface {
	Decide(event types.AlertEvent) (types.ActionSpec, bool)
}

// Executor carries out an action.
type Executor interface {
	Execute(ctx context.Context, spec types.ActionSpec) types.ActionResult
}

// Engine composes a Decider and an Executor behind Handle.
type Engine struct {
	cfg      config.RemediatorConfig
	log      *logrus.Logger
	decider  Decider
	executor Executor

	incidents   []*types.Incident
	incidentsMu sync.RWMutex
	seq         atomic.Uint64

	sink *incidents.Client
}

// New creates an Engine.
func New(cfg config.RemediatorConfig, decider Decider, executor Executor, log *logrus.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		log:      log,
		decider:  decider,
		executor: executor,
	}
	e.initSink()
	return e
}

func (e *Engine) initSink() {
	if !e.cfg.IncidentSinkEnabled() {
		return
	}
	e.sink = incidents.NewClient(incidents.Config{
		Endpoint: e.cfg.IncidentSinkURL,
		Token:    e.cfg.IncidentSinkToken,
		Timeout:  e.cfg.IncidentSinkTimeout,
	}, e.log)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.sink.HealthCheck(ctx); err != nil {
			e.log.WithError(err).Warn("Incident sink health check failed, will retry on first incident")
		} else {
			e.log.Info("Incident sink connection verified")
		}
	}()
}

// Decide returns the action for event without side effects.
func (e *Engine) Decide(event types.AlertEvent) (types.ActionSpec, bool) {
	return e.decider.Decide(event)
}

// Execute runs spec.
func (e *Engine) Execute(ctx context.Context, spec types.ActionSpec) types.ActionResult {
	start := time.Now()
	res := e.executor.Execute(ctx, spec)
	actionDuration.WithLabelValues(string(spec.Kind)).Observe(time.Since(start).Seconds())
	return res
}

// Handle decides and, if an action applies, executes it. Every call ends in
// exactly one logged, recorded result.
func (e *Engine) Handle(ctx context.Context, event types.AlertEvent) types.ActionResult {
	start := time.Now()
	alertsReceived.WithLabelValues(string(event.Source)).Inc()
	fields := logrus.Fields{"source": event.Source, "rule": event.Rule, "priority": event.Priority}

	spec, ok := e.Decide(event)
	decisionsTotal.WithLabelValues(string(event.Source), strconv.FormatBool(ok)).Inc()
	var res types.ActionResult
	switch {
	case !ok:
		res = types.ActionResult{Status: types.StatusNoAction, Message: "No remediation action required"}
	case !e.cfg.RemediationEnabled:
		res = types.ActionResult{
			Status: types.StatusNoAction, Kind: spec.Kind, Namespace: spec.Namespace,
			Pod: spec.PodName, Deployment: spec.DeploymentName,
			Message: "remediation disabled",
		}
	default:
		res = e.Execute(ctx, spec)
	}
	if ok {
		res.Spec = &spec
	}

	actionsTotal.WithLabelValues(string(res.Kind), string(res.Status)).Inc()
	e.logResult(fields, res)
	e.record(event, res, time.Since(start))
	return res
}

func (e *Engine) logResult(fields logrus.Fields, res types.ActionResult) {
	entry := e.log.WithFields(fields).WithFields(logrus.Fields{
		"status": res.Status, "type": res.Kind, "namespace": res.Namespace,
		"pod": res.Pod, "deployment": res.Deployment,
	})
	switch res.Status {
	case types.StatusError:
		entry.WithField("error", res.Message).Error("Remediation failed")
	case types.StatusNotFound:
		entry.Warn("Remediation target not found")
	case types.StatusNoAction:
		entry.WithField("reason", res.Message).Info("No remediation action")
	default:
		entry.WithField("action", res.Action).Info("Remediation completed")
	}
}

func (e *Engine) record(event types.AlertEvent, res types.ActionResult, took time.Duration) {
	inc := &types.Incident{
		ID:        fmt.Sprintf("inc-%d-%d", time.Now().Unix(), e.seq.Add(1)),
		Timestamp: time.Now(),
		Event:     event,
		Result:    res,
		Duration:  took.String(),
	}

	e.incidentsMu.Lock()
	e.incidents = append(e.incidents, inc)
	if limit := e.cfg.IncidentRetention; limit > 0 && len(e.incidents) > limit {
		e.incidents = e.incidents[len(e.incidents)-limit:]
	}
	e.incidentsMu.Unlock()

	e.forward(inc)
}

// defaultSinkTimeout applies when INCIDENT_SINK_TIMEOUT is zero or negative.
const defaultSinkTimeout = 5 * time.Second

func (e *Engine) sinkTimeout() time.Duration {
	if e.cfg.IncidentSinkTimeout <= 0 {
		return defaultSinkTimeout
	}
	return e.cfg.IncidentSinkTimeout
}

// forward ships the incident to the sink off the request path.
func (e *Engine) forward(inc *types.Incident) {
	if e.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.sinkTimeout())
		defer cancel()
		if err := e.sink.Send(ctx, inc); err != nil {
			e.log.WithError(err).WithField("incident_id", inc.ID).Warn("Failed to forward incident")
		}
	}()
}

// Incidents returns the most recent incidents, up to limit.
func (e *Engine) Incidents(limit int) []*types.Incident {
	e.incidentsMu.RLock()
	defer e.incidentsMu.RUnlock()
	n := len(e.incidents)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*types.Incident, limit)
	copy(out, e.incidents[n-limit:])
	return out
}

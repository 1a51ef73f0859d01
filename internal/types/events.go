// Package types defines the alert, action and result types shared by the
// remediation engine, the HTTP ingestion API and the CLI.
package types

// Source identifies the tool that raised an alert.
type Source string

const (
	SourceFalco      Source = "falco"
	SourcePrometheus Source = "prometheus"
)

// AlertEvent is a normalized alert as delivered by the ingestion boundary.
type AlertEvent struct {
	Source   Source            `json:"source"`
	Rule     string            `json:"rule"`
	Priority string            `json:"priority"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FalcoEvent is the JSON payload Falco (or falcosidekick) posts to the webhook.
type FalcoEvent struct {
	Output       string                 `json:"output"`
	Priority     string                 `json:"priority"`
	Rule         string                 `json:"rule"`
	Time         string                 `json:"time"`
	OutputFields map[string]interface{} `json:"output_fields"`
	Hostname     string                 `json:"hostname,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
}

// PrometheusAlert is a single alert from an Alertmanager webhook notification.
type PrometheusAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations,omitempty"`
	StartsAt    string            `json:"startsAt,omitempty"`
	EndsAt      string            `json:"endsAt,omitempty"`
}

// AlertmanagerNotification is the envelope Alertmanager posts to webhook receivers.
type AlertmanagerNotification struct {
	Version  string            `json:"version,omitempty"`
	Status   string            `json:"status,omitempty"`
	Receiver string            `json:"receiver,omitempty"`
	Alerts   []PrometheusAlert `json:"alerts"`
}

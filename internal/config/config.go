// Package config loads remediator configuration from the environment with
// defaults matching the Helm chart values.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the value of key from the environment, or defaultValue if unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultValue
}

// GetEnvDuration returns the duration for key, or defaultValue if unset/invalid.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvBool returns the boolean for key, or defaultValue if unset/invalid.
func GetEnvBool(key string, defaultValue bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return b
}

// GetEnvInt returns the integer for key, or defaultValue if unset/invalid.
func GetEnvInt(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvList splits a comma-separated variable, dropping empty items.
func GetEnvList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(GetEnv(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Auth modes for the webhook endpoints.
const (
	AuthModeOff          = "off"
	AuthModeSharedSecret = "shared-secret"
	AuthModeTokenReview  = "tokenreview"
)

// RemediatorConfig holds configuration for the remediation webhook service.
type RemediatorConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string

	// RemediationEnabled=false logs decisions without touching the cluster.
	RemediationEnabled bool
	RulesFile          string

	Kubeconfig     string
	KubeAPITimeout time.Duration

	AuthMode               string
	BearerToken            string
	AllowedServiceAccounts []string

	IncidentRetention   int
	IncidentSinkURL     string
	IncidentSinkToken   string
	IncidentSinkTimeout time.Duration
}

// IncidentSinkEnabled reports whether incidents are forwarded externally.
func (c RemediatorConfig) IncidentSinkEnabled() bool {
	return c.IncidentSinkURL != ""
}

// DefaultRemediatorConfig returns remediator config from environment.
func DefaultRemediatorConfig() RemediatorConfig {
	return RemediatorConfig{
		HTTPAddr:           GetEnv("HTTP_ADDR", ":8000"),
		ShutdownTimeout:    GetEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:           GetEnv("LOG_LEVEL", "info"),
		RemediationEnabled: GetEnvBool("REMEDIATION_ENABLED", true),
		RulesFile:          GetEnv("RULES_FILE", ""),
		Kubeconfig:         GetEnv("KUBECONFIG", ""),
		KubeAPITimeout:     GetEnvDuration("KUBE_API_TIMEOUT", 10*time.Second),
		AuthMode:           strings.ToLower(GetEnv("WEBHOOK_AUTH_MODE", AuthModeSharedSecret)),
		BearerToken:        os.Getenv("WEBHOOK_BEARER_TOKEN"),
		AllowedServiceAccounts: GetEnvList("WEBHOOK_ALLOWED_SERVICEACCOUNTS",
			"system:serviceaccount:falco:falco,system:serviceaccount:falco:falco-sa"),
		IncidentRetention:   GetEnvInt("INCIDENT_RETENTION", 1000),
		IncidentSinkURL:     GetEnv("INCIDENT_SINK_ENDPOINT", ""),
		IncidentSinkToken:   GetEnv("INCIDENT_SINK_TOKEN", ""),
		IncidentSinkTimeout: GetEnvDuration("INCIDENT_SINK_TIMEOUT", 5*time.Second),
	}
}

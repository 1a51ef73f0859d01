// Package auth guards the webhook endpoints. A Gate checks the caller's bearer
// token in one of three modes: off, shared-secret or tokenreview.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autoheal-remediator/internal/cluster"
	"github.com/invisible-tech/autoheal-remediator/internal/config"
)

var (
	ErrMissingToken       = errors.New("missing bearer token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUnauthenticated    = errors.New("unauthenticated token")
	ErrNotAllowed         = errors.New("caller not allowed")
	ErrMisconfigured      = errors.New("webhook auth misconfigured")
	ErrBackendUnavailable = errors.New("auth backend unavailable")
	ErrUnknownMode        = errors.New("unknown auth mode")
)

// TokenReviewer validates a bearer token against the cluster.
type TokenReviewer interface {
	ReviewToken(ctx context.Context, token string) (cluster.TokenIdentity, error)
}

// Gate authorizes webhook callers.
type Gate struct {
	mode     string
	secret   string
	allowed  map[string]struct{}
	reviewer TokenReviewer
	log      *logrus.Logger
}

// NewGate builds a Gate from cfg. reviewer is only used in tokenreview mode
// and may be nil otherwise.
func NewGate(cfg config.RemediatorConfig, reviewer TokenReviewer, log *logrus.Logger) *Gate {
	allowed := make(map[string]struct{}, len(cfg.AllowedServiceAccounts))
	for _, sa := range cfg.AllowedServiceAccounts {
		allowed[sa] = struct{}{}
	}
	return &Gate{
		mode:     strings.ToLower(strings.TrimSpace(cfg.AuthMode)),
		secret:   cfg.BearerToken,
		allowed:  allowed,
		reviewer: reviewer,
		log:      log,
	}
}

// Mode returns the normalized auth mode.
func (g *Gate) Mode() string {
	return g.mode
}

// Authorize checks r and returns nil when the caller may proceed.
func (g *Gate) Authorize(r *http.Request) error {
	if g.mode == config.AuthModeOff {
		return nil
	}

	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return ErrMissingToken
	}

	switch g.mode {
	case config.AuthModeSharedSecret:
		if g.secret == "" {
			g.log.Error("WEBHOOK_AUTH_MODE=shared-secret but WEBHOOK_BEARER_TOKEN is not set")
			return ErrMisconfigured
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(g.secret)) != 1 {
			return ErrInvalidToken
		}
		return nil
	case config.AuthModeTokenReview:
		return g.review(r.Context(), token)
	default:
		return ErrUnknownMode
	}
}

func (g *Gate) review(ctx context.Context, token string) error {
	if g.reviewer == nil {
		g.log.Error("WEBHOOK_AUTH_MODE=tokenreview but no cluster client is available")
		return ErrMisconfigured
	}
	id, err := g.reviewer.ReviewToken(ctx, token)
	if err != nil {
		g.log.WithError(err).Error("TokenReview failed")
		return ErrBackendUnavailable
	}
	if !id.Authenticated {
		return ErrUnauthenticated
	}
	if _, ok := g.allowed[id.Username]; !ok || id.Username == "" {
		g.log.WithField("username", id.Username).Warn("Webhook caller not in allow-list")
		return ErrNotAllowed
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value. The
// scheme match is case-insensitive.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found {
		return "", false
	}
	token = strings.TrimSpace(token)
	if !strings.EqualFold(strings.TrimSpace(scheme), "bearer") || token == "" {
		return "", false
	}
	return token, true
}

// StatusCode maps an Authorize error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, ErrMisconfigured), errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Middleware rejects unauthorized requests before they reach next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Authorize(r); err != nil {
			g.log.WithFields(logrus.Fields{
				"path": r.URL.Path, "remote": r.RemoteAddr, "mode": g.mode,
			}).WithError(err).Warn("Webhook request rejected")
			writeError(w, StatusCode(err), err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
}

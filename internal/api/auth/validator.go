package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/rues-api/internal/metrics"
	"github.com/google/uuid"
)

// Config holds the credentials the validator accepts
type Config struct {
	// StaticKey is always accepted when non-empty
	StaticKey string
	AdminUser string
	AdminPass string
	TTL       time.Duration
}

// IssuedKey is a key handed out by the login endpoint
type IssuedKey struct {
	Key        string
	TTLMinutes int
	ExpiresAt  time.Time
}

// Validator issues and checks API keys
type Validator struct {
	config   Config
	registry Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewValidator creates a validator backed by registry
func NewValidator(config Config, registry Registry, logger *slog.Logger) *Validator {
	return &Validator{
		config:   config,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Issue creates a fresh random key valid for the configured TTL
func (v *Validator) Issue(ctx context.Context, username string) (*IssuedKey, error) {
	key := uuid.NewString()
	expiresAt := v.now().Add(v.config.TTL)

	if err := v.registry.Store(ctx, key, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to register issued key: %w", err)
	}

	v.logger.Info("API key issued",
		slog.String("username", username),
		slog.Time("expires_at", expiresAt),
	)

	return &IssuedKey{
		Key:        key,
		TTLMinutes: int(v.config.TTL / time.Minute),
		ExpiresAt:  expiresAt,
	}, nil
}

// IsValid reports whether key is the static key or an unexpired issued key.
// Registry failures deny access.
func (v *Validator) IsValid(ctx context.Context, key string) bool {
	if key == "" {
		metrics.KeyValidationsTotal.WithLabelValues(metrics.ResultDenied).Inc()
		return false
	}

	if v.config.StaticKey != "" && secureEqual(key, v.config.StaticKey) {
		metrics.KeyValidationsTotal.WithLabelValues(metrics.ResultStatic).Inc()
		return true
	}

	ok, err := v.registry.Lookup(ctx, key)
	if err != nil {
		v.logger.Error("Failed to look up API key", slog.Any("error", err))
		metrics.KeyValidationsTotal.WithLabelValues(metrics.ResultDenied).Inc()
		return false
	}

	if !ok {
		metrics.KeyValidationsTotal.WithLabelValues(metrics.ResultDenied).Inc()
		return false
	}

	metrics.KeyValidationsTotal.WithLabelValues(metrics.ResultIssued).Inc()
	return true
}

// CheckCredentials compares username and password with the configured admin
func (v *Validator) CheckCredentials(username, password string) bool {
	userOK := secureEqual(username, v.config.AdminUser)
	passOK := secureEqual(password, v.config.AdminPass)
	return userOK && passOK
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

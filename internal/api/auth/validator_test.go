package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRegistry struct{}

func (failingRegistry) Store(context.Context, string, time.Time) error {
	return errors.New("registry down")
}

func (failingRegistry) Lookup(context.Context, string) (bool, error) {
	return false, errors.New("registry down")
}

func newTestValidator(cfg Config, registry Registry, clock *fakeClock) *Validator {
	v := NewValidator(cfg, registry, slog.New(slog.NewTextHandler(io.Discard, nil)))
	v.now = clock.Now
	return v
}

func TestValidator_IssueAndExpire(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	registry := newTestMemoryRegistry(clock)
	v := newTestValidator(Config{TTL: 60 * time.Minute}, registry, clock)

	issued, err := v.Issue(ctx, "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Key)
	assert.Equal(t, 60, issued.TTLMinutes)
	assert.Equal(t, clock.t.Add(time.Hour), issued.ExpiresAt)

	assert.True(t, v.IsValid(ctx, issued.Key))

	clock.Advance(59 * time.Minute)
	assert.True(t, v.IsValid(ctx, issued.Key))

	clock.Advance(2 * time.Minute)
	assert.False(t, v.IsValid(ctx, issued.Key))
	assert.Equal(t, 0, registry.Len())
}

func TestValidator_IssuedKeysAreDistinct(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	v := newTestValidator(Config{TTL: time.Hour}, newTestMemoryRegistry(clock), clock)

	a, err := v.Issue(context.Background(), "admin")
	require.NoError(t, err)
	b, err := v.Issue(context.Background(), "admin")
	require.NoError(t, err)

	assert.NotEqual(t, a.Key, b.Key)
}

func TestValidator_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		staticKey string
		key       string
		want      bool
	}{
		{name: "static key", staticKey: "static-secret", key: "static-secret", want: true},
		{name: "wrong key", staticKey: "static-secret", key: "guess", want: false},
		{name: "empty key", staticKey: "static-secret", key: "", want: false},
		{name: "empty static key never matches", staticKey: "", key: "", want: false},
		{name: "unknown key without static key", staticKey: "", key: "anything", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Now()}
			v := newTestValidator(Config{StaticKey: tt.staticKey, TTL: time.Hour}, newTestMemoryRegistry(clock), clock)

			assert.Equal(t, tt.want, v.IsValid(context.Background(), tt.key))
		})
	}
}

func TestValidator_RegistryFailure(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	v := newTestValidator(Config{StaticKey: "static-secret", TTL: time.Hour}, failingRegistry{}, clock)

	_, err := v.Issue(context.Background(), "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register issued key")

	assert.False(t, v.IsValid(context.Background(), "some-key"))
	assert.True(t, v.IsValid(context.Background(), "static-secret"))
}

func TestValidator_CheckCredentials(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	v := newTestValidator(Config{AdminUser: "admin", AdminPass: "admin", TTL: time.Hour}, newTestMemoryRegistry(clock), clock)

	assert.True(t, v.CheckCredentials("admin", "admin"))
	assert.False(t, v.CheckCredentials("admin", "wrong"))
	assert.False(t, v.CheckCredentials("root", "admin"))
	assert.False(t, v.CheckCredentials("", ""))
}

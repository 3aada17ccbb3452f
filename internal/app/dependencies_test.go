package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billing/internal/config"
	"github.com/noah-isme/backend-billing/internal/ledger"
	"github.com/noah-isme/backend-billing/internal/ratelimit"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	base := map[string]string{
		"REDIS_URL":                 "",
		"DATABASE_URL":              "",
		"LEDGER_BACKEND":            "",
		"SETTLEMENT_EVENTS_ENABLED": "",
		"RATE_LIMIT_STRATEGY":       "",
	}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := config.LoadForTests(base)
	require.NoError(t, err)
	return cfg
}

func build(t *testing.T, cfg *config.Config) *Dependencies {
	t.Helper()
	deps, err := New(context.Background(), cfg, zerolog.Nop(), Options{
		ServiceName:      "billing-test",
		MetricsNamespace: "test",
		Registerer:       prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })
	return deps
}

func TestNewWithoutBackends(t *testing.T) {
	deps := build(t, testConfig(t, nil))
	assert.Nil(t, deps.Redis)
	assert.Nil(t, deps.Desk)
	assert.Nil(t, deps.Bus)
	assert.IsType(t, &ratelimit.StoreLimiter{}, deps.Limiter)
	assert.Empty(t, deps.HealthChecks(0))
	require.NotNil(t, deps.Invoice)
	assert.Nil(t, deps.Invoice.Desk)
}

func TestNewMemoryLedger(t *testing.T) {
	deps := build(t, testConfig(t, map[string]string{"LEDGER_BACKEND": "memory"}))
	require.NotNil(t, deps.Desk)
	assert.IsType(t, &ledger.MemoryStore{}, deps.Desk.Store)
	assert.Same(t, deps.Desk, deps.Invoice.Desk)
}

func TestNewRedisLedgerWithEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	deps := build(t, testConfig(t, map[string]string{
		"REDIS_URL":                 "redis://" + mr.Addr(),
		"LEDGER_BACKEND":            "redis",
		"SETTLEMENT_EVENTS_ENABLED": "true",
	}))
	require.NotNil(t, deps.Redis)
	require.NotNil(t, deps.Tasks)
	require.NotNil(t, deps.Bus)
	require.NotNil(t, deps.Desk)
	assert.IsType(t, ledger.RedisStore{}, deps.Desk.Store)
	assert.Same(t, deps.Bus, deps.Desk.Events)
	assert.IsType(t, ratelimit.Limiter{}, deps.Limiter)

	checks := deps.HealthChecks(0)
	require.Len(t, checks, 1)
	assert.Equal(t, "redis", checks[0].Name)
	assert.NoError(t, checks[0].Check(context.Background()))
}

func TestFixedWindowLimiterOnRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	deps := build(t, testConfig(t, map[string]string{
		"REDIS_URL":           "redis://" + mr.Addr(),
		"RATE_LIMIT_STRATEGY": "fixed",
	}))
	assert.IsType(t, &ratelimit.StoreLimiter{}, deps.Limiter)
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := New(context.Background(), testConfig(t, map[string]string{"REDIS_URL": "redis://" + addr}), zerolog.Nop(), Options{
		Registerer: prometheus.NewRegistry(),
	})
	assert.Error(t, err)
}

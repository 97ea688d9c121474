package app

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentPayy/AgentPayy-sub002/internal/metric"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/common/contracts/ethereum"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/config"
)

func TestPaywallConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	a := New(context.Background(), cfg)

	pw, err := a.paywallConfig()
	require.NoError(t, err)
	assert.Nil(t, pw)

	cfg.Paywall = config.PaywallConfig{Enabled: true, ModelID: "m", Price: "0.25", Network: "base"}
	pw, err = a.paywallConfig()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.25").Equal(pw.Price))

	cfg.Paywall.Price = "cheap"
	_, err = a.paywallConfig()
	assert.ErrorContains(t, err, "invalid paywall price")
}

func TestSQLStorageBootstrapsEscrowAndLedger(t *testing.T) {
	t.Setenv("SQL_DRIVER", "sqlite")
	t.Setenv("SQL_DSN", ":memory:")

	cfg := config.DefaultConfig()
	cfg.Storage.Driver = "sql"
	a := New(context.Background(), cfg)
	defer func() { _ = a.Shutdown(context.Background()) }()

	require.NoError(t, a.initStorage())
	require.NoError(t, a.initEscrow())
	require.NoError(t, a.initLedger())
	a.chainManager = ethereum.NewManagerWithClients(map[string]ethereum.ChainClient{})
	a.initValidator()
	require.NoError(t, a.initListeners())
	require.NoError(t, a.initHealthChecker())

	assert.NotNil(t, a.sweeper)
	assert.NotNil(t, a.validator)
	assert.Empty(t, a.listeners)
	assert.Equal(t, "ok", a.health.Report().Status)
	assert.Equal(t, "0", a.ledger.GetAnalytics().TotalRevenue)
}

func newServingApp(t *testing.T, metricPort int) *App {
	t.Setenv("SQL_DRIVER", "sqlite")
	t.Setenv("SQL_DSN", ":memory:")

	cfg := config.DefaultConfig()
	cfg.Storage.Driver = "sql"
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	a := New(context.Background(), cfg)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	require.NoError(t, a.initStorage())
	require.NoError(t, a.initEscrow())
	require.NoError(t, a.initLedger())
	a.chainManager = ethereum.NewManagerWithClients(map[string]ethereum.ChainClient{})
	a.initValidator()
	require.NoError(t, a.initHealthChecker())
	require.NoError(t, a.initAPI())
	a.metricServer = metric.New(&metric.Config{Port: metricPort})
	return a
}

func TestServeReturnsAfterCancel(t *testing.T) {
	a := newServingApp(t, 0)

	done := make(chan error, 1)
	go func() { done <- a.serve() }()

	time.Sleep(50 * time.Millisecond)
	a.cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeStopsWhenServerFails(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()

	a := newServingApp(t, busy.Addr().(*net.TCPAddr).Port)

	done := make(chan error, 1)
	go func() { done <- a.serve() }()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "metric server")
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after metric server failed")
	}
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/seismerge/internal/config"
	"github.com/rewired-gh/seismerge/internal/metrics"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Gateway: config.GatewayConfig{URL: "http://gateway.test/graphql", Encoding: "json"},
		Workspace: config.WorkspaceConfig{
			Analyst:       "analyst1",
			Activity:      "EventRefinement",
			StartTimeSecs: 0,
			EndTimeSecs:   3600,
		},
		Cache:   config.CacheConfig{SnapshotPath: filepath.Join(t.TempDir(), "cache.json")},
		Metrics: config.MetricsConfig{Enabled: true, ListenAddr: "127.0.0.1:0"},
	}
}

func TestNewApp_MetricsFailureSavesCache(t *testing.T) {
	cfg := testConfig(t)

	taken := prometheus.NewRegistry()
	_, err := metrics.New(taken)
	require.NoError(t, err)

	orig := newRegistry
	newRegistry = func() *prometheus.Registry { return taken }
	t.Cleanup(func() { newRegistry = orig })

	a, err := newApp(cfg, false)
	require.Error(t, err)
	assert.Nil(t, a)

	_, statErr := os.Stat(cfg.Cache.SnapshotPath)
	assert.NoError(t, statErr, "cache snapshot is written on the error path")
}

func TestNewApp_CloseSavesCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false

	a, err := newApp(cfg, false)
	require.NoError(t, err)
	require.NotNil(t, a.session)

	a.close()
	_, statErr := os.Stat(cfg.Cache.SnapshotPath)
	assert.NoError(t, statErr)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 30*time.Second, cfg.Registry.HeartbeatInterval)
	assert.Equal(t, 90*time.Second, cfg.Registry.HeartbeatTimeout)
	// The sweep must run at least twice per heartbeat timeout.
	assert.LessOrEqual(t, cfg.Registry.SweepInterval, cfg.Registry.HeartbeatTimeout/2)

	assert.Equal(t, "inmemory", cfg.Memory.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Memory.TTL)
	assert.Equal(t, 10000, cfg.Memory.MaxRecords)

	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 3, cfg.Breaker.HalfOpenMaxCalls)
	assert.Equal(t, 3, cfg.Breaker.SuccessThreshold)

	assert.Equal(t, 5, cfg.Workflow.MaxConcurrency)
	assert.Equal(t, time.Hour, cfg.Orchestrator.RunRetention)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "taskmesh", cfg.Telemetry.ServiceName)
}

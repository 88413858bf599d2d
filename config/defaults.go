package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Registry:     DefaultRegistryConfig(),
		Memory:       DefaultMemoryConfig(),
		Breaker:      DefaultBreakerConfig(),
		Delegator:    DefaultDelegatorConfig(),
		Workflow:     DefaultWorkflowConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Server:       DefaultServerConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultRegistryConfig returns default agent registry settings.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		SweepInterval:     45 * time.Second,
		RemoveAfter:       3 * time.Minute,
	}
}

// DefaultMemoryConfig returns default memory store settings.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Backend:         "inmemory",
		MaxRecords:      10000,
		TTL:             24 * time.Hour,
		JanitorInterval: time.Minute,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		SQLitePath: "taskmesh.db",
	}
}

// DefaultBreakerConfig returns default circuit breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold: 3,
	}
}

// DefaultDelegatorConfig returns default delegation settings.
func DefaultDelegatorConfig() DelegatorConfig {
	return DelegatorConfig{
		DefaultTimeout:     5 * time.Minute,
		MemoryWriteTimeout: 5 * time.Second,
		EnrichmentLimit:    5,
		RateLimit:          0,
		RateBurst:          1,
	}
}

// DefaultWorkflowConfig returns default workflow engine settings.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MaxConcurrency: 5,
	}
}

// DefaultOrchestratorConfig returns default facade settings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		RunRetention: time.Hour,
	}
}

// DefaultServerConfig returns default HTTP server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig returns default logger settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		EnableCaller: false,
	}
}

// DefaultTelemetryConfig returns default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "taskmesh",
		SampleRate:   1.0,
	}
}

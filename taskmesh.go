// Copyright (c) TaskMesh Authors.
// Licensed under the MIT License.

// Package taskmesh provides a top-level convenience entry point for
// creating an orchestrator with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/taskmesh"
//
//	o, err := taskmesh.New(myExecutor)
//	o, err := taskmesh.New(myExecutor, taskmesh.WithConfigFile("taskmesh.yaml"))
//	o, err := taskmesh.New(myExecutor, taskmesh.WithLogger(logger))
//
// This is a thin wrapper around [orchestrator.New]; both produce identical
// results. Use this package when you prefer the shorter import path.
package taskmesh

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/taskmesh/config"
	"github.com/BaSui01/taskmesh/delegator"
	"github.com/BaSui01/taskmesh/internal/metrics"
	"github.com/BaSui01/taskmesh/orchestrator"
)

// Orchestrator is the engine facade. See the orchestrator package for
// the full API.
type Orchestrator = orchestrator.Orchestrator

// AgentExecutor performs the actual work of a dispatched task.
type AgentExecutor = delegator.AgentExecutor

// ExecutorFunc adapts a function to the AgentExecutor interface.
type ExecutorFunc = delegator.ExecutorFunc

// Option configures the orchestrator created by [New].
type Option func(*options)

type options struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithConfig sets a pre-built configuration. Overrides [WithConfigFile].
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConfigFile loads configuration from the given YAML file, with
// TASKMESH_* environment overrides applied on top.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsRegisterer registers the engine's Prometheus collectors on
// the given registerer. Without it metrics are collected on a private
// throwaway registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New creates an orchestrator around the given executor. The executor is
// required; everything else falls back to defaults.
func New(executor AgentExecutor, opts ...Option) (*Orchestrator, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil && o.configPath != "" {
		loaded, err := config.NewLoader().WithConfigPath(o.configPath).Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if o.registerer != nil {
		m = metrics.New(o.registerer)
	}

	return orchestrator.New(cfg, executor, m, o.logger)
}

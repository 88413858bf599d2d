// Package telemetry wraps OpenTelemetry SDK initialization for the engine.
// When telemetry is disabled, no exporters are created and the global
// providers remain noop.
package telemetry

// Package registry tracks the population of available agents: registration,
// heartbeat-driven liveness and capability-filtered discovery.
//
// Discovery returns only live agents. A background sweep marks agents
// unreachable once their heartbeat goes stale and removes them after a
// retention period.
package registry

// Package metrics holds the agent's Prometheus instrumentation.
//
// The registry is process-global and opt-in: call InitRegistry once at
// startup when metrics are enabled, then construct collectors with
// NewAgentMetrics. When the registry was never initialized the constructors
// return nil and every recording method on a nil receiver is a no-op, so
// callers never branch on whether metrics are on.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-global Prometheus registry with the
// standard Go runtime and process collectors. Calling it twice is a no-op.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()

	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return registry != nil
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// ResetForTesting discards the global registry so tests can re-initialize.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}

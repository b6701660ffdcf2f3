// Package observability carries the Prometheus metrics, the health probes
// and the dedicated admin server that exposes them.
package observability

import "context"

// Checker is implemented by dependencies that report health to the
// readiness probe. Implementations must be safe for concurrent use and
// must honor the context deadline.
type Checker interface {
	// Name returns the component identifier shown in the readiness report.
	Name() string
	// Check returns nil when the component is healthy.
	Check(ctx context.Context) error
}

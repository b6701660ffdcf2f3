package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthChecker reports PostgreSQL connectivity for the readiness probe.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker wraps the connection pool used by the decision stores.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

// Name identifies this component in the readiness report.
func (h *HealthChecker) Name() string {
	return "postgres"
}

// Check runs a round-trip query. Ping alone can pass while the server
// refuses statements, so a real query is the signal the probe wants.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return fmt.Errorf("database connection is nil")
	}

	var one int
	if err := h.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres check query failed: %w", err)
	}
	return nil
}

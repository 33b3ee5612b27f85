package ports

import "context"

// HealthChecker is one dependency listed by GET /health. A Ping error marks
// the service degraded.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}

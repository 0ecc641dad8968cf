package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// ModelChecker checks vision provider availability.
type ModelChecker interface {
	HealthCheck(ctx context.Context) error
}

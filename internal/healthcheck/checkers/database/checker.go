package databasechecker

import (
	"context"
	"time"

	"github.com/memohai/socialdesk/internal/healthcheck"
)

const (
	checkTypeDatabase = "storage.database"
	pingTimeout       = 2 * time.Second
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker verifies the database answers.
type Checker struct {
	db Pinger
}

// NewChecker creates a database checker.
func NewChecker(db Pinger) *Checker {
	return &Checker{db: db}
}

// ListChecks pings the database. The account id is not used.
func (c *Checker) ListChecks(ctx context.Context, _ string) []healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:      checkTypeDatabase,
		Type:    checkTypeDatabase,
		Status:  healthcheck.StatusOK,
		Summary: "Database is reachable.",
	}
	if c.db == nil {
		item.Status = healthcheck.StatusWarn
		item.Summary = "Database is not configured."
		return []healthcheck.CheckResult{item}
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.db.Ping(ctx); err != nil {
		item.Status = healthcheck.StatusError
		item.Summary = "Database is unreachable."
		item.Detail = err.Error()
	}
	return []healthcheck.CheckResult{item}
}

// Ping reports only the database error, for liveness probes.
func (c *Checker) Ping(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.db.Ping(ctx)
}

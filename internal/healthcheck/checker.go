// Package healthcheck reports runtime checks for an account: storage
// reachability and the state of each platform integration.
package healthcheck

import "context"

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
	// StatusUnknown indicates check result is not yet known.
	StatusUnknown = "unknown"
)

// CheckResult is one runtime check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Subtitle string         `json:"subtitle,omitempty"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one or more runtime checks for an account.
type Checker interface {
	ListChecks(ctx context.Context, accountID string) []CheckResult
}

// Group runs several checkers in order.
type Group []Checker

// ListChecks concatenates the results of every checker.
func (g Group) ListChecks(ctx context.Context, accountID string) []CheckResult {
	items := []CheckResult{}
	for _, c := range g {
		if c == nil {
			continue
		}
		items = append(items, c.ListChecks(ctx, accountID)...)
	}
	return items
}

// Overall folds results into the worst status. No results is ok.
func Overall(items []CheckResult) string {
	status := StatusOK
	for _, item := range items {
		switch item.Status {
		case StatusError:
			return StatusError
		case StatusWarn, StatusUnknown:
			status = StatusWarn
		}
	}
	return status
}

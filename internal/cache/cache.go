package cache

import (
	"context"
	"time"

	"raankha/backoffice/internal/domain"
)

// SummaryCache holds per-employee credit summaries. Credit reads are
// advisory, so a short TTL plus invalidation on sale mutation is enough.
type SummaryCache interface {
	Get(ctx context.Context, employeeID string) (*domain.CreditSummary, bool, error)
	Set(ctx context.Context, employeeID string, summary *domain.CreditSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, employeeID string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.CreditSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.CreditSummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

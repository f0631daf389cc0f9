package optimistic

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type optimisticMetricsCollection struct {
	commitCount   metric.Int64Counter
	rollbackCount metric.Int64Counter
}

func setupOptimisticMetrics(meter metric.Meter) (optimisticMetricsCollection, error) {
	commitCount, err := meter.Int64Counter(
		"optimistic/commit_count",
		metric.WithDescription("Optimistic transitions confirmed by their mutator"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return optimisticMetricsCollection{}, fmt.Errorf("failed to create commit count metric: %w", err)
	}

	rollbackCount, err := meter.Int64Counter(
		"optimistic/rollback_count",
		metric.WithDescription("Optimistic transitions reverted after a failed mutator"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return optimisticMetricsCollection{}, fmt.Errorf("failed to create rollback count metric: %w", err)
	}

	return optimisticMetricsCollection{
		commitCount:   commitCount,
		rollbackCount: rollbackCount,
	}, nil
}

func newMetrics() (optimisticMetricsCollection, error) {
	return setupOptimisticMetrics(otel.Meter("marketcache/optimistic"))
}

func (m optimisticMetricsCollection) recordCommit(ctx context.Context, name, operation string) {
	m.commitCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("runner", name),
		attribute.String("operation", operation),
	))
}

func (m optimisticMetricsCollection) recordRollback(ctx context.Context, name, operation string, rolledBack bool) {
	m.rollbackCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("runner", name),
		attribute.String("operation", operation),
		attribute.Bool("rolled_back", rolledBack),
	))
}

package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalRequests     int64   `json:"total_requests"`
	VerifiedRequests  int64   `json:"verified_requests"`
	VerificationRate  float64 `json:"verification_rate"`
	AverageConfidence float64 `json:"average_confidence"`
}

// GetMetricsSummary aggregates verification metrics from persisted logs.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:     aggregation.TotalCount,
		VerifiedRequests:  aggregation.VerifiedCount,
		AverageConfidence: aggregation.AverageConfidence,
	}

	if aggregation.TotalCount > 0 {
		summary.VerificationRate = float64(aggregation.VerifiedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}

package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/dermascan/internal/diagnosis"
)

const recentPredictionLimit = 5

// GlobalStats summarizes every classified prediction.
type GlobalStats struct {
	TotalPredictions int64            `json:"total_predictions"`
	ByLabel          map[string]int64 `json:"by_label"`
}

// RecentPrediction is a compact view of one of the user's latest predictions.
type RecentPrediction struct {
	ID         string    `json:"id"`
	Label      string    `json:"predicted_label"`
	Confidence float64   `json:"confidence_score"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserStats summarizes the requesting user's predictions.
type UserStats struct {
	TotalPredictions  int64              `json:"total_predictions"`
	RecentPredictions []RecentPrediction `json:"recent_predictions"`
}

// StatsSummary is the response of the statistics endpoint.
type StatsSummary struct {
	Global GlobalStats `json:"global_stats"`
	User   *UserStats  `json:"user_stats"`
}

// GetStatsSummary aggregates prediction statistics from persisted records. An
// empty userID skips the per-user section.
func (uc *PredictionUseCase) GetStatsSummary(ctx context.Context, userID string) (*StatsSummary, error) {
	aggregation, err := uc.repo.AggregateStats(ctx)
	if err != nil {
		return nil, err
	}

	summary := &StatsSummary{
		Global: GlobalStats{
			TotalPredictions: aggregation.TotalCount,
			ByLabel:          make(map[string]int64, len(aggregation.ByLabel)),
		},
	}
	for _, row := range aggregation.ByLabel {
		summary.Global.ByLabel[row.Label] = row.Count
	}

	if userID == "" {
		return summary, nil
	}

	total, err := uc.repo.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := uc.repo.ListByUser(ctx, userID, recentPredictionLimit)
	if err != nil {
		return nil, err
	}

	user := &UserStats{TotalPredictions: total, RecentPredictions: make([]RecentPrediction, 0, len(recent))}
	for _, p := range recent {
		user.RecentPredictions = append(user.RecentPredictions, RecentPrediction{
			ID:         p.ID,
			Label:      p.Label,
			Confidence: p.Confidence,
			CreatedAt:  p.CreatedAt,
		})
	}
	summary.User = user
	return summary, nil
}

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	PipelineRuns        *prometheus.CounterVec
	EnrichmentFallbacks prometheus.Counter
	InferenceDuration   prometheus.Histogram
	SweptRecords        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dermascan_pipeline_runs_total",
				Help: "Prediction pipeline runs partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		EnrichmentFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dermascan_enrichment_fallback_total",
			Help: "Classifications that received the fallback medicine suggestion.",
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dermascan_inference_duration_seconds",
			Help:    "Time taken to classify one image, including lazy model load.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		SweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dermascan_swept_provisional_total",
			Help: "Orphaned provisional predictions removed by the sweeper.",
		}),
	}

	for _, c := range []prometheus.Collector{m.PipelineRuns, m.EnrichmentFallbacks, m.InferenceDuration, m.SweptRecords} {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return m, nil
}

// observeRun counts a finished run by the kind of its error; nil is success.
func (m *Metrics) observeRun(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = diagnosis.KindOf(err).String() + "_error"
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeEnrichmentFallback() {
	if m == nil {
		return
	}
	m.EnrichmentFallbacks.Inc()
}

func (m *Metrics) observeInference(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceDuration.Observe(d.Seconds())
}

func (m *Metrics) observeSwept(n int) {
	if m == nil || n == 0 {
		return
	}
	m.SweptRecords.Add(float64(n))
}

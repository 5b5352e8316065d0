package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// JobName identifies batch runs on the Pushgateway.
const JobName = "atlas_batch"

type Metrics struct {
	RowsProcessed  *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	RequestSeconds *prometheus.HistogramVec
	RowsSelected   prometheus.Gauge
	LastSuccess    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RowsProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geocoding_rows_processed_total",
			Help: "Total number of table rows sent to the geocoding provider, by outcome.",
		}, []string{"status"}),
		ProviderErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geocoding_provider_errors_total",
			Help: "Total number of unresolved geocoding requests, by reason.",
		}, []string{"reason"}),
		RequestSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geocoding_provider_request_duration_seconds",
			Help:    "Duration of requests to the geocoding provider API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		RowsSelected: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "geocoding_rows_selected",
			Help: "Number of rows selected for geocoding in the last run.",
		}),
		LastSuccess: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "geocoding_last_success_timestamp_seconds",
			Help: "Unix time of the last run that finished without error.",
		}),
	}
}

// Export writes the gathered metrics to a Pushgateway and/or a node_exporter
// textfile. Empty targets are skipped.
func Export(gatherer prometheus.Gatherer, pushgatewayURL, textfilePath string) error {
	if pushgatewayURL != "" {
		if err := push.New(pushgatewayURL, JobName).Gatherer(gatherer).Push(); err != nil {
			return fmt.Errorf("failed to push metrics: %w", err)
		}
	}

	if textfilePath != "" {
		if err := prometheus.WriteToTextfile(textfilePath, gatherer); err != nil {
			return fmt.Errorf("failed to write metrics textfile: %w", err)
		}
	}

	return nil
}

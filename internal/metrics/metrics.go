package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the counters of one scaling run. They live on their own
// registry so a batch run can dump them to a node_exporter textfile.
type Metrics struct {
	Registry *prometheus.Registry

	UnitsProcessed *prometheus.CounterVec
	UnitDuration   *prometheus.HistogramVec
	RowsWritten    *prometheus.CounterVec
	TargetsApplied *prometheus.CounterVec
	ScaleFactor    *prometheus.GaugeVec
	ScaledMWh      *prometheus.GaugeVec
	LastSuccess    prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		UnitsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadscale_units_processed_total",
				Help: "Scenario/year units processed, by outcome",
			},
			[]string{"scenario", "status"},
		),

		UnitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loadscale_unit_duration_seconds",
				Help:    "Time to load, scale and write one unit",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scenario"},
		),

		RowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadscale_rows_written_total",
				Help: "Hourly rows written to scaled shape files",
			},
			[]string{"scenario"},
		),

		TargetsApplied: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadscale_targets_applied_total",
				Help: "Scaling targets applied, by whether they were interpolated",
			},
			[]string{"scenario", "interpolated"},
		),

		ScaleFactor: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loadscale_scale_factor",
				Help: "Factor applied to a subsector group in a state",
			},
			[]string{"scenario", "year", "group", "state"},
		),

		ScaledMWh: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loadscale_scaled_mwh",
				Help: "Annual energy of a subsector group in a state after scaling",
			},
			[]string{"scenario", "year", "group", "state"},
		),

		LastSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "loadscale_last_success_timestamp_seconds",
				Help: "Unix time of the last run that finished without errors",
			},
		),
	}
}

// WriteTextfile writes the current values in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

// Year formats a model year as a label value.
func Year(y int) string {
	return strconv.Itoa(y)
}

package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "ownerledger_"

	// ResultSuccess labels a successful operation.
	ResultSuccess = "success"
	// ResultError labels a failed operation.
	ResultError = "error"
)

var (
	registerOnce sync.Once

	statementGenerateTotal   *prometheus.CounterVec
	statementGenerateLatency *prometheus.HistogramVec
	statementExportTotal     *prometheus.CounterVec

	scheduleTickTotal   *prometheus.CounterVec
	scheduleFireTotal   *prometheus.CounterVec
	scheduleTickLatency prometheus.Histogram

	payoutTransferTotal   *prometheus.CounterVec
	payoutTransferLatency *prometheus.HistogramVec
	payoutQueueDepth      prometheus.Gauge
	payoutSweepTotal      *prometheus.CounterVec

	webhookTotal *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		statementGenerateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_generate_total",
				Help: "Total statement generate operations by result",
			},
			[]string{"result"},
		)
		statementGenerateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_generate_latency_seconds",
				Help:    "Statement generate latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		statementExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Total statement export operations by format and result",
			},
			[]string{"format", "result"},
		)

		scheduleTickTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "schedule_tick_total",
				Help: "Total schedule engine ticks by result",
			},
			[]string{"result"},
		)
		scheduleFireTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "schedule_fire_total",
				Help: "Total schedule fires by result",
			},
			[]string{"result"},
		)
		scheduleTickLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "schedule_tick_latency_seconds",
				Help:    "Schedule tick latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		payoutTransferTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payout_transfer_total",
				Help: "Total payout transfer attempts by outcome",
			},
			[]string{"outcome"},
		)
		payoutTransferLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "payout_transfer_latency_seconds",
				Help:    "Payout transfer latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)
		payoutQueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "payout_queue_depth",
				Help: "Statements currently queued for balance top-up",
			},
		)
		payoutSweepTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payout_sweep_total",
				Help: "Total queued payout sweeps by trigger",
			},
			[]string{"trigger"},
		)

		webhookTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "webhook_total",
				Help: "Total transfer-provider webhooks by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			statementGenerateTotal,
			statementGenerateLatency,
			statementExportTotal,
			scheduleTickTotal,
			scheduleFireTotal,
			scheduleTickLatency,
			payoutTransferTotal,
			payoutTransferLatency,
			payoutQueueDepth,
			payoutSweepTotal,
			webhookTotal,
		)

		if db != nil {
			registerQueueDepthGauge(db, logger)
		}
	})
}

// ObserveStatementGenerate records one generate operation.
func ObserveStatementGenerate(result string, duration time.Duration) {
	if statementGenerateTotal == nil {
		return
	}
	statementGenerateTotal.WithLabelValues(result).Inc()
	statementGenerateLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveStatementExport records one export operation.
func ObserveStatementExport(format, result string) {
	if statementExportTotal == nil {
		return
	}
	statementExportTotal.WithLabelValues(format, result).Inc()
}

// ObserveScheduleTick records one engine tick.
func ObserveScheduleTick(result string, duration time.Duration) {
	if scheduleTickTotal == nil {
		return
	}
	scheduleTickTotal.WithLabelValues(result).Inc()
	scheduleTickLatency.Observe(duration.Seconds())
}

// ObserveScheduleFire records one tag fire.
func ObserveScheduleFire(result string) {
	if scheduleFireTotal == nil {
		return
	}
	scheduleFireTotal.WithLabelValues(result).Inc()
}

// ObservePayoutTransfer records one transfer attempt.
func ObservePayoutTransfer(outcome string, duration time.Duration) {
	if payoutTransferTotal == nil {
		return
	}
	payoutTransferTotal.WithLabelValues(outcome).Inc()
	payoutTransferLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObservePayoutSweep records one queued sweep run.
func ObservePayoutSweep(trigger string) {
	if payoutSweepTotal == nil {
		return
	}
	payoutSweepTotal.WithLabelValues(trigger).Inc()
}

// ObserveWebhook records a transfer-provider webhook by result.
func ObserveWebhook(result string) {
	if webhookTotal == nil {
		return
	}
	webhookTotal.WithLabelValues(result).Inc()
}

// SetPayoutQueueDepth updates the queued-statement gauge.
func SetPayoutQueueDepth(depth float64) {
	if payoutQueueDepth == nil {
		return
	}
	payoutQueueDepth.Set(depth)
}

func registerQueueDepthGauge(db *sql.DB, logger *log.Logger) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			var depth float64
			err := db.QueryRow(`SELECT COUNT(1) FROM statements WHERE payout_status = 'queued'`).Scan(&depth)
			if err != nil {
				if logger != nil {
					logger.Printf("metrics queue depth error: %v", err)
				}
				continue
			}
			SetPayoutQueueDepth(depth)
		}
	}()
}

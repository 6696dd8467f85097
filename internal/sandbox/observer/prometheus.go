package observer

import (
	"context"

	"nextgen/internal/execution/model"

	"github.com/prometheus/client_golang/prometheus"
)

// Buckets in milliseconds, from a trivial compile up to the longest run limit.
var durationBucketsMs = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// PrometheusRecorder exports sandbox metrics through a Prometheus registry.
type PrometheusRecorder struct {
	compileTotal    *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	runTotal        *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runMemory       *prometheus.HistogramVec
	admissionTotal  *prometheus.CounterVec
	jobStatusTotal  *prometheus.CounterVec
	inflight        prometheus.Gauge
	queued          prometheus.Gauge
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_compile_total",
			Help: "Total compilations by language and outcome",
		}, []string{"language", "outcome"}),
		compileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runner_compile_duration_ms",
			Help:    "Compilation wall time in milliseconds",
			Buckets: durationBucketsMs,
		}, []string{"language"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_run_total",
			Help: "Total program runs by language and outcome",
		}, []string{"language", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runner_run_duration_ms",
			Help:    "Program wall time in milliseconds",
			Buckets: durationBucketsMs,
		}, []string{"language"}),
		runMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runner_run_memory_kb",
			Help:    "Peak resident memory per run in KB",
			Buckets: []float64{1024, 4096, 16384, 65536, 131072, 262144},
		}, []string{"language"}),
		admissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_admission_total",
			Help: "Worker pool admission decisions",
		}, []string{"outcome"}),
		jobStatusTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_job_transitions_total",
			Help: "Job state transitions by target state",
		}, []string{"status"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runner_jobs_inflight",
			Help: "Jobs currently compiling or running",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runner_jobs_queued",
			Help: "Jobs admitted and waiting for a worker",
		}),
	}
	collectors := []prometheus.Collector{
		r.compileTotal, r.compileDuration, r.runTotal, r.runDuration,
		r.runMemory, r.admissionTotal, r.jobStatusTotal, r.inflight, r.queued,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	r.compileTotal.WithLabelValues(languageID, outcome).Inc()
	r.compileDuration.WithLabelValues(languageID).Observe(float64(timeMs))
}

func (r *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, outcome string, wallTimeMs int64, memoryKB int64) {
	r.runTotal.WithLabelValues(languageID, outcome).Inc()
	r.runDuration.WithLabelValues(languageID).Observe(float64(wallTimeMs))
	if memoryKB > 0 {
		r.runMemory.WithLabelValues(languageID).Observe(float64(memoryKB))
	}
}

func (r *PrometheusRecorder) ObserveAdmission(outcome string) {
	r.admissionTotal.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) SetInflight(n int64) {
	r.inflight.Set(float64(n))
}

func (r *PrometheusRecorder) SetQueued(n int64) {
	r.queued.Set(float64(n))
}

// ReportStatus counts every state a job enters, Cleaned included.
func (r *PrometheusRecorder) ReportStatus(ctx context.Context, jobID string, status model.Status) {
	r.jobStatusTotal.WithLabelValues(string(status)).Inc()
}

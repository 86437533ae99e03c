package metrics

import (
	"net/http"
	"time"

	"github.com/cyclopcam/vidannotate/pkg/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the server's Prometheus counters. Each instance has its own registry,
// so tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	Jobs          *prometheus.CounterVec
	Frames        prometheus.Counter
	FramesSkipped prometheus.Counter
	Detections    *prometheus.CounterVec
	StageSeconds  *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	Uploads       *prometheus.CounterVec
	UploadBytes   prometheus.Counter
	QueueWait     prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidannotate_jobs_total",
			Help: "Annotation jobs, by outcome",
		}, []string{"status"}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidannotate_frames_total",
			Help: "Frames written to annotated videos",
		}),
		FramesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidannotate_frames_unannotated_total",
			Help: "Frames written without boxes because detection failed",
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidannotate_detections_total",
			Help: "Boxes drawn, by class",
		}, []string{"class"}),
		StageSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidannotate_stage_seconds_total",
			Help: "Time spent in each per-frame stage",
		}, []string{"stage"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidannotate_job_duration_seconds",
			Help:    "Wall time of successful annotation jobs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidannotate_uploads_total",
			Help: "Upload attempts, by result",
		}, []string{"result"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidannotate_upload_bytes_total",
			Help: "Bytes of video received",
		}),
		QueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidannotate_queue_wait_seconds",
			Help:    "Time that a job waited for the compute device",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Jobs,
		m.Frames,
		m.FramesSkipped,
		m.Detections,
		m.StageSeconds,
		m.JobDuration,
		m.Uploads,
		m.UploadBytes,
		m.QueueWait,
	)
	return m
}

// ObserveJob records the outcome of one pipeline run. res is nil for failed runs.
func (m *Metrics) ObserveJob(res *pipeline.Result, err error) {
	if err != nil || res == nil {
		m.Jobs.WithLabelValues("failed").Inc()
		return
	}
	m.Jobs.WithLabelValues("done").Inc()
	m.Frames.Add(float64(res.FramesWritten))
	m.FramesSkipped.Add(float64(res.FramesSkipped))
	for class, n := range res.ClassCounts {
		m.Detections.WithLabelValues(class).Add(float64(n))
	}
	if res.Timings != nil {
		for _, stage := range []string{pipeline.StageDecode, pipeline.StageDetect, pipeline.StageAnnotate, pipeline.StageEncode} {
			if t := res.Timings.Stage(stage); t != nil {
				m.StageSeconds.WithLabelValues(stage).Add(t.Total.Seconds())
			}
		}
	}
	m.JobDuration.Observe(res.Elapsed.Seconds())
}

func (m *Metrics) ObserveQueueWait(d time.Duration) {
	m.QueueWait.Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

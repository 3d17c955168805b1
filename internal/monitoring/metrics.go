package monitoring

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the tracker's Prometheus instruments. All series carry a
// "stream" label so several trackers can share one registry.
type Metrics struct {
	frames        *prometheus.CounterVec
	detections    *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	tracksCreated *prometheus.CounterVec
	tracksRemoved *prometheus.CounterVec
	faults        *prometheus.CounterVec
	liveTracks    *prometheus.GaugeVec
	frameDuration *prometheus.HistogramVec
}

// FrameStats is what one processed frame reports to Metrics.
type FrameStats struct {
	Stream     string
	Detections int
	Rejected   map[string]int // reason -> count
	Created    int
	Removed    int
	Faults     int
	Tentative  int
	Confirmed  int
	Lost       int
	Duration   time.Duration
}

// NewMetrics creates the instruments and registers them on reg. A nil reg
// leaves them unregistered, which is convenient in tests. Registering twice
// on the same registry reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchtrack_frames_total",
			Help: "Frames processed by the tracker.",
		}, []string{"stream"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchtrack_detections_total",
			Help: "Detections received, before validation.",
		}, []string{"stream"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchtrack_detections_rejected_total",
			Help: "Detections dropped at ingestion, by reason.",
		}, []string{"stream", "reason"}),
		tracksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchtrack_tracks_created_total",
			Help: "Tracks spawned from unmatched detections.",
		}, []string{"stream"}),
		tracksRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchtrack_tracks_removed_total",
			Help: "Tracks retired from the live set.",
		}, []string{"stream"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchtrack_numeric_faults_total",
			Help: "Numeric faults recovered or escalated by the motion model.",
		}, []string{"stream"}),
		liveTracks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pitchtrack_live_tracks",
			Help: "Live tracks by lifecycle state.",
		}, []string{"stream", "state"}),
		frameDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pitchtrack_frame_duration_seconds",
			Help:    "Wall time spent processing one frame.",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"stream"}),
	}
	if reg == nil {
		return m, nil
	}
	if err := register(reg, &m.frames); err != nil {
		return nil, err
	}
	if err := register(reg, &m.detections); err != nil {
		return nil, err
	}
	if err := register(reg, &m.rejected); err != nil {
		return nil, err
	}
	if err := register(reg, &m.tracksCreated); err != nil {
		return nil, err
	}
	if err := register(reg, &m.tracksRemoved); err != nil {
		return nil, err
	}
	if err := register(reg, &m.faults); err != nil {
		return nil, err
	}
	if err := register(reg, &m.liveTracks); err != nil {
		return nil, err
	}
	if err := register(reg, &m.frameDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds *c to reg, swapping in the already registered collector
// when an identical one exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				*c = existing
				return nil
			}
		}
		return err
	}
	return nil
}

// ObserveFrame records one frame. A nil receiver is a no-op.
func (m *Metrics) ObserveFrame(s FrameStats) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(s.Stream).Inc()
	m.detections.WithLabelValues(s.Stream).Add(float64(s.Detections))
	for reason, n := range s.Rejected {
		m.rejected.WithLabelValues(s.Stream, reason).Add(float64(n))
	}
	m.tracksCreated.WithLabelValues(s.Stream).Add(float64(s.Created))
	m.tracksRemoved.WithLabelValues(s.Stream).Add(float64(s.Removed))
	m.faults.WithLabelValues(s.Stream).Add(float64(s.Faults))
	m.liveTracks.WithLabelValues(s.Stream, "tentative").Set(float64(s.Tentative))
	m.liveTracks.WithLabelValues(s.Stream, "confirmed").Set(float64(s.Confirmed))
	m.liveTracks.WithLabelValues(s.Stream, "lost").Set(float64(s.Lost))
	m.frameDuration.WithLabelValues(s.Stream).Observe(s.Duration.Seconds())
}

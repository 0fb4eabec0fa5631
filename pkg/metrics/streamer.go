// Package metrics exposes Prometheus metrics for the animation streamer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Interleaver state labels.
var interleaverStates = []string{"no_animations", "buffering", "playing", "transitioning"}

// StreamerMetrics holds the streamer's collectors. A nil *StreamerMetrics
// records nothing.
type StreamerMetrics struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	tickDuration    prometheus.Histogram
	messagesSent    *prometheus.CounterVec
	bytesSent       prometheus.Counter
	sendFailures    prometheus.Counter
	queueDepth      prometheus.Gauge
	queueBytes      prometheus.Gauge
	creditBytes     prometheus.Gauge
	creditFrames    prometheus.Gauge
	creditClamps    prometheus.Counter
	interleaver     *prometheus.GaugeVec
	animations      *prometheus.CounterVec
	audioEvents     *prometheus.CounterVec
	robotConnected  prometheus.Gauge
	robotOverflows  prometheus.Counter
	lastRobotReport prometheus.Gauge

	collectors []prometheus.Collector
}

// NewStreamerMetrics creates the collectors and registers them on registry.
func NewStreamerMetrics(registry *prometheus.Registry) (*StreamerMetrics, error) {
	m := &StreamerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StreamerMetrics) initMetrics() {
	m.ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "animstream_ticks_total",
		Help: "Total number of engine ticks",
	})
	m.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "animstream_tick_duration_seconds",
		Help:    "Time spent in one engine tick",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~200ms
	})
	m.messagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "animstream_messages_sent_total",
		Help: "Messages sent to the robot",
	}, []string{"kind"})
	m.bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "animstream_bytes_sent_total",
		Help: "Bytes sent to the robot",
	})
	m.sendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "animstream_send_failures_total",
		Help: "Ticks aborted by a transport send failure",
	})
	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "animstream_message_queue_depth",
		Help: "Messages waiting in the send buffer",
	})
	m.queueBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "animstream_message_queue_bytes",
		Help: "Bytes waiting in the send buffer",
	})
	m.creditBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "animstream_credit_bytes",
		Help: "Bytes the robot can accept this tick",
	})
	m.creditFrames = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "animstream_credit_audio_frames",
		Help: "Audio frames that may be sent this tick",
	})
	m.creditClamps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "animstream_credit_clamps_total",
		Help: "Times negative free space was clamped to zero",
	})
	m.interleaver = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "animstream_interleaver_state",
		Help: "1 for the current interleaver state, 0 otherwise",
	}, []string{"state"})
	m.animations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "animstream_animations_total",
		Help: "Animations that left the queue",
	}, []string{"result"})
	m.audioEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "animstream_audio_events_total",
		Help: "Audio events handled by the audio engine",
	}, []string{"result"})
	m.robotConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "animstream_robot_connected",
		Help: "1 while a robot is connected",
	})
	m.robotOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "animstream_robot_overflows_total",
		Help: "Receive buffer overflows reported by the robot",
	})
	m.lastRobotReport = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "animstream_robot_last_report_timestamp_seconds",
		Help: "Unix time of the last robot state report",
	})

	m.collectors = []prometheus.Collector{
		m.ticks, m.tickDuration, m.messagesSent, m.bytesSent, m.sendFailures,
		m.queueDepth, m.queueBytes, m.creditBytes, m.creditFrames, m.creditClamps,
		m.interleaver, m.animations, m.audioEvents,
		m.robotConnected, m.robotOverflows, m.lastRobotReport,
	}
}

// Describe implements prometheus.Collector.
func (m *StreamerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *StreamerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// Registry returns the registry the metrics are registered on.
func (m *StreamerMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveTick records one tick and its duration.
func (m *StreamerMetrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

// RecordSent records messages drained to the robot in one tick.
func (m *StreamerMetrics) RecordSent(audioFrames, other, bytes int) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues("audio").Add(float64(audioFrames))
	m.messagesSent.WithLabelValues("keyframe").Add(float64(other))
	m.bytesSent.Add(float64(bytes))
}

// RecordSendFailure counts an aborted tick.
func (m *StreamerMetrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// SetQueue records the send buffer depth.
func (m *StreamerMetrics) SetQueue(messages, bytes int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(messages))
	m.queueBytes.Set(float64(bytes))
}

// SetCredit records this tick's flow control credit.
func (m *StreamerMetrics) SetCredit(bytes, audioFrames int32) {
	if m == nil {
		return
	}
	m.creditBytes.Set(float64(bytes))
	m.creditFrames.Set(float64(audioFrames))
}

// RecordCreditClamp counts a clamped credit computation.
func (m *StreamerMetrics) RecordCreditClamp() {
	if m == nil {
		return
	}
	m.creditClamps.Inc()
}

// SetInterleaverState marks state as the current one.
func (m *StreamerMetrics) SetInterleaverState(state string) {
	if m == nil {
		return
	}
	for _, s := range interleaverStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.interleaver.WithLabelValues(s).Set(v)
	}
}

// RecordAnimation counts an animation leaving the queue. result is
// "completed" or "aborted".
func (m *StreamerMetrics) RecordAnimation(result string) {
	if m == nil {
		return
	}
	m.animations.WithLabelValues(result).Inc()
}

// RecordAudioEvent counts an audio event result.
func (m *StreamerMetrics) RecordAudioEvent(result string) {
	if m == nil {
		return
	}
	m.audioEvents.WithLabelValues(result).Inc()
}

// SetRobotConnected records the robot link state.
func (m *StreamerMetrics) SetRobotConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.robotConnected.Set(1)
	} else {
		m.robotConnected.Set(0)
	}
}

// RecordRobotReport records a robot state report and any new overflows.
func (m *StreamerMetrics) RecordRobotReport(at time.Time, newOverflows uint32) {
	if m == nil {
		return
	}
	m.lastRobotReport.Set(float64(at.UnixNano()) / 1e9)
	if newOverflows > 0 {
		m.robotOverflows.Add(float64(newOverflows))
	}
}

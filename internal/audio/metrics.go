package audio

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesCapturedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_radio_frames_captured_total",
			Help: "Total number of PCM frames accepted by the capture relay",
		},
	)

	framesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_radio_frames_dropped_total",
			Help: "Total number of PCM frames dropped by the relay overflow policy",
		},
	)

	framesEncodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_radio_frames_encoded_total",
			Help: "Total number of frames compressed into blocks",
		},
	)

	encodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_radio_encode_errors_total",
			Help: "Total number of codec or sink failures on the compression path",
		},
	)

	decodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_radio_decode_errors_total",
			Help: "Total number of malformed or truncated compressed blocks",
		},
	)

	compressedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_radio_compressed_bytes_total",
			Help: "Total compressed payload bytes written to sinks",
		},
	)

	relayDepthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_radio_relay_depth_frames",
			Help: "Frames currently queued in the capture relay",
		},
	)
)

func recordFrameEncoded(payloadBytes int) {
	framesEncodedTotal.Inc()
	compressedBytesTotal.Add(float64(payloadBytes))
}

func recordEncodeError() {
	encodeErrorsTotal.Inc()
}

func recordDecodeError() {
	decodeErrorsTotal.Inc()
}

// The capture adapter only touches atomics on the hot path; its totals are
// folded into the prometheus counters whenever a stats snapshot is taken.
// Per-session bookkeeping makes the fold idempotent.
var captureCounterSync = struct {
	sync.Mutex
	sessions map[string]capturedTotals
}{sessions: make(map[string]capturedTotals)}

type capturedTotals struct {
	delivered int64
	dropped   int64
}

// syncPipelineMetrics folds a pipeline stats snapshot into the prometheus
// collectors, adding only what was not already counted for the session.
// Called from stats snapshots and the metrics broadcast loop, never from the
// real-time thread.
func syncPipelineMetrics(stats PipelineStats) {
	captureCounterSync.Lock()
	last := captureCounterSync.sessions[stats.SessionID]
	if d := stats.FramesDelivered - last.delivered; d > 0 {
		framesCapturedTotal.Add(float64(d))
	}
	if d := stats.FramesDropped - last.dropped; d > 0 {
		framesDroppedTotal.Add(float64(d))
	}
	captureCounterSync.sessions[stats.SessionID] = capturedTotals{
		delivered: stats.FramesDelivered,
		dropped:   stats.FramesDropped,
	}
	captureCounterSync.Unlock()

	relayDepthGauge.Set(float64(stats.RelayDepth))
}

// forgetPipelineMetrics drops the sync bookkeeping of a finished session.
func forgetPipelineMetrics(sessionID string) {
	captureCounterSync.Lock()
	delete(captureCounterSync.sessions, sessionID)
	captureCounterSync.Unlock()
}

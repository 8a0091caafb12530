package audio

import (
	"sync"
	"time"

	"github.com/SaemsCodes/offline-radio/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PipelineState is the stream lifecycle: open -> running -> stopped.
type PipelineState int32

const (
	PipelineOpen PipelineState = iota
	PipelineRunning
	PipelineStopped
)

func (s PipelineState) String() string {
	switch s {
	case PipelineOpen:
		return "open"
	case PipelineRunning:
		return "running"
	case PipelineStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PipelineStats aggregates the counters of every stage of a capture pipeline.
type PipelineStats struct {
	SessionID       string
	State           string
	FramesDelivered int64
	FramesDropped   int64
	FramesEncoded   int64
	EncodeErrors    int64
	BytesOut        int64
	RelayDepth      int
	LastFrameTime   time.Time
}

// CapturePipeline wires a capture adapter, a frame relay, and a compression
// worker into one stream with the open -> running -> stopped lifecycle.
// Stopping drains: the adapter stops accepting driver frames first, then the
// worker drains every frame the relay already accepted, so N in-flight frames
// always yield N sink deliveries.
type CapturePipeline struct {
	id      string
	config  AudioConfig
	adapter *CaptureAdapter
	relay   *FrameRelay
	worker  *CompressionWorker

	state  PipelineState
	mutex  sync.Mutex
	logger *zerolog.Logger
}

// relayCapacity is the slot count of the capture relay: 16 frames is 320 ms of
// headroom at the default 20 ms frame duration.
const relayCapacity = 16

// NewCapturePipeline creates a stopped pipeline for the given configuration.
func NewCapturePipeline(cfg AudioConfig, codec Codec, sink BlockSink) *CapturePipeline {
	id := uuid.New().String()
	logger := logging.GetDefaultLogger().With().
		Str("component", "capture-pipeline").
		Str("session_id", id).
		Logger()

	relay := NewFrameRelay(relayCapacity, cfg.TotalSamples())
	return &CapturePipeline{
		id:      id,
		config:  cfg,
		adapter: NewCaptureAdapter(relay, cfg.Channels),
		relay:   relay,
		worker:  NewCompressionWorker(relay, codec, sink),
		logger:  &logger,
	}
}

// ID returns the pipeline session id.
func (p *CapturePipeline) ID() string {
	return p.id
}

// Config returns the pipeline configuration.
func (p *CapturePipeline) Config() AudioConfig {
	return p.config
}

// Callback returns the stream callback to hand to the audio driver.
func (p *CapturePipeline) Callback() AudioStreamCallback {
	return p.adapter
}

// Start transitions open -> running.
func (p *CapturePipeline) Start() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	switch p.state {
	case PipelineRunning:
		return ErrPipelineAlreadyRunning
	case PipelineStopped:
		return ErrPipelineStopped
	}

	if err := p.worker.Start(); err != nil {
		return err
	}
	p.state = PipelineRunning
	p.logger.Info().
		Int("sample_rate", p.config.SampleRate).
		Int("channels", p.config.Channels).
		Dur("frame_duration", p.config.FrameDuration).
		Msg("capture pipeline started")
	return nil
}

// Stop transitions running -> stopped: the callback is told to return the
// stop signal, then the worker drains and exits. Idempotent.
func (p *CapturePipeline) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.state != PipelineRunning {
		p.state = PipelineStopped
		return
	}

	p.adapter.RequestStop()
	p.worker.Stop()
	p.state = PipelineStopped

	delivered, dropped, _ := p.adapter.Stats()
	syncPipelineMetrics(PipelineStats{
		SessionID:       p.id,
		FramesDelivered: delivered,
		FramesDropped:   dropped,
		RelayDepth:      p.relay.Len(),
	})
	forgetPipelineMetrics(p.id)
	p.logger.Info().
		Int64("frames_delivered", delivered).
		Int64("frames_dropped", dropped).
		Msg("capture pipeline stopped")
}

// State returns the current lifecycle state.
func (p *CapturePipeline) State() PipelineState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}

// Stats snapshots the pipeline counters and folds them into the prometheus
// collectors, so scrapes stay current without a websocket subscriber.
func (p *CapturePipeline) Stats() PipelineStats {
	delivered, dropped, lastFrame := p.adapter.Stats()
	encoded, encodeErrors, bytesOut := p.worker.Stats()

	stats := PipelineStats{
		SessionID:       p.id,
		State:           p.State().String(),
		FramesDelivered: delivered,
		FramesDropped:   dropped,
		FramesEncoded:   encoded,
		EncodeErrors:    encodeErrors,
		BytesOut:        bytesOut,
		RelayDepth:      p.relay.Len(),
		LastFrameTime:   lastFrame,
	}
	// Stop already folded the final totals and dropped the bookkeeping; a
	// late snapshot must not re-add them.
	if stats.State != PipelineStopped.String() {
		syncPipelineMetrics(stats)
	}
	return stats
}

package radio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/SaemsCodes/offline-radio/internal/audio"
	"github.com/SaemsCodes/offline-radio/internal/config"
	"github.com/SaemsCodes/offline-radio/internal/logging"
	"github.com/SaemsCodes/offline-radio/internal/mesh"
	"github.com/rs/zerolog"
)

// App wires the capture pipeline, the playback path and the mesh transport
// into one radio node.
type App struct {
	cfg    *config.Config
	nodeID string
	logger *zerolog.Logger

	router   *mesh.RouteManager
	prober   *mesh.TableProber
	receiver *mesh.BlockReceiver

	mutex sync.Mutex

	// capture session, nil when idle
	capture *captureSession

	// playback session, nil when idle
	playback *playbackSession
}

type captureSession struct {
	pipeline    *audio.CapturePipeline
	driver      *audio.ToneDriver
	sender      *mesh.BlockSender
	destination string
}

type playbackSession struct {
	stream  *audio.PlaybackStream
	adapter *audio.PlaybackAdapter
	cancel  context.CancelFunc // ends the session source and the drain loop
	done    chan struct{}
}

// NewApp builds the node: it binds the UDP block receiver and prepares the
// route manager over the statically configured neighbors.
func NewApp(cfg *config.Config, nodeID string) (*App, error) {
	bind := fmt.Sprintf("%s:%d", cfg.Mesh.BindAddress, cfg.Mesh.Port)
	return newAppOnAddr(cfg, nodeID, bind)
}

func newAppOnAddr(cfg *config.Config, nodeID, bind string) (*App, error) {
	logger := logging.GetDefaultLogger().With().
		Str("component", "app").
		Str("node_id", nodeID).
		Logger()

	receiver, err := mesh.NewBlockReceiver(bind, 64)
	if err != nil {
		return nil, fmt.Errorf("bind mesh receiver: %w", err)
	}

	prober := mesh.NewTableProber(cfg.Mesh.Neighbors, mesh.PingerFunc(mesh.Ping))
	ttl := time.Duration(cfg.Mesh.RouteTTL) * time.Second
	router := mesh.NewRouteManager(nodeID, prober, ttl)

	app := &App{
		cfg:      cfg,
		nodeID:   nodeID,
		logger:   &logger,
		router:   router,
		prober:   prober,
		receiver: receiver,
	}

	audio.InitializeEventBroadcaster(app.pipelineStats)
	logger.Info().Str("mesh_addr", receiver.LocalAddr()).Msg("node initialized")
	return app, nil
}

// NodeID returns the persisted node identity.
func (a *App) NodeID() string {
	return a.nodeID
}

// Router returns the mesh route manager.
func (a *App) Router() *mesh.RouteManager {
	return a.router
}

func (a *App) newCodec() (audio.Codec, error) {
	cfg := audio.GetConfig()
	switch strings.ToLower(a.cfg.Audio.Codec) {
	case "pcm16":
		return audio.NewCodec(audio.CodecPCM16, cfg)
	default:
		return audio.NewCodec(audio.CodecOpus, cfg)
	}
}

// StartCapture discovers a route to destination, opens a block sender to the
// next hop and starts a capture pipeline feeding it. Until a hardware input
// driver exists the pipeline is fed by a synthetic tone source.
func (a *App) StartCapture(ctx context.Context, destination string) (audio.PipelineStats, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.capture != nil {
		return audio.PipelineStats{}, audio.ErrPipelineAlreadyRunning
	}

	route, err := a.router.DiscoverRoute(ctx, destination)
	if err != nil {
		return audio.PipelineStats{}, err
	}

	codec, err := a.newCodec()
	if err != nil {
		return audio.PipelineStats{}, err
	}

	sender, err := mesh.NewBlockSender(route.NextHop)
	if err != nil {
		return audio.PipelineStats{}, fmt.Errorf("open block sender: %w", err)
	}

	cfg := audio.GetConfig()
	pipeline := audio.NewCapturePipeline(cfg, codec, sender)
	if err := pipeline.Start(); err != nil {
		_ = sender.Close()
		return audio.PipelineStats{}, err
	}

	driver := audio.NewToneDriver(pipeline.Callback(), cfg, 440)
	driver.Start()

	a.capture = &captureSession{
		pipeline:    pipeline,
		driver:      driver,
		sender:      sender,
		destination: destination,
	}

	a.logger.Info().
		Str("session_id", pipeline.ID()).
		Str("destination", destination).
		Str("next_hop", route.NextHop).
		Msg("capture started")
	audio.GetEventBroadcaster().BroadcastStateChanged(pipeline.ID(), audio.PipelineRunning.String())
	return pipeline.Stats(), nil
}

// StopCapture stops the active capture session, draining in-flight frames
// before the sender closes.
func (a *App) StopCapture() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.capture == nil {
		return audio.ErrPipelineStopped
	}
	session := a.capture
	a.capture = nil

	session.driver.Stop()
	session.pipeline.Stop()
	if err := session.sender.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("closing block sender")
	}

	a.logger.Info().Str("session_id", session.pipeline.ID()).Msg("capture stopped")
	audio.GetEventBroadcaster().BroadcastStateChanged(session.pipeline.ID(), audio.PipelineStopped.String())
	return nil
}

// StartPlayback decodes blocks arriving on the mesh receiver into a playback
// relay drained at frame cadence, standing in for the output device callback.
func (a *App) StartPlayback() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.playback != nil {
		return audio.ErrPipelineAlreadyRunning
	}

	codec, err := a.newCodec()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream := audio.NewPlaybackStream(a.receiver.SessionSource(ctx), codec, 16)
	if err := stream.Start(); err != nil {
		cancel()
		return err
	}

	cfg := audio.GetConfig()
	adapter := audio.NewPlaybackAdapter(stream.Relay(), cfg.Channels)

	done := make(chan struct{})
	go drainPlayback(ctx, adapter, cfg, done)

	a.playback = &playbackSession{
		stream:  stream,
		adapter: adapter,
		cancel:  cancel,
		done:    done,
	}
	a.logger.Info().Msg("playback started")
	return nil
}

// drainPlayback pulls decoded frames at the configured frame cadence the way
// an output device callback would.
func drainPlayback(ctx context.Context, adapter *audio.PlaybackAdapter, cfg audio.AudioConfig, done chan struct{}) {
	defer close(done)

	buf := make([]float32, cfg.TotalSamples())
	ticker := time.NewTicker(cfg.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if adapter.OnAudioRequest(buf, cfg.FrameSamples()) == audio.DataCallbackStop {
				return
			}
		}
	}
}

// StopPlayback stops the active playback session.
func (a *App) StopPlayback() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.playback == nil {
		return audio.ErrPipelineStopped
	}
	session := a.playback
	a.playback = nil

	session.adapter.RequestStop()
	session.cancel() // session source returns io.EOF, decode loop drains out
	<-session.done
	session.stream.Stop()

	a.logger.Info().Msg("playback stopped")
	return nil
}

// pipelineStats snapshots the stats of all live pipelines for the periodic
// websocket metrics push.
func (a *App) pipelineStats() []audio.PipelineStats {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var out []audio.PipelineStats
	if a.capture != nil {
		out = append(out, a.capture.pipeline.Stats())
	}
	return out
}

// CaptureStats returns the stats of the active capture session.
func (a *App) CaptureStats() (audio.PipelineStats, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.capture == nil {
		return audio.PipelineStats{}, false
	}
	return a.capture.pipeline.Stats(), true
}

// MeshStats returns the receiver transport counters.
func (a *App) MeshStats() (received, dropped, parseErrors, probes int64) {
	return a.receiver.Stats()
}

// Shutdown stops all sessions and closes the mesh receiver.
func (a *App) Shutdown() {
	if err := a.StopCapture(); err != nil && err != audio.ErrPipelineStopped {
		a.logger.Warn().Err(err).Msg("stopping capture during shutdown")
	}
	if err := a.StopPlayback(); err != nil && err != audio.ErrPipelineStopped {
		a.logger.Warn().Err(err).Msg("stopping playback during shutdown")
	}
	if err := a.receiver.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("closing mesh receiver")
	}
	a.logger.Info().Msg("node shut down")
}

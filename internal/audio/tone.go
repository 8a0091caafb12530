package audio

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/SaemsCodes/offline-radio/internal/logging"
	"github.com/rs/zerolog"
)

// ToneDriver stands in for the platform audio driver: it invokes a stream
// callback at the real frame cadence with a generated sine wave. Used by the
// HTTP-triggered test stream and by integration tests; production embedders
// bring their own driver and call the callback directly.
type ToneDriver struct {
	callback  AudioStreamCallback
	config    AudioConfig
	frequency float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zerolog.Logger

	buf   []float32
	phase float64
}

// NewToneDriver creates a driver generating a sine of the given frequency.
func NewToneDriver(callback AudioStreamCallback, cfg AudioConfig, frequency float64) *ToneDriver {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.GetDefaultLogger().With().Str("component", "tone-driver").Logger()

	return &ToneDriver{
		callback:  callback,
		config:    cfg,
		frequency: frequency,
		ctx:       ctx,
		cancel:    cancel,
		logger:    &logger,
		buf:       make([]float32, cfg.TotalSamples()),
	}
}

// Start begins delivering frames on a dedicated goroutine.
func (d *ToneDriver) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop halts frame delivery and waits for the driver goroutine.
func (d *ToneDriver) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *ToneDriver) run() {
	defer d.wg.Done()

	frames := d.config.FrameSamples()
	step := 2 * math.Pi * d.frequency / float64(d.config.SampleRate)

	ticker := time.NewTicker(d.config.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			for i := 0; i < frames; i++ {
				s := float32(0.5 * math.Sin(d.phase))
				d.phase += step
				for ch := 0; ch < d.config.Channels; ch++ {
					d.buf[i*d.config.Channels+ch] = s
				}
			}
			if d.callback.OnAudioReady(d.buf, frames) == DataCallbackStop {
				d.logger.Debug().Msg("callback requested stop")
				return
			}
		}
	}
}

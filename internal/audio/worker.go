package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SaemsCodes/offline-radio/internal/logging"
	"github.com/rs/zerolog"
)

// maxConsecutiveEncodeErrors stops a worker whose codec or sink fails on every
// frame, so a wedged downstream cannot spin the CPU forever.
const maxConsecutiveEncodeErrors = 10

// CompressionWorker drains a FrameRelay on its own goroutine, encodes each
// frame with the configured codec, and writes the resulting blocks to a sink.
// Frames leave the relay in delivery order and each drained frame produces
// exactly one sink write (or one counted error), which is what makes the
// stop-with-N-frames-in-flight guarantee hold.
type CompressionWorker struct {
	// Atomic fields MUST be first for ARM32 alignment (int64 fields need 8-byte alignment)
	framesEncoded int64
	encodeErrors  int64
	bytesOut      int64

	relay *FrameRelay
	codec Codec
	sink  BlockSink

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zerolog.Logger
	running bool
	mutex   sync.Mutex

	scratch []float32
	silence []float32
	seq     uint32
}

// NewCompressionWorker creates a worker draining relay through codec into sink.
func NewCompressionWorker(relay *FrameRelay, codec Codec, sink BlockSink) *CompressionWorker {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.GetDefaultLogger().With().
		Str("component", "compression-worker").
		Str("codec", codec.ID().String()).
		Logger()

	return &CompressionWorker{
		relay:   relay,
		codec:   codec,
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
		logger:  &logger,
		scratch: make([]float32, relay.SlotLen()),
		silence: make([]float32, relay.SlotLen()),
	}
}

// Start launches the worker goroutine.
func (w *CompressionWorker) Start() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.running {
		return ErrPipelineAlreadyRunning
	}

	w.wg.Add(1)
	go w.drainLoop()
	w.running = true
	w.logger.Debug().Msg("compression worker started")
	return nil
}

// Stop stops the worker after deterministically draining the relay: every
// frame accepted before Stop is encoded and delivered, then the goroutine
// exits. The capture adapter must stop pushing before Stop is called.
func (w *CompressionWorker) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.running {
		return
	}

	w.cancel()
	w.wg.Wait()
	w.running = false
	w.logger.Info().
		Int64("frames_encoded", atomic.LoadInt64(&w.framesEncoded)).
		Int64("encode_errors", atomic.LoadInt64(&w.encodeErrors)).
		Msg("compression worker stopped")
}

// Stats returns frames encoded, encode errors, and compressed bytes written.
func (w *CompressionWorker) Stats() (encoded, errors, bytes int64) {
	return atomic.LoadInt64(&w.framesEncoded),
		atomic.LoadInt64(&w.encodeErrors),
		atomic.LoadInt64(&w.bytesOut)
}

func (w *CompressionWorker) drainLoop() {
	defer w.wg.Done()

	consecutiveErrors := 0
	for {
		n, err := w.relay.Pop(w.ctx, w.scratch)
		if err != nil {
			// Cancelled: drain what the relay already accepted, then exit.
			// The consecutive-error cap still applies while draining.
			for {
				n, ok := w.relay.TryPop(w.scratch)
				if !ok {
					return
				}
				if !w.encodeFrame(w.scratch[:n], &consecutiveErrors) {
					return
				}
			}
		}

		if !w.encodeFrame(w.scratch[:n], &consecutiveErrors) {
			return
		}
	}
}

// encodeFrame encodes and sinks one frame. It returns false when the
// consecutive error cap was hit and the worker should stop.
func (w *CompressionWorker) encodeFrame(frame []float32, consecutiveErrors *int) bool {
	src := frame
	if IsMuted() {
		src = w.silence[:len(frame)]
	}

	payload, err := w.codec.Encode(src)
	if err != nil {
		atomic.AddInt64(&w.encodeErrors, 1)
		recordEncodeError()
		*consecutiveErrors++
		w.logger.Warn().Err(err).Int("consecutive_errors", *consecutiveErrors).Msg("frame encode failed")
		if *consecutiveErrors >= maxConsecutiveEncodeErrors {
			w.logger.Error().Msgf("too many consecutive encode errors (%d), stopping worker", *consecutiveErrors)
			return false
		}
		return true
	}

	block := &Block{
		Codec:     w.codec.ID(),
		Seq:       w.seq,
		Timestamp: time.Now().UnixNano(),
		Payload:   payload,
	}
	w.seq++
	if err := w.sink.WriteBlock(block); err != nil {
		atomic.AddInt64(&w.encodeErrors, 1)
		recordEncodeError()
		*consecutiveErrors++
		w.logger.Warn().Err(err).Int("consecutive_errors", *consecutiveErrors).Msg("block sink write failed")
		if *consecutiveErrors >= maxConsecutiveEncodeErrors {
			w.logger.Error().Msgf("too many consecutive sink errors (%d), stopping worker", *consecutiveErrors)
			return false
		}
		return true
	}

	*consecutiveErrors = 0
	atomic.AddInt64(&w.framesEncoded, 1)
	atomic.AddInt64(&w.bytesOut, int64(len(payload)))
	recordFrameEncoded(len(payload))
	return true
}

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/SaemsCodes/offline-radio/internal/logging"
	"github.com/rs/zerolog"
)

// PlaybackStream is the mirror of the capture pipeline: a decode goroutine
// reads compressed blocks from a source, decompresses them off the real-time
// thread, and pushes reconstructed PCM frames through a relay to the playback
// callback.
type PlaybackStream struct {
	// Atomic fields MUST be first for ARM32 alignment (int64 fields need 8-byte alignment)
	blocksDecoded int64
	decodeErrors  int64

	source BlockSource
	codec  Codec
	relay  *FrameRelay

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zerolog.Logger
	running bool
	mutex   sync.Mutex

	errOnce  sync.Once
	errMutex sync.Mutex
	err      error

	scratch []float32
}

// NewPlaybackStream creates a playback stream decoding blocks from source with
// codec. relayCapacity sets how many decoded frames may queue ahead of the
// playback callback.
//
// The decode goroutine blocks in source.ReadBlock, so the source must either
// be finite (io.EOF) or stop delivering when the stream is torn down — a
// network source should hand over a cancellable view of itself (see
// mesh.BlockReceiver.SessionSource) rather than a read that can block forever.
func NewPlaybackStream(source BlockSource, codec Codec, relayCapacity int) *PlaybackStream {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.GetDefaultLogger().With().
		Str("component", "playback-stream").
		Str("codec", codec.ID().String()).
		Logger()

	slotLen := codec.FrameSamples() * codec.Channels()
	return &PlaybackStream{
		source:  source,
		codec:   codec,
		relay:   NewFrameRelay(relayCapacity, slotLen),
		ctx:     ctx,
		cancel:  cancel,
		logger:  &logger,
		scratch: make([]float32, slotLen),
	}
}

// Relay exposes the decoded-frame relay for the playback adapter.
func (p *PlaybackStream) Relay() *FrameRelay {
	return p.relay
}

// Start launches the decode goroutine.
func (p *PlaybackStream) Start() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return ErrPipelineAlreadyRunning
	}

	p.wg.Add(1)
	go p.decodeLoop()
	p.running = true
	p.logger.Debug().Msg("playback stream started")
	return nil
}

// Stop cancels the decode goroutine and waits for it to exit; it returns only
// once the goroutine has left source.ReadBlock, which is why the source must
// honor the contract documented on NewPlaybackStream. Frames already pushed to
// the relay stay available to the playback callback.
func (p *PlaybackStream) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false
	p.logger.Info().
		Int64("blocks_decoded", atomic.LoadInt64(&p.blocksDecoded)).
		Int64("decode_errors", atomic.LoadInt64(&p.decodeErrors)).
		Msg("playback stream stopped")
}

// Wait blocks until the decode goroutine exits (end of source, fatal decode
// error, or Stop) and returns the terminal error. A clean end of stream
// returns nil.
func (p *PlaybackStream) Wait() error {
	p.wg.Wait()
	return p.Err()
}

// Err returns the terminal error of the decode path. Malformed input surfaces
// here as a *DecodeError; it never reaches the playback callback.
func (p *PlaybackStream) Err() error {
	p.errMutex.Lock()
	defer p.errMutex.Unlock()
	return p.err
}

// Stats returns blocks decoded and decode errors.
func (p *PlaybackStream) Stats() (decoded, errors int64) {
	return atomic.LoadInt64(&p.blocksDecoded), atomic.LoadInt64(&p.decodeErrors)
}

func (p *PlaybackStream) setErr(err error) {
	p.errOnce.Do(func() {
		p.errMutex.Lock()
		p.err = err
		p.errMutex.Unlock()
	})
}

func (p *PlaybackStream) decodeLoop() {
	defer p.wg.Done()

	var lastSeq uint32
	haveSeq := false

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		block, err := p.source.ReadBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.logger.Debug().Msg("block source drained")
				return
			}
			atomic.AddInt64(&p.decodeErrors, 1)
			recordDecodeError()
			p.setErr(err)
			p.logger.Error().Err(err).Msg("block source read failed")
			return
		}

		if block.Codec != p.codec.ID() {
			err := &DecodeError{
				Codec: p.codec.ID().String(),
				Err:   fmt.Errorf("block encoded with %s", block.Codec),
			}
			atomic.AddInt64(&p.decodeErrors, 1)
			recordDecodeError()
			p.setErr(err)
			p.logger.Error().Err(err).Msg("codec mismatch")
			return
		}

		if haveSeq && block.Seq != lastSeq+1 {
			p.logger.Warn().
				Uint32("expected_seq", lastSeq+1).
				Uint32("got_seq", block.Seq).
				Msg("block sequence gap")
		}
		lastSeq = block.Seq
		haveSeq = true

		n, err := p.codec.Decode(block.Payload, p.scratch)
		if err != nil {
			atomic.AddInt64(&p.decodeErrors, 1)
			recordDecodeError()
			p.setErr(err)
			p.logger.Error().Err(err).Uint32("seq", block.Seq).Msg("block decode failed")
			return
		}

		if err := p.relay.Push(p.ctx, p.scratch[:n]); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.setErr(err)
			return
		}
		atomic.AddInt64(&p.blocksDecoded, 1)
	}
}

// PlaybackAdapter feeds the playback driver callback from the decoded-frame
// relay. On underrun it zero-fills the driver buffer and counts the gap; it
// never blocks the real-time thread.
type PlaybackAdapter struct {
	// Atomic fields MUST be first for ARM32 alignment (int64 fields need 8-byte alignment)
	framesPlayed  int64
	underruns     int64
	stopRequested int32

	relay    *FrameRelay
	channels int
}

// NewPlaybackAdapter creates an adapter popping from relay.
func NewPlaybackAdapter(relay *FrameRelay, channels int) *PlaybackAdapter {
	if channels < 1 {
		channels = 1
	}
	return &PlaybackAdapter{
		relay:    relay,
		channels: channels,
	}
}

// OnAudioRequest fills dst with the next decoded frame. Implements the
// playback side of the stream callback contract.
func (a *PlaybackAdapter) OnAudioRequest(dst []float32, frames int) DataCallbackResult {
	if atomic.LoadInt32(&a.stopRequested) == 1 {
		return DataCallbackStop
	}

	want := frames * a.channels
	if want > len(dst) {
		want = len(dst)
	}

	n, ok := a.relay.TryPop(dst[:want])
	if !ok {
		n = 0
	}
	for i := n; i < want; i++ {
		dst[i] = 0
	}
	if ok {
		atomic.AddInt64(&a.framesPlayed, 1)
	} else {
		atomic.AddInt64(&a.underruns, 1)
	}

	return DataCallbackContinue
}

// RequestStop makes the next callback return DataCallbackStop.
func (a *PlaybackAdapter) RequestStop() {
	atomic.StoreInt32(&a.stopRequested, 1)
}

// Stats returns frames played and underruns.
func (a *PlaybackAdapter) Stats() (played, underruns int64) {
	return atomic.LoadInt64(&a.framesPlayed), atomic.LoadInt64(&a.underruns)
}

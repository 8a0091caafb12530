package audio

import (
	"sync/atomic"
	"time"
)

// DataCallbackResult is the continue/stop signal returned to the audio driver
// from a stream callback.
type DataCallbackResult int

const (
	DataCallbackContinue DataCallbackResult = iota
	DataCallbackStop
)

// AudioStreamCallback is the capability implemented by capture adapters. The
// driver invokes OnAudioReady on its real-time thread with a transient buffer
// of interleaved float32 samples; the buffer is recycled after the call
// returns, so implementations must copy out anything they keep.
//
// OnAudioReady runs under a hard deadline on the order of one frame duration.
// Implementations must not allocate, lock, perform I/O, or let a panic escape.
type AudioStreamCallback interface {
	OnAudioReady(buf []float32, frames int) DataCallbackResult
}

// CaptureAdapter receives driver frames and hands them to a FrameRelay. Its
// only work on the real-time thread is one bounded copy into a pre-allocated
// relay slot plus a handful of atomic updates. When the relay is full the
// incoming frame is dropped and counted; the callback never blocks.
type CaptureAdapter struct {
	// Atomic fields MUST be first for ARM32 alignment (int64 fields need 8-byte alignment)
	framesDelivered int64
	framesDropped   int64
	lastFrameNanos  int64
	stopRequested   int32

	relay    *FrameRelay
	channels int
}

// NewCaptureAdapter creates an adapter feeding the given relay. channels is
// the interleave factor of the incoming buffers.
func NewCaptureAdapter(relay *FrameRelay, channels int) *CaptureAdapter {
	if channels < 1 {
		channels = 1
	}
	return &CaptureAdapter{
		relay:    relay,
		channels: channels,
	}
}

// OnAudioReady implements AudioStreamCallback.
func (a *CaptureAdapter) OnAudioReady(buf []float32, frames int) DataCallbackResult {
	if atomic.LoadInt32(&a.stopRequested) == 1 {
		return DataCallbackStop
	}

	n := frames * a.channels
	if n > len(buf) {
		n = len(buf)
	}

	if a.relay.TryPush(buf[:n]) {
		atomic.AddInt64(&a.framesDelivered, 1)
	} else {
		atomic.AddInt64(&a.framesDropped, 1)
	}
	atomic.StoreInt64(&a.lastFrameNanos, time.Now().UnixNano())

	return DataCallbackContinue
}

// RequestStop makes the next callback return DataCallbackStop. Frames already
// pushed stay in the relay for the worker to drain.
func (a *CaptureAdapter) RequestStop() {
	atomic.StoreInt32(&a.stopRequested, 1)
}

// Stats returns the frames delivered to the relay, the frames dropped by the
// overflow policy, and the wall clock time of the last callback.
func (a *CaptureAdapter) Stats() (delivered, dropped int64, lastFrame time.Time) {
	delivered = atomic.LoadInt64(&a.framesDelivered)
	dropped = atomic.LoadInt64(&a.framesDropped)
	if nanos := atomic.LoadInt64(&a.lastFrameNanos); nanos > 0 {
		lastFrame = time.Unix(0, nanos)
	}
	return delivered, dropped, lastFrame
}

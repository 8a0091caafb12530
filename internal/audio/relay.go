package audio

import (
	"context"
	"sync/atomic"
	"time"
)

// FrameRelay is a bounded single-producer/single-consumer queue of PCM frames
// between the real-time capture callback and the compression worker.
//
// All slot storage is allocated once at construction. TryPush copies the
// incoming driver buffer into the next free slot and publishes it with a single
// atomic store, so the producer side is wait-free: no locks, no allocation, no
// channel send. The consumer side copies the frame out of the slot before
// advancing, which keeps slot ownership trivial (a slot is writable again the
// moment head passes it).
//
// Overflow policy: TryPush never blocks and never evicts. When the ring is full
// the push fails and the caller drops the incoming (newest) frame. Frames
// already accepted are therefore never lost, which is what makes the drain-on-
// stop guarantee deterministic.
type FrameRelay struct {
	// Atomic fields MUST be first for ARM32 alignment (int64 fields need 8-byte alignment)
	tail int64 // next slot to write (producer only)
	head int64 // next slot to read (consumer only)

	capacity int
	slotLen  int // interleaved samples per slot

	slots    [][]float32
	slotUsed []int32 // valid sample count per slot, written before publish

	// Notification channels, capacity 1, signalled with non-blocking sends so
	// neither side ever parks on them.
	frames chan struct{} // producer -> consumer: a frame was published
	space  chan struct{} // consumer -> producer: a slot was freed
}

// NewFrameRelay creates a relay with the given slot count and per-slot sample
// capacity (interleaved samples, i.e. frames x channels).
func NewFrameRelay(capacity, slotLen int) *FrameRelay {
	if capacity < 1 {
		capacity = 1
	}
	if slotLen < 1 {
		slotLen = 1
	}

	slots := make([][]float32, capacity)
	for i := range slots {
		slots[i] = make([]float32, slotLen)
	}

	return &FrameRelay{
		capacity: capacity,
		slotLen:  slotLen,
		slots:    slots,
		slotUsed: make([]int32, capacity),
		frames:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
}

// TryPush copies samples into the next free slot. It returns false when the
// ring is full or the frame does not fit a slot. Wait-free; safe to call from
// the real-time audio thread.
func (r *FrameRelay) TryPush(samples []float32) bool {
	if len(samples) > r.slotLen {
		return false
	}

	tail := atomic.LoadInt64(&r.tail)
	head := atomic.LoadInt64(&r.head)
	if tail-head >= int64(r.capacity) {
		return false
	}

	idx := int(tail % int64(r.capacity))
	copy(r.slots[idx], samples)
	atomic.StoreInt32(&r.slotUsed[idx], int32(len(samples)))
	atomic.StoreInt64(&r.tail, tail+1)

	select {
	case r.frames <- struct{}{}:
	default:
	}
	return true
}

// TryPop copies the oldest frame into dst and returns its sample count. It
// returns false when the relay is empty. dst must be at least one slot long.
func (r *FrameRelay) TryPop(dst []float32) (int, bool) {
	head := atomic.LoadInt64(&r.head)
	tail := atomic.LoadInt64(&r.tail)
	if head >= tail {
		return 0, false
	}

	idx := int(head % int64(r.capacity))
	n := int(atomic.LoadInt32(&r.slotUsed[idx]))
	if n > len(dst) {
		n = len(dst)
	}
	copy(dst[:n], r.slots[idx][:n])
	atomic.StoreInt64(&r.head, head+1)

	select {
	case r.space <- struct{}{}:
	default:
	}
	return n, true
}

// Pop blocks until a frame is available or the context is cancelled. A
// cancelled context wins even while frames are queued, so a stopping consumer
// always lands in its TryPop drain path. Intended for the non-real-time
// consumer only.
func (r *FrameRelay) Pop(ctx context.Context, dst []float32) (int, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		if n, ok := r.TryPop(dst); ok {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-r.frames:
		case <-time.After(10 * time.Millisecond):
			// Wakeup fallback in case a notification was coalesced.
		}
	}
}

// Push blocks until the frame was accepted or the context is cancelled.
// Intended for non-real-time producers (the playback decode path); the capture
// callback must only ever use TryPush.
func (r *FrameRelay) Push(ctx context.Context, samples []float32) error {
	for {
		if r.TryPush(samples) {
			return nil
		}
		if len(samples) > r.slotLen {
			return ErrFrameTooLarge
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.space:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Len returns the number of frames currently queued.
func (r *FrameRelay) Len() int {
	tail := atomic.LoadInt64(&r.tail)
	head := atomic.LoadInt64(&r.head)
	return int(tail - head)
}

// Cap returns the slot count of the relay.
func (r *FrameRelay) Cap() int {
	return r.capacity
}

// SlotLen returns the interleaved sample capacity of one slot.
func (r *FrameRelay) SlotLen() int {
	return r.slotLen
}

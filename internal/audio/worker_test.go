package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink collects blocks in memory for assertions.
type memorySink struct {
	mutex  sync.Mutex
	blocks []*Block
	err    error
}

func (s *memorySink) WriteBlock(b *Block) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.err != nil {
		return s.err
	}
	payload := make([]byte, len(b.Payload))
	copy(payload, b.Payload)
	clone := *b
	clone.Payload = payload
	s.blocks = append(s.blocks, &clone)
	return nil
}

func (s *memorySink) Blocks() []*Block {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]*Block, len(s.blocks))
	copy(out, s.blocks)
	return out
}

// failingCodec always fails to encode.
type failingCodec struct {
	*PCM16Codec
}

func (failingCodec) Encode([]float32) ([]byte, error) {
	return nil, &EncodeError{Codec: "test", Err: errors.New("forced failure")}
}

func TestCompressionWorker(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func(t *testing.T)
	}{
		{"EncodesInOrder", testWorkerEncodesInOrder},
		{"StopDrainsInFlightFrames", testWorkerStopDrains},
		{"DoubleStartAndStop", testWorkerDoubleStartStop},
		{"ConsecutiveErrorCap", testWorkerConsecutiveErrorCap},
		{"DrainHonorsErrorCap", testWorkerDrainHonorsErrorCap},
		{"MutedSubstitutesSilence", testWorkerMutedSilence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.testFunc(t)
		})
	}
}

func waitForBlocks(t *testing.T, sink *memorySink, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.Blocks()) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d blocks, got %d", want, len(sink.Blocks()))
}

func testWorkerEncodesInOrder(t *testing.T) {
	cfg := testConfig()
	relay := NewFrameRelay(16, cfg.TotalSamples())
	sink := &memorySink{}
	worker := NewCompressionWorker(relay, NewPCM16Codec(cfg), sink)

	require.NoError(t, worker.Start())
	defer worker.Stop()

	frame := make([]float32, cfg.TotalSamples())
	for i := 0; i < 5; i++ {
		frame[0] = float32(i) / 10
		require.True(t, relay.TryPush(frame))
	}

	waitForBlocks(t, sink, 5)
	blocks := sink.Blocks()
	codec := NewPCM16Codec(cfg)
	dst := make([]float32, cfg.TotalSamples())
	for i, block := range blocks[:5] {
		assert.Equal(t, CodecPCM16, block.Codec)
		assert.Equal(t, uint32(i), block.Seq)
		n, err := codec.Decode(block.Payload, dst)
		require.NoError(t, err)
		require.Equal(t, cfg.TotalSamples(), n)
		assert.InDelta(t, float32(i)/10, dst[0], 1.0/32768, "frame order violated at block %d", i)
	}
}

func testWorkerStopDrains(t *testing.T) {
	cfg := testConfig()
	relay := NewFrameRelay(16, cfg.TotalSamples())
	sink := &memorySink{}
	worker := NewCompressionWorker(relay, NewPCM16Codec(cfg), sink)

	// Queue N frames before the worker ever runs, then start and immediately
	// stop: the drain policy requires exactly N deliveries, not a
	// race-dependent count.
	const inFlight = 7
	frame := make([]float32, cfg.TotalSamples())
	for i := 0; i < inFlight; i++ {
		require.True(t, relay.TryPush(frame))
	}

	require.NoError(t, worker.Start())
	worker.Stop()

	assert.Len(t, sink.Blocks(), inFlight)
	assert.Equal(t, 0, relay.Len())
}

func testWorkerDoubleStartStop(t *testing.T) {
	cfg := testConfig()
	relay := NewFrameRelay(4, cfg.TotalSamples())
	worker := NewCompressionWorker(relay, NewPCM16Codec(cfg), &memorySink{})

	require.NoError(t, worker.Start())
	assert.ErrorIs(t, worker.Start(), ErrPipelineAlreadyRunning)

	worker.Stop()
	worker.Stop() // idempotent
}

func testWorkerConsecutiveErrorCap(t *testing.T) {
	cfg := testConfig()
	relay := NewFrameRelay(32, cfg.TotalSamples())
	sink := &memorySink{}
	worker := NewCompressionWorker(relay, failingCodec{NewPCM16Codec(cfg)}, sink)

	require.NoError(t, worker.Start())
	defer worker.Stop()

	frame := make([]float32, cfg.TotalSamples())
	for i := 0; i < maxConsecutiveEncodeErrors+5; i++ {
		relay.TryPush(frame)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, errCount, _ := worker.Stats()
		if errCount >= maxConsecutiveEncodeErrors {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, errCount, _ := worker.Stats()
	assert.GreaterOrEqual(t, errCount, int64(maxConsecutiveEncodeErrors))
	assert.Empty(t, sink.Blocks())
}

func testWorkerDrainHonorsErrorCap(t *testing.T) {
	cfg := testConfig()
	relay := NewFrameRelay(16, cfg.TotalSamples())
	sink := &memorySink{}
	worker := NewCompressionWorker(relay, failingCodec{NewPCM16Codec(cfg)}, sink)

	// Fill the relay before the worker runs, then stop immediately: most
	// frames flow through the cancel-drain pass, which must give up at the
	// consecutive-error cap instead of logging once per remaining frame.
	frame := make([]float32, cfg.TotalSamples())
	for i := 0; i < 16; i++ {
		require.True(t, relay.TryPush(frame))
	}

	require.NoError(t, worker.Start())
	worker.Stop()

	_, errCount, _ := worker.Stats()
	assert.Equal(t, int64(maxConsecutiveEncodeErrors), errCount)
	assert.Equal(t, 16-maxConsecutiveEncodeErrors, relay.Len())
	assert.Empty(t, sink.Blocks())
}

func testWorkerMutedSilence(t *testing.T) {
	cfg := testConfig()
	relay := NewFrameRelay(4, cfg.TotalSamples())
	sink := &memorySink{}
	worker := NewCompressionWorker(relay, NewPCM16Codec(cfg), sink)

	SetMuted(true)
	defer SetMuted(false)

	require.NoError(t, worker.Start())

	frame := sineFrame(cfg, 440)
	require.True(t, relay.TryPush(frame))

	waitForBlocks(t, sink, 1)
	worker.Stop()

	codec := NewPCM16Codec(cfg)
	dst := make([]float32, cfg.TotalSamples())
	n, err := codec.Decode(sink.Blocks()[0].Payload, dst)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.Zero(t, dst[i], "muted block must carry silence")
	}
}

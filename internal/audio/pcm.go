package audio

import (
	"encoding/binary"
	"errors"
)

// PCM16Codec is the lossless mode: interleaved float32 samples quantized to
// little-endian int16. Round trips are exact to within one quantization step
// (1/32768). It exists for lossless capture and for deterministic tests of the
// block path.
type PCM16Codec struct {
	frameSamples int
	channels     int
}

// NewPCM16Codec creates a PCM16 codec for the given pipeline configuration.
func NewPCM16Codec(cfg AudioConfig) *PCM16Codec {
	return &PCM16Codec{
		frameSamples: cfg.FrameSamples(),
		channels:     cfg.Channels,
	}
}

func (c *PCM16Codec) ID() CodecID {
	return CodecPCM16
}

func (c *PCM16Codec) FrameSamples() int {
	return c.frameSamples
}

func (c *PCM16Codec) Channels() int {
	return c.channels
}

// Encode quantizes samples to int16 little-endian bytes. Samples outside
// [-1, 1] are clamped.
func (c *PCM16Codec) Encode(pcm []float32) ([]byte, error) {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out, nil
}

// Decode expands int16 little-endian bytes back into float32 samples.
func (c *PCM16Codec) Decode(data []byte, dst []float32) (int, error) {
	if len(data)%2 != 0 {
		return 0, &DecodeError{Codec: "pcm16", Err: errors.New("odd payload length")}
	}
	n := len(data) / 2
	if n > len(dst) {
		return 0, &DecodeError{Codec: "pcm16", Err: errors.New("payload larger than frame buffer")}
	}
	for i := 0; i < n; i++ {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return n, nil
}

package audio

import (
	"errors"
	"fmt"

	"layeh.com/gopus"
)

// maxOpusPacketSize bounds one encoded Opus packet. Generous for voice
// bitrates; the encoder fails cleanly if a packet would exceed it.
const maxOpusPacketSize = 4000

// OpusCodec is the lossy default. Scratch int16 buffers are reused across
// calls, so one instance must stay confined to its worker goroutine.
type OpusCodec struct {
	enc *gopus.Encoder
	dec *gopus.Decoder

	frameSamples int
	channels     int

	encScratch []int16
}

// NewOpusCodec creates an Opus encoder/decoder pair for the given pipeline
// configuration. Opus only accepts certain sample rates and frame durations;
// the quality presets all satisfy them.
func NewOpusCodec(cfg AudioConfig) (*OpusCodec, error) {
	enc, err := gopus.NewEncoder(cfg.SampleRate, cfg.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	enc.SetBitrate(cfg.Bitrate * 1000)

	dec, err := gopus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	return &OpusCodec{
		enc:          enc,
		dec:          dec,
		frameSamples: cfg.FrameSamples(),
		channels:     cfg.Channels,
		encScratch:   make([]int16, cfg.FrameSamples()*cfg.Channels),
	}, nil
}

func (c *OpusCodec) ID() CodecID {
	return CodecOpus
}

func (c *OpusCodec) FrameSamples() int {
	return c.frameSamples
}

func (c *OpusCodec) Channels() int {
	return c.channels
}

// Encode compresses one interleaved PCM frame into an Opus packet.
func (c *OpusCodec) Encode(pcm []float32) ([]byte, error) {
	want := c.frameSamples * c.channels
	if len(pcm) != want {
		return nil, &EncodeError{
			Codec: "opus",
			Err:   fmt.Errorf("frame has %d samples, encoder expects %d", len(pcm), want),
		}
	}

	for i, s := range pcm {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		c.encScratch[i] = int16(s * 32767)
	}

	packet, err := c.enc.Encode(c.encScratch, c.frameSamples, maxOpusPacketSize)
	if err != nil {
		return nil, &EncodeError{Codec: "opus", Err: err}
	}
	return packet, nil
}

// Decode decompresses an Opus packet into dst.
func (c *OpusCodec) Decode(data []byte, dst []float32) (int, error) {
	if len(data) == 0 {
		return 0, &DecodeError{Codec: "opus", Err: errors.New("empty packet")}
	}

	pcm, err := c.dec.Decode(data, c.frameSamples, false)
	if err != nil {
		return 0, &DecodeError{Codec: "opus", Err: err}
	}
	if len(pcm) > len(dst) {
		return 0, &DecodeError{Codec: "opus", Err: errors.New("decoded frame larger than frame buffer")}
	}
	for i, s := range pcm {
		dst[i] = float32(s) / 32768
	}
	return len(pcm), nil
}

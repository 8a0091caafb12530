package audio

import "fmt"

// CodecID identifies a codec inside compressed block headers.
type CodecID uint8

const (
	CodecPCM16 CodecID = iota
	CodecOpus
)

func (id CodecID) String() string {
	switch id {
	case CodecPCM16:
		return "pcm16"
	case CodecOpus:
		return "opus"
	default:
		return fmt.Sprintf("codec(%d)", uint8(id))
	}
}

// Codec compresses PCM frames into block payloads and back. Implementations
// are stateful (Opus carries encoder state across frames) and are owned by a
// single worker goroutine; they are not safe for concurrent use.
type Codec interface {
	ID() CodecID
	// FrameSamples returns the samples per channel the codec expects per frame.
	FrameSamples() int
	Channels() int
	// Encode compresses one interleaved PCM frame into a new payload.
	Encode(pcm []float32) ([]byte, error)
	// Decode decompresses a payload into dst and returns the interleaved
	// sample count. dst must hold at least FrameSamples x Channels samples.
	Decode(data []byte, dst []float32) (int, error)
}

// EncodeError reports a codec failure on the compression path. It is counted
// and logged by the worker and never reaches the real-time thread.
type EncodeError struct {
	Codec string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s encode: %v", e.Codec, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DecodeError reports malformed or truncated compressed input. It is surfaced
// to the caller of the decode path.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewCodec constructs the codec for the given id and pipeline configuration.
func NewCodec(id CodecID, cfg AudioConfig) (Codec, error) {
	switch id {
	case CodecPCM16:
		return NewPCM16Codec(cfg), nil
	case CodecOpus:
		return NewOpusCodec(cfg)
	default:
		return nil, fmt.Errorf("unknown codec id %d", uint8(id))
	}
}

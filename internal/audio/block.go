package audio

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	blockMagicNumber uint32 = 0x4F524142 // "ORAB" (Offline Radio Audio Block)
	blockVersion     uint8  = 1

	// blockHeaderSize is the fixed header: 4+1+1+4+8+4 bytes.
	blockHeaderSize = 22

	// maxBlockPayload bounds one block payload. Larger lengths in a header are
	// treated as corruption, not as a request to allocate.
	maxBlockPayload = 16 * 1024
)

// Block is one compressed audio record: the unit written to sinks and carried
// over the mesh transport.
type Block struct {
	Codec     CodecID
	Seq       uint32
	Timestamp int64 // capture time, unix nanoseconds
	Payload   []byte
}

// BlockWriter frames blocks onto an io.Writer. Sequence numbers are assigned
// monotonically per writer so consumers can verify delivery order.
type BlockWriter struct {
	w      io.Writer
	seq    uint32
	header [blockHeaderSize]byte
}

// NewBlockWriter creates a block writer over w.
func NewBlockWriter(w io.Writer) *BlockWriter {
	return &BlockWriter{w: w}
}

// WriteBlock frames and writes one payload. The payload is copied to the
// underlying writer before return; the caller may reuse it.
func (bw *BlockWriter) WriteBlock(codec CodecID, timestamp int64, payload []byte) error {
	if len(payload) > maxBlockPayload {
		return fmt.Errorf("block payload %d exceeds limit %d", len(payload), maxBlockPayload)
	}

	binary.BigEndian.PutUint32(bw.header[0:4], blockMagicNumber)
	bw.header[4] = blockVersion
	bw.header[5] = uint8(codec)
	binary.BigEndian.PutUint32(bw.header[6:10], bw.seq)
	binary.BigEndian.PutUint64(bw.header[10:18], uint64(timestamp))
	binary.BigEndian.PutUint32(bw.header[18:22], uint32(len(payload)))

	if _, err := bw.w.Write(bw.header[:]); err != nil {
		return fmt.Errorf("write block header: %w", err)
	}
	if _, err := bw.w.Write(payload); err != nil {
		return fmt.Errorf("write block payload: %w", err)
	}

	bw.seq++
	return nil
}

// Seq returns the sequence number the next block will carry.
func (bw *BlockWriter) Seq() uint32 {
	return bw.seq
}

// BlockReader parses framed blocks from an io.Reader. A clean EOF on a block
// boundary returns io.EOF; anything malformed or truncated returns *DecodeError.
type BlockReader struct {
	r      io.Reader
	header [blockHeaderSize]byte
}

// NewBlockReader creates a block reader over r.
func NewBlockReader(r io.Reader) *BlockReader {
	return &BlockReader{r: r}
}

// ReadBlock reads and validates the next block.
func (br *BlockReader) ReadBlock() (*Block, error) {
	if _, err := io.ReadFull(br.r, br.header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &DecodeError{Codec: "block", Err: fmt.Errorf("truncated header: %w", err)}
	}

	if magic := binary.BigEndian.Uint32(br.header[0:4]); magic != blockMagicNumber {
		return nil, &DecodeError{Codec: "block", Err: fmt.Errorf("bad magic 0x%08X", magic)}
	}
	if version := br.header[4]; version != blockVersion {
		return nil, &DecodeError{Codec: "block", Err: fmt.Errorf("unsupported version %d", version)}
	}

	length := binary.BigEndian.Uint32(br.header[18:22])
	if length > maxBlockPayload {
		return nil, &DecodeError{Codec: "block", Err: fmt.Errorf("payload length %d exceeds limit %d", length, maxBlockPayload)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(br.r, payload); err != nil {
		return nil, &DecodeError{Codec: "block", Err: fmt.Errorf("truncated payload: %w", err)}
	}

	return &Block{
		Codec:     CodecID(br.header[5]),
		Seq:       binary.BigEndian.Uint32(br.header[6:10]),
		Timestamp: int64(binary.BigEndian.Uint64(br.header[10:18])),
		Payload:   payload,
	}, nil
}

// MarshalBlock frames one block into a standalone datagram, for transports
// that carry one block per packet.
func MarshalBlock(b *Block) ([]byte, error) {
	if len(b.Payload) > maxBlockPayload {
		return nil, fmt.Errorf("block payload %d exceeds limit %d", len(b.Payload), maxBlockPayload)
	}
	out := make([]byte, blockHeaderSize+len(b.Payload))
	binary.BigEndian.PutUint32(out[0:4], blockMagicNumber)
	out[4] = blockVersion
	out[5] = uint8(b.Codec)
	binary.BigEndian.PutUint32(out[6:10], b.Seq)
	binary.BigEndian.PutUint64(out[10:18], uint64(b.Timestamp))
	binary.BigEndian.PutUint32(out[18:22], uint32(len(b.Payload)))
	copy(out[blockHeaderSize:], b.Payload)
	return out, nil
}

// UnmarshalBlock parses a standalone datagram produced by MarshalBlock.
func UnmarshalBlock(data []byte) (*Block, error) {
	if len(data) < blockHeaderSize {
		return nil, &DecodeError{Codec: "block", Err: fmt.Errorf("datagram too short: %d bytes", len(data))}
	}
	if magic := binary.BigEndian.Uint32(data[0:4]); magic != blockMagicNumber {
		return nil, &DecodeError{Codec: "block", Err: fmt.Errorf("bad magic 0x%08X", magic)}
	}
	if version := data[4]; version != blockVersion {
		return nil, &DecodeError{Codec: "block", Err: fmt.Errorf("unsupported version %d", version)}
	}
	length := binary.BigEndian.Uint32(data[18:22])
	if length > maxBlockPayload {
		return nil, &DecodeError{Codec: "block", Err: fmt.Errorf("payload length %d exceeds limit %d", length, maxBlockPayload)}
	}
	if int(length) != len(data)-blockHeaderSize {
		return nil, &DecodeError{Codec: "block", Err: fmt.Errorf("payload length %d does not match datagram size %d", length, len(data)-blockHeaderSize)}
	}

	payload := make([]byte, length)
	copy(payload, data[blockHeaderSize:])
	return &Block{
		Codec:     CodecID(data[5]),
		Seq:       binary.BigEndian.Uint32(data[6:10]),
		Timestamp: int64(binary.BigEndian.Uint64(data[10:18])),
		Payload:   payload,
	}, nil
}

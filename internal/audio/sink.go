package audio

import "io"

// BlockSink consumes compressed blocks from a worker. Implementations may
// block; they run on the worker goroutine, never on the real-time thread.
type BlockSink interface {
	WriteBlock(b *Block) error
}

// BlockSource yields compressed blocks to the decode path. ReadBlock returns
// io.EOF when the stream ends cleanly and *DecodeError on corruption. A
// source that can block indefinitely must provide some way to end the read
// when its consumer stops (see the NewPlaybackStream contract).
type BlockSource interface {
	ReadBlock() (*Block, error)
}

// WriterSink frames blocks onto an io.Writer (file, pipe, network stream).
type WriterSink struct {
	bw *BlockWriter
}

// NewWriterSink creates a sink over w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{bw: NewBlockWriter(w)}
}

// WriteBlock implements BlockSink. The writer assigns its own sequence
// numbers, so blocks fan out of one sink in strict delivery order.
func (s *WriterSink) WriteBlock(b *Block) error {
	return s.bw.WriteBlock(b.Codec, b.Timestamp, b.Payload)
}

// ReaderSource parses framed blocks from an io.Reader.
type ReaderSource struct {
	br *BlockReader
}

// NewReaderSource creates a source over r.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{br: NewBlockReader(r)}
}

// ReadBlock implements BlockSource.
func (s *ReaderSource) ReadBlock() (*Block, error) {
	return s.br.ReadBlock()
}

package audio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockFraming(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func(t *testing.T)
	}{
		{"WriteReadRoundTrip", testBlockWriteReadRoundTrip},
		{"SequenceNumbers", testBlockSequenceNumbers},
		{"CleanEOF", testBlockCleanEOF},
		{"BadMagic", testBlockBadMagic},
		{"TruncatedHeader", testBlockTruncatedHeader},
		{"TruncatedPayload", testBlockTruncatedPayload},
		{"OversizedLength", testBlockOversizedLength},
		{"Datagram", testBlockDatagram},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.testFunc(t)
		})
	}
}

func testBlockWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bw := NewBlockWriter(&buf)

	require.NoError(t, bw.WriteBlock(CodecOpus, 1234567890, []byte{0xAA, 0xBB, 0xCC}))

	br := NewBlockReader(&buf)
	block, err := br.ReadBlock()
	require.NoError(t, err)
	assert.Equal(t, CodecOpus, block.Codec)
	assert.Equal(t, uint32(0), block.Seq)
	assert.Equal(t, int64(1234567890), block.Timestamp)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, block.Payload)
}

func testBlockSequenceNumbers(t *testing.T) {
	var buf bytes.Buffer
	bw := NewBlockWriter(&buf)

	for i := 0; i < 5; i++ {
		require.NoError(t, bw.WriteBlock(CodecPCM16, 0, []byte{byte(i)}))
	}
	assert.Equal(t, uint32(5), bw.Seq())

	br := NewBlockReader(&buf)
	for i := 0; i < 5; i++ {
		block, err := br.ReadBlock()
		require.NoError(t, err)
		assert.Equal(t, uint32(i), block.Seq)
		assert.Equal(t, []byte{byte(i)}, block.Payload)
	}
}

func testBlockCleanEOF(t *testing.T) {
	var buf bytes.Buffer
	bw := NewBlockWriter(&buf)
	require.NoError(t, bw.WriteBlock(CodecPCM16, 0, []byte{1}))

	br := NewBlockReader(&buf)
	_, err := br.ReadBlock()
	require.NoError(t, err)

	// End of stream on a block boundary is io.EOF, not a decode error.
	_, err = br.ReadBlock()
	assert.ErrorIs(t, err, io.EOF)
}

func testBlockBadMagic(t *testing.T) {
	data := make([]byte, blockHeaderSize)
	copy(data, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	br := NewBlockReader(bytes.NewReader(data))
	_, err := br.ReadBlock()

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Error(), "bad magic")
}

func testBlockTruncatedHeader(t *testing.T) {
	var buf bytes.Buffer
	bw := NewBlockWriter(&buf)
	require.NoError(t, bw.WriteBlock(CodecPCM16, 0, []byte{1, 2, 3}))

	truncated := buf.Bytes()[:blockHeaderSize/2]
	br := NewBlockReader(bytes.NewReader(truncated))
	_, err := br.ReadBlock()

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func testBlockTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	bw := NewBlockWriter(&buf)
	require.NoError(t, bw.WriteBlock(CodecPCM16, 0, []byte{1, 2, 3, 4}))

	truncated := buf.Bytes()[:buf.Len()-2]
	br := NewBlockReader(bytes.NewReader(truncated))
	_, err := br.ReadBlock()

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Error(), "truncated payload")
}

func testBlockOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	bw := NewBlockWriter(&buf)
	require.NoError(t, bw.WriteBlock(CodecPCM16, 0, []byte{1}))

	// Corrupt the length field to an absurd value.
	data := buf.Bytes()
	data[18] = 0xFF
	data[19] = 0xFF
	data[20] = 0xFF
	data[21] = 0xFF

	br := NewBlockReader(bytes.NewReader(data))
	_, err := br.ReadBlock()

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Error(), "exceeds limit")
}

func testBlockDatagram(t *testing.T) {
	original := &Block{
		Codec:     CodecOpus,
		Seq:       42,
		Timestamp: 987654321,
		Payload:   []byte{1, 2, 3, 4, 5},
	}

	data, err := MarshalBlock(original)
	require.NoError(t, err)

	parsed, err := UnmarshalBlock(data)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)

	// Trailing garbage is corruption for one-block datagrams.
	_, err = UnmarshalBlock(append(data, 0x00))
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)

	_, err = UnmarshalBlock(data[:10])
	assert.ErrorAs(t, err, &decodeErr)
}

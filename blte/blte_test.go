package blte

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

// singleChunk builds the headerSize==0 form around one encoded block and
// returns the stream plus the content key addressing it.
func singleChunk(t *testing.T, block []byte) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("BLTE")
	_ = binary.Write(&buf, binary.BigEndian, uint32(0))
	buf.Write(block)

	sum := md5.Sum(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

// multiChunk builds a chunk-table stream from encoded blocks and their
// decoded sizes.
func multiChunk(t *testing.T, blocks [][]byte, decompSizes []uint32) []byte {
	t.Helper()

	headerSize := 8 + 4 + 24*len(blocks)

	var buf bytes.Buffer
	buf.WriteString("BLTE")
	_ = binary.Write(&buf, binary.BigEndian, uint32(headerSize))

	buf.WriteByte(0x0f)
	buf.WriteByte(byte(len(blocks) >> 16))
	buf.WriteByte(byte(len(blocks) >> 8))
	buf.WriteByte(byte(len(blocks)))

	for i, block := range blocks {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(block)))
		_ = binary.Write(&buf, binary.BigEndian, decompSizes[i])
		sum := md5.Sum(block)
		buf.Write(sum[:])
	}
	for _, block := range blocks {
		buf.Write(block)
	}
	return buf.Bytes()
}

func zlibBlock(t *testing.T, payload []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteByte('Z')
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecode_SingleChunkPlain(t *testing.T) {
	assert := require.New(t)

	stream, key := singleChunk(t, append([]byte{'N'}, []byte("hello world")...))

	out, err := Decode(bytes.NewReader(stream), key, true)
	assert.NoError(err)
	assert.Equal([]byte("hello world"), out)
}

func TestDecode_SingleChunkVerifyMismatch(t *testing.T) {
	assert := require.New(t)

	stream, _ := singleChunk(t, append([]byte{'N'}, []byte("hello world")...))

	_, err := Decode(bytes.NewReader(stream), "00000000000000000000000000000000", true)
	assert.ErrorIs(err, ErrVerify)

	// Without verify the key is not checked.
	out, err := Decode(bytes.NewReader(stream), "00000000000000000000000000000000", false)
	assert.NoError(err)
	assert.Equal([]byte("hello world"), out)
}

func TestDecode_MultiChunk(t *testing.T) {
	assert := require.New(t)

	first := append([]byte{'N'}, []byte("first ")...)
	second := zlibBlock(t, []byte("second"))
	stream := multiChunk(t, [][]byte{first, second}, []uint32{6, 6})

	out, err := Decode(bytes.NewReader(stream), "unused", true)
	assert.NoError(err)
	assert.Equal([]byte("first second"), out)
}

func TestDecode_MultiChunkCorruptBlock(t *testing.T) {
	assert := require.New(t)

	block := append([]byte{'N'}, []byte("payload")...)
	stream := multiChunk(t, [][]byte{block}, []uint32{7})

	// Flip a byte inside the block; the table checksum no longer matches.
	stream[len(stream)-1] ^= 0xff

	_, err := Decode(bytes.NewReader(stream), "unused", true)
	assert.ErrorIs(err, ErrVerify)

	out, err := Decode(bytes.NewReader(stream), "unused", false)
	assert.NoError(err)
	assert.Len(out, 7)
}

func TestDecode_MultiChunkDecompSizeMismatch(t *testing.T) {
	assert := require.New(t)

	block := append([]byte{'N'}, []byte("payload")...)
	stream := multiChunk(t, [][]byte{block}, []uint32{99})

	_, err := Decode(bytes.NewReader(stream), "unused", true)
	assert.ErrorIs(err, ErrVerify)
}

func TestDecode_BadMagic(t *testing.T) {
	assert := require.New(t)

	_, err := Decode(bytes.NewReader([]byte("NOPE\x00\x00\x00\x00")), "key", false)
	assert.ErrorIs(err, ErrBadMagic)

	_, err = Decode(bytes.NewReader([]byte("BL")), "key", false)
	assert.ErrorIs(err, ErrBadMagic)
}

func TestDecode_MalformedHeaderSize(t *testing.T) {
	assert := require.New(t)

	// Non-zero header sizes below the fixed header length cannot hold the
	// chunk table and must be rejected, not sliced.
	for size := uint32(1); size < 12; size++ {
		var buf bytes.Buffer
		buf.WriteString("BLTE")
		_ = binary.Write(&buf, binary.BigEndian, size)
		buf.Write([]byte{'N', 'b', 'o', 'd', 'y'})

		_, err := Decode(bytes.NewReader(buf.Bytes()), "unused", false)
		assert.ErrorContains(err, "truncated header", "header size %d", size)
	}
}

func TestDecode_UnsupportedEncoding(t *testing.T) {
	assert := require.New(t)

	stream, key := singleChunk(t, append([]byte{'X'}, []byte("data")...))

	_, err := Decode(bytes.NewReader(stream), key, false)
	assert.ErrorContains(err, "unsupported encoding")
}

func TestDecode_TruncatedBlock(t *testing.T) {
	assert := require.New(t)

	block := append([]byte{'N'}, []byte("payload")...)
	stream := multiChunk(t, [][]byte{block}, []uint32{7})

	_, err := Decode(bytes.NewReader(stream[:len(stream)-2]), "unused", false)
	assert.ErrorContains(err, "truncated")
}

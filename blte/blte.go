// Package blte decodes BLTE-encoded data blobs: a chunk table followed by
// independently encoded blocks. The plain ('N') and zlib ('Z') block
// encodings are supported.
package blte

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

var (
	// ErrBadMagic is returned when the stream does not start with "BLTE".
	ErrBadMagic = errors.New("blte: bad magic")

	// ErrVerify is returned when a checksum does not match in verify mode.
	ErrVerify = errors.New("blte: checksum mismatch")
)

var magic = []byte("BLTE")

// chunk is one entry of the chunk table.
type chunk struct {
	compSize   uint32
	decompSize uint32
	checksum   [md5.Size]byte
}

// Decode reads a BLTE stream and returns the concatenated decoded blocks.
// key is the content key the blob is addressed by. With verify set, the
// per-chunk md5s and decompressed sizes are checked, and for the
// single-chunk form the whole encoded payload is checked against key.
func Decode(r io.Reader, key string, verify bool) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("blte: reading stream: %w", err)
	}

	if len(data) < 8 || !bytes.Equal(data[:4], magic) {
		return nil, ErrBadMagic
	}
	headerSize := binary.BigEndian.Uint32(data[4:8])

	if headerSize == 0 {
		// Single chunk: the remainder of the stream is one encoded block
		// and the content key addresses the entire encoded payload.
		if verify {
			if hex.EncodeToString(sum(data)) != key {
				return nil, fmt.Errorf("%w: encoded payload does not match key %s", ErrVerify, key)
			}
		}
		return decodeBlock(data[8:], 0, verify, nil)
	}

	// The smallest non-zero header is magic + size + flags + uint24 count.
	if headerSize < 12 {
		return nil, fmt.Errorf("blte: truncated header, size %d", headerSize)
	}
	if int(headerSize) > len(data) {
		return nil, fmt.Errorf("blte: header size %d exceeds stream length %d", headerSize, len(data))
	}

	// Chunk table: flags byte, uint24 BE count, then 24-byte entries.
	table := data[8:headerSize]
	count := int(table[1])<<16 | int(table[2])<<8 | int(table[3])
	table = table[4:]

	if len(table) < count*24 {
		return nil, fmt.Errorf("blte: chunk table has %d bytes, need %d", len(table), count*24)
	}

	chunks := make([]chunk, count)
	for i := range chunks {
		entry := table[i*24 : (i+1)*24]
		chunks[i].compSize = binary.BigEndian.Uint32(entry[0:4])
		chunks[i].decompSize = binary.BigEndian.Uint32(entry[4:8])
		copy(chunks[i].checksum[:], entry[8:24])
	}

	var out bytes.Buffer
	blocks := data[headerSize:]
	for i, c := range chunks {
		if uint32(len(blocks)) < c.compSize {
			return nil, fmt.Errorf("blte: block %d truncated: have %d bytes, need %d", i, len(blocks), c.compSize)
		}
		block := blocks[:c.compSize]
		blocks = blocks[c.compSize:]

		decoded, err := decodeBlock(block, i, verify, &c)
		if err != nil {
			return nil, err
		}
		out.Write(decoded)
	}

	return out.Bytes(), nil
}

// decodeBlock decodes one encoded block. c is nil for the single-chunk form.
func decodeBlock(block []byte, i int, verify bool, c *chunk) ([]byte, error) {
	if len(block) == 0 {
		return nil, fmt.Errorf("blte: block %d is empty", i)
	}

	if verify && c != nil {
		if md5.Sum(block) != c.checksum {
			return nil, fmt.Errorf("%w: block %d", ErrVerify, i)
		}
	}

	mode, body := block[0], block[1:]
	var decoded []byte
	switch mode {
	case 'N':
		decoded = body
	case 'Z':
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("blte: block %d: %w", i, err)
		}
		defer func() { _ = zr.Close() }()
		decoded, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("blte: block %d: %w", i, err)
		}
	default:
		return nil, fmt.Errorf("blte: block %d has unsupported encoding %q", i, mode)
	}

	if verify && c != nil && uint32(len(decoded)) != c.decompSize {
		return nil, fmt.Errorf("%w: block %d decoded to %d bytes, expected %d", ErrVerify, i, len(decoded), c.decompSize)
	}

	return decoded, nil
}

func sum(data []byte) []byte {
	s := md5.Sum(data)
	return s[:]
}

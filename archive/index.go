// Package archive parses the .index files that map content keys to their
// size and offset inside a CDN archive.
//
// An index is a sequence of fixed-size blocks of entries, padded with
// zero keys, followed by a table of contents (the last key of each block,
// then a truncated md5 per block) and a 28-byte footer describing the
// layout.
package archive

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrVerify is returned when an index checksum does not match in verify mode.
var ErrVerify = errors.New("archive: checksum mismatch")

const footerSize = 28

// Entry locates one blob inside an archive.
type Entry struct {
	Key    string
	Size   uint32
	Offset uint32
}

// Index is a parsed archive index.
type Index struct {
	// Key is the content key the index was fetched by.
	Key string

	// Entries holds all index entries in file order.
	Entries []Entry
}

// footer is the decoded trailing layout descriptor.
type footer struct {
	tocHash       [8]byte
	version       byte
	blockSizeKB   byte
	offsetBytes   byte
	sizeBytes     byte
	keyBytes      byte
	checksumBytes byte
	numElements   uint32
	checksum      [8]byte
}

// ParseIndex decodes an index blob fetched by the given content key.
// With verify set, the per-block checksums, the table-of-contents hash
// and the footer checksum are all checked.
func ParseIndex(data []byte, key string, verify bool) (*Index, error) {
	if len(data) < footerSize {
		return nil, fmt.Errorf("archive: index %s is %d bytes, shorter than the footer", key, len(data))
	}

	ftr, err := parseFooter(data[len(data)-footerSize:])
	if err != nil {
		return nil, fmt.Errorf("archive: index %s: %w", key, err)
	}

	blockSize := int(ftr.blockSizeKB) * 1024
	entrySize := int(ftr.keyBytes) + int(ftr.sizeBytes) + int(ftr.offsetBytes)
	entriesPerBlock := blockSize / entrySize
	numBlocks := (int(ftr.numElements) + entriesPerBlock - 1) / entriesPerBlock

	tocSize := numBlocks * (int(ftr.keyBytes) + int(ftr.checksumBytes))
	wantLen := numBlocks*blockSize + tocSize + footerSize
	if len(data) != wantLen {
		return nil, fmt.Errorf("archive: index %s is %d bytes, layout requires %d", key, len(data), wantLen)
	}

	blocks := data[:numBlocks*blockSize]
	toc := data[numBlocks*blockSize : numBlocks*blockSize+tocSize]

	if verify {
		if err := verifyIndex(blocks, toc, data[len(data)-footerSize:], ftr, numBlocks, blockSize); err != nil {
			return nil, fmt.Errorf("archive: index %s: %w", key, err)
		}
	}

	idx := &Index{Key: key, Entries: make([]Entry, 0, ftr.numElements)}
	remaining := int(ftr.numElements)
	for b := 0; b < numBlocks; b++ {
		block := blocks[b*blockSize : (b+1)*blockSize]
		for e := 0; e < entriesPerBlock && remaining > 0; e++ {
			raw := block[e*entrySize : (e+1)*entrySize]
			ekey := raw[:ftr.keyBytes]
			if allZero(ekey) {
				break
			}
			size := binary.BigEndian.Uint32(raw[ftr.keyBytes : int(ftr.keyBytes)+int(ftr.sizeBytes)])
			offset := binary.BigEndian.Uint32(raw[int(ftr.keyBytes)+int(ftr.sizeBytes):])
			idx.Entries = append(idx.Entries, Entry{
				Key:    hex.EncodeToString(ekey),
				Size:   size,
				Offset: offset,
			})
			remaining--
		}
	}

	if len(idx.Entries) != int(ftr.numElements) {
		return nil, fmt.Errorf("archive: index %s declares %d entries, found %d", key, ftr.numElements, len(idx.Entries))
	}

	return idx, nil
}

func parseFooter(raw []byte) (*footer, error) {
	ftr := &footer{
		version:       raw[8],
		blockSizeKB:   raw[11],
		offsetBytes:   raw[12],
		sizeBytes:     raw[13],
		keyBytes:      raw[14],
		checksumBytes: raw[15],
		numElements:   binary.LittleEndian.Uint32(raw[16:20]),
	}
	copy(ftr.tocHash[:], raw[0:8])
	copy(ftr.checksum[:], raw[20:28])

	if ftr.version != 1 {
		return nil, fmt.Errorf("unsupported version %d", ftr.version)
	}
	if ftr.offsetBytes != 4 || ftr.sizeBytes != 4 || ftr.keyBytes != 16 || ftr.checksumBytes != 8 {
		return nil, fmt.Errorf("unsupported layout (offset=%d size=%d key=%d checksum=%d)",
			ftr.offsetBytes, ftr.sizeBytes, ftr.keyBytes, ftr.checksumBytes)
	}
	if ftr.blockSizeKB == 0 {
		return nil, fmt.Errorf("zero block size")
	}
	return ftr, nil
}

func verifyIndex(blocks, toc, rawFooter []byte, ftr *footer, numBlocks, blockSize int) error {
	// Per-block checksums live after the per-block last keys.
	checksums := toc[numBlocks*int(ftr.keyBytes):]
	for b := 0; b < numBlocks; b++ {
		sum := md5.Sum(blocks[b*blockSize : (b+1)*blockSize])
		want := checksums[b*int(ftr.checksumBytes) : (b+1)*int(ftr.checksumBytes)]
		if !bytes.Equal(sum[:ftr.checksumBytes], want) {
			return fmt.Errorf("%w: block %d", ErrVerify, b)
		}
	}

	tocSum := md5.Sum(toc)
	if !bytes.Equal(tocSum[:8], ftr.tocHash[:]) {
		return fmt.Errorf("%w: table of contents", ErrVerify)
	}

	// Footer checksum covers the footer with its own checksum zeroed.
	zeroed := make([]byte, footerSize)
	copy(zeroed, rawFooter[:20])
	ftrSum := md5.Sum(zeroed)
	if !bytes.Equal(ftrSum[:8], ftr.checksum[:]) {
		return fmt.Errorf("%w: footer", ErrVerify)
	}

	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Package kindex implements the Katana index: a length-prefixed record
// stream listing every entry by shard id, in-shard offset, size, mtime and
// content hash, compressed with Zstd.
package kindex

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"

	"github.com/blitzarch/katana/internal/kformat"
)

// indexCompressionLevel is the fixed Zstd level used for the index stream,
// independent of the archive's shard codec choice.
const indexCompressionLevel = zstd.SpeedBestCompression

// Entry is one record of the uncompressed index.
type Entry struct {
	Path          string
	ShardID       uint32
	OffsetInShard uint64
	Length        uint64
	MTimeSecs     int64
	MTimeNanos    uint32
	ContentHash   [kformat.HashSize]byte
}

// Encode serializes entries, sorted by Path ascending, into the
// uncompressed record-stream wire format.
func Encode(entries []Entry) []byte {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var buf bytes.Buffer
	for _, e := range sorted {
		pathBytes := []byte(e.Path)
		binary.Write(&buf, binary.LittleEndian, uint16(len(pathBytes)))
		buf.Write(pathBytes)
		binary.Write(&buf, binary.LittleEndian, e.ShardID)
		binary.Write(&buf, binary.LittleEndian, e.OffsetInShard)
		binary.Write(&buf, binary.LittleEndian, e.Length)
		binary.Write(&buf, binary.LittleEndian, e.MTimeSecs)
		binary.Write(&buf, binary.LittleEndian, e.MTimeNanos)
		buf.Write(e.ContentHash[:])
	}
	return buf.Bytes()
}

// Decode parses the uncompressed record stream back into entries.
func Decode(b []byte) ([]Entry, error) {
	var entries []Entry
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, xerrors.Errorf("index: truncated record (path length)")
		}
		pathLen := int(binary.LittleEndian.Uint16(b))
		b = b[2:]
		const fixedTail = 4 + 8 + 8 + 8 + 4 + kformat.HashSize
		if len(b) < pathLen+fixedTail {
			return nil, xerrors.Errorf("index: truncated record")
		}
		var e Entry
		e.Path = string(b[:pathLen])
		b = b[pathLen:]
		e.ShardID = binary.LittleEndian.Uint32(b)
		b = b[4:]
		e.OffsetInShard = binary.LittleEndian.Uint64(b)
		b = b[8:]
		e.Length = binary.LittleEndian.Uint64(b)
		b = b[8:]
		e.MTimeSecs = int64(binary.LittleEndian.Uint64(b))
		b = b[8:]
		e.MTimeNanos = binary.LittleEndian.Uint32(b)
		b = b[4:]
		copy(e.ContentHash[:], b[:kformat.HashSize])
		b = b[kformat.HashSize:]
		entries = append(entries, e)
	}
	return entries, nil
}

// Compress Zstd-compresses the uncompressed index record stream at a fixed
// level, independent of the archive's shard codec choice.
func Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(indexCompressionLevel))
	if err != nil {
		return nil, xerrors.Errorf("index compress: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, xerrors.Errorf("index compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, xerrors.Errorf("index compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(compressed []byte) ([]byte, error) {
	zr, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, xerrors.Errorf("index decompress: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, xerrors.Errorf("index decompress: %w", err)
	}
	return raw, nil
}

// MalformedIndexError wraps a structural failure decoding the index.
type MalformedIndexError struct{ Err error }

func (e *MalformedIndexError) Error() string { return "malformed index: " + e.Err.Error() }
func (e *MalformedIndexError) Unwrap() error { return e.Err }

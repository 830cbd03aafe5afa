// Package shardio implements the per-shard create and extract pipelines:
// streaming file content into a framed record stream, through a codec, and
// (optionally) through AES-256-GCM.
package shardio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"

	"golang.org/x/xerrors"
	"lukechampine.com/blake3"

	"github.com/blitzarch/katana/internal/codec"
	"github.com/blitzarch/katana/internal/kaead"
	"github.com/blitzarch/katana/internal/kentry"
	"github.com/blitzarch/katana/internal/sharder"
)

// MinProducerBuffer is the minimum read-buffer size enforced for every
// shard's producer, regardless of configuration, to avoid pipeline
// starvation.
const MinProducerBuffer = 256 * 1024

// FrameHeaderSize is the size of the per-entry record header:
// [u32 entry_index][u64 length].
const FrameHeaderSize = 4 + 8

// FileResult records where one entry's raw bytes ended up within a shard's
// uncompressed frame stream.
type FileResult struct {
	Entry         kentry.Entry
	OffsetInShard uint64
	Length        uint64
	Hash          [32]byte
}

// BuildResult is a completed shard's manifest plus the bytes to store.
type BuildResult struct {
	ShardID            uint32
	StoredBytes        []byte
	UncompressedLength uint64
	ShardHash          [32]byte
	Encrypted          bool
	Nonce              [kaead.NonceSize]byte
	Tag                [kaead.TagSize]byte
	Files              []FileResult
}

// Build streams every file in shard through the framed record format, a
// codec, and (if key is non-nil) AES-256-GCM, returning the bytes to store
// and the shard/entry manifest. Any I/O or codec error aborts the whole
// shard; callers propagate this as a fatal session error.
func Build(ctx context.Context, shard sharder.Shard, codecCfg codec.Config, key *[kaead.KeySize]byte) (BuildResult, error) {
	var compBuf bytes.Buffer
	cw, err := codecCfg.NewWriter(&compBuf)
	if err != nil {
		return BuildResult{}, xerrors.Errorf("shard %d: %w", shard.ID, err)
	}

	shardHasher := blake3.New(32, nil)
	mw := io.MultiWriter(cw, shardHasher)

	buf := make([]byte, MinProducerBuffer)
	var pos uint64
	files := make([]FileResult, 0, len(shard.Entries))

	for i, e := range shard.Entries {
		if err := ctx.Err(); err != nil {
			return BuildResult{}, err
		}

		var hdr [FrameHeaderSize]byte
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(i))
		binary.LittleEndian.PutUint64(hdr[4:12], e.Size)
		if _, err := mw.Write(hdr[:]); err != nil {
			return BuildResult{}, xerrors.Errorf("shard %d: write frame header: %w", shard.ID, err)
		}
		pos += FrameHeaderSize
		payloadOffset := pos

		f, err := os.Open(e.SourcePath)
		if err != nil {
			return BuildResult{}, xerrors.Errorf("shard %d: open %s: %w", shard.ID, e.SourcePath, err)
		}

		entryHasher := blake3.New(32, nil)
		var written uint64
		for {
			if err := ctx.Err(); err != nil {
				f.Close()
				return BuildResult{}, err
			}
			n, rerr := f.Read(buf)
			if n > 0 {
				if _, werr := mw.Write(buf[:n]); werr != nil {
					f.Close()
					return BuildResult{}, xerrors.Errorf("shard %d: write %s: %w", shard.ID, e.SourcePath, werr)
				}
				entryHasher.Write(buf[:n])
				written += uint64(n)
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				f.Close()
				return BuildResult{}, xerrors.Errorf("shard %d: read %s: %w", shard.ID, e.SourcePath, rerr)
			}
		}
		f.Close()
		pos += written

		var hash [32]byte
		copy(hash[:], entryHasher.Sum(nil))
		files = append(files, FileResult{
			Entry:         e,
			OffsetInShard: payloadOffset,
			Length:        written,
			Hash:          hash,
		})
	}

	if err := cw.Close(); err != nil {
		return BuildResult{}, xerrors.Errorf("shard %d: close codec: %w", shard.ID, err)
	}

	var shardHash [32]byte
	copy(shardHash[:], shardHasher.Sum(nil))

	result := BuildResult{
		ShardID:            shard.ID,
		StoredBytes:        compBuf.Bytes(),
		UncompressedLength: pos,
		ShardHash:          shardHash,
		Files:              files,
	}

	if key != nil {
		sealed, err := kaead.Seal(*key, shard.ID, result.StoredBytes)
		if err != nil {
			return BuildResult{}, xerrors.Errorf("shard %d: seal: %w", shard.ID, err)
		}
		result.Encrypted = true
		result.Nonce = kaead.ShardNonce(shard.ID)
		copy(result.Tag[:], sealed[len(sealed)-kaead.TagSize:])
		result.StoredBytes = sealed
	}

	return result, nil
}

// Decode reverses a shard's stored bytes back into its uncompressed frame
// stream: decrypt-and-authenticate (if key is non-nil), then decompress. The
// codec is identified from the plaintext's own magic header; the container
// carries no separate codec field because both supported codecs are
// self-describing. Any authentication failure is fatal for the shard and
// must surface as AuthFailure to the caller.
func Decode(shardID uint32, stored []byte, key *[kaead.KeySize]byte) ([]byte, error) {
	plain := stored
	if key != nil {
		opened, err := kaead.Open(*key, shardID, stored)
		if err != nil {
			return nil, err
		}
		plain = opened
	}

	kind, err := codec.Detect(plain)
	if err != nil {
		return nil, xerrors.Errorf("shard %d: %w", shardID, err)
	}
	cr, err := (codec.Config{Kind: kind}).NewReader(bytes.NewReader(plain))
	if err != nil {
		return nil, xerrors.Errorf("shard %d: %w", shardID, err)
	}
	defer cr.Close()
	out, err := io.ReadAll(cr)
	if err != nil {
		return nil, xerrors.Errorf("shard %d: decompress: %w", shardID, err)
	}
	return out, nil
}

// ExtractFile returns the length bytes starting at offset within a decoded
// shard's frame stream (a subslice of frameStream, not a copy), along with
// their BLAKE3-256 hash. The
// caller compares the returned hash against the index-recorded hash and
// reports CorruptEntry on mismatch.
func ExtractFile(frameStream []byte, offset, length uint64) (data []byte, hash [32]byte, err error) {
	if offset+length > uint64(len(frameStream)) {
		return nil, hash, xerrors.Errorf("entry range [%d,%d) exceeds shard frame stream of length %d", offset, offset+length, len(frameStream))
	}
	data = frameStream[offset : offset+length]
	h := blake3.New(32, nil)
	h.Write(data)
	copy(hash[:], h.Sum(nil))
	return data, hash, nil
}

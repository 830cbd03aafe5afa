// Package codec implements the small tagged-variant codec abstraction used
// to compress shard streams: Zstd (default) or Lzma2. New codecs extend this
// variant rather than a registered plugin interface.
package codec

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"golang.org/x/xerrors"
)

// Kind identifies which compressor a Config selects.
type Kind int

const (
	Zstd Kind = iota
	Lzma2
)

// Config is the tagged variant {Zstd(level, threads), Lzma2(level)}.
type Config struct {
	Kind Kind
	// Level is the Zstd compression level, -7..22 (fast-negative
	// supported). It is not applied when Kind is Lzma2: the xz writer
	// always runs with its default settings.
	Level int
	// Threads controls the codec's internal worker pool for Zstd; 0 means
	// the codec decides.
	Threads int
}

// NewWriter returns a streaming compressor writing compressed output to w.
// The caller must Close it to flush trailing bytes.
func (c Config) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c.Kind {
	case Lzma2:
		cfg := xz.WriterConfig{}
		xw, err := cfg.NewWriter(w)
		if err != nil {
			return nil, xerrors.Errorf("lzma2 writer: %w", err)
		}
		return xw, nil
	default:
		opts := []zstd.EOption{zstd.WithEncoderLevel(zstdLevel(c.Level))}
		if c.Threads > 0 {
			opts = append(opts, zstd.WithEncoderConcurrency(c.Threads))
		}
		zw, err := zstd.NewWriter(w, opts...)
		if err != nil {
			return nil, xerrors.Errorf("zstd writer: %w", err)
		}
		return zw, nil
	}
}

// NewReader returns a streaming decompressor reading compressed bytes from r.
func (c Config) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c.Kind {
	case Lzma2:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, xerrors.Errorf("lzma2 reader: %w", err)
		}
		return io.NopCloser(xr), nil
	default:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, xerrors.Errorf("zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	}
}

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	xzMagic   = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
)

// Detect identifies which codec produced stored, using each format's own
// magic header. The container footer carries no codec field: both Zstd and
// xz frames are self-describing, so extraction never needs the creator's
// codec choice recorded out of band.
func Detect(stored []byte) (Kind, error) {
	if len(stored) >= len(xzMagic) && string(stored[:len(xzMagic)]) == string(xzMagic) {
		return Lzma2, nil
	}
	if len(stored) >= len(zstdMagic) && string(stored[:len(zstdMagic)]) == string(zstdMagic) {
		return Zstd, nil
	}
	return 0, xerrors.Errorf("unrecognized codec magic")
}

// zstdLevel maps the user-facing -7..22 range onto the klauspost/compress
// named levels, falling back to EncoderLevelFromZstd for the rest of the
// range (it clamps internally).
func zstdLevel(level int) zstd.EncoderLevel {
	if level == 0 {
		return zstd.SpeedDefault
	}
	return zstd.EncoderLevelFromZstd(level)
}

// Package kformat implements the Katana (.blz) container's binary layout:
// the shard region ordering, the compressed index location, and the
// self-locating footer with its CRC32/BLAKE3/HMAC integrity fields.
//
// The write side follows a positioned-I/O, encode-a-struct-then-Write shape
// where a single Write call finalizes the footer once every offset and
// length it references is known.
package kformat

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"golang.org/x/xerrors"
	"lukechampine.com/blake3"
)

const (
	// Magic is the fixed 8-byte container signature.
	Magic = "BLZKTN01"
	// FormatVersion is the current container format version.
	FormatVersion uint16 = 1

	FlagEncrypted       uint16 = 1 << 0
	FlagParanoidPresent uint16 = 1 << 1

	// AlgAES256GCM is the only supported AEAD algorithm id.
	AlgAES256GCM byte = 1

	// HashSize is the BLAKE3-256 digest size used throughout the format.
	HashSize = 32
)

// EncDescriptor is the footer's variable-length encryption descriptor.
type EncDescriptor struct {
	Encrypted bool
	AlgID     byte
	Argon2M   uint32
	Argon2T   uint32
	Argon2P   uint8
	Salt      [16]byte
}

func (d *EncDescriptor) encode(w io.Writer) error {
	if !d.Encrypted {
		_, err := w.Write([]byte{0x00})
		return err
	}
	if _, err := w.Write([]byte{0x01, d.AlgID}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, d.Argon2M); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, d.Argon2T); err != nil {
		return err
	}
	if _, err := w.Write([]byte{d.Argon2P}); err != nil {
		return err
	}
	_, err := w.Write(d.Salt[:])
	return err
}

// encodedLen returns the byte length of the descriptor's encoding.
func (d *EncDescriptor) encodedLen() int {
	if !d.Encrypted {
		return 1
	}
	return 1 + 1 + 4 + 4 + 1 + 16
}

func decodeEncDescriptor(b []byte) (EncDescriptor, int, error) {
	if len(b) < 1 {
		return EncDescriptor{}, 0, xerrors.Errorf("enc descriptor: truncated")
	}
	if b[0] == 0x00 {
		return EncDescriptor{}, 1, nil
	}
	if b[0] != 0x01 {
		return EncDescriptor{}, 0, xerrors.Errorf("enc descriptor: unknown tag 0x%02x", b[0])
	}
	const need = 1 + 1 + 4 + 4 + 1 + 16
	if len(b) < need {
		return EncDescriptor{}, 0, xerrors.Errorf("enc descriptor: truncated")
	}
	var d EncDescriptor
	d.Encrypted = true
	d.AlgID = b[1]
	d.Argon2M = binary.LittleEndian.Uint32(b[2:6])
	d.Argon2T = binary.LittleEndian.Uint32(b[6:10])
	d.Argon2P = b[10]
	copy(d.Salt[:], b[11:27])
	return d, need, nil
}

// Footer is the fixed-plus-variable trailing record written at the end of
// an archive, including a shard table location: the per-shard (offset,
// stored length, uncompressed length, hash, nonce, file count) records the
// orchestrator accumulates in memory while writing shard regions must also
// be persisted in the file itself, since creation and extraction are
// separate process invocations. The shard table is written immediately
// after the shard regions and before the compressed index.
type Footer struct {
	Version          uint16
	Flags            uint16
	ShardCount       uint32
	ShardTableOffset uint64
	ShardTableLen    uint64
	ShardTableCRC32  uint32
	IndexOffset      uint64
	IndexLen         uint64
	IndexCRC32       uint32
	BodyHash         [HashSize]byte
	EncD             EncDescriptor
	HMAC             [32]byte
}

// Encrypted reports whether the container uses AEAD.
func (f Footer) Encrypted() bool { return f.Flags&FlagEncrypted != 0 }

// Paranoid reports whether a paranoid-mode body hash was recorded.
func (f Footer) Paranoid() bool { return f.Flags&FlagParanoidPresent != 0 }

// Write serializes the footer (including its self-locating trailer) to w.
func Write(w io.Writer, f Footer) error {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	binary.Write(&buf, binary.LittleEndian, f.Version)
	binary.Write(&buf, binary.LittleEndian, f.Flags)
	binary.Write(&buf, binary.LittleEndian, f.ShardCount)
	binary.Write(&buf, binary.LittleEndian, f.ShardTableOffset)
	binary.Write(&buf, binary.LittleEndian, f.ShardTableLen)
	binary.Write(&buf, binary.LittleEndian, f.ShardTableCRC32)
	binary.Write(&buf, binary.LittleEndian, f.IndexOffset)
	binary.Write(&buf, binary.LittleEndian, f.IndexLen)
	binary.Write(&buf, binary.LittleEndian, f.IndexCRC32)
	buf.Write(f.BodyHash[:])
	if err := f.EncD.encode(&buf); err != nil {
		return xerrors.Errorf("encode enc descriptor: %w", err)
	}
	buf.Write(f.HMAC[:])

	footerLen := uint32(buf.Len() + 4 + 8) // + footer_len field + magic_tail
	binary.Write(&buf, binary.LittleEndian, footerLen)
	buf.WriteString(Magic)

	_, err := w.Write(buf.Bytes())
	return err
}

// Len returns the serialized byte length of f, as would be written by Write.
func Len(f Footer) int {
	return len(Magic) + 2 + 2 + 4 + 8 + 8 + 4 + 8 + 8 + 4 + HashSize + f.EncD.encodedLen() + 32 + 4 + len(Magic)
}

// tailScanMax bounds how far from EOF Read will look for the footer; in
// practice the footer is 133 bytes (159 when encrypted), this is generous headroom for
// future growth of the encryption descriptor.
const tailScanMax = 4096

// Read locates and parses the footer at the end of an archive of the given
// total size, using r to read the trailing bytes.
func Read(r io.ReaderAt, size int64) (Footer, error) {
	tailSize := int64(tailScanMax)
	if tailSize > size {
		tailSize = size
	}
	tail := make([]byte, tailSize)
	if _, err := r.ReadAt(tail, size-tailSize); err != nil && err != io.EOF {
		return Footer{}, xerrors.Errorf("read tail: %w", err)
	}
	if len(tail) < len(Magic) || string(tail[len(tail)-len(Magic):]) != Magic {
		return Footer{}, &BadMagicError{}
	}
	if len(tail) < len(Magic)+4 {
		return Footer{}, &MalformedFooterError{Reason: "truncated"}
	}
	footerLenOff := len(tail) - len(Magic) - 4
	footerLen := binary.LittleEndian.Uint32(tail[footerLenOff : footerLenOff+4])
	if int64(footerLen) > size || footerLen < uint32(len(Magic)+2) {
		return Footer{}, &MalformedFooterError{Reason: "implausible footer_len"}
	}

	footerStart := size - int64(footerLen)
	footerBytes := make([]byte, footerLen)
	if footerStart >= size-tailSize {
		// Footer fits within the tail we already read.
		footerBytes = tail[len(tail)-int(footerLen):]
	} else {
		if _, err := r.ReadAt(footerBytes, footerStart); err != nil {
			return Footer{}, xerrors.Errorf("read footer: %w", err)
		}
	}

	return parseFooter(footerBytes)
}

func parseFooter(b []byte) (Footer, error) {
	const fixedHeadLen = 8 + 2 + 2 + 4 + 8 + 8 + 4 + 8 + 8 + 4 + HashSize
	if len(b) < fixedHeadLen {
		return Footer{}, &MalformedFooterError{Reason: "too short"}
	}
	if string(b[:8]) != Magic {
		return Footer{}, &BadMagicError{}
	}
	var f Footer
	off := 8
	f.Version = binary.LittleEndian.Uint16(b[off:])
	off += 2
	if f.Version != FormatVersion {
		return Footer{}, &UnsupportedVersionError{Version: f.Version}
	}
	f.Flags = binary.LittleEndian.Uint16(b[off:])
	off += 2
	f.ShardCount = binary.LittleEndian.Uint32(b[off:])
	off += 4
	f.ShardTableOffset = binary.LittleEndian.Uint64(b[off:])
	off += 8
	f.ShardTableLen = binary.LittleEndian.Uint64(b[off:])
	off += 8
	f.ShardTableCRC32 = binary.LittleEndian.Uint32(b[off:])
	off += 4
	f.IndexOffset = binary.LittleEndian.Uint64(b[off:])
	off += 8
	f.IndexLen = binary.LittleEndian.Uint64(b[off:])
	off += 8
	f.IndexCRC32 = binary.LittleEndian.Uint32(b[off:])
	off += 4
	copy(f.BodyHash[:], b[off:off+HashSize])
	off += HashSize

	encD, n, err := decodeEncDescriptor(b[off:])
	if err != nil {
		return Footer{}, &MalformedFooterError{Reason: err.Error()}
	}
	f.EncD = encD
	off += n

	if len(b) < off+32+4+8 {
		return Footer{}, &MalformedFooterError{Reason: "truncated trailer"}
	}
	copy(f.HMAC[:], b[off:off+32])
	off += 32
	// remaining 4 (footer_len) + 8 (magic_tail) bytes already validated by Read.

	return f, nil
}

// CRC32 computes the IEEE CRC32 of data.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// BodyHash computes BLAKE3-256 over all bytes [0, length) read from r.
func BodyHash(r io.Reader, length int64) ([HashSize]byte, error) {
	h := blake3.New(HashSize, nil)
	if _, err := io.CopyN(h, r, length); err != nil {
		return [HashSize]byte{}, xerrors.Errorf("body hash: %w", err)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// HMACFields returns the exact byte sequence the footer HMAC is computed
// over: magic || version || shard_table_offset || shard_table_len ||
// shard_table_crc32 || index_offset || index_len || index_crc32 ||
// body_hash || enc_descriptor.
func HMACFields(f Footer) []byte {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	binary.Write(&buf, binary.LittleEndian, f.Version)
	binary.Write(&buf, binary.LittleEndian, f.ShardTableOffset)
	binary.Write(&buf, binary.LittleEndian, f.ShardTableLen)
	binary.Write(&buf, binary.LittleEndian, f.ShardTableCRC32)
	binary.Write(&buf, binary.LittleEndian, f.IndexOffset)
	binary.Write(&buf, binary.LittleEndian, f.IndexLen)
	binary.Write(&buf, binary.LittleEndian, f.IndexCRC32)
	buf.Write(f.BodyHash[:])
	f.EncD.encode(&buf)
	return buf.Bytes()
}

// BadMagicError indicates the trailing 8 bytes of the file do not match the
// container magic.
type BadMagicError struct{}

func (e *BadMagicError) Error() string { return "bad magic" }

// UnsupportedVersionError indicates a footer version this reader cannot
// parse.
type UnsupportedVersionError struct{ Version uint16 }

func (e *UnsupportedVersionError) Error() string {
	return "unsupported format version"
}

// MalformedFooterError indicates the footer's fixed-layout fields could not
// be parsed.
type MalformedFooterError struct{ Reason string }

func (e *MalformedFooterError) Error() string { return "malformed footer: " + e.Reason }

package kformat

import (
	"bytes"
	"testing"
)

func sampleFooter() Footer {
	var f Footer
	f.Version = FormatVersion
	f.ShardCount = 3
	f.ShardTableOffset = 1000
	f.ShardTableLen = 48
	f.ShardTableCRC32 = 0xdeadbeef
	f.IndexOffset = 1048
	f.IndexLen = 256
	f.IndexCRC32 = 0xcafef00d
	for i := range f.BodyHash {
		f.BodyHash[i] = byte(i)
	}
	return f
}

func TestWriteReadRoundTrip(t *testing.T) {
	f := sampleFooter()
	var buf bytes.Buffer
	// pad so the footer isn't at offset 0 (mimics a real archive body).
	buf.Write(make([]byte, 2000))
	footerStart := buf.Len()
	if err := Write(&buf, f); err != nil {
		t.Fatal(err)
	}

	r := bytes.NewReader(buf.Bytes())
	got, err := Read(r, int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != f.Version || got.ShardCount != f.ShardCount ||
		got.ShardTableOffset != f.ShardTableOffset || got.ShardTableLen != f.ShardTableLen ||
		got.ShardTableCRC32 != f.ShardTableCRC32 ||
		got.IndexOffset != f.IndexOffset || got.IndexLen != f.IndexLen ||
		got.IndexCRC32 != f.IndexCRC32 || got.BodyHash != f.BodyHash {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
	}
	if Len(f) != buf.Len()-footerStart {
		t.Fatalf("Len() = %d, actual serialized length = %d", Len(f), buf.Len()-footerStart)
	}
}

func TestWriteReadEncrypted(t *testing.T) {
	f := sampleFooter()
	f.Flags = FlagEncrypted
	f.EncD = EncDescriptor{
		Encrypted: true,
		AlgID:     AlgAES256GCM,
		Argon2M:   65536,
		Argon2T:   3,
		Argon2P:   4,
	}
	for i := range f.EncD.Salt {
		f.EncD.Salt[i] = byte(i + 1)
	}
	for i := range f.HMAC {
		f.HMAC[i] = byte(255 - i)
	}

	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Encrypted() {
		t.Fatal("expected Encrypted() to be true")
	}
	if got.EncD != f.EncD {
		t.Fatalf("enc descriptor mismatch: got %+v want %+v", got.EncD, f.EncD)
	}
	if got.HMAC != f.HMAC {
		t.Fatal("hmac mismatch after round trip")
	}
}

func TestReadBadMagic(t *testing.T) {
	buf := bytes.Repeat([]byte{0}, 64)
	if _, err := Read(bytes.NewReader(buf), int64(len(buf))); err == nil {
		t.Fatal("expected an error for missing magic")
	} else if _, ok := err.(*BadMagicError); !ok {
		t.Fatalf("got %T, want *BadMagicError", err)
	}
}

func TestReadUnsupportedVersion(t *testing.T) {
	f := sampleFooter()
	f.Version = 99
	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		t.Fatal(err)
	}
	_, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if _, ok := err.(*UnsupportedVersionError); !ok {
		t.Fatalf("got %T, want *UnsupportedVersionError", err)
	}
}

func TestCRC32Deterministic(t *testing.T) {
	data := []byte("some archive bytes")
	if CRC32(data) != CRC32(data) {
		t.Fatal("CRC32 is not deterministic")
	}
}

func TestBodyHashStopsAtLength(t *testing.T) {
	data := []byte("0123456789")
	h1, err := BodyHash(bytes.NewReader(data), 5)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := BodyHash(bytes.NewReader(data[:5]), 5)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("BodyHash read past the requested length")
	}
}

func TestHMACFieldsChangesWithIndexOffset(t *testing.T) {
	f1 := sampleFooter()
	f2 := sampleFooter()
	f2.IndexOffset++
	if bytes.Equal(HMACFields(f1), HMACFields(f2)) {
		t.Fatal("HMACFields should differ when index_offset differs")
	}
}

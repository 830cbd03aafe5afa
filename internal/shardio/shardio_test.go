package shardio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/blitzarch/katana/internal/codec"
	"github.com/blitzarch/katana/internal/kaead"
	"github.com/blitzarch/katana/internal/kentry"
	"github.com/blitzarch/katana/internal/sharder"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func testShard(t *testing.T) sharder.Shard {
	t.Helper()
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.txt", "hello world, this is file a")
	b := writeTempFile(t, dir, "b.txt", "a rather different, somewhat longer body for file b")

	return sharder.Shard{
		ID: 7,
		Entries: []kentry.Entry{
			{ArchivePath: "a.txt", SourcePath: a, Size: 27},
			{ArchivePath: "b.txt", SourcePath: b, Size: 51},
		},
	}
}

func TestBuildDecodeExtractRoundTripPlain(t *testing.T) {
	shard := testShard(t)
	result, err := Build(context.Background(), shard, codec.Config{Kind: codec.Zstd}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Encrypted {
		t.Fatal("expected an unencrypted result")
	}
	if len(result.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(result.Files))
	}

	frameStream, err := Decode(shard.ID, result.StoredBytes, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, fr := range result.Files {
		data, hash, err := ExtractFile(frameStream, fr.OffsetInShard, fr.Length)
		if err != nil {
			t.Fatal(err)
		}
		if hash != fr.Hash {
			t.Fatalf("hash mismatch for %s", fr.Entry.ArchivePath)
		}
		if uint64(len(data)) != fr.Length {
			t.Fatalf("length mismatch for %s: got %d want %d", fr.Entry.ArchivePath, len(data), fr.Length)
		}
	}
}

func TestBuildDecodeExtractRoundTripEncrypted(t *testing.T) {
	shard := testShard(t)
	var key [kaead.KeySize]byte
	for i := range key {
		key[i] = byte(i + 3)
	}

	result, err := Build(context.Background(), shard, codec.Config{Kind: codec.Zstd}, &key)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Encrypted {
		t.Fatal("expected an encrypted result")
	}

	frameStream, err := Decode(shard.ID, result.StoredBytes, &key)
	if err != nil {
		t.Fatal(err)
	}
	for _, fr := range result.Files {
		_, hash, err := ExtractFile(frameStream, fr.OffsetInShard, fr.Length)
		if err != nil {
			t.Fatal(err)
		}
		if hash != fr.Hash {
			t.Fatalf("hash mismatch for %s", fr.Entry.ArchivePath)
		}
	}
}

func TestDecodeWrongKeyFails(t *testing.T) {
	shard := testShard(t)
	var key, wrongKey [kaead.KeySize]byte
	for i := range key {
		key[i] = byte(i + 1)
		wrongKey[i] = byte(i + 2)
	}

	result, err := Build(context.Background(), shard, codec.Config{Kind: codec.Zstd}, &key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(shard.ID, result.StoredBytes, &wrongKey); err == nil {
		t.Fatal("expected authentication to fail with the wrong key")
	}
}

func TestDecodeTamperedCiphertextFails(t *testing.T) {
	shard := testShard(t)
	var key [kaead.KeySize]byte
	for i := range key {
		key[i] = byte(i + 9)
	}

	result, err := Build(context.Background(), shard, codec.Config{Kind: codec.Zstd}, &key)
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), result.StoredBytes...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := Decode(shard.ID, tampered, &key); err == nil {
		t.Fatal("expected authentication to fail on tampered ciphertext")
	}
}

func TestExtractFileOutOfRange(t *testing.T) {
	frameStream := []byte("short")
	if _, _, err := ExtractFile(frameStream, 3, 10); err == nil {
		t.Fatal("expected an out-of-range error")
	}
}

func TestBuildRespectsCancellation(t *testing.T) {
	shard := testShard(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Build(ctx, shard, codec.Config{Kind: codec.Zstd}, nil); err == nil {
		t.Fatal("expected a cancellation error")
	}
}

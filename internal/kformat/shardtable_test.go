package kformat

import "testing"

func sampleShardTable() []ShardTableEntry {
	e1 := ShardTableEntry{
		ShardID:            0,
		Offset:             0,
		StoredLength:       1024,
		UncompressedLength: 2048,
		FileCount:          3,
	}
	for i := range e1.ShardHash {
		e1.ShardHash[i] = byte(i)
	}
	e2 := ShardTableEntry{
		ShardID:            1,
		Offset:             1024,
		StoredLength:       512,
		UncompressedLength: 512,
		Encrypted:          true,
		FileCount:          1,
	}
	for i := range e2.Nonce {
		e2.Nonce[i] = byte(i + 1)
	}
	return []ShardTableEntry{e1, e2}
}

func TestEncodeDecodeShardTableRoundTrip(t *testing.T) {
	want := sampleShardTable()
	raw := EncodeShardTable(want)
	got, err := DecodeShardTable(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestEncodeShardTableEmpty(t *testing.T) {
	raw := EncodeShardTable(nil)
	got, err := DecodeShardTable(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d entries, want 0", len(got))
	}
}

func TestDecodeShardTableTruncated(t *testing.T) {
	raw := EncodeShardTable(sampleShardTable())
	_, err := DecodeShardTable(raw[:len(raw)-1])
	if err == nil {
		t.Fatal("expected an error for a truncated shard table")
	}
}

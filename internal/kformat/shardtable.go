package kformat

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// ShardTableEntry records one shard's location and integrity metadata, as
// listed in the data model's Shard attributes. It is the only place this
// information is durably stored: the footer names only the table's own
// location, not individual shards.
type ShardTableEntry struct {
	ShardID            uint32
	Offset             uint64
	StoredLength       uint64
	UncompressedLength uint64
	ShardHash          [HashSize]byte
	Encrypted          bool
	Nonce              [12]byte
	FileCount          uint32
}

const shardTableEntrySize = 4 + 8 + 8 + 8 + HashSize + 1 + 12 + 4

// EncodeShardTable serializes entries in the order given; it does not sort
// them by shard id.
func EncodeShardTable(entries []ShardTableEntry) []byte {
	buf := make([]byte, 0, len(entries)*shardTableEntrySize)
	for _, e := range entries {
		var rec [shardTableEntrySize]byte
		off := 0
		binary.LittleEndian.PutUint32(rec[off:], e.ShardID)
		off += 4
		binary.LittleEndian.PutUint64(rec[off:], e.Offset)
		off += 8
		binary.LittleEndian.PutUint64(rec[off:], e.StoredLength)
		off += 8
		binary.LittleEndian.PutUint64(rec[off:], e.UncompressedLength)
		off += 8
		copy(rec[off:], e.ShardHash[:])
		off += HashSize
		if e.Encrypted {
			rec[off] = 1
		}
		off++
		copy(rec[off:], e.Nonce[:])
		off += 12
		binary.LittleEndian.PutUint32(rec[off:], e.FileCount)
		buf = append(buf, rec[:]...)
	}
	return buf
}

// DecodeShardTable reverses EncodeShardTable.
func DecodeShardTable(b []byte) ([]ShardTableEntry, error) {
	if len(b)%shardTableEntrySize != 0 {
		return nil, xerrors.Errorf("shard table: truncated record")
	}
	var entries []ShardTableEntry
	for len(b) > 0 {
		var e ShardTableEntry
		off := 0
		e.ShardID = binary.LittleEndian.Uint32(b[off:])
		off += 4
		e.Offset = binary.LittleEndian.Uint64(b[off:])
		off += 8
		e.StoredLength = binary.LittleEndian.Uint64(b[off:])
		off += 8
		e.UncompressedLength = binary.LittleEndian.Uint64(b[off:])
		off += 8
		copy(e.ShardHash[:], b[off:off+HashSize])
		off += HashSize
		e.Encrypted = b[off] != 0
		off++
		copy(e.Nonce[:], b[off:off+12])
		off += 12
		e.FileCount = binary.LittleEndian.Uint32(b[off:])
		off += 4
		entries = append(entries, e)
		b = b[off:]
	}
	return entries, nil
}

package crypto

import (
	"github.com/Mindburn-Labs/helm/core/pkg/canonicalize"
)

// BuildEntryHashBytes assembles the exact byte string hashed to produce an
// entry's entry_hash (§4.2): container_id (raw UTF-8), sequence
// (big-endian u64), link_hash (raw 32 bytes), previous_hash (raw 32
// bytes), ts_unix_ms (big-endian 128-bit two's complement).
func BuildEntryHashBytes(containerID string, sequence uint64, linkHash, previousHash string, tsUnixMS int64) ([]byte, error) {
	lh, err := decodeHash32(linkHash)
	if err != nil {
		return nil, err
	}
	ph, err := decodeHash32(previousHash)
	if err != nil {
		return nil, err
	}
	ts128, err := encodeI128FromInt64(tsUnixMS)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(containerID)+8+32+32+16)
	buf = append(buf, []byte(containerID)...)
	buf = appendBigEndianU64(buf, sequence)
	buf = append(buf, lh...)
	buf = append(buf, ph...)
	buf = append(buf, ts128...)
	return buf, nil
}

// ComputeEntryHash is the pure function defined in §4.2: entry_hash =
// BLAKE3(container_id || be_u64(sequence) || raw32(link_hash) ||
// raw32(previous_hash) || be_i128(ts_unix_ms)), rendered lowercase hex.
func ComputeEntryHash(containerID string, sequence uint64, linkHash, previousHash string, tsUnixMS int64) (string, error) {
	buf, err := BuildEntryHashBytes(containerID, sequence, linkHash, previousHash, tsUnixMS)
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes(buf), nil
}

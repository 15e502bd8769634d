package crypto

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// BuildSigningBytes assembles the exact byte string covered by a link's
// author signature (§4.2): version (1 byte), container_id (raw UTF-8),
// expected_sequence (big-endian u64), previous_hash (raw 32 bytes),
// atom_hash (raw 32 bytes), intent_class (1 byte), physics_delta
// (big-endian 128-bit two's complement). pact, author_pubkey, and
// signature are never covered.
func BuildSigningBytes(l *contracts.Link) ([]byte, error) {
	if l.Version < 0 || l.Version > 255 {
		return nil, fmt.Errorf("version out of range: %d", l.Version)
	}
	if !l.IntentClass.Valid() {
		return nil, fmt.Errorf("unknown intent class: %q", l.IntentClass)
	}

	prevHash, err := decodeHash32(l.PreviousHash)
	if err != nil {
		return nil, fmt.Errorf("previous_hash: %w", err)
	}
	atomHash, err := decodeHash32(l.AtomHash)
	if err != nil {
		return nil, fmt.Errorf("atom_hash: %w", err)
	}
	delta128, err := encodeSignedI128(l.PhysicsDelta)
	if err != nil {
		return nil, fmt.Errorf("physics_delta: %w", err)
	}

	buf := make([]byte, 0, 1+len(l.ContainerID)+8+32+32+1+16)
	buf = append(buf, byte(l.Version))
	buf = append(buf, []byte(l.ContainerID)...)
	buf = appendBigEndianU64(buf, l.ExpectedSequence)
	buf = append(buf, prevHash...)
	buf = append(buf, atomHash...)
	buf = append(buf, l.IntentClass.Byte())
	buf = append(buf, delta128...)
	return buf, nil
}

func appendBigEndianU64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func decodeHash32(hexStr string) ([]byte, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 raw bytes, got %d", len(b))
	}
	return b, nil
}

// encodeSignedI128 renders a decimal string as 16 bytes of big-endian
// two's complement.
func encodeSignedI128(decimal string) ([]byte, error) {
	n, ok := new(big.Int).SetString(decimal, 10)
	if !ok {
		return nil, fmt.Errorf("not a valid decimal integer: %q", decimal)
	}
	return encodeI128FromBigInt(n)
}

// encodeI128FromInt64 renders v as 16 bytes of big-endian two's complement,
// used for ts_unix_ms in the entry-hash layout (§4.2), which is specified
// as be_i128 despite being carried as an int64 in Go.
func encodeI128FromInt64(v int64) ([]byte, error) {
	return encodeI128FromBigInt(big.NewInt(v))
}

func encodeI128FromBigInt(n *big.Int) ([]byte, error) {
	min := new(big.Int).Lsh(big.NewInt(1), 127)
	min.Neg(min)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	if n.Cmp(min) < 0 || n.Cmp(max) > 0 {
		return nil, fmt.Errorf("value out of signed 128-bit range: %s", n.String())
	}

	out := make([]byte, 16)
	if n.Sign() >= 0 {
		n.FillBytes(out)
		return out, nil
	}

	// Two's complement: (1<<128) + n
	mod := new(big.Int).Lsh(big.NewInt(1), 128)
	mod.Add(mod, n)
	mod.FillBytes(out)
	return out, nil
}

// DecodeSignedI128 reports whether decimal is an integer that fits in
// signed 128 bits, by running it through encodeSignedI128 and discarding
// the bytes. Membrane shape validation uses it on physics_delta.
func DecodeSignedI128(decimal string) error {
	_, err := encodeSignedI128(decimal)
	return err
}

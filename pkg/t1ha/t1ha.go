// Package t1ha implements the t1ha2-atonce-128 one-shot hash, which the
// manifest format uses as its content checksum.
package t1ha

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"
)

const (
	prime0 = 0xEC99BF0D8372CAAB
	prime1 = 0x82434FE90EDCEF39
	prime2 = 0xD4F06DB99D67BE4B
	prime3 = 0xBD9CACC22C6E9571
	prime4 = 0x9C06FAF4D023E3AB
	prime5 = 0xC060724A8424F345
	prime6 = 0xCB5AF53AE3AAAC31
)

// Sum128 is a 128-bit t1ha2 checksum.
type Sum128 struct {
	Hi uint64
	Lo uint64
}

// String returns the checksum as 32 lowercase hex digits, high word first.
func (s Sum128) String() string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], s.Hi)
	binary.BigEndian.PutUint64(b[8:16], s.Lo)
	return hex.EncodeToString(b[:])
}

// MarshalText implements encoding.TextMarshaler so checksums travel as hex
// strings in JSON rather than as structs.
func (s Sum128) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Sum128) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("parse checksum %q: %w", string(text), err)
	}
	if len(b) != 16 {
		return fmt.Errorf("parse checksum %q: need 32 hex digits, got %d", string(text), len(text))
	}
	s.Hi = binary.BigEndian.Uint64(b[0:8])
	s.Lo = binary.BigEndian.Uint64(b[8:16])
	return nil
}

func rot64(v uint64, n uint) uint64 {
	return bits.RotateLeft64(v, -int(n))
}

func mixup64(a, b *uint64, v, prime uint64) {
	hi, lo := bits.Mul64(*b+v, prime)
	*a ^= lo
	*b += hi
}

// tail64 reads the trailing 1..8 bytes of p as a little-endian word.
func tail64(p []byte) uint64 {
	if len(p) == 8 {
		return binary.LittleEndian.Uint64(p)
	}
	var r uint64
	for i := len(p) - 1; i >= 0; i-- {
		r = r<<8 | uint64(p[i])
	}
	return r
}

// Hash128 computes the t1ha2-atonce-128 checksum of data with the given seed.
func Hash128(data []byte, seed uint64) Sum128 {
	length := uint64(len(data))

	a, b := seed, length
	c := rot64(length, 23) + ^seed
	d := ^length + rot64(seed, 19)

	v := data
	if length > 32 {
		for len(v) > 31 {
			w0 := binary.LittleEndian.Uint64(v[0:8])
			w1 := binary.LittleEndian.Uint64(v[8:16])
			w2 := binary.LittleEndian.Uint64(v[16:24])
			w3 := binary.LittleEndian.Uint64(v[24:32])

			d02 := w0 + rot64(w2+d, 56)
			c13 := w1 + rot64(w3+c, 57)
			d ^= b + rot64(w1, 38)
			c ^= a + rot64(w0, 8)
			b ^= prime6 * (c13 + w2)
			a ^= prime5 * (d02 + w3)

			v = v[32:]
		}
	}

	if len(v) > 24 {
		mixup64(&a, &d, binary.LittleEndian.Uint64(v[0:8]), prime4)
		v = v[8:]
	}
	if len(v) > 16 {
		mixup64(&b, &a, binary.LittleEndian.Uint64(v[0:8]), prime3)
		v = v[8:]
	}
	if len(v) > 8 {
		mixup64(&c, &b, binary.LittleEndian.Uint64(v[0:8]), prime2)
		v = v[8:]
	}
	if len(v) > 0 {
		mixup64(&d, &c, tail64(v), prime1)
	}

	mixup64(&a, &b, rot64(c, 41)^d, prime0)
	mixup64(&b, &c, rot64(d, 23)^a, prime6)
	mixup64(&c, &d, rot64(a, 19)^b, prime5)
	mixup64(&d, &a, rot64(b, 31)^c, prime4)

	return Sum128{Hi: c + d, Lo: a ^ b}
}

package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
)

func EncodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// Uint64Key encodes n big-endian so that byte order matches numeric order.
func Uint64Key(n uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], n)
	return k[:]
}

// Uint64KeyDesc encodes n bit-inverted big-endian so that a forward scan
// yields descending numeric order. Used for the bid side of the resting
// index, where the best price is the highest.
func Uint64KeyDesc(n uint64) []byte {
	return Uint64Key(^n)
}

func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// Key joins parts with '/' into a composite key. Parts must not contain
// '/' themselves unless they are fixed-width encoded segments.
func Key(parts ...[]byte) []byte {
	var out []byte
	for i, p := range parts {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, p...)
	}
	return out
}

// PrefixUpperBound returns the smallest key greater than every key with
// the given prefix, for use as an iterator upper bound.
func PrefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff; no upper bound
}

// Package cas provides content-addressed fingerprinting: BLAKE3 hashing
// over canonical JSON serialization.
package cas

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"

	"lukechampine.com/blake3"
)

// Size is the fingerprint width in bytes.
const Size = 32

// Fingerprint is a fixed-width BLAKE3-256 content hash. Two nodes with equal
// fingerprints carry byte-for-byte identical canonical content and may be
// shared freely.
type Fingerprint [Size]byte

var zeroFingerprint Fingerprint

// ErrBadFingerprint is returned when parsing malformed fingerprint text.
var ErrBadFingerprint = errors.New("malformed fingerprint")

// Hash computes the fingerprint of raw bytes.
func Hash(data []byte) Fingerprint {
	return blake3.Sum256(data)
}

// HashNode computes the fingerprint of a typed node: blake3(kind + "\n" + canonicalJSON(payload)).
// The kind prefix keeps payloads of different node kinds from colliding.
func HashNode(kind string, payload interface{}) (Fingerprint, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return zeroFingerprint, err
	}
	data := append([]byte(kind+"\n"), canonical...)
	return Hash(data), nil
}

// IsZero reports whether f is the all-zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == zeroFingerprint
}

// Hex returns the lowercase hex form of the fingerprint.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// Short returns an abbreviated hex form for logs.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:8])
}

func (f Fingerprint) String() string {
	return f.Hex()
}

// FromBytes converts a raw 32-byte slice into a Fingerprint.
func FromBytes(b []byte) (Fingerprint, error) {
	if len(b) != Size {
		return zeroFingerprint, ErrBadFingerprint
	}
	var f Fingerprint
	copy(f[:], b)
	return f, nil
}

// Parse converts a hex string into a Fingerprint.
func Parse(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return zeroFingerprint, ErrBadFingerprint
	}
	return FromBytes(b)
}

// MarshalText implements encoding.TextMarshaler so fingerprints serialize as
// hex in JSON payloads and map keys.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// CanonicalJSON converts a value to canonical JSON (stable key ordering).
// Determinism of the result is what makes fingerprints reproducible across
// processes; nothing process-local may reach the payload.
func CanonicalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}

	return canonicalMarshal(obj)
}

func canonicalMarshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		return marshalSortedMap(val)
	case []interface{}:
		return marshalArray(val)
	default:
		return json.Marshal(v)
	}
}

func marshalSortedMap(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := canonicalMarshal(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalArray(arr []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		valBytes, err := canonicalMarshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

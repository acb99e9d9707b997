// Package wire implements the token codec shared by the identity and
// handshake components: a tagged class id plus an ordered sequence of
// named binary properties, and the one canonical encoding of that
// sequence used as hash and signature input.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrPropertyNotFound is returned by Token.Property when no property with
// the requested name is present.
var ErrPropertyNotFound = errors.New("wire: property not found")

// Property is a single named binary value carried on a Token. Propagate
// mirrors the DDS-Security "propagate" flag: it has no effect on the
// canonical encoding (§4.2) and is carried only for the benefit of the
// RTPS transport that serializes the token on the wire.
type Property struct {
	Name      string
	Value     []byte
	Propagate bool
}

// Token is a tagged record: a UTF-8 class identifier plus an ordered
// sequence of named binary properties. Order is significant — it is part
// of what gets hashed and signed.
type Token struct {
	ClassID    string
	Properties []Property
}

// NewToken creates an empty token of the given class.
func NewToken(classID string) *Token {
	return &Token{ClassID: classID}
}

// Add appends a property, returning the token for chaining.
func (t *Token) Add(name string, value []byte, propagate bool) *Token {
	t.Properties = append(t.Properties, Property{Name: name, Value: value, Propagate: propagate})
	return t
}

// Property returns the first property with the given name. Lookup is
// case-sensitive and exact, per §4.2.
func (t *Token) Property(name string) (Property, error) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, nil
		}
	}
	return Property{}, fmt.Errorf("%w: %q", ErrPropertyNotFound, name)
}

// Has reports whether a property with the given name is present.
func (t *Token) Has(name string) bool {
	_, err := t.Property(name)
	return err == nil
}

// Select builds a new slice of properties in the given name order. It is
// used to build the canonical 5-tuple (hash_c1/hash_c2) input from a
// token's full property set. Missing names
// produce an error rather than a silent omission.
func (t *Token) Select(names ...string) ([]Property, error) {
	out := make([]Property, 0, len(names))
	for _, n := range names {
		p, err := t.Property(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CanonicalEncode produces the §4.2 canonical byte encoding of an ordered
// property sequence: for each property, a 4-byte little-endian name
// length, the name bytes, a 4-byte little-endian value length, and the
// value bytes. Propagate is not part of the encoding. This is the one
// encoding used for hash_c1, hash_c2, and the §4.5.3 signature inputs;
// it is deterministic and order-sensitive by construction.
func CanonicalEncode(props []Property) []byte {
	size := 0
	for _, p := range props {
		size += 4 + len(p.Name) + 4 + len(p.Value)
	}

	buf := make([]byte, size)
	off := 0
	for _, p := range props {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(p.Name)))
		off += 4
		off += copy(buf[off:], p.Name)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(p.Value)))
		off += 4
		off += copy(buf[off:], p.Value)
	}
	return buf
}

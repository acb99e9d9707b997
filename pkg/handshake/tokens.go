// Package handshake implements the Handshake State Machine component
// (spec.md §4.5): the three-message PKI-DH exchange (Request / Reply /
// Final), its hash_c1/hash_c2 integrity checks, its 6-tuple signatures,
// and the derivation of the final shared secret.
package handshake

import (
	"fmt"
	"strings"

	"github.com/shadowmesh/ddsauth/pkg/wire"
)

const (
	ClassIDRequest = "DDS:Auth:PKI-DH:1.0+Req"
	ClassIDReply   = "DDS:Auth:PKI-DH:1.0+Reply"
	ClassIDFinal   = "DDS:Auth:PKI-DH:1.0+Final"
)

// props5Names is props5(token) in canonical order (spec.md §4.5.2):
// the first five named properties shared by Request and Reply.
var props5Names = []string{"c.id", "c.perm", "c.pdata", "c.dsign_algo", "c.kagree_algo"}

// props5 extracts the canonical 5-tuple from a token for hash_c1/hash_c2
// computation.
func props5(t *wire.Token) ([]wire.Property, error) {
	return t.Select(props5Names...)
}

// newCore5 builds the five shared properties common to Request and
// Reply (spec.md §4.5.1).
func newCore5(certPEM, permDoc, pdata []byte, dsignAlgo, kagreeAlgo string) []wire.Property {
	return []wire.Property{
		{Name: "c.id", Value: certPEM},
		{Name: "c.perm", Value: permDoc},
		{Name: "c.pdata", Value: pdata},
		{Name: "c.dsign_algo", Value: []byte(dsignAlgo)},
		{Name: "c.kagree_algo", Value: []byte(kagreeAlgo)},
	}
}

// BuildRequest constructs the Request token (spec.md §4.5.4
// begin-handshake-request).
func BuildRequest(certPEM, permDoc, pdata []byte, dsignAlgo, kagreeAlgo string, dh1, challenge1 []byte) *wire.Token {
	tok := wire.NewToken(ClassIDRequest)
	for _, p := range newCore5(certPEM, permDoc, pdata, dsignAlgo, kagreeAlgo) {
		tok.Add(p.Name, p.Value, false)
	}
	tok.Add("dh1", dh1, false)
	tok.Add("challenge1", challenge1, false)
	return tok
}

// BuildReply constructs the Reply token (spec.md §4.5.4
// begin-handshake-reply).
func BuildReply(certPEM, permDoc, pdata []byte, dsignAlgo, kagreeAlgo string, hashC1, dh1, challenge1, dh2, challenge2, signature []byte) *wire.Token {
	tok := wire.NewToken(ClassIDReply)
	for _, p := range newCore5(certPEM, permDoc, pdata, dsignAlgo, kagreeAlgo) {
		tok.Add(p.Name, p.Value, false)
	}
	tok.Add("hash_c1", hashC1, false)
	tok.Add("dh1", dh1, false)
	tok.Add("challenge1", challenge1, false)
	tok.Add("dh2", dh2, false)
	tok.Add("challenge2", challenge2, false)
	tok.Add("signature", signature, false)
	return tok
}

// BuildFinal constructs the Final token: the bare 6-tuple plus
// signature, no certificate/permissions/pdata repeated (spec.md
// §4.5.1, §4.5.4).
func BuildFinal(hashC1, challenge1, dh1, hashC2, challenge2, dh2, signature []byte) *wire.Token {
	tok := wire.NewToken(ClassIDFinal)
	tok.Add("hash_c1", hashC1, false)
	tok.Add("challenge1", challenge1, false)
	tok.Add("dh1", dh1, false)
	tok.Add("hash_c2", hashC2, false)
	tok.Add("challenge2", challenge2, false)
	tok.Add("dh2", dh2, false)
	tok.Add("signature", signature, false)
	return tok
}

// sixTupleReply is the Reply-signature layout, signed by the
// responder: [hash_c2, challenge2, dh2, challenge1, dh1, hash_c1]
// (spec.md §4.5.3).
func sixTupleReply(hashC1, challenge1, dh1, hashC2, challenge2, dh2 []byte) []byte {
	return wire.CanonicalEncode([]wire.Property{
		{Name: "hash_c2", Value: hashC2},
		{Name: "challenge2", Value: challenge2},
		{Name: "dh2", Value: dh2},
		{Name: "challenge1", Value: challenge1},
		{Name: "dh1", Value: dh1},
		{Name: "hash_c1", Value: hashC1},
	})
}

// sixTupleFinal is the Final-signature layout, signed by the
// initiator: [hash_c1, challenge1, dh1, challenge2, dh2, hash_c2]
// (spec.md §4.5.3).
func sixTupleFinal(hashC1, challenge1, dh1, hashC2, challenge2, dh2 []byte) []byte {
	return wire.CanonicalEncode([]wire.Property{
		{Name: "hash_c1", Value: hashC1},
		{Name: "challenge1", Value: challenge1},
		{Name: "dh1", Value: dh1},
		{Name: "challenge2", Value: challenge2},
		{Name: "dh2", Value: dh2},
		{Name: "hash_c2", Value: hashC2},
	})
}

// requireClassIDPrefix checks that classID carries want as a true
// prefix (spec.md §4.5.1 "MUST verify the class id prefix"), tolerating
// any trailing characters after it rather than requiring an exact
// match.
func requireClassIDPrefix(classID, want string) error {
	if !strings.HasPrefix(classID, want) {
		return fmt.Errorf("%w: got %q, want prefix %q", ErrBadClassID, classID, want)
	}
	return nil
}

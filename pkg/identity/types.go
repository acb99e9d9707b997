// Package identity implements the Identity Validator component
// (spec.md §4.4): local and remote identity validation, the adjusted
// GUID derivation, and the object types that the handshake state
// machine (pkg/handshake) operates on.
package identity

import (
	"crypto"
	"crypto/x509"
	"sync"
	"time"

	"github.com/shadowmesh/ddsauth/pkg/cryptoutil"
	"github.com/shadowmesh/ddsauth/pkg/registry"
)

// GUIDPrefix is the 12-byte prefix half of a DDS GUID.
type GUIDPrefix [12]byte

// EntityID is the 4-byte entity half of a DDS GUID.
type EntityID [4]byte

// GUID is a full 16-byte DDS global unique identifier.
type GUID struct {
	Prefix GUIDPrefix
	Entity EntityID
}

// Less compares two prefixes lexicographically, byte by byte. This is
// the comparison spec.md §4.4.2 uses between an adjusted local GUID
// and a caller-supplied remote GUID prefix to decide which side sends
// the first handshake token.
func (p GUIDPrefix) Less(other GUIDPrefix) bool {
	for i := range p {
		if p[i] != other[i] {
			return p[i] < other[i]
		}
	}
	return false
}

// Less implements the lexicographic ordering spec.md §4.4.2 uses to
// decide which side of a peer pair sends the first handshake token.
func (g GUID) Less(other GUID) bool {
	for i := range g.Prefix {
		if g.Prefix[i] != other.Prefix[i] {
			return g.Prefix[i] < other.Prefix[i]
		}
	}
	for i := range g.Entity {
		if g.Entity[i] != other.Entity[i] {
			return g.Entity[i] < other.Entity[i]
		}
	}
	return false
}

// LocalIdentity is the validated credential set for this participant
// (spec.md §3 LocalIdentity).
type LocalIdentity struct {
	mu sync.Mutex

	DomainID      uint32
	CandidateGUID GUID
	AdjustedGUID  GUID

	Cert       *x509.Certificate
	CA         *x509.Certificate
	PrivateKey crypto.Signer
	CRL        *x509.RevocationList
	TrustedCAs []*x509.Certificate

	DSignAlgo  cryptoutil.SignatureAlgo
	KAgreeAlgo cryptoutil.KAgreeAlgo

	PData              []byte
	PermissionsDocument []byte
	// PermissionsToken is the opaque access-control permissions token
	// handed to set-permissions-credential-and-token alongside the
	// credential token. The core never interprets it (spec.md §9); it is
	// stored only so a caller can retrieve what it last set.
	PermissionsToken []byte

	ExpiryTimer registry.Handle
}

// SetPData stores the serialized participant built-in topic data the
// first time a handshake needs it (spec.md §3: "set lazily on first
// handshake").
func (li *LocalIdentity) SetPData(pdata []byte) {
	li.mu.Lock()
	defer li.mu.Unlock()
	if li.PData == nil {
		li.PData = pdata
	}
}

// RemoteIdentity is what is known about a peer, accumulated across the
// validate-remote-identity calls and the handshake itself (spec.md §3
// RemoteIdentity).
type RemoteIdentity struct {
	GUIDPrefix GUIDPrefix

	Cert       *x509.Certificate
	IdentityTokenCopy IdentityToken

	DSignAlgo  cryptoutil.SignatureAlgo
	KAgreeAlgo cryptoutil.KAgreeAlgo

	PData              []byte
	PermissionsDocument []byte

	// Relations maps a LocalIdentity handle directly to the
	// IdentityRelation linking it to this RemoteIdentity (spec.md §4.3:
	// "own hash table keyed by LocalIdentity handle"). The source keeps
	// the relation in the same global handle table as everything else
	// and arranges for its handle to equal the LocalIdentity's, purely
	// so that table doubles as this lookup; a Go map from LocalIdentity
	// handle straight to the relation value gives the same O(1) lookup
	// without needing two objects to share one handle slot, so the
	// relation itself is not separately registry-handled.
	Relations map[registry.Handle]*IdentityRelation

	ExpiryTimer registry.Handle
}

// IdentityRelation links one LocalIdentity to one RemoteIdentity,
// carrying the two challenges the handshake consumes (spec.md §3
// IdentityRelation). It has no registry handle of its own; it is reached
// through RemoteIdentity.Relations, keyed by the owning LocalIdentity's
// handle.
type IdentityRelation struct {
	LocalHandle  registry.Handle
	RemoteHandle registry.Handle

	LChallenge [32]byte

	HasRChallenge bool
	RChallenge    [32]byte
}

// IdentityToken is the wire-visible identity token produced by
// get-identity-token and exchanged during validate-remote-identity
// (spec.md §6).
type IdentityToken struct {
	ClassID  string
	CertSN   string
	CertAlgo string
	CASN     string
	CAAlgo   string
}

// Equal compares two identity tokens field-by-field, as required by the
// "stored identity token must equal the new one" rule of spec.md
// §4.4.2.
func (t IdentityToken) Equal(other IdentityToken) bool {
	return t.ClassID == other.ClassID &&
		t.CertSN == other.CertSN &&
		t.CertAlgo == other.CertAlgo &&
		t.CASN == other.CASN &&
		t.CAAlgo == other.CAAlgo
}

const IdentityTokenClassID = "DDS:Auth:PKI-DH:1.0"

// BuildIdentityToken constructs the token get-identity-token returns
// for a LocalIdentity (spec.md §6). CertAlgo and CAAlgo are derived
// independently from the leaf certificate's and the CA certificate's
// own public keys: a CA is not required to use the same signature kind
// as the identity certificate it signed, so li.DSignAlgo (the leaf
// key's kind, used to pick the handshake signing algorithm) cannot
// stand in for the CA's.
func BuildIdentityToken(li *LocalIdentity) (IdentityToken, error) {
	certAlgo, err := cryptoutil.CertificateAlgoKind(li.Cert)
	if err != nil {
		return IdentityToken{}, err
	}
	caAlgo, err := cryptoutil.CertificateAlgoKind(li.CA)
	if err != nil {
		return IdentityToken{}, err
	}
	return IdentityToken{
		ClassID:  IdentityTokenClassID,
		CertSN:   li.Cert.SerialNumber.String(),
		CertAlgo: certAlgo.CertAlgoName(),
		CASN:     li.CA.SerialNumber.String(),
		CAAlgo:   caAlgo.CertAlgoName(),
	}, nil
}

// ExpiryTimeOf reports the notAfter time to schedule an expiry for, per
// spec.md §4.4.1 step 7 ("if notAfter != NEVER").
func ExpiryTimeOf(cert *x509.Certificate) (time.Time, bool) {
	return cryptoutil.NotAfterOrNever(cert)
}

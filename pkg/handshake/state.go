package handshake

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shadowmesh/ddsauth/pkg/cryptoutil"
	"github.com/shadowmesh/ddsauth/pkg/identity"
	"github.com/shadowmesh/ddsauth/pkg/wire"
)

// State is a Handshake's position in the state machine (spec.md
// §4.5).
type State int

const (
	StateCreatedRequest State = iota
	StateCreatedReply
	StateCompletedOkFinal
	StateCompletedOk
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreatedRequest:
		return "CreatedRequest"
	case StateCreatedReply:
		return "CreatedReply"
	case StateCompletedOkFinal:
		return "CompletedOkFinal"
	case StateCompletedOk:
		return "CompletedOk"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Origin records which of begin-handshake-request / begin-handshake-reply
// created a Handshake; it determines how process-handshake interprets
// its inbound token (spec.md §4.5.4).
type Origin int

const (
	OriginCreatedRequest Origin = iota
	OriginCreatedReply
)

// Outcome is the result of a successful process-handshake call.
type Outcome int

const (
	OutcomeOkFinal Outcome = iota
	OutcomeOk
)

// Handshake is the per-peer-pair handshake object (spec.md §3
// Handshake). Exactly one DH keypair is ever generated per Handshake;
// the other side's contribution is kept parsed (for deriving the
// shared secret) and as raw bytes (for reconstructing signature
// inputs bit-exact to what was actually transmitted).
type Handshake struct {
	mu   sync.Mutex
	busy bool

	Relation *identity.IdentityRelation
	Origin   Origin
	State    State

	RemoteCert      *x509.Certificate
	RemoteDSignAlgo cryptoutil.SignatureAlgo
	KAgreeAlgo      cryptoutil.KAgreeAlgo

	HashC1     [32]byte
	HashC2     [32]byte
	Challenge1 [32]byte
	Challenge2 [32]byte
	DH1        []byte
	DH2        []byte

	LocalDH        *cryptoutil.DHKeyPair
	RemoteDHPublic *cryptoutil.DHPublicKey

	SharedSecret    [32]byte
	HasSharedSecret bool
}

// lock serializes process-handshake calls on a single handle (spec.md
// §5: "two concurrent process-handshake calls on the same handle ...
// MAY be rejected with HandleBusy"). Begin* calls create the Handshake
// and so never race against themselves.
func (h *Handshake) lock() error {
	h.mu.Lock()
	if h.busy {
		h.mu.Unlock()
		return ErrHandleBusy
	}
	h.busy = true
	h.mu.Unlock()
	return nil
}

func (h *Handshake) unlock() {
	h.mu.Lock()
	h.busy = false
	h.mu.Unlock()
}

func (h *Handshake) fail() {
	h.RemoteCert = nil
	h.RemoteDHPublic = nil
	h.State = StateFailed
}

// PDataKeyFunc decodes the GUID key of a serialized
// ParticipantBuiltinTopicData blob. CDR (de)serialization of
// participant built-in topic data is an external collaborator (spec.md
// §1); callers that need the c.pdata/adjusted-GUID cross-check of
// spec.md §4.5.5 supply this, callers that don't (e.g. a pdata-less
// test fixture) may leave it nil and the check is skipped.
type PDataKeyFunc func(pdata []byte) (identity.GUID, error)

// Machine drives the handshake state machine for a single
// LocalIdentity's worth of configuration (its PDataKeyFunc).
type Machine struct {
	PDataKey PDataKeyFunc
}

// NewMachine builds a Machine. pdataKey may be nil.
func NewMachine(pdataKey PDataKeyFunc) *Machine {
	return &Machine{PDataKey: pdataKey}
}

// BeginHandshakeRequest implements spec.md §4.5.4
// begin-handshake-request.
func (m *Machine) BeginHandshakeRequest(local *identity.LocalIdentity, relation *identity.IdentityRelation, pdata []byte) (*Handshake, *wire.Token, error) {
	local.SetPData(pdata)

	kp, err := cryptoutil.GenerateDHKeyPair(local.KAgreeAlgo)
	if err != nil {
		return nil, nil, err
	}

	certPEM := encodeCertPEM(local.Cert)
	dh1 := kp.PublicBytes()
	challenge1 := relation.LChallenge

	req := BuildRequest(certPEM, local.PermissionsDocument, local.PData, local.DSignAlgo.DSignAlgoName(), local.KAgreeAlgo.WireName(), dh1, challenge1[:])

	hs := &Handshake{
		Relation:   relation,
		Origin:     OriginCreatedRequest,
		State:      StateCreatedRequest,
		LocalDH:    kp,
		DH1:        dh1,
		Challenge1: challenge1,
	}
	return hs, req, nil
}

// BeginHandshakeReply implements spec.md §4.5.4 begin-handshake-reply.
func (m *Machine) BeginHandshakeReply(local *identity.LocalIdentity, remoteGUIDPrefix identity.GUIDPrefix, relation *identity.IdentityRelation, pdata []byte, inbound *wire.Token) (*Handshake, *wire.Token, error) {
	local.SetPData(pdata)

	if err := requireClassIDPrefix(inbound.ClassID, ClassIDRequest); err != nil {
		return nil, nil, err
	}

	v, err := m.validateCore5(inbound, local, remoteGUIDPrefix)
	if err != nil {
		return nil, nil, err
	}

	dh1, err := inbound.Property("dh1")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dh1", ErrMissingProperty)
	}
	challenge1Prop, err := inbound.Property("challenge1")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: challenge1", ErrMissingProperty)
	}
	if len(challenge1Prop.Value) != 32 {
		return nil, nil, fmt.Errorf("%w: challenge1 is %d bytes", ErrWrongSize, len(challenge1Prop.Value))
	}
	var challenge1 [32]byte
	copy(challenge1[:], challenge1Prop.Value)

	if relation.HasRChallenge {
		if !bytes.Equal(relation.RChallenge[:], challenge1[:]) {
			return nil, nil, ErrChallengeMismatch
		}
	} else {
		relation.HasRChallenge = true
		relation.RChallenge = challenge1
	}

	peerDH, err := cryptoutil.DHPublicFromBytes(v.kagreeAlgo, dh1.Value)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	localKP, err := cryptoutil.GenerateDHKeyPair(v.kagreeAlgo)
	if err != nil {
		return nil, nil, err
	}

	hashC1, err := sha256Core5(inbound)
	if err != nil {
		return nil, nil, err
	}
	if err := checkOptionalHashValue(inbound, "hash_c1", hashC1); err != nil {
		return nil, nil, err
	}

	challenge2 := relation.LChallenge
	dh2 := localKP.PublicBytes()

	// The Reply's own c.kagree_algo names the kind actually used for dh2,
	// which follows the initiator's advertised kind (v.kagreeAlgo), not
	// local's normally-fixed EC-prime256v1 default — spec.md §4.1
	// generate-DH-keypair requires the responder to match kinds so the
	// two sides' contributions can be combined at all.
	localCertPEM := encodeCertPEM(local.Cert)
	replyCore5 := newCore5(localCertPEM, local.PermissionsDocument, local.PData, local.DSignAlgo.DSignAlgoName(), v.kagreeAlgo.WireName())
	hashC2Arr := cryptoutil.SHA256(wire.CanonicalEncode(replyCore5))

	sigInput := sixTupleReply(hashC1[:], challenge1[:], dh1.Value, hashC2Arr[:], challenge2[:], dh2)
	signature, err := cryptoutil.Sign(local.PrivateKey, sigInput)
	if err != nil {
		return nil, nil, err
	}

	reply := BuildReply(localCertPEM, local.PermissionsDocument, local.PData, local.DSignAlgo.DSignAlgoName(), v.kagreeAlgo.WireName(), hashC1[:], dh1.Value, challenge1[:], dh2, challenge2[:], signature)

	hs := &Handshake{
		Relation:        relation,
		Origin:          OriginCreatedReply,
		State:           StateCreatedReply,
		RemoteCert:      v.cert,
		RemoteDSignAlgo: v.dsignAlgo,
		KAgreeAlgo:      v.kagreeAlgo,
		HashC1:          hashC1,
		HashC2:          hashC2Arr,
		Challenge1:      challenge1,
		Challenge2:      challenge2,
		DH1:             dh1.Value,
		DH2:             dh2,
		LocalDH:         localKP,
		RemoteDHPublic:  peerDH,
	}
	return hs, reply, nil
}

// ProcessHandshake implements spec.md §4.5.4 process-handshake. It
// branches on the Handshake's origin: CreatedRequest treats inbound as
// a Reply and emits a Final; CreatedReply treats inbound as a Final
// and completes.
func (m *Machine) ProcessHandshake(hs *Handshake, local *identity.LocalIdentity, remoteGUIDPrefix identity.GUIDPrefix, inbound *wire.Token) (*wire.Token, Outcome, error) {
	if err := hs.lock(); err != nil {
		return nil, 0, err
	}
	defer hs.unlock()

	if hs.State != StateCreatedRequest && hs.State != StateCreatedReply {
		return nil, 0, ErrAlreadyTerminal
	}

	switch hs.Origin {
	case OriginCreatedRequest:
		out, outcome, err := m.processReply(hs, local, remoteGUIDPrefix, inbound)
		if err != nil {
			hs.fail()
			return nil, 0, err
		}
		return out, outcome, nil

	case OriginCreatedReply:
		out, outcome, err := m.processFinal(hs, inbound)
		if err != nil {
			hs.fail()
			return nil, 0, err
		}
		return out, outcome, nil

	default:
		return nil, 0, ErrWrongOrigin
	}
}

func (m *Machine) processReply(hs *Handshake, local *identity.LocalIdentity, remoteGUIDPrefix identity.GUIDPrefix, inbound *wire.Token) (*wire.Token, Outcome, error) {
	if err := requireClassIDPrefix(inbound.ClassID, ClassIDReply); err != nil {
		return nil, 0, err
	}

	v, err := m.validateCore5(inbound, local, remoteGUIDPrefix)
	if err != nil {
		return nil, 0, err
	}

	dh2Prop, err := inbound.Property("dh2")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: dh2", ErrMissingProperty)
	}
	challenge2Prop, err := inbound.Property("challenge2")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: challenge2", ErrMissingProperty)
	}
	if len(challenge2Prop.Value) != 32 {
		return nil, 0, fmt.Errorf("%w: challenge2 is %d bytes", ErrWrongSize, len(challenge2Prop.Value))
	}
	sigProp, err := inbound.Property("signature")
	if err != nil || len(sigProp.Value) == 0 {
		return nil, 0, fmt.Errorf("%w: empty signature", ErrEmptyValue)
	}

	if err := checkOptionalHashValue(inbound, "hash_c1", hs.HashC1); err != nil {
		return nil, 0, err
	}

	hashC2, err := sha256Core5(inbound)
	if err != nil {
		return nil, 0, err
	}
	if err := checkOptionalHashValue(inbound, "hash_c2", hashC2); err != nil {
		return nil, 0, err
	}

	var challenge2 [32]byte
	copy(challenge2[:], challenge2Prop.Value)

	sigInput := sixTupleReply(hs.HashC1[:], hs.Challenge1[:], hs.DH1, hashC2[:], challenge2[:], dh2Prop.Value)
	if err := cryptoutil.Verify(v.cert.PublicKey, sigInput, sigProp.Value); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	peerDH, err := cryptoutil.DHPublicFromBytes(v.kagreeAlgo, dh2Prop.Value)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	hs.RemoteCert = v.cert
	hs.RemoteDSignAlgo = v.dsignAlgo
	hs.KAgreeAlgo = v.kagreeAlgo
	hs.HashC2 = hashC2
	hs.Challenge2 = challenge2
	hs.DH2 = dh2Prop.Value
	hs.RemoteDHPublic = peerDH

	finalSigInput := sixTupleFinal(hs.HashC1[:], hs.Challenge1[:], hs.DH1, hs.HashC2[:], hs.Challenge2[:], hs.DH2)
	finalSig, err := cryptoutil.Sign(local.PrivateKey, finalSigInput)
	if err != nil {
		return nil, 0, err
	}

	final := BuildFinal(hs.HashC1[:], hs.Challenge1[:], hs.DH1, hs.HashC2[:], hs.Challenge2[:], hs.DH2, finalSig)

	if err := hs.deriveSharedSecret(); err != nil {
		return nil, 0, err
	}
	hs.State = StateCompletedOkFinal
	return final, OutcomeOkFinal, nil
}

func (m *Machine) processFinal(hs *Handshake, inbound *wire.Token) (*wire.Token, Outcome, error) {
	if err := requireClassIDPrefix(inbound.ClassID, ClassIDFinal); err != nil {
		return nil, 0, err
	}

	challenge1Prop, err := inbound.Property("challenge1")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: challenge1", ErrMissingProperty)
	}
	challenge2Prop, err := inbound.Property("challenge2")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: challenge2", ErrMissingProperty)
	}
	sigProp, err := inbound.Property("signature")
	if err != nil || len(sigProp.Value) == 0 {
		return nil, 0, fmt.Errorf("%w: empty signature", ErrEmptyValue)
	}
	if len(challenge1Prop.Value) != 32 || !bytes.Equal(challenge1Prop.Value, hs.Challenge1[:]) {
		return nil, 0, ErrChallengeMismatch
	}
	if len(challenge2Prop.Value) != 32 || !bytes.Equal(challenge2Prop.Value, hs.Challenge2[:]) {
		return nil, 0, ErrChallengeMismatch
	}

	for _, diag := range []struct {
		name  string
		value []byte
	}{
		{"hash_c1", hs.HashC1[:]},
		{"hash_c2", hs.HashC2[:]},
		{"dh1", hs.DH1},
		{"dh2", hs.DH2},
	} {
		if err := checkOptionalBytes(inbound, diag.name, diag.value); err != nil {
			return nil, 0, err
		}
	}

	sigInput := sixTupleFinal(hs.HashC1[:], hs.Challenge1[:], hs.DH1, hs.HashC2[:], hs.Challenge2[:], hs.DH2)
	if err := cryptoutil.Verify(hs.RemoteCert.PublicKey, sigInput, sigProp.Value); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	if err := hs.deriveSharedSecret(); err != nil {
		return nil, 0, err
	}
	hs.State = StateCompletedOk
	return nil, OutcomeOk, nil
}

// deriveSharedSecret implements spec.md §4.5.6.
func (h *Handshake) deriveSharedSecret() error {
	secret, err := cryptoutil.DeriveAndHashSharedSecret(h.LocalDH, h.RemoteDHPublic)
	if err != nil {
		return err
	}
	h.SharedSecret = secret
	h.HasSharedSecret = true
	return nil
}

type core5Result struct {
	cert       *x509.Certificate
	dsignAlgo  cryptoutil.SignatureAlgo
	kagreeAlgo cryptoutil.KAgreeAlgo
	permDoc    []byte
	pdata      []byte
}

// validateCore5 implements the "common validation rules for inbound
// tokens" of spec.md §4.5.5 over a Request or Reply's shared five
// properties.
func (m *Machine) validateCore5(tok *wire.Token, local *identity.LocalIdentity, remoteGUIDPrefix identity.GUIDPrefix) (core5Result, error) {
	var zero core5Result

	props, err := tok.Select(props5Names...)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMissingProperty, err)
	}
	certPEM, permDoc, pdata := props[0].Value, props[1].Value, props[2].Value
	dsignName, kagreeName := string(props[3].Value), string(props[4].Value)

	if len(certPEM) == 0 {
		return zero, fmt.Errorf("%w: c.id", ErrEmptyValue)
	}

	cert, err := cryptoutil.LoadCertificate(certPEM)
	if err != nil {
		return zero, err
	}

	if err := verifyPeerCert(cert, local); err != nil {
		return zero, err
	}

	var dsignAlgo cryptoutil.SignatureAlgo
	switch dsignName {
	case cryptoutil.SignatureRSA2048.DSignAlgoName():
		dsignAlgo = cryptoutil.SignatureRSA2048
	case cryptoutil.SignatureECPrime256v1.DSignAlgoName():
		dsignAlgo = cryptoutil.SignatureECPrime256v1
	default:
		return zero, fmt.Errorf("%w: dsign_algo %q", ErrUnsupportedAlgorithm, dsignName)
	}

	var kagreeAlgo cryptoutil.KAgreeAlgo
	switch kagreeName {
	case cryptoutil.KAgreeMODP2048256.WireName():
		kagreeAlgo = cryptoutil.KAgreeMODP2048256
	case cryptoutil.KAgreePrime256v1.WireName():
		kagreeAlgo = cryptoutil.KAgreePrime256v1
	default:
		return zero, fmt.Errorf("%w: kagree_algo %q", ErrUnsupportedAlgorithm, kagreeName)
	}

	if m.PDataKey != nil && len(pdata) > 0 {
		got, err := m.PDataKey(pdata)
		if err != nil {
			return zero, fmt.Errorf("%w: %v", ErrPDataMismatch, err)
		}
		expected := identity.AdjustedGUID(cert.RawSubject, identity.GUID{Prefix: remoteGUIDPrefix})
		if got.Prefix != expected.Prefix {
			return zero, ErrPDataMismatch
		}
	}

	return core5Result{cert: cert, dsignAlgo: dsignAlgo, kagreeAlgo: kagreeAlgo, permDoc: permDoc, pdata: pdata}, nil
}

func verifyPeerCert(cert *x509.Certificate, local *identity.LocalIdentity) error {
	var verifyErr error
	if len(local.TrustedCAs) > 0 {
		verifyErr = cryptoutil.ErrChainInvalid
		for _, anchor := range local.TrustedCAs {
			if err := cryptoutil.VerifyCertificate(cert, anchor, local.CRL, time.Now()); err == nil {
				verifyErr = nil
				break
			} else if errors.Is(err, cryptoutil.ErrExpired) || errors.Is(err, cryptoutil.ErrRevoked) {
				verifyErr = err
			}
		}
	} else {
		verifyErr = cryptoutil.VerifyCertificate(cert, local.CA, local.CRL, time.Now())
	}
	if verifyErr == nil {
		return nil
	}
	if errors.Is(verifyErr, cryptoutil.ErrExpired) {
		return fmt.Errorf("%w: %v", ErrPeerExpired, verifyErr)
	}
	return verifyErr
}

func sha256Core5(tok *wire.Token) ([32]byte, error) {
	props, err := props5(tok)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %v", ErrMissingProperty, err)
	}
	return cryptoutil.SHA256(wire.CanonicalEncode(props)), nil
}

func checkOptionalHashValue(tok *wire.Token, name string, want [32]byte) error {
	p, err := tok.Property(name)
	if err != nil {
		return nil
	}
	if !bytes.Equal(p.Value, want[:]) {
		return fmt.Errorf("%w: %s", ErrHashMismatch, name)
	}
	return nil
}

func checkOptionalBytes(tok *wire.Token, name string, want []byte) error {
	p, err := tok.Property(name)
	if err != nil {
		return nil
	}
	if !bytes.Equal(p.Value, want) {
		return fmt.Errorf("%w: %s", ErrHashMismatch, name)
	}
	return nil
}

func encodeCertPEM(cert *x509.Certificate) []byte {
	return cryptoutil.EncodeCertificatePEM(cert)
}

package handshake

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shadowmesh/ddsauth/internal/testpki"
	"github.com/shadowmesh/ddsauth/pkg/cryptoutil"
	"github.com/shadowmesh/ddsauth/pkg/identity"
	"github.com/shadowmesh/ddsauth/pkg/registry"
)

func newRelationPair(t *testing.T) (*identity.IdentityRelation, *identity.IdentityRelation) {
	t.Helper()
	relA := &identity.IdentityRelation{LocalHandle: registry.Handle(1), RemoteHandle: registry.Handle(2)}
	relB := &identity.IdentityRelation{LocalHandle: registry.Handle(2), RemoteHandle: registry.Handle(1)}
	if _, err := rand.Read(relA.LChallenge[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if _, err := rand.Read(relB.LChallenge[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return relA, relB
}

func buildIdentity(t *testing.T, ca *testpki.CA, trustCA *x509.Certificate, kind testpki.LeafKind, cn string, notBefore, notAfter time.Time, crl *x509.RevocationList) *identity.LocalIdentity {
	t.Helper()
	leaf, err := testpki.NewLeaf(ca, cn, kind, notBefore, notAfter)
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}
	signer := leaf.Key.(crypto.Signer)

	dsignAlgo, err := cryptoutil.PublicKeyAlgoKind(signer)
	if err != nil {
		t.Fatalf("PublicKeyAlgoKind: %v", err)
	}

	return &identity.LocalIdentity{
		Cert:       leaf.Cert,
		CA:         trustCA,
		CRL:        crl,
		PrivateKey: signer,
		DSignAlgo:  dsignAlgo,
		KAgreeAlgo: cryptoutil.KAgreePrime256v1,
	}
}

func TestHandshakeHappyPath(t *testing.T) {
	ca, err := testpki.NewCA("shared-ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}

	localA := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "initiator", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	localB := buildIdentity(t, ca, ca.Cert, testpki.LeafRSA2048, "responder", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)

	relA, relB := newRelationPair(t)

	m := NewMachine(nil)

	hsA, reqToken, err := m.BeginHandshakeRequest(localA, relA, []byte("pdata-a"))
	if err != nil {
		t.Fatalf("BeginHandshakeRequest: %v", err)
	}
	if hsA.State != StateCreatedRequest {
		t.Fatalf("expected CreatedRequest, got %v", hsA.State)
	}

	hsB, replyToken, err := m.BeginHandshakeReply(localB, identity.GUIDPrefix{1}, relB, []byte("pdata-b"), reqToken)
	if err != nil {
		t.Fatalf("BeginHandshakeReply: %v", err)
	}
	if hsB.State != StateCreatedReply {
		t.Fatalf("expected CreatedReply, got %v", hsB.State)
	}
	if !relB.HasRChallenge {
		t.Fatalf("expected BeginHandshakeReply to learn the initiator's challenge")
	}

	finalToken, outcomeA, err := m.ProcessHandshake(hsA, localA, identity.GUIDPrefix{2}, replyToken)
	if err != nil {
		t.Fatalf("ProcessHandshake (reply): %v", err)
	}
	if outcomeA != OutcomeOkFinal {
		t.Fatalf("expected OutcomeOkFinal, got %v", outcomeA)
	}
	if hsA.State != StateCompletedOkFinal {
		t.Fatalf("expected CompletedOkFinal, got %v", hsA.State)
	}
	if !hsA.HasSharedSecret {
		t.Fatalf("expected initiator to have derived a shared secret")
	}

	_, outcomeB, err := m.ProcessHandshake(hsB, localB, identity.GUIDPrefix{1}, finalToken)
	if err != nil {
		t.Fatalf("ProcessHandshake (final): %v", err)
	}
	if outcomeB != OutcomeOk {
		t.Fatalf("expected OutcomeOk, got %v", outcomeB)
	}
	if hsB.State != StateCompletedOk {
		t.Fatalf("expected CompletedOk, got %v", hsB.State)
	}
	if !hsB.HasSharedSecret {
		t.Fatalf("expected responder to have derived a shared secret")
	}

	if hsA.SharedSecret != hsB.SharedSecret {
		t.Fatalf("initiator and responder derived different shared secrets")
	}
}

func TestHandshakeRejectsMutatedSignature(t *testing.T) {
	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	localA := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "initiator", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	localB := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "responder", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	relA, relB := newRelationPair(t)
	m := NewMachine(nil)

	hsA, reqToken, err := m.BeginHandshakeRequest(localA, relA, nil)
	if err != nil {
		t.Fatalf("BeginHandshakeRequest: %v", err)
	}
	_, replyToken, err := m.BeginHandshakeReply(localB, identity.GUIDPrefix{1}, relB, nil, reqToken)
	if err != nil {
		t.Fatalf("BeginHandshakeReply: %v", err)
	}

	sigProp, err := replyToken.Property("signature")
	if err != nil {
		t.Fatalf("Property: %v", err)
	}
	mutated := append([]byte(nil), sigProp.Value...)
	mutated[0] ^= 0xff
	for i := range replyToken.Properties {
		if replyToken.Properties[i].Name == "signature" {
			replyToken.Properties[i].Value = mutated
		}
	}

	_, _, err = m.ProcessHandshake(hsA, localA, identity.GUIDPrefix{2}, replyToken)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if hsA.State != StateFailed {
		t.Fatalf("expected Failed, got %v", hsA.State)
	}
	if hsA.RemoteCert != nil {
		t.Fatalf("expected remote cert to be cleared on failure")
	}
}

func TestHandshakeRejectsPeerFromUnrelatedCA(t *testing.T) {
	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	unrelated, err := testpki.NewCA("unrelated-ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	localA := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "initiator", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	localB := buildIdentity(t, unrelated, unrelated.Cert, testpki.LeafECPrime256v1, "responder", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	relA, relB := newRelationPair(t)
	m := NewMachine(nil)

	_, reqToken, err := m.BeginHandshakeRequest(localA, relA, nil)
	if err != nil {
		t.Fatalf("BeginHandshakeRequest: %v", err)
	}

	_, _, err = m.BeginHandshakeReply(localB, identity.GUIDPrefix{1}, relB, nil, reqToken)
	if !errors.Is(err, cryptoutil.ErrChainInvalid) {
		t.Fatalf("expected ErrChainInvalid, got %v", err)
	}
}

func TestHandshakeRejectsRevokedPeer(t *testing.T) {
	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	leafA, err := testpki.NewLeaf(ca, "initiator", testpki.LeafECPrime256v1, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}

	crlTmpl := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: leafA.Cert.SerialNumber, RevocationTime: time.Now()},
		},
	}
	der, err := x509.CreateRevocationList(rand.Reader, crlTmpl, ca.Cert, ca.Key)
	if err != nil {
		t.Fatalf("CreateRevocationList: %v", err)
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		t.Fatalf("ParseRevocationList: %v", err)
	}

	signerA := leafA.Key.(crypto.Signer)
	dsignAlgo, err := cryptoutil.PublicKeyAlgoKind(signerA)
	if err != nil {
		t.Fatalf("PublicKeyAlgoKind: %v", err)
	}
	localA := &identity.LocalIdentity{
		Cert:       leafA.Cert,
		CA:         ca.Cert,
		PrivateKey: signerA,
		DSignAlgo:  dsignAlgo,
		KAgreeAlgo: cryptoutil.KAgreePrime256v1,
	}
	localB := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "responder", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), crl)
	relA, relB := newRelationPair(t)
	m := NewMachine(nil)

	_, reqToken, err := m.BeginHandshakeRequest(localA, relA, nil)
	if err != nil {
		t.Fatalf("BeginHandshakeRequest: %v", err)
	}

	_, _, err = m.BeginHandshakeReply(localB, identity.GUIDPrefix{1}, relB, nil, reqToken)
	if !errors.Is(err, cryptoutil.ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestHandshakeRejectsExpiredPeer(t *testing.T) {
	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	localA := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "initiator", time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour), nil)
	localB := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "responder", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	relA, relB := newRelationPair(t)
	m := NewMachine(nil)

	_, reqToken, err := m.BeginHandshakeRequest(localA, relA, nil)
	if err != nil {
		t.Fatalf("BeginHandshakeRequest: %v", err)
	}

	_, _, err = m.BeginHandshakeReply(localB, identity.GUIDPrefix{1}, relB, nil, reqToken)
	if !errors.Is(err, ErrPeerExpired) {
		t.Fatalf("expected ErrPeerExpired, got %v", err)
	}
}

func TestBeginHandshakeReplyRejectsWrongChallengeSize(t *testing.T) {
	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	localA := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "initiator", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	localB := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "responder", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	relA, relB := newRelationPair(t)
	m := NewMachine(nil)

	_, reqToken, err := m.BeginHandshakeRequest(localA, relA, nil)
	if err != nil {
		t.Fatalf("BeginHandshakeRequest: %v", err)
	}
	for i := range reqToken.Properties {
		if reqToken.Properties[i].Name == "challenge1" {
			reqToken.Properties[i].Value = reqToken.Properties[i].Value[:31]
		}
	}

	_, _, err = m.BeginHandshakeReply(localB, identity.GUIDPrefix{1}, relB, nil, reqToken)
	if !errors.Is(err, ErrWrongSize) {
		t.Fatalf("expected ErrWrongSize, got %v", err)
	}
}

func TestProcessHandshakeRejectsWrongClassID(t *testing.T) {
	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	localA := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "initiator", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	relA, _ := newRelationPair(t)
	m := NewMachine(nil)

	hsA, reqToken, err := m.BeginHandshakeRequest(localA, relA, nil)
	if err != nil {
		t.Fatalf("BeginHandshakeRequest: %v", err)
	}

	_, _, err = m.ProcessHandshake(hsA, localA, identity.GUIDPrefix{}, reqToken)
	if !errors.Is(err, ErrBadClassID) {
		t.Fatalf("expected ErrBadClassID, got %v", err)
	}
	if hsA.State != StateFailed {
		t.Fatalf("expected Failed, got %v", hsA.State)
	}
}

func TestProcessHandshakeRejectsAfterTerminal(t *testing.T) {
	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	localA := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "initiator", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	localB := buildIdentity(t, ca, ca.Cert, testpki.LeafECPrime256v1, "responder", time.Now().Add(-time.Minute), time.Now().Add(time.Hour), nil)
	relA, relB := newRelationPair(t)
	m := NewMachine(nil)

	hsA, reqToken, err := m.BeginHandshakeRequest(localA, relA, nil)
	if err != nil {
		t.Fatalf("BeginHandshakeRequest: %v", err)
	}
	_, replyToken, err := m.BeginHandshakeReply(localB, identity.GUIDPrefix{1}, relB, nil, reqToken)
	if err != nil {
		t.Fatalf("BeginHandshakeReply: %v", err)
	}
	if _, _, err := m.ProcessHandshake(hsA, localA, identity.GUIDPrefix{2}, replyToken); err != nil {
		t.Fatalf("ProcessHandshake: %v", err)
	}

	if _, _, err := m.ProcessHandshake(hsA, localA, identity.GUIDPrefix{2}, replyToken); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

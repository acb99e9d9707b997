package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shadowmesh/ddsauth/internal/testpki"
	"github.com/shadowmesh/ddsauth/pkg/expiry"
	"github.com/shadowmesh/ddsauth/pkg/registry"
)

func newTestValidator(t *testing.T) (*Validator, *registry.Registry, *expiry.Dispatcher) {
	t.Helper()
	reg := registry.New()
	disp := expiry.New()
	v := NewValidator(reg, disp, func(registry.Handle) {})
	return v, reg, disp
}

func qosFor(t *testing.T, ca *testpki.CA, leaf *testpki.Leaf) QoS {
	t.Helper()
	keyPEM, err := testpki.PEMKey(leaf.Key)
	if err != nil {
		t.Fatalf("PEMKey: %v", err)
	}
	return QoS{
		PropIdentityCertificate: testpki.DataURI(testpki.PEMCert(leaf.Cert)),
		PropIdentityCA:          testpki.DataURI(testpki.PEMCert(ca.Cert)),
		PropPrivateKey:          testpki.DataURI(keyPEM),
	}
}

func TestValidateLocalIdentitySuccess(t *testing.T) {
	v, _, disp := newTestValidator(t)

	ca, err := testpki.NewCA("test-ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	leaf, err := testpki.NewLeaf(ca, "participant-1", testpki.LeafECPrime256v1, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}

	candidate := GUID{Prefix: GUIDPrefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, Entity: EntityID{0, 0, 0, 1}}
	handle, adjusted, err := v.ValidateLocalIdentity(qosFor(t, ca, leaf), 0, candidate)
	if err != nil {
		t.Fatalf("ValidateLocalIdentity: %v", err)
	}
	if handle == registry.NilHandle {
		t.Fatalf("expected non-nil handle")
	}
	if adjusted.Prefix[0]&0x80 == 0 {
		t.Fatalf("expected adjusted GUID top bit set")
	}
	if adjusted.Entity != candidate.Entity {
		t.Fatalf("entity id must be preserved")
	}
	if !disp.Pending(handle) {
		t.Fatalf("expected an expiry timer to be scheduled")
	}
}

func TestValidateLocalIdentityRejectsExpired(t *testing.T) {
	v, _, _ := newTestValidator(t)

	ca, err := testpki.NewCA("test-ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	leaf, err := testpki.NewLeaf(ca, "expired", testpki.LeafECPrime256v1, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}

	candidate := GUID{Prefix: GUIDPrefix{1}, Entity: EntityID{0, 0, 0, 1}}
	if _, _, err := v.ValidateLocalIdentity(qosFor(t, ca, leaf), 0, candidate); err == nil {
		t.Fatalf("expected an error for an expired certificate")
	}
}

func TestValidateLocalIdentityRejectsMissingProperty(t *testing.T) {
	v, _, _ := newTestValidator(t)
	_, _, err := v.ValidateLocalIdentity(QoS{}, 0, GUID{})
	if !errors.Is(err, ErrMissingProperty) {
		t.Fatalf("expected ErrMissingProperty, got %v", err)
	}
}

func TestValidateLocalIdentityRejectsCRLAndTrustedCADirTogether(t *testing.T) {
	v, _, _ := newTestValidator(t)

	ca, err := testpki.NewCA("test-ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	leaf, err := testpki.NewLeaf(ca, "p", testpki.LeafECPrime256v1, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}
	qos := qosFor(t, ca, leaf)
	qos[PropTrustedCADir] = "file:/tmp/does-not-matter"
	qos[PropCRL] = "data:,bogus"

	_, _, err = v.ValidateLocalIdentity(qos, 0, GUID{})
	if !errors.Is(err, ErrCannotCombineCRLAndTrustedCAList) {
		t.Fatalf("expected ErrCannotCombineCRLAndTrustedCAList, got %v", err)
	}
}

func TestValidateLocalIdentityTrustedCADirMatch(t *testing.T) {
	v, _, _ := newTestValidator(t)

	ca, err := testpki.NewCA("trusted-ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	leaf, err := testpki.NewLeaf(ca, "p", testpki.LeafRSA2048, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ca.pem"), testpki.PEMCert(ca.Cert), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	qos := qosFor(t, ca, leaf)
	qos[PropTrustedCADir] = "file:" + dir

	_, _, err = v.ValidateLocalIdentity(qos, 0, GUID{})
	if err != nil {
		t.Fatalf("ValidateLocalIdentity: %v", err)
	}
}

func TestValidateLocalIdentityTrustedCADirMismatch(t *testing.T) {
	v, _, _ := newTestValidator(t)

	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	unrelated, err := testpki.NewCA("unrelated-ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	leaf, err := testpki.NewLeaf(ca, "p", testpki.LeafRSA2048, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ca.pem"), testpki.PEMCert(unrelated.Cert), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	qos := qosFor(t, ca, leaf)
	qos[PropTrustedCADir] = "file:" + dir

	_, _, err = v.ValidateLocalIdentity(qos, 0, GUID{})
	if !errors.Is(err, ErrCANotTrusted) {
		t.Fatalf("expected ErrCANotTrusted, got %v", err)
	}
}

func TestValidateRemoteIdentityCreatesRelationAndStatus(t *testing.T) {
	v, _, _ := newTestValidator(t)

	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	leaf, err := testpki.NewLeaf(ca, "local", testpki.LeafECPrime256v1, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}

	candidate := GUID{Prefix: GUIDPrefix{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, Entity: EntityID{0, 0, 0, 1}}
	localHandle, adjusted, err := v.ValidateLocalIdentity(qosFor(t, ca, leaf), 0, candidate)
	if err != nil {
		t.Fatalf("ValidateLocalIdentity: %v", err)
	}

	remoteToken := IdentityToken{ClassID: IdentityTokenClassID, CertSN: "1", CertAlgo: "EC-prime256v1", CASN: "1", CAAlgo: "EC-prime256v1"}

	// Choose a remote prefix guaranteed to be lexicographically greater
	// than the adjusted local prefix (whose top bit is always 1, i.e.
	// byte 0 >= 0x80) so the expected status is deterministic.
	var remotePrefix GUIDPrefix
	for i := range remotePrefix {
		remotePrefix[i] = 0xff
	}
	_ = adjusted

	remoteHandle, outbound, status, err := v.ValidateRemoteIdentity(localHandle, nil, remoteToken, remotePrefix)
	if err != nil {
		t.Fatalf("ValidateRemoteIdentity: %v", err)
	}
	if remoteHandle == registry.NilHandle {
		t.Fatalf("expected non-nil remote handle")
	}
	if outbound == nil {
		t.Fatalf("expected an outbound auth-request token when no inbound one was supplied")
	}
	if len(outbound.FutureChallenge) != 32 {
		t.Fatalf("expected a 32-byte future challenge, got %d", len(outbound.FutureChallenge))
	}
	if status != StatusPendingHandshakeRequest {
		t.Fatalf("expected PendingHandshakeRequest, got %v", status)
	}
}

func TestValidateRemoteIdentityRejectsUnsupportedVersion(t *testing.T) {
	v, _, _ := newTestValidator(t)

	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	leaf, err := testpki.NewLeaf(ca, "local", testpki.LeafECPrime256v1, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}
	localHandle, _, err := v.ValidateLocalIdentity(qosFor(t, ca, leaf), 0, GUID{})
	if err != nil {
		t.Fatalf("ValidateLocalIdentity: %v", err)
	}

	remoteToken := IdentityToken{ClassID: "DDS:Auth:PKI-DH:1.2"}
	_, _, _, err = v.ValidateRemoteIdentity(localHandle, nil, remoteToken, GUIDPrefix{})
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestValidateRemoteIdentityReusesExistingAndDetectsMismatch(t *testing.T) {
	v, _, _ := newTestValidator(t)

	ca, err := testpki.NewCA("ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	leaf, err := testpki.NewLeaf(ca, "local", testpki.LeafECPrime256v1, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}
	localHandle, _, err := v.ValidateLocalIdentity(qosFor(t, ca, leaf), 0, GUID{})
	if err != nil {
		t.Fatalf("ValidateLocalIdentity: %v", err)
	}

	remotePrefix := GUIDPrefix{9, 9, 9}
	token := IdentityToken{ClassID: IdentityTokenClassID, CertSN: "5", CertAlgo: "EC-prime256v1", CASN: "5", CAAlgo: "EC-prime256v1"}

	h1, _, _, err := v.ValidateRemoteIdentity(localHandle, nil, token, remotePrefix)
	if err != nil {
		t.Fatalf("first ValidateRemoteIdentity: %v", err)
	}
	h2, _, _, err := v.ValidateRemoteIdentity(localHandle, nil, token, remotePrefix)
	if err != nil {
		t.Fatalf("second ValidateRemoteIdentity: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected the same RemoteIdentity handle to be reused")
	}

	changed := token
	changed.CertSN = "6"
	if _, _, _, err := v.ValidateRemoteIdentity(localHandle, nil, changed, remotePrefix); !errors.Is(err, ErrInconsistentRemoteIdentity) {
		t.Fatalf("expected ErrInconsistentRemoteIdentity, got %v", err)
	}
}

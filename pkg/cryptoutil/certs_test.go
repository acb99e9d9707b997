package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"time"
)

func mustSelfSignedCA(t *testing.T, cn string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return cert, priv
}

func mustLeafCert(t *testing.T, ca *x509.Certificate, caKey *ecdsa.PrivateKey, serial int64, notBefore, notAfter time.Time) *x509.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "leaf"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, &priv.PublicKey, caKey)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return cert
}

func pemEncodeCert(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func TestLoadCertificateRoundTrip(t *testing.T) {
	ca, _ := mustSelfSignedCA(t, "test-ca")
	parsed, err := LoadCertificate(pemEncodeCert(ca))
	if err != nil {
		t.Fatalf("LoadCertificate: %v", err)
	}
	if parsed.Subject.CommonName != "test-ca" {
		t.Fatalf("unexpected subject: %s", parsed.Subject.CommonName)
	}
}

func TestLoadCertificateRejectsGarbage(t *testing.T) {
	if _, err := LoadCertificate([]byte("not a certificate")); !errors.Is(err, ErrInvalidPEM) {
		t.Fatalf("expected ErrInvalidPEM, got %v", err)
	}
}

func TestVerifyCertificateAccepts(t *testing.T) {
	ca, caKey := mustSelfSignedCA(t, "ca")
	leaf := mustLeafCert(t, ca, caKey, 2, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))

	if err := VerifyCertificate(leaf, ca, nil, time.Now()); err != nil {
		t.Fatalf("VerifyCertificate: %v", err)
	}
}

func TestVerifyCertificateRejectsNotYetValid(t *testing.T) {
	ca, caKey := mustSelfSignedCA(t, "ca")
	leaf := mustLeafCert(t, ca, caKey, 3, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))

	if err := VerifyCertificate(leaf, ca, nil, time.Now()); !errors.Is(err, ErrNotYetValid) {
		t.Fatalf("expected ErrNotYetValid, got %v", err)
	}
}

func TestVerifyCertificateRejectsExpired(t *testing.T) {
	ca, caKey := mustSelfSignedCA(t, "ca")
	leaf := mustLeafCert(t, ca, caKey, 4, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))

	if err := VerifyCertificate(leaf, ca, nil, time.Now()); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyCertificateRejectsWrongIssuer(t *testing.T) {
	ca, caKey := mustSelfSignedCA(t, "ca")
	other, _ := mustSelfSignedCA(t, "other-ca")
	leaf := mustLeafCert(t, ca, caKey, 5, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))

	if err := VerifyCertificate(leaf, other, nil, time.Now()); !errors.Is(err, ErrChainInvalid) {
		t.Fatalf("expected ErrChainInvalid, got %v", err)
	}
}

func TestVerifyCertificateRevoked(t *testing.T) {
	ca, caKey := mustSelfSignedCA(t, "ca")
	leaf := mustLeafCert(t, ca, caKey, 6, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))

	crlTmpl := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: leaf.SerialNumber, RevocationTime: time.Now()},
		},
	}
	der, err := x509.CreateRevocationList(rand.Reader, crlTmpl, ca, caKey)
	if err != nil {
		t.Fatalf("CreateRevocationList: %v", err)
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		t.Fatalf("ParseRevocationList: %v", err)
	}

	if err := VerifyCertificate(leaf, ca, crl, time.Now()); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestSubjectDERAndFingerprint(t *testing.T) {
	ca, _ := mustSelfSignedCA(t, "fingerprint-ca")
	der := SubjectDER(ca)
	if len(der) == 0 {
		t.Fatalf("expected non-empty subject DER")
	}

	reparsed, err := LoadCertificate(pemEncodeCert(ca))
	if err != nil {
		t.Fatalf("LoadCertificate: %v", err)
	}
	if !CertificatesEqualFingerprint(ca, reparsed) {
		t.Fatalf("expected identical certificates to share a fingerprint")
	}

	other, _ := mustSelfSignedCA(t, "different-ca")
	if CertificatesEqualFingerprint(ca, other) {
		t.Fatalf("expected distinct certificates to have different fingerprints")
	}
}

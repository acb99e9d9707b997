// Package testpki builds throwaway certificate/key fixtures for tests
// across pkg/identity, pkg/handshake and pkg/plugin, so each of those
// packages' test files do not need to duplicate a fake CA.
package testpki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// CA is a throwaway certificate authority: a self-signed certificate
// plus the private key that signed it.
type CA struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

var serialCounter int64 = 1

func nextSerial() *big.Int {
	serialCounter++
	return big.NewInt(serialCounter)
}

// NewCA creates a self-signed EC P-256 certificate authority.
func NewCA(cn string) (*CA, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:              time.Now().Add(-time.Hour),
		NotAfter:               time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:               x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid:  true,
		IsCA:                   true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &CA{Cert: cert, Key: priv}, nil
}

// LeafKind selects the signing key type for a leaf certificate.
type LeafKind int

const (
	LeafRSA2048 LeafKind = iota
	LeafECPrime256v1
)

// Leaf is a CA-issued end-entity certificate plus its private key.
type Leaf struct {
	Cert *x509.Certificate
	Key  interface{} // *rsa.PrivateKey or *ecdsa.PrivateKey
}

// NewLeaf issues a certificate for cn signed by ca, valid from
// notBefore to notAfter.
func NewLeaf(ca *CA, cn string, kind LeafKind, notBefore, notAfter time.Time) (*Leaf, error) {
	var (
		pub  interface{}
		priv interface{}
	)
	switch kind {
	case LeafRSA2048:
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		priv, pub = k, &k.PublicKey
	case LeafECPrime256v1:
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		priv, pub = k, &k.PublicKey
	default:
		return nil, fmt.Errorf("testpki: unknown leaf kind %d", kind)
	}

	tmpl := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, pub, ca.Key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Leaf{Cert: cert, Key: priv}, nil
}

// PEMCert PEM-encodes a certificate.
func PEMCert(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// PEMKey PEM-encodes an RSA or ECDSA private key in PKCS#8 form.
func PEMKey(key interface{}) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DataURI wraps raw bytes as a `data:,` QoS property value, percent-free
// because fixtures never contain PEM's reserved characters outside what
// net/url.PathUnescape tolerates unescaped.
func DataURI(data []byte) string {
	return "data:," + string(data)
}

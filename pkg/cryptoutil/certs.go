package cryptoutil

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/cloudflare/cfssl/helpers"
)

// LoadCertificate parses a single PEM-encoded X.509 certificate, per
// spec.md §4.1 load-certificate.
func LoadCertificate(pemBytes []byte) (*x509.Certificate, error) {
	cert, err := helpers.ParseCertificatePEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}

// LoadPrivateKey parses a PEM-encoded private key, optionally encrypted
// with password, per spec.md §4.1 load-private-key.
func LoadPrivateKey(pemBytes []byte, password []byte) (crypto.Signer, error) {
	var (
		signer crypto.Signer
		err    error
	)
	if len(password) > 0 {
		signer, err = helpers.ParsePrivateKeyPEMWithPassword(pemBytes, password)
	} else {
		signer, err = helpers.ParsePrivateKeyPEM(pemBytes)
	}
	if err != nil {
		if len(password) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrBadPassword, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return signer, nil
}

// LoadCRL parses a PEM-encoded X.509 certificate revocation list, per
// spec.md §4.1 load-CRL.
func LoadCRL(pemBytes []byte) (*x509.RevocationList, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}
	crl, err := x509.ParseRevocationList(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return crl, nil
}

// SHA1Fingerprint returns the SHA-1 fingerprint of a certificate's raw
// DER bytes, used by the identity validator to compare a configured CA
// against a trusted-CA list byte-for-byte (spec.md §4.4.1 step 3).
func SHA1Fingerprint(cert *x509.Certificate) [20]byte {
	return sha1.Sum(cert.Raw)
}

// EncodeCertificatePEM PEM-encodes a certificate's raw DER bytes, the
// inverse of LoadCertificate. Used to populate a handshake token's c.id
// property from a LocalIdentity's already-parsed certificate.
func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// SubjectDER returns the DER encoding of a certificate's subject
// distinguished name, per spec.md §4.1 get-subject-DER. This is the
// input to the adjusted-GUID hiHash (§4.4.1).
func SubjectDER(cert *x509.Certificate) []byte {
	return cert.RawSubject
}

// NotAfterOrNever returns a certificate's notAfter time and true, or the
// zero time and false if the certificate never expires (spec.md §4.1
// "NEVER"). x509 certificates always carry a notAfter, so in this
// implementation the NEVER case can only arise from a caller-synthesized
// certificate template with the zero time; real CA-issued certificates
// always produce (time, true).
func NotAfterOrNever(cert *x509.Certificate) (time.Time, bool) {
	if cert.NotAfter.IsZero() {
		return time.Time{}, false
	}
	return cert.NotAfter, true
}

// VerifyCertificate validates leaf against trustAnchor (spec.md §4.1
// verify-certificate): chain validity, optional CRL check, and the
// notBefore/notAfter window. now is injectable for testability.
func VerifyCertificate(leaf, trustAnchor *x509.Certificate, crl *x509.RevocationList, now time.Time) error {
	if now.Before(leaf.NotBefore) {
		return ErrNotYetValid
	}
	if now.After(leaf.NotAfter) {
		return ErrExpired
	}

	roots := x509.NewCertPool()
	roots.AddCert(trustAnchor)

	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:     roots,
		CurrentTime: now,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrChainInvalid, err)
	}

	if crl != nil {
		for _, revoked := range crl.RevokedCertificateEntries {
			if revoked.SerialNumber != nil && leaf.SerialNumber != nil &&
				revoked.SerialNumber.Cmp(leaf.SerialNumber) == 0 {
				return ErrRevoked
			}
		}
	}

	return nil
}

// CertificatesEqualFingerprint reports whether two certificates are
// byte-for-byte identical by comparing their SHA-1 fingerprints, used to
// match a configured identity CA against a trusted-CA directory entry
// (spec.md §4.4.1 step 3).
func CertificatesEqualFingerprint(a, b *x509.Certificate) bool {
	fa := SHA1Fingerprint(a)
	fb := SHA1Fingerprint(b)
	return bytes.Equal(fa[:], fb[:])
}

// SHA256 is the one hash primitive used throughout the core: for the
// canonical token encoding (§4.2), the adjusted-GUID derivation (§4.4.1),
// and the final shared-secret wrapping (§4.1).
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// PublicKeyAlgoKind reports whether a signer is an RSA-2048 or
// EC-prime256v1 key, per the SignatureAlgo enumeration, erroring for any
// other key type or size (spec.md §3 "digital-signature algorithm kind
// ∈ {RSA-2048, EC-prime256v1}").
func PublicKeyAlgoKind(signer crypto.Signer) (SignatureAlgo, error) {
	return PublicKeyAlgoKindFromKey(signer.Public())
}

// PublicKeyAlgoKindFromKey is PublicKeyAlgoKind applied directly to a
// public key rather than a crypto.Signer, for callers that only hold a
// certificate (e.g. a CA certificate, whose private key the plugin
// never sees) and not the matching private key.
func PublicKeyAlgoKindFromKey(pub crypto.PublicKey) (SignatureAlgo, error) {
	switch pub := pub.(type) {
	case *rsa.PublicKey:
		if pub.N.BitLen() != 2048 {
			return 0, fmt.Errorf("%w: RSA key is %d bits, want 2048", ErrInvalidKey, pub.N.BitLen())
		}
		return SignatureRSA2048, nil
	case *ecdsa.PublicKey:
		if pub.Curve.Params().Name != "P-256" {
			return 0, fmt.Errorf("%w: EC key is on curve %s, want P-256", ErrInvalidKey, pub.Curve.Params().Name)
		}
		return SignatureECPrime256v1, nil
	default:
		return 0, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, pub)
	}
}

// CertificateAlgoKind reports a certificate's own public key's
// SignatureAlgo kind, independent of any signer held elsewhere. Used to
// derive dds.ca.algo from a CA certificate separately from
// dds.cert.algo's derivation from the leaf certificate, since the two
// need not match (spec.md §6 get-identity-token).
func CertificateAlgoKind(cert *x509.Certificate) (SignatureAlgo, error) {
	return PublicKeyAlgoKindFromKey(cert.PublicKey)
}

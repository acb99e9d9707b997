package cryptoutil

// SignatureAlgo enumerates the two fixed digital-signature profiles
// spec.md §3 allows for an identity's CA and certificate: RSA-2048 with
// RSASSA-PSS-SHA256, or EC-prime256v1 (NIST P-256) with ECDSA-SHA256.
// There is no negotiation: both ends of a handshake must present c.id
// certificates of one of these two kinds, and the token's dsign_algo
// property names the signing side's own kind.
type SignatureAlgo int

const (
	SignatureRSA2048 SignatureAlgo = iota
	SignatureECPrime256v1
)

// DSignAlgoName returns the c.dsign_algo wire name
// used in handshake tokens (spec.md §4.5.1).
func (a SignatureAlgo) DSignAlgoName() string {
	switch a {
	case SignatureRSA2048:
		return "RSASSA-PSS-SHA256"
	case SignatureECPrime256v1:
		return "ECDSA-SHA256"
	default:
		return "unknown"
	}
}

// CertAlgoName returns the dds.ca.algo / dds.cert.algo-style identity
// token value (IdentityToken.CAAlgo / CertAlgo, spec.md §6).
func (a SignatureAlgo) CertAlgoName() string {
	switch a {
	case SignatureRSA2048:
		return "RSA-2048"
	case SignatureECPrime256v1:
		return "EC-prime256v1"
	default:
		return "unknown"
	}
}

func (a SignatureAlgo) String() string { return a.CertAlgoName() }

// KAgreeAlgo enumerates the two fixed Diffie-Hellman key-agreement
// profiles spec.md §3 allows: finite-field DH over the RFC 5114
// 2048-bit MODP group with 256-bit prime-order subgroup, or ECDH over
// NIST P-256.
type KAgreeAlgo int

const (
	KAgreeMODP2048256 KAgreeAlgo = iota
	KAgreePrime256v1
)

// WireName returns the c.kagree_algo token property value (spec.md
// §4.5.1).
func (k KAgreeAlgo) WireName() string {
	switch k {
	case KAgreeMODP2048256:
		return "DH+MODP-2048-256"
	case KAgreePrime256v1:
		return "ECDH+prime256v1-CEUM"
	default:
		return "unknown"
	}
}

func (k KAgreeAlgo) String() string { return k.WireName() }

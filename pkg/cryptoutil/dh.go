package cryptoutil

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"math/big"
)

// RFC 5114 §2.3: 2048-bit MODP Group with 256-bit Prime Order Subgroup
// ("MODP-2048-256"). These are the fixed, non-negotiated parameters for
// the DH+MODP-2048-256 key-agreement profile (spec.md §3); unlike TLS,
// the plugin never negotiates a group.
const (
	modp2048256HexP = "87A8E61DB4B6663CFFBBD19C651959998CEEF608660DD0F25D2CEED4435E3B" +
		"00E00DF8F1D61957D4FAF7DF4561B2AA3016C3D91134096FAA3BF4296D830E9" +
		"A7C209E0C6497517ABD5A8A9D306BCF67ED91F9E6725B4758C022E0B1EF4275" +
		"BF7B6C5BFC11D45F9088B941F54EB1E59BB8BC39A0BF12307F5C4FDB70C581B" +
		"23F76B63ACAE1CAA6B7902D52526735488A0EF13C6D9A51BFA4AB3AD8347796" +
		"524D8EF6A167B5A41825D967E144E5140564251CCACB83E6B486F6B3CA3F797" +
		"1506026C0B857F689962856DED4010ABD0BE621C3A3960A54E710C375F26375" +
		"D7014103A4B54330C198AF126116D2276E11715F693877FAD7EF09CADB094AE" +
		"91E1A1597"
	modp2048256HexG = "3FB32C9B73134D0B2E77506660EDBD484CA7B18F21EF205407F4793A1A0BA1" +
		"2510DBC15077BE463FFF4FED4AAC0BB555BE3A6C1B0C6B47B1BC3773BF7E8C6" +
		"F62901228F8C28CBB18A55AE31341000A650196F931C77A57F2DDF463E5E9EC" +
		"144B777DE62AAAB8A8628AC376D282D6ED3864E67982428EBC831D14348F6F2" +
		"F9193B5045AF2767164E1DFC967C1FB3F2E55A4BD1BFFE83B9C80D052B985D1" +
		"82EA0ADB2A3B7313D3FE14C8484B1E052588B9B7D2BBD2DF016199ECD06E155" +
		"7CD0915B3353BBB64E0EC377FD028370DF92B52C7891428CDC67EB6184B523D" +
		"1DB246C32F63078490F00EF8D647D148D47954515E2327CFEF98C582664B4C0" +
		"F6CC41659"
	modp2048256HexQ = "8CF83642A709A097B447997640129DA299B1A47D1EB3750BA308B0FE64F5FBD3"
)

var (
	modpP, modpG, modpQ *big.Int
)

func init() {
	modpP = mustHex(modp2048256HexP)
	modpG = mustHex(modp2048256HexG)
	modpQ = mustHex(modp2048256HexQ)
}

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("cryptoutil: malformed RFC 5114 constant")
	}
	return n
}

// DHKeyPair holds one side's contribution to a key-agreement exchange.
// Exactly one of the modp or ecdh fields is populated, selected by Kind.
type DHKeyPair struct {
	Kind KAgreeAlgo

	modpPriv *big.Int
	modpPub  *big.Int

	ecdhPriv *ecdh.PrivateKey
}

// GenerateDHKeyPair creates a fresh key-agreement keypair for kind,
// per spec.md §4.1 generate-DH-keypair.
func GenerateDHKeyPair(kind KAgreeAlgo) (*DHKeyPair, error) {
	switch kind {
	case KAgreeMODP2048256:
		priv, err := rand.Int(rand.Reader, modpQ)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if priv.Sign() == 0 {
			priv.SetInt64(1)
		}
		pub := new(big.Int).Exp(modpG, priv, modpP)
		return &DHKeyPair{Kind: kind, modpPriv: priv, modpPub: pub}, nil

	case KAgreePrime256v1:
		priv, err := ecdh.P256().GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return &DHKeyPair{Kind: kind, ecdhPriv: priv}, nil

	default:
		return nil, fmt.Errorf("%w: unknown key-agreement kind %d", ErrInvalidKey, kind)
	}
}

// PublicBytes returns the wire representation of this keypair's public
// half: a big-endian fixed-width integer for MODP, the uncompressed
// SEC1 point for ECDH. This is the dh1 / dh2 token property value
// (spec.md §4.5.1).
func (kp *DHKeyPair) PublicBytes() []byte {
	switch kp.Kind {
	case KAgreeMODP2048256:
		b := kp.modpPub.Bytes()
		fixed := make([]byte, 256) // 2048 bits
		copy(fixed[256-len(b):], b)
		return fixed
	case KAgreePrime256v1:
		return kp.ecdhPriv.PublicKey().Bytes()
	default:
		return nil
	}
}

// DHPublicFromBytes parses a peer's dh1 / dh2 property value,
// per spec.md §4.1 dh-public-from-bytes.
func DHPublicFromBytes(kind KAgreeAlgo, data []byte) (*DHPublicKey, error) {
	switch kind {
	case KAgreeMODP2048256:
		y := new(big.Int).SetBytes(data)
		if y.Cmp(modpP) >= 0 || y.Sign() <= 0 {
			return nil, fmt.Errorf("%w: MODP public value out of range", ErrInvalidKey)
		}
		return &DHPublicKey{Kind: kind, modpPub: y}, nil

	case KAgreePrime256v1:
		pub, err := ecdh.P256().NewPublicKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return &DHPublicKey{Kind: kind, ecdhPub: pub}, nil

	default:
		return nil, fmt.Errorf("%w: unknown key-agreement kind %d", ErrInvalidKey, kind)
	}
}

// DHPublicKey is a peer's parsed key-agreement public value.
type DHPublicKey struct {
	Kind KAgreeAlgo

	modpPub *big.Int
	ecdhPub *ecdh.PublicKey
}

// DeriveSharedSecret computes the raw Diffie-Hellman output between a
// local keypair and a peer's public value. It returns the secret
// unhashed; per spec.md §4.1 the SHA-256 of this value, not the raw
// value itself, is what the handshake state machine carries forward as
// the shared secret.
func DeriveSharedSecret(local *DHKeyPair, peer *DHPublicKey) ([]byte, error) {
	if local.Kind != peer.Kind {
		return nil, fmt.Errorf("%w: key-agreement kind mismatch", ErrInvalidKey)
	}
	switch local.Kind {
	case KAgreeMODP2048256:
		z := new(big.Int).Exp(peer.modpPub, local.modpPriv, modpP)
		b := z.Bytes()
		fixed := make([]byte, 256)
		copy(fixed[256-len(b):], b)
		return fixed, nil

	case KAgreePrime256v1:
		z, err := local.ecdhPriv.ECDH(peer.ecdhPub)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return z, nil

	default:
		return nil, fmt.Errorf("%w: unknown key-agreement kind", ErrInvalidKey)
	}
}

// DeriveAndHashSharedSecret is DeriveSharedSecret followed by the
// SHA-256 wrapping spec.md §4.1 and §4.5.6 specify as the actual
// shared secret value stored on the Handshake.
func DeriveAndHashSharedSecret(local *DHKeyPair, peer *DHPublicKey) ([32]byte, error) {
	raw, err := DeriveSharedSecret(local, peer)
	if err != nil {
		return [32]byte{}, err
	}
	return SHA256(raw), nil
}

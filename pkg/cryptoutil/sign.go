package cryptoutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Sign produces a detached signature over data using signer's private
// key, per spec.md §4.1 sign (used to build the 6-tuple signatures of
// §4.5.3). The scheme follows from the key's own type: RSASSA-PSS-SHA256
// for an RSA-2048 key, ECDSA-SHA256 for a P-256 key. There is no
// separate "algorithm selector" argument; the key itself determines it,
// matching how a certificate's own key type fixes its signing profile.
func Sign(signer crypto.Signer, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)

	switch priv := signer.(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       crypto.SHA256,
		})
		if err != nil {
			return nil, fmt.Errorf("cryptoutil: RSASSA-PSS sign: %w", err)
		}
		return sig, nil

	case *ecdsa.PrivateKey:
		sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
		if err != nil {
			return nil, fmt.Errorf("cryptoutil: ECDSA sign: %w", err)
		}
		return sig, nil

	default:
		// Generic crypto.Signer (e.g. the identity helpers.ParsePrivateKeyPEM
		// return) is driven through the crypto.Signer interface: RSASSA-PSS
		// options for an RSA public key, ECDSA for an EC one.
		return signGeneric(signer, digest[:])
	}
}

func signGeneric(signer crypto.Signer, digest []byte) ([]byte, error) {
	switch signer.Public().(type) {
	case *rsa.PublicKey:
		sig, err := signer.Sign(rand.Reader, digest, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       crypto.SHA256,
		})
		if err != nil {
			return nil, fmt.Errorf("cryptoutil: RSASSA-PSS sign: %w", err)
		}
		return sig, nil
	case *ecdsa.PublicKey:
		sig, err := signer.Sign(rand.Reader, digest, crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("cryptoutil: ECDSA sign: %w", err)
		}
		return sig, nil
	default:
		return nil, fmt.Errorf("%w: unsupported signer type %T", ErrInvalidKey, signer)
	}
}

// Verify checks a detached signature produced by Sign against pub,
// per spec.md §4.1 verify.
func Verify(pub crypto.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)

	switch key := pub.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       crypto.SHA256,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		return nil

	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest[:], sig) {
			return ErrBadSignature
		}
		return nil

	default:
		return fmt.Errorf("%w: unsupported public key type %T", ErrInvalidKey, pub)
	}
}

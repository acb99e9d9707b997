package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func TestSignVerifyRSA(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	data := []byte("hash_c1 input bytes")

	sig, err := Sign(priv, data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(&priv.PublicKey, data, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(&priv.PublicKey, []byte("tampered"), sig); err == nil {
		t.Fatalf("expected verification failure on tampered data")
	}
}

func TestSignVerifyECDSA(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	data := []byte("hash_c2 input bytes")

	sig, err := Sign(priv, data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(&priv.PublicKey, data, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(&priv.PublicKey, []byte("tampered"), sig); err == nil {
		t.Fatalf("expected verification failure on tampered data")
	}
}

func TestPublicKeyAlgoKind(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	kind, err := PublicKeyAlgoKind(rsaKey)
	if err != nil {
		t.Fatalf("PublicKeyAlgoKind(rsa): %v", err)
	}
	if kind != SignatureRSA2048 {
		t.Fatalf("expected SignatureRSA2048, got %v", kind)
	}

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	kind, err = PublicKeyAlgoKind(ecKey)
	if err != nil {
		t.Fatalf("PublicKeyAlgoKind(ec): %v", err)
	}
	if kind != SignatureECPrime256v1 {
		t.Fatalf("expected SignatureECPrime256v1, got %v", kind)
	}
}

func TestPublicKeyAlgoKindRejectsWrongCurve(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := PublicKeyAlgoKind(ecKey); err == nil {
		t.Fatalf("expected P-384 key to be rejected")
	}
}

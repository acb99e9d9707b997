package cryptoutil

import "errors"

// Sentinel errors returned by the crypto primitives (spec.md §4.1, §7).
// Callers use errors.Is against these; wrapping with fmt.Errorf("%w: ...")
// is expected so the underlying library diagnostic is preserved.
var (
	ErrInvalidPEM   = errors.New("cryptoutil: invalid PEM material")
	ErrBadPassword  = errors.New("cryptoutil: wrong private key password")
	ErrChainInvalid = errors.New("cryptoutil: certificate chain does not verify")
	ErrRevoked      = errors.New("cryptoutil: certificate is revoked")
	ErrNotYetValid  = errors.New("cryptoutil: certificate is not yet valid")
	ErrExpired      = errors.New("cryptoutil: certificate has expired")
	ErrInvalidKey   = errors.New("cryptoutil: invalid key material")
	ErrBadSignature = errors.New("cryptoutil: signature verification failed")
)

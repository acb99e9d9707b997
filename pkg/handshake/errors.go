package handshake

import "errors"

// Sentinel errors for the Handshake State Machine component (spec.md
// §7). A Handshake that fails with any of these transitions to Failed and
// is not revived (spec.md §4.5.4), except ErrHandleBusy and
// ErrAlreadyTerminal, which leave its state unchanged.
var (
	ErrBadClassID           = errors.New("handshake: unrecognized token class id")
	ErrMissingProperty      = errors.New("handshake: missing required property")
	ErrWrongSize            = errors.New("handshake: property has the wrong size")
	ErrEmptyValue           = errors.New("handshake: property value is empty")
	ErrUnsupportedAlgorithm = errors.New("handshake: unsupported signature or key-agreement algorithm")
	ErrChallengeMismatch    = errors.New("handshake: challenge does not match the one already on record")
	ErrHashMismatch         = errors.New("handshake: sender-supplied hash does not match the locally computed one")
	ErrBadSignature         = errors.New("handshake: signature verification failed")
	ErrPeerExpired          = errors.New("handshake: peer certificate has expired")
	ErrPDataMismatch        = errors.New("handshake: participant data key does not match the peer's adjusted GUID")
	ErrInvalidKey           = errors.New("handshake: invalid DH key material")
	ErrHandleBusy           = errors.New("handshake: handle is already processing a handshake call")
	ErrAlreadyTerminal      = errors.New("handshake: handshake has already completed or failed")
	ErrWrongOrigin          = errors.New("handshake: inbound token does not match this handshake's origin")
)

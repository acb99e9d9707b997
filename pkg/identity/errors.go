package identity

import "errors"

// Sentinel errors for the Identity Validator component (spec.md §7).
// pkg/plugin wraps these into a SecurityException carrying context,
// code, minor-code and message; callers inside this module use
// errors.Is/errors.As directly.
var (
	ErrMissingProperty                   = errors.New("identity: missing required property")
	ErrCannotCombineCRLAndTrustedCAList   = errors.New("identity: a CRL and a trusted-CA directory cannot both be configured")
	ErrCANotTrusted                       = errors.New("identity: identity CA is not in the trusted-CA list")
	ErrInvalidExpiry                      = errors.New("identity: certificate has no usable notAfter")
	ErrBadClassID                         = errors.New("identity: unrecognized token class id")
	ErrUnsupportedVersion                 = errors.New("identity: unsupported PKI-DH token version")
	ErrWrongSize                          = errors.New("identity: property has the wrong size")
	ErrEmptyValue                         = errors.New("identity: property value is empty")
	ErrInconsistentRemoteIdentity         = errors.New("identity: remote identity token changed for an already-known peer")
	ErrUnsupportedURIScheme               = errors.New("identity: unsupported material URI scheme")
	ErrPKCS11Unsupported                  = errors.New("identity: pkcs11 URI recognized but not resolved by this core")
)

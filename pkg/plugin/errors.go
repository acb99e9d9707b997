package plugin

import (
	"errors"
	"fmt"

	"github.com/shadowmesh/ddsauth/pkg/cryptoutil"
	"github.com/shadowmesh/ddsauth/pkg/handshake"
	"github.com/shadowmesh/ddsauth/pkg/identity"
	"github.com/shadowmesh/ddsauth/pkg/registry"
)

// ErrorCode is the stable code half of a SecurityException, per spec.md
// §7's error taxonomy.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota

	// Configuration
	CodeMissingProperty
	CodeInvalidPEM
	CodeBadPassword
	CodeCannotCombineCRLAndTrustedCAList

	// Trust
	CodeCANotTrusted
	CodeChainInvalid
	CodeRevoked
	CodeExpired
	CodeNotYetValid
	CodeInvalidExpiry
	CodePeerExpired

	// Token syntax
	CodeBadClassID
	CodeUnsupportedVersion
	CodeWrongSize
	CodeEmptyValue

	// Handshake semantics
	CodeChallengeMismatch
	CodeHashMismatch
	CodeUnsupportedAlgorithm
	CodeBadSignature
	CodeInconsistentRemoteIdentity
	CodePDataMismatch
	CodeInvalidKey

	// Registry
	CodeInvalidHandle
	CodeWrongHandleKind
	CodeHandleBusy

	// Beyond the §7 list but reachable from this Go implementation.
	CodeAlreadyTerminal
	CodeWrongOrigin
	CodeUnsupportedURIScheme
	CodeNoSharedSecret
	CodeMissingRelation
)

func (c ErrorCode) String() string {
	switch c {
	case CodeMissingProperty:
		return "MissingProperty"
	case CodeInvalidPEM:
		return "InvalidPEM"
	case CodeBadPassword:
		return "BadPassword"
	case CodeCannotCombineCRLAndTrustedCAList:
		return "CannotCombineCRLAndTrustedCAList"
	case CodeCANotTrusted:
		return "CANotTrusted"
	case CodeChainInvalid:
		return "ChainInvalid"
	case CodeRevoked:
		return "Revoked"
	case CodeExpired:
		return "Expired"
	case CodeNotYetValid:
		return "NotYetValid"
	case CodeInvalidExpiry:
		return "InvalidExpiry"
	case CodePeerExpired:
		return "PeerExpired"
	case CodeBadClassID:
		return "BadClassId"
	case CodeUnsupportedVersion:
		return "UnsupportedVersion"
	case CodeWrongSize:
		return "WrongSize"
	case CodeEmptyValue:
		return "EmptyValue"
	case CodeChallengeMismatch:
		return "ChallengeMismatch"
	case CodeHashMismatch:
		return "HashMismatch"
	case CodeUnsupportedAlgorithm:
		return "UnsupportedAlgorithm"
	case CodeBadSignature:
		return "BadSignature"
	case CodeInconsistentRemoteIdentity:
		return "InconsistentRemoteIdentity"
	case CodePDataMismatch:
		return "PDataMismatch"
	case CodeInvalidKey:
		return "InvalidKey"
	case CodeInvalidHandle:
		return "InvalidHandle"
	case CodeWrongHandleKind:
		return "WrongHandleKind"
	case CodeHandleBusy:
		return "HandleBusy"
	case CodeAlreadyTerminal:
		return "AlreadyTerminal"
	case CodeWrongOrigin:
		return "WrongOrigin"
	case CodeUnsupportedURIScheme:
		return "UnsupportedURIScheme"
	case CodeNoSharedSecret:
		return "NoSharedSecret"
	case CodeMissingRelation:
		return "MissingRelation"
	default:
		return "Unknown"
	}
}

// SecurityException is the (context, code, minor-code, message)
// exception record every failing core operation reports (spec.md §7).
// MinorCode is 0 when unused, matching the source's convention for a
// single-cause failure.
type SecurityException struct {
	Context   string
	Code      ErrorCode
	MinorCode int
	Message   string
	Err       error
}

func (e *SecurityException) Error() string {
	return fmt.Sprintf("%s: %s (minor %d): %s", e.Context, e.Code, e.MinorCode, e.Message)
}

func (e *SecurityException) Unwrap() error { return e.Err }

// wrap builds a SecurityException for err, classifying it against the
// lower-level typed errors of cryptoutil/identity/handshake/registry. A
// nil err produces a nil exception so call sites can write
// `return wrap(op, err)` unconditionally.
func wrap(context string, err error) error {
	if err == nil {
		return nil
	}
	var se *SecurityException
	if errors.As(err, &se) {
		return err
	}
	return &SecurityException{
		Context: context,
		Code:    classify(err),
		Message: err.Error(),
		Err:     err,
	}
}

func classify(err error) ErrorCode {
	for _, c := range classifyTable {
		if errors.Is(err, c.sentinel) {
			return c.code
		}
	}
	return CodeUnknown
}

var classifyTable = []struct {
	sentinel error
	code     ErrorCode
}{
	{identity.ErrMissingProperty, CodeMissingProperty},
	{handshake.ErrMissingProperty, CodeMissingProperty},
	{cryptoutil.ErrInvalidPEM, CodeInvalidPEM},
	{cryptoutil.ErrBadPassword, CodeBadPassword},
	{identity.ErrCannotCombineCRLAndTrustedCAList, CodeCannotCombineCRLAndTrustedCAList},
	{identity.ErrCANotTrusted, CodeCANotTrusted},
	{cryptoutil.ErrChainInvalid, CodeChainInvalid},
	{cryptoutil.ErrRevoked, CodeRevoked},
	{cryptoutil.ErrExpired, CodeExpired},
	{cryptoutil.ErrNotYetValid, CodeNotYetValid},
	{identity.ErrInvalidExpiry, CodeInvalidExpiry},
	{handshake.ErrPeerExpired, CodePeerExpired},
	{identity.ErrBadClassID, CodeBadClassID},
	{handshake.ErrBadClassID, CodeBadClassID},
	{identity.ErrUnsupportedVersion, CodeUnsupportedVersion},
	{identity.ErrWrongSize, CodeWrongSize},
	{handshake.ErrWrongSize, CodeWrongSize},
	{identity.ErrEmptyValue, CodeEmptyValue},
	{handshake.ErrEmptyValue, CodeEmptyValue},
	{handshake.ErrChallengeMismatch, CodeChallengeMismatch},
	{handshake.ErrHashMismatch, CodeHashMismatch},
	{handshake.ErrUnsupportedAlgorithm, CodeUnsupportedAlgorithm},
	{handshake.ErrBadSignature, CodeBadSignature},
	{cryptoutil.ErrBadSignature, CodeBadSignature},
	{identity.ErrInconsistentRemoteIdentity, CodeInconsistentRemoteIdentity},
	{handshake.ErrPDataMismatch, CodePDataMismatch},
	{handshake.ErrInvalidKey, CodeInvalidKey},
	{cryptoutil.ErrInvalidKey, CodeInvalidKey},
	{registry.ErrInvalidHandle, CodeInvalidHandle},
	{registry.ErrWrongHandleKind, CodeWrongHandleKind},
	{handshake.ErrHandleBusy, CodeHandleBusy},
	{handshake.ErrAlreadyTerminal, CodeAlreadyTerminal},
	{handshake.ErrWrongOrigin, CodeWrongOrigin},
	{identity.ErrUnsupportedURIScheme, CodeUnsupportedURIScheme},
	{identity.ErrPKCS11Unsupported, CodeUnsupportedURIScheme},
	{ErrNoSharedSecret, CodeNoSharedSecret},
	{ErrMissingRelation, CodeMissingRelation},
	{ErrBadCredentialClassID, CodeBadClassID},
	{ErrNoPeerCertificate, CodeNoSharedSecret},
}

// Sentinel errors local to the plugin facade: conditions spec.md §6
// describes but that don't belong to any single lower-level component.
var (
	ErrNoSharedSecret       = errors.New("plugin: handshake has not yet derived a shared secret")
	ErrMissingRelation      = errors.New("plugin: no identity relation between the given local and remote handles")
	ErrBadCredentialClassID = errors.New("plugin: permissions credential token has the wrong class id")
	ErrNoPeerCertificate    = errors.New("plugin: handshake has not yet established the peer certificate")
)

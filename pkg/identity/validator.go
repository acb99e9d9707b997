package identity

import (
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shadowmesh/ddsauth/pkg/cryptoutil"
	"github.com/shadowmesh/ddsauth/pkg/expiry"
	"github.com/shadowmesh/ddsauth/pkg/registry"
)

// Status is the outcome of validate-remote-identity (spec.md §4.4.2):
// it tells the caller which side of the pair must send the first
// handshake token.
type Status int

const (
	StatusPendingHandshakeRequest Status = iota
	StatusPendingHandshakeMessage
)

func (s Status) String() string {
	if s == StatusPendingHandshakeRequest {
		return "PendingHandshakeRequest"
	}
	return "PendingHandshakeMessage"
}

// AuthRequestToken carries a 32-byte future challenge ahead of the
// first handshake token (spec.md §4.4.2).
type AuthRequestToken struct {
	ClassID         string
	FutureChallenge []byte
}

const AuthRequestClassID = "DDS:Auth:PKI-DH:1.0+AuthReq"

// Validator implements validate-local-identity and
// validate-remote-identity (spec.md §4.4).
type Validator struct {
	reg        *registry.Registry
	dispatcher *expiry.Dispatcher
	onExpire   expiry.FireFunc
}

// NewValidator builds a Validator backed by reg. onExpire is the
// caller-supplied handler run when an identity's certificate reaches
// its notAfter; it is responsible for re-validating the handle is
// still live, invoking any installed listener, and clearing the
// identity's stored timer handle (spec.md §4.6, §9).
func NewValidator(reg *registry.Registry, dispatcher *expiry.Dispatcher, onExpire expiry.FireFunc) *Validator {
	return &Validator{reg: reg, dispatcher: dispatcher, onExpire: onExpire}
}

// ValidateLocalIdentity implements spec.md §4.4.1.
func (v *Validator) ValidateLocalIdentity(qos QoS, domainID uint32, candidate GUID) (registry.Handle, GUID, error) {
	certProp, err := qos.RequireProperty(PropIdentityCertificate)
	if err != nil {
		return registry.NilHandle, GUID{}, err
	}
	caProp, err := qos.RequireProperty(PropIdentityCA)
	if err != nil {
		return registry.NilHandle, GUID{}, err
	}
	keyProp, err := qos.RequireProperty(PropPrivateKey)
	if err != nil {
		return registry.NilHandle, GUID{}, err
	}

	trustedCADirProp, hasTrustedCADir := qos.get(PropTrustedCADir)
	crlProp, hasCRL := qos.get(PropCRL)
	if hasTrustedCADir && hasCRL {
		return registry.NilHandle, GUID{}, ErrCannotCombineCRLAndTrustedCAList
	}

	certBytes, err := ResolveMaterial(certProp)
	if err != nil {
		return registry.NilHandle, GUID{}, err
	}
	caBytes, err := ResolveMaterial(caProp)
	if err != nil {
		return registry.NilHandle, GUID{}, err
	}
	keyBytes, err := ResolveMaterial(keyProp)
	if err != nil {
		return registry.NilHandle, GUID{}, err
	}

	var password []byte
	if pwProp, ok := qos.get(PropPassword); ok {
		password, err = ResolveMaterial(pwProp)
		if err != nil {
			return registry.NilHandle, GUID{}, err
		}
	}

	cert, err := cryptoutil.LoadCertificate(certBytes)
	if err != nil {
		return registry.NilHandle, GUID{}, err
	}
	ca, err := cryptoutil.LoadCertificate(caBytes)
	if err != nil {
		return registry.NilHandle, GUID{}, err
	}
	priv, err := cryptoutil.LoadPrivateKey(keyBytes, password)
	if err != nil {
		return registry.NilHandle, GUID{}, err
	}

	var trustedCAs []*x509.Certificate
	if hasTrustedCADir {
		trustedCAs, err = loadCertDir(trustedCADirProp)
		if err != nil {
			return registry.NilHandle, GUID{}, err
		}
		matched := false
		for _, anchor := range trustedCAs {
			if cryptoutil.CertificatesEqualFingerprint(ca, anchor) {
				matched = true
				break
			}
		}
		if !matched {
			return registry.NilHandle, GUID{}, ErrCANotTrusted
		}
	}

	var crl *x509.RevocationList
	if hasCRL {
		crlBytes, err := ResolveMaterial(crlProp)
		if err != nil {
			return registry.NilHandle, GUID{}, err
		}
		crl, err = cryptoutil.LoadCRL(crlBytes)
		if err != nil {
			return registry.NilHandle, GUID{}, err
		}
	}

	if err := cryptoutil.VerifyCertificate(cert, ca, crl, time.Now()); err != nil {
		return registry.NilHandle, GUID{}, err
	}

	notAfter, ok := ExpiryTimeOf(cert)
	if !ok {
		return registry.NilHandle, GUID{}, ErrInvalidExpiry
	}

	dsignAlgo, err := cryptoutil.PublicKeyAlgoKind(priv)
	if err != nil {
		return registry.NilHandle, GUID{}, err
	}

	adjusted := AdjustedGUID(cert.RawSubject, candidate)

	li := &LocalIdentity{
		DomainID:      domainID,
		CandidateGUID: candidate,
		AdjustedGUID:  adjusted,
		Cert:          cert,
		CA:            ca,
		PrivateKey:    priv,
		CRL:           crl,
		TrustedCAs:    trustedCAs,
		DSignAlgo:     dsignAlgo,
		KAgreeAlgo:    cryptoutil.KAgreePrime256v1,
	}

	handle := v.reg.Insert(registry.KindLocalIdentity, li)
	li.ExpiryTimer = handle
	v.dispatcher.Schedule(handle, notAfter, v.onExpire)

	return handle, adjusted, nil
}

func loadCertDir(dir string) ([]*x509.Certificate, error) {
	dir = strings.TrimPrefix(strings.TrimPrefix(dir, "file:"), "//")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("identity: reading trusted-CA directory %q: %w", dir, err)
	}
	var certs []*x509.Certificate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("identity: reading %q: %w", e.Name(), err)
		}
		cert, err := cryptoutil.LoadCertificate(data)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// parsePKIDHClassID parses a "DDS:Auth:PKI-DH:<major>.<minor>[+suffix]"
// class id, per spec.md §4.4.2.
func parsePKIDHClassID(classID string) (major, minor int, suffix string, err error) {
	const prefix = "DDS:Auth:PKI-DH:"
	if !strings.HasPrefix(classID, prefix) {
		return 0, 0, "", fmt.Errorf("%w: %q", ErrBadClassID, classID)
	}
	rest := strings.TrimPrefix(classID, prefix)
	if plus := strings.IndexByte(rest, '+'); plus >= 0 {
		suffix = rest[plus+1:]
		rest = rest[:plus]
	}
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, "", fmt.Errorf("%w: %q", ErrBadClassID, classID)
	}
	major, err = strconv.Atoi(rest[:dot])
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: %q", ErrBadClassID, classID)
	}
	minor, err = strconv.Atoi(rest[dot+1:])
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: %q", ErrBadClassID, classID)
	}
	return major, minor, suffix, nil
}

// ValidateRemoteIdentity implements spec.md §4.4.2.
func (v *Validator) ValidateRemoteIdentity(localHandle registry.Handle, authReq *AuthRequestToken, remoteToken IdentityToken, remoteGUIDPrefix GUIDPrefix) (registry.Handle, *AuthRequestToken, Status, error) {
	major, minor, _, err := parsePKIDHClassID(remoteToken.ClassID)
	if err != nil {
		return registry.NilHandle, nil, 0, err
	}
	if major != 1 || minor > 1 {
		return registry.NilHandle, nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, remoteToken.ClassID)
	}

	if authReq != nil {
		if authReq.ClassID != AuthRequestClassID {
			return registry.NilHandle, nil, 0, fmt.Errorf("%w: auth-request class id %q", ErrBadClassID, authReq.ClassID)
		}
		if len(authReq.FutureChallenge) != 32 {
			return registry.NilHandle, nil, 0, fmt.Errorf("%w: future_challenge is %d bytes, want 32", ErrWrongSize, len(authReq.FutureChallenge))
		}
	}

	var (
		remoteHandle registry.Handle
		outbound     *AuthRequestToken
	)

	localObj, err := v.reg.LookupTyped(localHandle, registry.KindLocalIdentity)
	if err != nil {
		return registry.NilHandle, nil, 0, err
	}
	local := localObj.(*LocalIdentity)

	v.reg.WithLock(func(l *registry.Locked) {
		var existing *RemoteIdentity
		var existingHandle registry.Handle
		l.IterateByKind(registry.KindRemoteIdentity, func(h registry.Handle, obj interface{}) {
			ri := obj.(*RemoteIdentity)
			if ri.GUIDPrefix == remoteGUIDPrefix {
				existing = ri
				existingHandle = h
			}
		})

		if existing != nil {
			if !existing.IdentityTokenCopy.Equal(remoteToken) {
				err = ErrInconsistentRemoteIdentity
				return
			}
			remoteHandle = existingHandle
			if _, ok := existing.Relations[localHandle]; !ok {
				rel, genErr := newRelation(localHandle, existingHandle, authReq)
				if genErr != nil {
					err = genErr
					return
				}
				existing.Relations[localHandle] = rel
				if !rel.HasRChallenge {
					outbound = &AuthRequestToken{ClassID: AuthRequestClassID, FutureChallenge: rel.LChallenge[:]}
				}
			}
			return
		}

		ri := &RemoteIdentity{
			GUIDPrefix:        remoteGUIDPrefix,
			IdentityTokenCopy: remoteToken,
			Relations:         make(map[registry.Handle]*IdentityRelation),
		}
		remoteHandle = l.Insert(registry.KindRemoteIdentity, ri)

		rel, genErr := newRelation(localHandle, remoteHandle, authReq)
		if genErr != nil {
			err = genErr
			return
		}
		ri.Relations[localHandle] = rel
		if !rel.HasRChallenge {
			outbound = &AuthRequestToken{ClassID: AuthRequestClassID, FutureChallenge: rel.LChallenge[:]}
		}
	})
	if err != nil {
		return registry.NilHandle, nil, 0, err
	}

	status := StatusPendingHandshakeMessage
	if local.AdjustedGUID.Prefix.Less(remoteGUIDPrefix) {
		status = StatusPendingHandshakeRequest
	}

	return remoteHandle, outbound, status, nil
}

func newRelation(localHandle, remoteHandle registry.Handle, authReq *AuthRequestToken) (*IdentityRelation, error) {
	rel := &IdentityRelation{LocalHandle: localHandle, RemoteHandle: remoteHandle}
	if _, err := rand.Read(rel.LChallenge[:]); err != nil {
		return nil, fmt.Errorf("identity: generating local challenge: %w", err)
	}
	if authReq != nil {
		rel.HasRChallenge = true
		copy(rel.RChallenge[:], authReq.FutureChallenge)
	}
	return rel, nil
}

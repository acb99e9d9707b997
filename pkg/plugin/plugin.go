// Package plugin implements the external interface facade (spec.md
// §6): the AuthenticationPlugin an RTPS implementation (out of scope)
// obtains and drives through validate-local-identity,
// validate-remote-identity, the three handshake operations, and the
// handle-release operations. It owns the one Registry and one
// Dispatcher shared by every other component.
package plugin

import (
	"fmt"
	"sync"

	"github.com/shadowmesh/ddsauth/pkg/cryptoutil"
	"github.com/shadowmesh/ddsauth/pkg/expiry"
	"github.com/shadowmesh/ddsauth/pkg/handshake"
	"github.com/shadowmesh/ddsauth/pkg/identity"
	"github.com/shadowmesh/ddsauth/pkg/logging"
	"github.com/shadowmesh/ddsauth/pkg/registry"
	"github.com/shadowmesh/ddsauth/pkg/wire"
)

// PermissionsCredentialClassID is the class id
// set-permissions-credential-and-token requires on its credential
// token (spec.md §6).
const PermissionsCredentialClassID = "DDS:Access:PermissionsCredential"

// PeerCredentialTokenClassID is the class id of the token returned by
// get-authenticated-peer-credential-token (spec.md §6).
const PeerCredentialTokenClassID = "DDS:Auth:PKI-DH:1.0"

// Listener is installed with SetListener and notified of identity
// expiry (spec.md §4.6, §6).
type Listener interface {
	OnRevokeIdentity(handle registry.Handle)
}

type sharedSecretRef struct {
	secret [32]byte
}

// AuthenticationPlugin is the facade coordinating the six components
// behind the single-mutex, blocking-call discipline of spec.md §5.
type AuthenticationPlugin struct {
	reg        *registry.Registry
	dispatcher *expiry.Dispatcher
	validator  *identity.Validator
	machine    *handshake.Machine
	logger     *logging.Logger

	listenerMu sync.Mutex
	listener   Listener
}

// New builds an AuthenticationPlugin. logger may be nil (no logging).
// pdataKey decodes the GUID key of a serialized ParticipantBuiltinTopicData
// blob for the c.pdata cross-check of spec.md §4.5.5; it may be nil if
// the caller never supplies non-empty pdata.
func New(logger *logging.Logger, pdataKey handshake.PDataKeyFunc) *AuthenticationPlugin {
	p := &AuthenticationPlugin{
		reg:        registry.New(),
		dispatcher: expiry.New(),
		logger:     logger,
		machine:    handshake.NewMachine(pdataKey),
	}
	p.validator = identity.NewValidator(p.reg, p.dispatcher, p.onExpire)
	return p
}

func (p *AuthenticationPlugin) logOutcome(op string, err error) {
	if p.logger == nil {
		return
	}
	if err != nil {
		code := CodeUnknown
		if se, ok := err.(*SecurityException); ok {
			code = se.Code
		}
		p.logger.Warn("operation failed", logging.Fields{"operation": op, "code": code.String(), "error": err.Error()})
		return
	}
	p.logger.Info("operation completed", logging.Fields{"operation": op})
}

// onExpire is the expiry.FireFunc installed on both the Validator (for
// LocalIdentity) and this plugin's own RemoteIdentity scheduling. It
// re-validates the handle is still live before telling the listener
// anything, closing the handle-return race spec.md §9 calls out, and
// resets the live identity's ExpiryTimer to the nil handle; it
// runs with no registry lock held, per spec.md §4.6.
func (p *AuthenticationPlugin) onExpire(h registry.Handle) {
	live := false
	if obj, err := p.reg.LookupTyped(h, registry.KindLocalIdentity); err == nil {
		obj.(*identity.LocalIdentity).ExpiryTimer = registry.NilHandle
		live = true
	} else if obj, err := p.reg.LookupTyped(h, registry.KindRemoteIdentity); err == nil {
		obj.(*identity.RemoteIdentity).ExpiryTimer = registry.NilHandle
		live = true
	}
	if !live {
		return
	}

	p.listenerMu.Lock()
	l := p.listener
	p.listenerMu.Unlock()

	if p.logger != nil {
		p.logger.Info("identity expired", logging.Fields{"operation": "expiry-dispatch"})
	}
	if l != nil {
		l.OnRevokeIdentity(h)
	}
}

// SetListener implements spec.md §6 set-listener.
func (p *AuthenticationPlugin) SetListener(l Listener) {
	p.listenerMu.Lock()
	p.listener = l
	p.listenerMu.Unlock()
}

// ValidateLocalIdentity implements spec.md §6 validate-local-identity.
func (p *AuthenticationPlugin) ValidateLocalIdentity(qos identity.QoS, domainID uint32, candidate identity.GUID) (registry.Handle, identity.GUID, error) {
	h, adjusted, err := p.validator.ValidateLocalIdentity(qos, domainID, candidate)
	err = wrap("validate-local-identity", err)
	p.logOutcome("validate-local-identity", err)
	return h, adjusted, err
}

// GetIdentityToken implements spec.md §6 get-identity-token.
func (p *AuthenticationPlugin) GetIdentityToken(localHandle registry.Handle) (identity.IdentityToken, error) {
	obj, err := p.reg.LookupTyped(localHandle, registry.KindLocalIdentity)
	if err != nil {
		err = wrap("get-identity-token", err)
		p.logOutcome("get-identity-token", err)
		return identity.IdentityToken{}, err
	}
	li := obj.(*identity.LocalIdentity)
	tok, err := identity.BuildIdentityToken(li)
	if err != nil {
		err = wrap("get-identity-token", err)
		p.logOutcome("get-identity-token", err)
		return identity.IdentityToken{}, err
	}
	p.logOutcome("get-identity-token", nil)
	return tok, nil
}

// SetPermissionsCredentialAndToken implements spec.md §6
// set-permissions-credential-and-token. credentialToken's class id must
// be DDS:Access:PermissionsCredential and carry a dds.perm.cert
// property, whose value becomes the opaque permissions document
// embedded in future handshake tokens (c.perm). permissionsToken itself
// is never interpreted by the core (spec.md §9).
func (p *AuthenticationPlugin) SetPermissionsCredentialAndToken(localHandle registry.Handle, credentialToken *wire.Token, permissionsToken []byte) error {
	obj, err := p.reg.LookupTyped(localHandle, registry.KindLocalIdentity)
	if err != nil {
		err = wrap("set-permissions-credential-and-token", err)
		p.logOutcome("set-permissions-credential-and-token", err)
		return err
	}
	li := obj.(*identity.LocalIdentity)

	if credentialToken == nil || credentialToken.ClassID != PermissionsCredentialClassID {
		got := ""
		if credentialToken != nil {
			got = credentialToken.ClassID
		}
		err := wrap("set-permissions-credential-and-token", fmt.Errorf("%w: %q", ErrBadCredentialClassID, got))
		p.logOutcome("set-permissions-credential-and-token", err)
		return err
	}
	certProp, propErr := credentialToken.Property("dds.perm.cert")
	if propErr != nil {
		err := wrap("set-permissions-credential-and-token", fmt.Errorf("%w: dds.perm.cert: %v", identity.ErrMissingProperty, propErr))
		p.logOutcome("set-permissions-credential-and-token", err)
		return err
	}

	li.PermissionsDocument = certProp.Value
	li.PermissionsToken = permissionsToken

	p.logOutcome("set-permissions-credential-and-token", nil)
	return nil
}

// ValidateRemoteIdentity implements spec.md §6 validate-remote-identity.
func (p *AuthenticationPlugin) ValidateRemoteIdentity(localHandle registry.Handle, peerAuthRequest *identity.AuthRequestToken, peerIdentityToken identity.IdentityToken, peerGUIDPrefix identity.GUIDPrefix) (registry.Handle, *identity.AuthRequestToken, identity.Status, error) {
	h, outbound, status, err := p.validator.ValidateRemoteIdentity(localHandle, peerAuthRequest, peerIdentityToken, peerGUIDPrefix)
	err = wrap("validate-remote-identity", err)
	p.logOutcome("validate-remote-identity", err)
	return h, outbound, status, err
}

func (p *AuthenticationPlugin) lookupRelation(localHandle, remoteHandle registry.Handle) (*identity.LocalIdentity, *identity.RemoteIdentity, *identity.IdentityRelation, error) {
	localObj, err := p.reg.LookupTyped(localHandle, registry.KindLocalIdentity)
	if err != nil {
		return nil, nil, nil, err
	}
	remoteObj, err := p.reg.LookupTyped(remoteHandle, registry.KindRemoteIdentity)
	if err != nil {
		return nil, nil, nil, err
	}
	local := localObj.(*identity.LocalIdentity)
	remote := remoteObj.(*identity.RemoteIdentity)
	rel, ok := remote.Relations[localHandle]
	if !ok {
		return nil, nil, nil, ErrMissingRelation
	}
	return local, remote, rel, nil
}

// BeginHandshakeRequest implements spec.md §6 begin-handshake-request.
func (p *AuthenticationPlugin) BeginHandshakeRequest(localHandle, remoteHandle registry.Handle, serializedLocalPData []byte) (registry.Handle, *wire.Token, error) {
	local, _, rel, err := p.lookupRelation(localHandle, remoteHandle)
	if err != nil {
		err = wrap("begin-handshake-request", err)
		p.logOutcome("begin-handshake-request", err)
		return registry.NilHandle, nil, err
	}

	hs, req, err := p.machine.BeginHandshakeRequest(local, rel, serializedLocalPData)
	if err != nil {
		err = wrap("begin-handshake-request", err)
		p.logOutcome("begin-handshake-request", err)
		return registry.NilHandle, nil, err
	}

	h := p.reg.Insert(registry.KindHandshake, hs)
	p.logOutcome("begin-handshake-request", nil)
	return h, req, nil
}

// BeginHandshakeReply implements spec.md §6 begin-handshake-reply.
func (p *AuthenticationPlugin) BeginHandshakeReply(localHandle, remoteHandle registry.Handle, serializedLocalPData []byte, request *wire.Token) (registry.Handle, *wire.Token, error) {
	local, remote, rel, err := p.lookupRelation(localHandle, remoteHandle)
	if err != nil {
		err = wrap("begin-handshake-reply", err)
		p.logOutcome("begin-handshake-reply", err)
		return registry.NilHandle, nil, err
	}

	hs, reply, err := p.machine.BeginHandshakeReply(local, remote.GUIDPrefix, rel, serializedLocalPData, request)
	if err != nil {
		err = wrap("begin-handshake-reply", err)
		p.logOutcome("begin-handshake-reply", err)
		return registry.NilHandle, nil, err
	}

	h := p.reg.Insert(registry.KindHandshake, hs)
	p.logOutcome("begin-handshake-reply", nil)
	return h, reply, nil
}

// ProcessHandshake implements spec.md §6 process-handshake. On success
// it folds the now-known peer certificate and algorithm kinds back
// onto the RemoteIdentity and, once a certificate is known, schedules
// its expiry per spec.md §4.6.
func (p *AuthenticationPlugin) ProcessHandshake(handshakeHandle registry.Handle, inbound *wire.Token) (*wire.Token, handshake.Outcome, error) {
	hsObj, err := p.reg.LookupTyped(handshakeHandle, registry.KindHandshake)
	if err != nil {
		err = wrap("process-handshake", err)
		p.logOutcome("process-handshake", err)
		return nil, 0, err
	}
	hs := hsObj.(*handshake.Handshake)

	localObj, err := p.reg.LookupTyped(hs.Relation.LocalHandle, registry.KindLocalIdentity)
	if err != nil {
		err = wrap("process-handshake", err)
		p.logOutcome("process-handshake", err)
		return nil, 0, err
	}
	remoteObj, err := p.reg.LookupTyped(hs.Relation.RemoteHandle, registry.KindRemoteIdentity)
	if err != nil {
		err = wrap("process-handshake", err)
		p.logOutcome("process-handshake", err)
		return nil, 0, err
	}
	local := localObj.(*identity.LocalIdentity)
	remote := remoteObj.(*identity.RemoteIdentity)

	outbound, outcome, err := p.machine.ProcessHandshake(hs, local, remote.GUIDPrefix, inbound)
	if err != nil {
		err = wrap("process-handshake", err)
		p.logOutcome("process-handshake", err)
		return nil, 0, err
	}

	remote.Cert = hs.RemoteCert
	remote.DSignAlgo = hs.RemoteDSignAlgo
	remote.KAgreeAlgo = hs.KAgreeAlgo
	if notAfter, ok := identity.ExpiryTimeOf(remote.Cert); ok {
		remote.ExpiryTimer = hs.Relation.RemoteHandle
		p.dispatcher.Schedule(hs.Relation.RemoteHandle, notAfter, p.onExpire)
	}

	p.logOutcome("process-handshake", nil)
	return outbound, outcome, nil
}

// GetSharedSecret implements spec.md §6 get-shared-secret: an opaque
// reference, independently returnable, whose lifetime is bounded by the
// Handshake's (spec.md §5).
func (p *AuthenticationPlugin) GetSharedSecret(handshakeHandle registry.Handle) (registry.Handle, error) {
	hsObj, err := p.reg.LookupTyped(handshakeHandle, registry.KindHandshake)
	if err != nil {
		err = wrap("get-shared-secret", err)
		p.logOutcome("get-shared-secret", err)
		return registry.NilHandle, err
	}
	hs := hsObj.(*handshake.Handshake)
	if !hs.HasSharedSecret {
		err := wrap("get-shared-secret", ErrNoSharedSecret)
		p.logOutcome("get-shared-secret", err)
		return registry.NilHandle, err
	}

	h := p.reg.Insert(registry.KindSharedSecretRef, &sharedSecretRef{secret: hs.SharedSecret})
	p.logOutcome("get-shared-secret", nil)
	return h, nil
}

// SharedSecretBytes dereferences a handle returned by GetSharedSecret.
// This is the Crypto plugin's side of the opaque 64-bit reference
// spec.md §5 describes; it is not one of the plugin's named protocol
// operations but is the only way the reference is ever useful to a
// caller in this module.
func (p *AuthenticationPlugin) SharedSecretBytes(secretHandle registry.Handle) ([32]byte, error) {
	obj, err := p.reg.LookupTyped(secretHandle, registry.KindSharedSecretRef)
	if err != nil {
		return [32]byte{}, wrap("get-shared-secret", err)
	}
	return obj.(*sharedSecretRef).secret, nil
}

// GetAuthenticatedPeerCredentialToken implements spec.md §6
// get-authenticated-peer-credential-token.
func (p *AuthenticationPlugin) GetAuthenticatedPeerCredentialToken(handshakeHandle registry.Handle) (registry.Handle, error) {
	hsObj, err := p.reg.LookupTyped(handshakeHandle, registry.KindHandshake)
	if err != nil {
		err = wrap("get-authenticated-peer-credential-token", err)
		p.logOutcome("get-authenticated-peer-credential-token", err)
		return registry.NilHandle, err
	}
	hs := hsObj.(*handshake.Handshake)
	if hs.RemoteCert == nil {
		err := wrap("get-authenticated-peer-credential-token", ErrNoPeerCertificate)
		p.logOutcome("get-authenticated-peer-credential-token", err)
		return registry.NilHandle, err
	}

	remoteObj, err := p.reg.LookupTyped(hs.Relation.RemoteHandle, registry.KindRemoteIdentity)
	if err != nil {
		err = wrap("get-authenticated-peer-credential-token", err)
		p.logOutcome("get-authenticated-peer-credential-token", err)
		return registry.NilHandle, err
	}
	remote := remoteObj.(*identity.RemoteIdentity)

	tok := wire.NewToken(PeerCredentialTokenClassID)
	tok.Add("c.id", cryptoutil.EncodeCertificatePEM(hs.RemoteCert), false)
	tok.Add("c.perm", remote.PermissionsDocument, false)

	h := p.reg.Insert(registry.KindPeerCredentialToken, tok)
	p.logOutcome("get-authenticated-peer-credential-token", nil)
	return h, nil
}

// PeerCredentialToken dereferences a handle returned by
// GetAuthenticatedPeerCredentialToken.
func (p *AuthenticationPlugin) PeerCredentialToken(tokenHandle registry.Handle) (*wire.Token, error) {
	obj, err := p.reg.LookupTyped(tokenHandle, registry.KindPeerCredentialToken)
	if err != nil {
		return nil, wrap("get-authenticated-peer-credential-token", err)
	}
	return obj.(*wire.Token), nil
}

// ReturnIdentityHandle implements spec.md §6 return-identity-handle. Per
// spec.md §3 LocalIdentity Lifecycle, "on destruction all linked
// Identity Relations and Handshakes are removed first": before the
// LocalIdentity itself is removed, every Handshake referencing it as
// either endpoint is destroyed, and every RemoteIdentity's link table
// entry keyed by h is dropped. It cancels any pending expiry timer
// first (spec.md §4.6) and is idempotent on the nil handle.
func (p *AuthenticationPlugin) ReturnIdentityHandle(h registry.Handle) error {
	if h == registry.NilHandle {
		return nil
	}
	p.dispatcher.Cancel(h)

	var orphanedHandshakes []registry.Handle
	p.reg.IterateByKind(registry.KindHandshake, func(hsHandle registry.Handle, obj interface{}) {
		hs := obj.(*handshake.Handshake)
		if hs.Relation.LocalHandle == h || hs.Relation.RemoteHandle == h {
			orphanedHandshakes = append(orphanedHandshakes, hsHandle)
		}
	})
	for _, hsHandle := range orphanedHandshakes {
		_ = p.reg.Remove(hsHandle)
	}

	p.reg.IterateByKind(registry.KindRemoteIdentity, func(_ registry.Handle, obj interface{}) {
		remote := obj.(*identity.RemoteIdentity)
		delete(remote.Relations, h)
	})

	err := wrap("return-identity-handle", p.reg.Remove(h))
	p.logOutcome("return-identity-handle", err)
	return err
}

// ReturnHandshakeHandle implements spec.md §6 return-handshake-handle.
func (p *AuthenticationPlugin) ReturnHandshakeHandle(h registry.Handle) error {
	if h == registry.NilHandle {
		return nil
	}
	err := wrap("return-handshake-handle", p.reg.Remove(h))
	p.logOutcome("return-handshake-handle", err)
	return err
}

// ReturnAuthenticatedPeerCredentialToken implements spec.md §6
// return-authenticated-peer-credential-token.
func (p *AuthenticationPlugin) ReturnAuthenticatedPeerCredentialToken(h registry.Handle) error {
	if h == registry.NilHandle {
		return nil
	}
	err := wrap("return-authenticated-peer-credential-token", p.reg.Remove(h))
	p.logOutcome("return-authenticated-peer-credential-token", err)
	return err
}

// ReturnSharedSecret implements spec.md §6 return-shared-secret.
func (p *AuthenticationPlugin) ReturnSharedSecret(h registry.Handle) error {
	if h == registry.NilHandle {
		return nil
	}
	err := wrap("return-shared-secret", p.reg.Remove(h))
	p.logOutcome("return-shared-secret", err)
	return err
}

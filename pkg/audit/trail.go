package audit

import (
	"log"
	"time"

	"github.com/shadowmesh/ddsauth/pkg/registry"
)

// Trail fans identity-lifecycle events out to both backing stores. It
// satisfies plugin.Listener structurally (OnRevokeIdentity is its only
// required method) without pkg/audit importing pkg/plugin, keeping the
// audit trail a pure consumer of handles the caller already resolved.
type Trail struct {
	pg    *PostgresStore
	cache *RedisCache
}

// NewTrail wraps a PostgresStore and RedisCache as one fan-out sink.
// Either may be nil, in which case events are only recorded to the
// other.
func NewTrail(pg *PostgresStore, cache *RedisCache) *Trail {
	return &Trail{pg: pg, cache: cache}
}

func (t *Trail) record(e Event) {
	if t.pg != nil {
		if err := t.pg.Record(e); err != nil {
			log.Printf("audit: failed to record %s for handle %d: %v", e.Kind, e.Handle, err)
		}
	}
	if t.cache != nil {
		if err := t.cache.CacheLastEvent(e); err != nil {
			log.Printf("audit: failed to cache %s for handle %d: %v", e.Kind, e.Handle, err)
		}
	}
}

// RecordLocalValidated records a successful validate-local-identity.
func (t *Trail) RecordLocalValidated(h registry.Handle) {
	t.record(Event{Handle: h, Kind: EventLocalValidated, OccurredAt: time.Now()})
}

// RecordRemoteValidated records a successful validate-remote-identity.
func (t *Trail) RecordRemoteValidated(h registry.Handle) {
	t.record(Event{Handle: h, Kind: EventRemoteValidated, OccurredAt: time.Now()})
}

// RecordHandshakeCompleted records a handshake reaching OkFinal or Ok.
func (t *Trail) RecordHandshakeCompleted(h registry.Handle, detail string) {
	t.record(Event{Handle: h, Kind: EventHandshakeCompleted, Detail: detail, OccurredAt: time.Now()})
}

// RecordHandshakeFailed records a handshake reaching Failed.
func (t *Trail) RecordHandshakeFailed(h registry.Handle, detail string) {
	t.record(Event{Handle: h, Kind: EventHandshakeFailed, Detail: detail, OccurredAt: time.Now()})
}

// OnRevokeIdentity implements plugin.Listener: it is invoked by the
// AuthenticationPlugin's expiry dispatcher, without the registry mutex
// held, whenever a LocalIdentity or RemoteIdentity's certificate
// reaches its notAfter.
func (t *Trail) OnRevokeIdentity(h registry.Handle) {
	if t.cache != nil {
		_ = t.cache.IncrementCounter("revocations")
	}
	t.record(Event{Handle: h, Kind: EventIdentityRevoked, OccurredAt: time.Now()})
}

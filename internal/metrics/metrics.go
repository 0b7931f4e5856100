package metrics

import "sync"

// Event counter names recorded by the relay.
const (
	ConnectionsAccepted   = "connections_accepted"
	ConnectionsRejected   = "connections_rejected" // admission filter refusals
	Registrations         = "registrations"
	BindingsEvicted       = "bindings_evicted" // re-registration closed a prior connection
	EnvelopesForwarded    = "envelopes_forwarded"
	DeliveryFailures      = "delivery_failures" // write to target transport failed
	TargetOffline         = "target_offline"
	MalformedEnvelopes    = "malformed_envelopes"
	UnknownTypes          = "unknown_types"
	NotRegistered         = "not_registered"
	SessionsReaped        = "sessions_reaped"
	StatusBroadcasts      = "status_broadcasts"
	AddressBucketsEvicted = "address_buckets_evicted"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It keeps enforcement and routing logic testable without pulling a metrics
// backend into the core; counters are exported for scraping via the
// Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

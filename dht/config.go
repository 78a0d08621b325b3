package dht

import "time"

// Config holds the tunables a DHT node is constructed with. Defaults
// mirror the values original_source/lightdht.py hard-coded (SPEC_FULL.md
// §12), expressed as a struct so callers can override them the way the
// teacher's MaintenanceConfig does.
type Config struct {
	// ListenAddr is the local UDP address to bind, e.g. ":6881".
	ListenAddr string

	// BucketSize is k, the maximum nodes held at one prefix depth
	// before it must split (spec.md §4.2). BEP-5 specifies 8.
	BucketSize int

	// Alpha bounds concurrent in-flight queries during one lookup
	// round (spec.md §4.4's "bounded fan-out").
	Alpha int

	// LookupTimeout bounds how long a single find_node/get_peers
	// recursive lookup may run before returning its best-effort result.
	LookupTimeout time.Duration

	// MaxLookupAttempts caps how many nodes a lookup will query in
	// total, guarding against runaway recursion on a sparse or
	// adversarial network (spec.md §4.4).
	MaxLookupAttempts int

	// QuestionableAfter is how long a node can go unseen before it's
	// treated as questionable and re-pinged (spec.md §4.2).
	QuestionableAfter time.Duration

	// BadAfterFailures is the consecutive-failure threshold past which
	// a node is marked bad and evictable (spec.md §4.2).
	BadAfterFailures uint32

	// PingInterval is how often the maintenance loop re-checks
	// questionable nodes.
	PingInterval time.Duration

	// RefreshInterval is how often the maintenance loop performs a
	// find_node walk toward a random id to keep sparse buckets fed
	// (spec.md §4.4).
	RefreshInterval time.Duration

	// TokenRotateInterval is how often the announce_peer token secret
	// rotates (spec.md §4.5, SPEC_FULL.md §12(c)).
	TokenRotateInterval time.Duration

	// TokenValidFor is not read by the engine. Token lifetime follows
	// TokenRotateInterval alone: two live secrets are kept, so a token
	// validates until the second rotation after it was issued.
	TokenValidFor time.Duration

	// QueryRateLimit caps inbound queries accepted per second before
	// the responder starts dropping them (SPEC_FULL.md §11).
	QueryRateLimit int

	// Version is the KRPC "v" client identifier stamped on outbound
	// messages (spec.md §3).
	Version string
}

// DefaultConfig returns the values original_source/lightdht.py used,
// translated into Go duration/int types.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":6881",
		BucketSize:          8,
		Alpha:               3,
		LookupTimeout:       30 * time.Second,
		MaxLookupAttempts:   100,
		QuestionableAfter:   15 * time.Minute,
		BadAfterFailures:    3,
		PingInterval:        5 * time.Minute,
		RefreshInterval:     10 * time.Minute,
		TokenRotateInterval: 5 * time.Minute,
		TokenValidFor:       10 * time.Minute,
		QueryRateLimit:      100,
		Version:             "LT01",
	}
}

package dht

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"sync"
	"time"

	"github.com/cathalgarvey/lightdht/krpc"
)

// tokenSecretSize matches the Python original's os.urandom(20) key size.
const tokenSecretSize = 20

// TokenManager issues and validates the opaque announce_peer tokens a
// get_peers reply hands out (spec.md §4.5). Tokens are stateless HMACs
// over the info-hash, querying node id, and querying endpoint, keyed
// by a secret that rotates periodically; two secrets are kept live at
// once so a token issued just before rotation still validates
// afterward (SPEC_FULL.md §12(c)).
type TokenManager struct {
	mu         sync.Mutex
	current    []byte
	previous   []byte
	rotateEach time.Duration
	lastRotate time.Time
	tp         TimeProvider
}

// NewTokenManager creates a manager that rotates its secret every
// rotateEach.
func NewTokenManager(rotateEach time.Duration) (*TokenManager, error) {
	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	return &TokenManager{
		current:    secret,
		rotateEach: rotateEach,
		lastRotate: time.Now(),
		tp:         systemTimeProvider{},
	}, nil
}

func randomSecret() ([]byte, error) {
	b := make([]byte, tokenSecretSize)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// SetTimeProvider overrides the manager's clock, for deterministic tests.
// The rotation interval restarts from the new clock's current time.
func (tm *TokenManager) SetTimeProvider(tp TimeProvider) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.tp = tp
	tm.lastRotate = tp.Now()
}

// MaybeRotate replaces the current secret with a fresh one if
// rotateEach has elapsed since the last rotation, demoting the old
// current secret to previous. Call this periodically from the
// maintenance loop; Issue/Validate call it too so a long-idle node
// still rotates correctly the next time it's used.
func (tm *TokenManager) MaybeRotate() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.maybeRotateLocked()
}

func (tm *TokenManager) maybeRotateLocked() error {
	now := tm.tp.Now()
	if now.Sub(tm.lastRotate) < tm.rotateEach {
		return nil
	}
	fresh, err := randomSecret()
	if err != nil {
		return err
	}
	tm.previous = tm.current
	tm.current = fresh
	tm.lastRotate = now
	return nil
}

// endpointBytes canonicalizes the endpoint the token is bound to: 4
// bytes IPv4 big-endian, 2 bytes port big-endian. SPEC_FULL.md §12(c)
// chooses this fixed-width wire form over the Python original's
// str((ip,port)) tuple stringification, which wasn't a stable contract
// worth preserving byte-for-byte.
func endpointBytes(ep krpc.Endpoint) []byte {
	b := ep.Bytes()
	return b[:]
}

// computeToken hashes the three components spec.md §3/§8 bind a token
// to — info_hash, querier id, and querier endpoint — so changing any
// one of them invalidates the token.
func computeToken(secret []byte, ep krpc.Endpoint, querier krpc.ID, infoHash krpc.ID) []byte {
	mac := hmac.New(sha1.New, secret)
	mac.Write(infoHash[:])
	mac.Write(querier[:])
	mac.Write(endpointBytes(ep))
	return mac.Sum(nil)
}

// Issue returns the token a get_peers reply to querier at ep regarding
// infoHash should carry.
func (tm *TokenManager) Issue(ep krpc.Endpoint, querier krpc.ID, infoHash krpc.ID) []byte {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_ = tm.maybeRotateLocked()
	return computeToken(tm.current, ep, querier, infoHash)
}

// Validate reports whether token is a value this manager would have
// issued (under the current or previous secret) to querier at ep for
// infoHash.
func (tm *TokenManager) Validate(token []byte, ep krpc.Endpoint, querier krpc.ID, infoHash krpc.ID) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_ = tm.maybeRotateLocked()

	if hmac.Equal(token, computeToken(tm.current, ep, querier, infoHash)) {
		return true
	}
	if tm.previous != nil && hmac.Equal(token, computeToken(tm.previous, ep, querier, infoHash)) {
		return true
	}
	return false
}

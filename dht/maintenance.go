package dht

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cathalgarvey/lightdht/krpc"
)

// Maintainer runs the periodic background tasks that keep a routing
// table alive (spec.md §4.4): re-pinging questionable nodes, walking
// toward random targets to populate sparse buckets, rotating the token
// secret, and pruning long-dead bad nodes.
type Maintainer struct {
	transport *krpc.Transport
	table     *RoutingTable
	tokens    *TokenManager
	lookup    *Lookup
	selfID    ID
	cfg       *Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewMaintainer builds a Maintainer over the given components.
func NewMaintainer(transport *krpc.Transport, table *RoutingTable, tokens *TokenManager, lookup *Lookup, selfID ID, cfg *Config) *Maintainer {
	return &Maintainer{
		transport: transport,
		table:     table,
		tokens:    tokens,
		lookup:    lookup,
		selfID:    selfID,
		cfg:       cfg,
	}
}

// Start launches the ping, refresh, and prune routines. Safe to call
// once; a second call is a no-op.
func (m *Maintainer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(3)
	go m.pingRoutine()
	go m.refreshRoutine()
	go m.pruneRoutine()
}

// Stop halts all maintenance routines and waits for them to exit.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

// pingRoutine re-pings questionable nodes so they have a chance to
// prove themselves good again before being pruned (spec.md §4.4).
func (m *Maintainer) pingRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			for _, n := range m.table.Questionable(m.cfg.QuestionableAfter) {
				m.pingNode(n)
			}
		}
	}
}

func (m *Maintainer) pingNode(n *Node) {
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()

	n.MarkQueried(time.Now())
	reply, err := m.transport.Query(ctx, n.Endpoint.UDPAddr(), krpc.NewQuery(krpc.MethodPing, &krpc.QueryArgs{ID: m.selfID}))
	if err != nil {
		m.table.MarkBad(n.ID, m.cfg.BadAfterFailures)
		return
	}
	if reply.R != nil {
		m.table.Update(reply.R.ID, n.Endpoint)
	}
}

// refreshRoutine periodically walks toward a random target, the
// standard Kademlia technique for keeping under-populated buckets fed
// with fresh candidates (spec.md §4.4).
func (m *Maintainer) refreshRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			target, err := RandomID()
			if err != nil {
				logrus.WithError(err).Warn("dht: failed to generate refresh target")
				continue
			}
			ctx, cancel := context.WithTimeout(m.ctx, m.cfg.LookupTimeout)
			if _, err := m.lookup.FindNode(ctx, target); err != nil {
				logrus.WithError(err).Debug("dht: refresh lookup failed")
			}
			cancel()
		}
	}
}

// pruneRoutine evicts bad nodes that have been stale long enough, and
// rotates the token secret on the same cadence (spec.md §4.4, §4.5).
func (m *Maintainer) pruneRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			removed := m.table.RemoveStale(m.cfg.QuestionableAfter * 4)
			if removed > 0 {
				logrus.WithField("removed", removed).Debug("dht: pruned stale nodes")
			}
			if err := m.tokens.MaybeRotate(); err != nil {
				logrus.WithError(err).Warn("dht: token rotation failed")
			}
		}
	}
}

package dht

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cathalgarvey/lightdht/krpc"
)

// Engine is a complete Mainline DHT node: routing table, transport,
// responder, lookup, bootstrap, and maintenance wired together (spec.md
// §1's PURPOSE). Construct one with New, Bootstrap it against known
// hosts, then use FindNode/GetPeers/AnnouncePeer as a client while it
// answers inbound queries from other nodes in the background.
type Engine struct {
	SelfID ID
	cfg    *Config

	Transport  *krpc.Transport
	Table      *RoutingTable
	Tokens     *TokenManager
	Responder  *Responder
	Lookup     *Lookup
	Bootstrap_ *BootstrapManager
	maintainer *Maintainer
}

// New constructs an Engine bound to a fresh identity, listening per
// cfg.ListenAddr. The transport's receive loop is already running when
// New returns (spec.md §4.1/§4.3).
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	selfID, err := RandomID()
	if err != nil {
		return nil, fmt.Errorf("dht: generating node id: %w", err)
	}
	return NewWithID(cfg, selfID)
}

// NewWithID is New with an explicit, caller-chosen node id — useful
// for tests that need deterministic ids, or a node restoring a
// previously persisted identity.
func NewWithID(cfg *Config, selfID ID) (*Engine, error) {
	table := NewRoutingTable(selfID, cfg.BucketSize)
	tokens, err := NewTokenManager(cfg.TokenRotateInterval)
	if err != nil {
		return nil, fmt.Errorf("dht: initializing token manager: %w", err)
	}
	responder := NewResponder(selfID, table, tokens, cfg.QueryRateLimit)

	transport, err := krpc.NewTransport(cfg.ListenAddr, cfg.Version, responder)
	if err != nil {
		return nil, fmt.Errorf("dht: starting transport: %w", err)
	}

	lookup := NewLookup(transport, table, selfID, cfg)
	bootstrap := NewBootstrapManager(transport, table, selfID)
	maintainer := NewMaintainer(transport, table, tokens, lookup, selfID, cfg)

	e := &Engine{
		SelfID:     selfID,
		cfg:        cfg,
		Transport:  transport,
		Table:      table,
		Tokens:     tokens,
		Responder:  responder,
		Lookup:     lookup,
		Bootstrap_: bootstrap,
		maintainer: maintainer,
	}
	e.maintainer.Start()
	return e, nil
}

// BootstrapAgainst resolves and pings the given "host:port" entries to
// seed the routing table (spec.md §4.1).
func (e *Engine) BootstrapAgainst(ctx context.Context, hosts []string) (int, error) {
	return e.Bootstrap_.Bootstrap(ctx, hosts)
}

// FindNode runs an iterative find_node lookup for target.
func (e *Engine) FindNode(ctx context.Context, target ID) ([]*Node, error) {
	return e.Lookup.FindNode(ctx, target)
}

// GetPeers runs an iterative get_peers lookup for infoHash, returning
// the closest nodes seen (for a follow-up AnnouncePeer) and any peer
// endpoints discovered along the way.
func (e *Engine) GetPeers(ctx context.Context, infoHash ID) ([]*Node, []krpc.Endpoint, error) {
	return e.Lookup.GetPeers(ctx, infoHash)
}

// AnnouncePeer announces this node as a peer for infoHash to target,
// using a token from target's reply to an earlier get_peers query
// (spec.md §4.4). GetPeers does not return the tokens it receives, so
// the caller obtains one with a direct get_peers Query to target.
func (e *Engine) AnnouncePeer(ctx context.Context, target *Node, token string, infoHash ID, port int, impliedPort bool) error {
	args := &krpc.QueryArgs{
		ID:          e.SelfID,
		InfoHash:    infoHash,
		Token:       token,
		Port:        port,
		ImpliedPort: impliedPort,
	}
	reply, err := e.Transport.Query(ctx, target.Endpoint.UDPAddr(), krpc.NewQuery(krpc.MethodAnnouncePeer, args))
	if err != nil {
		return fmt.Errorf("dht: announce_peer to %s: %w", target.Endpoint, err)
	}
	if reply.R == nil {
		return fmt.Errorf("dht: announce_peer to %s: malformed reply", target.Endpoint)
	}
	return nil
}

// Close stops maintenance and shuts down the transport.
func (e *Engine) Close() error {
	e.maintainer.Stop()
	if err := e.Transport.Close(); err != nil {
		logrus.WithError(err).Warn("dht: error closing transport")
		return err
	}
	return nil
}

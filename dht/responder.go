package dht

import (
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cathalgarvey/lightdht/krpc"
)

// Error codes per BEP-5 / KRPC spec (spec.md §4.3).
const (
	errGeneric       = 201
	errServer        = 202
	errProtocol      = 203
	errMethodUnknown = 204
)

// Responder answers inbound KRPC queries, implementing krpc.QueryHandler.
// It never issues outbound queries itself; find_node/get_peers lookups
// on behalf of this node live in Lookup (spec.md §4.4).
type Responder struct {
	selfID  ID
	table   *RoutingTable
	tokens  *TokenManager
	peers   *peerStore
	limiter *rate.Limiter
}

// peerStore tracks announced (info_hash -> peer endpoint) pairs this
// node has learned of via announce_peer. spec.md's Non-goals exclude
// a durable store; this is an in-memory set good for the process
// lifetime, matching the Python original's single in-process dict.
type peerStore struct {
	mu   sync.Mutex
	data map[krpc.ID][]krpc.Endpoint
}

func newPeerStore() *peerStore {
	return &peerStore{data: make(map[krpc.ID][]krpc.Endpoint)}
}

func (ps *peerStore) add(infoHash krpc.ID, ep krpc.Endpoint) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, existing := range ps.data[infoHash] {
		if existing == ep {
			return
		}
	}
	ps.data[infoHash] = append(ps.data[infoHash], ep)
}

func (ps *peerStore) get(infoHash krpc.ID) []krpc.Endpoint {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]krpc.Endpoint, len(ps.data[infoHash]))
	copy(out, ps.data[infoHash])
	return out
}

// NewResponder builds a Responder over the given routing table and
// token manager. queriesPerSecond bounds sustained inbound query
// throughput (SPEC_FULL.md §11); bursts up to twice that are allowed.
func NewResponder(selfID ID, table *RoutingTable, tokens *TokenManager, queriesPerSecond int) *Responder {
	return &Responder{
		selfID:  selfID,
		table:   table,
		tokens:  tokens,
		peers:   newPeerStore(),
		limiter: rate.NewLimiter(rate.Limit(queriesPerSecond), queriesPerSecond*2),
	}
}

// HandleQuery implements krpc.QueryHandler.
func (r *Responder) HandleQuery(msg *krpc.Msg, from net.Addr) *krpc.Msg {
	if !r.limiter.Allow() {
		logrus.WithField("addr", from.String()).Debug("dht: dropping query, rate limit exceeded")
		return nil
	}
	if msg.A == nil {
		return krpc.NewError(msg.T, errProtocol, "missing arguments")
	}

	ep, err := endpointFromAddr(from)
	if err != nil {
		logrus.WithError(err).Warn("dht: query from non-IPv4 address, dropping")
		return nil
	}

	r.table.Update(msg.A.ID, ep)

	switch msg.Q {
	case krpc.MethodPing:
		return r.handlePing(msg)
	case krpc.MethodFindNode:
		return r.handleFindNode(msg)
	case krpc.MethodGetPeers:
		return r.handleGetPeers(msg, ep)
	case krpc.MethodAnnouncePeer:
		return r.handleAnnouncePeer(msg, ep)
	default:
		return krpc.NewError(msg.T, errMethodUnknown, "Method Unknown")
	}
}

func (r *Responder) handlePing(msg *krpc.Msg) *krpc.Msg {
	return krpc.NewReply(msg.T, &krpc.ReturnValues{ID: r.selfID})
}

func (r *Responder) handleFindNode(msg *krpc.Msg) *krpc.Msg {
	closest := r.table.Closest(msg.A.Target, 8)
	return krpc.NewReply(msg.T, &krpc.ReturnValues{
		ID:    r.selfID,
		Nodes: krpc.EncodeCompactNodes(toCompactNodes(closest)),
	})
}

// handleGetPeers answers with known peers for the info-hash if this
// node has any (it never does outside of what announce_peer has told
// it — spec.md §4.4), otherwise with the closest nodes, plus a freshly
// issued token either way.
func (r *Responder) handleGetPeers(msg *krpc.Msg, from krpc.Endpoint) *krpc.Msg {
	token := r.tokens.Issue(from, msg.A.ID, msg.A.InfoHash)
	ret := &krpc.ReturnValues{ID: r.selfID, Token: string(token)}

	if peers := r.peers.get(msg.A.InfoHash); len(peers) > 0 {
		values := make([][]byte, len(peers))
		for i, p := range peers {
			b := p.Bytes()
			values[i] = append([]byte(nil), b[:]...)
		}
		ret.Values = values
	} else {
		ret.Nodes = krpc.EncodeCompactNodes(toCompactNodes(r.table.Closest(msg.A.InfoHash, 8)))
	}
	return krpc.NewReply(msg.T, ret)
}

func (r *Responder) handleAnnouncePeer(msg *krpc.Msg, from krpc.Endpoint) *krpc.Msg {
	if !r.tokens.Validate([]byte(msg.A.Token), from, msg.A.ID, msg.A.InfoHash) {
		return krpc.NewError(msg.T, errProtocol, "Bad token")
	}
	port := msg.A.Port
	if msg.A.ImpliedPort {
		port = int(from.Port)
	}
	announced := from
	announced.Port = uint16(port)
	r.peers.add(msg.A.InfoHash, announced)
	return krpc.NewReply(msg.T, &krpc.ReturnValues{ID: r.selfID})
}

func toCompactNodes(nodes []*Node) []krpc.CompactNode {
	out := make([]krpc.CompactNode, len(nodes))
	for i, n := range nodes {
		out[i] = krpc.CompactNode{ID: n.ID, Endpoint: n.Endpoint}
	}
	return out
}

func endpointFromAddr(addr net.Addr) (krpc.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return krpc.Endpoint{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return krpc.Endpoint{}, err
	}
	return krpc.NewEndpoint(net.ParseIP(host), port)
}

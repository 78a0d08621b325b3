package dht

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/cathalgarvey/lightdht/krpc"
)

// lookupResult is what an iterative lookup converges on: the closest
// nodes found, and — for a get_peers walk — any peer endpoints a
// responder returned along the way (spec.md §4.4).
type lookupResult struct {
	closest []*Node
	peers   []krpc.Endpoint
}

// candidate is one node under consideration during a lookup round,
// carrying the token a get_peers reply handed back. The token is not
// part of the lookup result: FindNode and GetPeers return nodes only.
type candidate struct {
	node    *Node
	token   string
	queried bool
}

// Lookup drives the iterative find_node/get_peers recursion spec.md
// §4.4 describes: repeatedly query the alpha closest not-yet-queried
// candidates, merge the nodes their replies name into the candidate
// set, and stop once no unqueried candidate remains, the attempt budget
// is spent, ctx is cancelled, or (for get_peers) a round has surfaced
// any peer value.
type Lookup struct {
	transport *krpc.Transport
	table     *RoutingTable
	selfID    ID
	cfg       *Config
}

// NewLookup builds a Lookup bound to transport and table.
func NewLookup(transport *krpc.Transport, table *RoutingTable, selfID ID, cfg *Config) *Lookup {
	return &Lookup{transport: transport, table: table, selfID: selfID, cfg: cfg}
}

// FindNode performs an iterative find_node lookup for target.
func (l *Lookup) FindNode(ctx context.Context, target ID) ([]*Node, error) {
	res, err := l.run(ctx, target, krpc.MethodFindNode, ID{})
	if err != nil {
		return nil, err
	}
	return res.closest, nil
}

// GetPeers performs an iterative get_peers lookup for infoHash,
// returning both the closest nodes seen (useful for a follow-up
// announce_peer) and any peer endpoints discovered.
func (l *Lookup) GetPeers(ctx context.Context, infoHash ID) ([]*Node, []krpc.Endpoint, error) {
	res, err := l.run(ctx, infoHash, krpc.MethodGetPeers, infoHash)
	if err != nil {
		return nil, nil, err
	}
	return res.closest, res.peers, nil
}

func (l *Lookup) run(ctx context.Context, target ID, method string, infoHash ID) (*lookupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.LookupTimeout)
	defer cancel()

	seen := bloom.NewWithEstimates(uint(l.cfg.MaxLookupAttempts*4+16), 0.01)
	sem := semaphore.NewWeighted(int64(l.cfg.Alpha))

	var mu sync.Mutex
	shortlist := l.table.Closest(target, l.cfg.Alpha*2)
	candidates := make(map[ID]*candidate, len(shortlist))
	for _, n := range shortlist {
		candidates[n.ID] = &candidate{node: n}
		seen.Add(n.ID[:])
	}

	var peers []krpc.Endpoint
	attempts := 0

	for attempts < l.cfg.MaxLookupAttempts {
		mu.Lock()
		batch := pickUnqueried(candidates, target, l.cfg.Alpha)
		mu.Unlock()
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, c := range batch {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			attempts++
			wg.Add(1)
			go func(c *candidate) {
				defer sem.Release(1)
				defer wg.Done()
				l.queryOne(ctx, method, target, infoHash, c, candidates, seen, &mu, &peers)
			}(c)
		}
		wg.Wait()

		// spec.md §4.4: a get_peers walk returns the instant a reply
		// carries the desired result key, rather than exhausting the
		// full attempt budget merging in ever more candidate nodes.
		if method == krpc.MethodGetPeers && len(peers) > 0 {
			return l.collectResult(candidates, target, peers), nil
		}

		select {
		case <-ctx.Done():
			return l.collectResult(candidates, target, peers), nil
		default:
		}
	}

	return l.collectResult(candidates, target, peers), nil
}

func (l *Lookup) queryOne(ctx context.Context, method string, target, infoHash ID, c *candidate,
	candidates map[ID]*candidate, seen *bloom.BloomFilter, mu *sync.Mutex, peers *[]krpc.Endpoint,
) {
	c.queried = true
	args := &krpc.QueryArgs{ID: l.selfID}
	if method == krpc.MethodFindNode {
		args.Target = target
	} else {
		args.InfoHash = infoHash
	}

	c.node.MarkQueried(time.Now())
	reply, err := l.transport.Query(ctx, c.node.Endpoint.UDPAddr(), krpc.NewQuery(method, args))
	if err != nil {
		l.table.MarkBad(c.node.ID, l.cfg.BadAfterFailures)
		return
	}
	if reply.R == nil {
		return
	}
	l.table.Update(reply.R.ID, c.node.Endpoint)

	mu.Lock()
	defer mu.Unlock()

	if reply.R.Token != "" {
		c.token = reply.R.Token
	}
	for _, v := range reply.R.Values {
		if ep, err := krpc.DecodeCompactPeer(v); err == nil {
			*peers = append(*peers, ep)
		}
	}
	nodes, err := krpc.DecodeCompactNodes(reply.R.Nodes)
	if err != nil {
		return
	}
	for _, cn := range nodes {
		if cn.ID == l.selfID {
			continue
		}
		if seen.Test(cn.ID[:]) {
			continue
		}
		seen.Add(cn.ID[:])
		candidates[cn.ID] = &candidate{node: NewNode(cn.ID, cn.Endpoint)}
	}
	logrus.WithFields(logrus.Fields{"method": method, "learned": len(nodes)}).Debug("dht: lookup round merged nodes")
}

// pickUnqueried returns up to n not-yet-queried candidates, closest to
// target first.
func pickUnqueried(candidates map[ID]*candidate, target ID, n int) []*candidate {
	var pending []*candidate
	for _, c := range candidates {
		if !c.queried {
			pending = append(pending, c)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return lessDistance(Distance(pending[i].node.ID, target), Distance(pending[j].node.ID, target))
	})
	if len(pending) > n {
		pending = pending[:n]
	}
	return pending
}

func (l *Lookup) collectResult(candidates map[ID]*candidate, target ID, peers []krpc.Endpoint) *lookupResult {
	nodes := make([]*Node, 0, len(candidates))
	for _, c := range candidates {
		nodes = append(nodes, c.node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return lessDistance(Distance(nodes[i].ID, target), Distance(nodes[j].ID, target))
	})
	if len(nodes) > l.cfg.BucketSize {
		nodes = nodes[:l.cfg.BucketSize]
	}
	return &lookupResult{closest: nodes, peers: peers}
}

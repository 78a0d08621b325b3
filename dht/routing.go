package dht

// This routing table splits buckets lazily, rather than pre-allocating
// the full 160 fixed-depth buckets a textbook Kademlia table would: it
// starts as a single bucket covering the whole id space and only splits
// a bucket when it's full AND it is the bucket containing our own id,
// per spec.md §4.2's "only the bucket containing the local node's own
// id may split" invariant. A bucket that doesn't cover our own id
// simply stops accepting new nodes once full. This keeps the table's
// total size bounded while holding far more precision near our own id,
// which is where lookups need it most.

import (
	"sort"
	"sync"
	"time"

	"github.com/cathalgarvey/lightdht/krpc"
)

// bucket is a contiguous range of the id space: every id whose common
// prefix length with selfID is exactly prefixLen bits, diverging at
// bit prefixLen, belongs here. The deepest bucket (the one containing
// selfID) also holds every id agreeing with selfID beyond prefixLen.
type bucket struct {
	prefixLen int
	nodes     []*Node // insertion order; Remove moves the last entry into the freed slot
}

func newBucket(prefixLen int) *bucket {
	return &bucket{prefixLen: prefixLen}
}

func (b *bucket) find(id ID) int {
	for i, n := range b.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// RoutingTable is a prefix-splitting Kademlia table (spec.md §4.2).
type RoutingTable struct {
	mu     sync.RWMutex
	selfID ID
	cap    int // k, max nodes per bucket
	tp     TimeProvider

	buckets []*bucket // sorted by prefixLen ascending, partitions the whole space
}

// NewRoutingTable creates an empty table for selfID with bucket
// capacity k (BEP-5 specifies k=8).
func NewRoutingTable(selfID ID, k int) *RoutingTable {
	return &RoutingTable{
		selfID:  selfID,
		cap:     k,
		tp:      systemTimeProvider{},
		buckets: []*bucket{newBucket(0)},
	}
}

// SetTimeProvider overrides the table's clock, for deterministic tests.
func (rt *RoutingTable) SetTimeProvider(tp TimeProvider) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.tp = tp
}

// indexFor returns the index of the bucket that owns id: the one with
// the deepest prefixLen not exceeding id's agreement with selfID.
// Buckets are sorted ascending by prefixLen and always partition the
// full space, so a reverse scan finds the match directly.
func (rt *RoutingTable) indexFor(id ID) int {
	cpl := CommonPrefixLen(rt.selfID, id)
	for i := len(rt.buckets) - 1; i >= 0; i-- {
		if rt.buckets[i].prefixLen <= cpl {
			return i
		}
	}
	return 0
}

// selfBucketIndex returns the index of the bucket that contains our
// own id — the only bucket ever eligible to split.
func (rt *RoutingTable) selfBucketIndex() int {
	return rt.indexFor(rt.selfID)
}

// split replaces the self-containing bucket i with two: a "far" bucket
// that terminates at the old prefix depth (every id diverging from
// self exactly there, which can never be split again) and a "self"
// bucket one bit deeper that keeps recursing. This is what makes the
// split asymmetric rather than a balanced binary-trie split: the far
// half is a dead end, the self half is the only one that ever grows
// further (spec.md §4.2).
func (rt *RoutingTable) split(i int) {
	old := rt.buckets[i]
	selfBit := Bit(rt.selfID, old.prefixLen)

	selfSide := newBucket(old.prefixLen + 1)
	farSide := newBucket(old.prefixLen)
	for _, n := range old.nodes {
		if Bit(n.ID, old.prefixLen) == selfBit {
			selfSide.nodes = append(selfSide.nodes, n)
		} else {
			farSide.nodes = append(farSide.nodes, n)
		}
	}

	replacement := []*bucket{farSide, selfSide} // ascending by prefixLen
	rt.buckets = append(rt.buckets[:i], append(replacement, rt.buckets[i+1:]...)...)
}

// Update records a sighting of id at ep (spec.md §4.2): refreshing an
// existing entry, inserting into a bucket with room, evicting a bad
// node to make room, or splitting the self-containing bucket before
// retrying. Returns false if id is our own id, or the node was dropped
// because its bucket was full of good nodes and ineligible to split.
func (rt *RoutingTable) Update(id ID, ep krpc.Endpoint) bool {
	if id == rt.selfID {
		return false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := rt.tp.Now()
	for {
		idx := rt.indexFor(id)
		b := rt.buckets[idx]

		if pos := b.find(id); pos >= 0 {
			n := b.nodes[pos]
			n.Endpoint = ep
			n.MarkGood(now)
			return true
		}

		if len(b.nodes) < rt.cap {
			n := NewNode(id, ep)
			n.MarkGood(now)
			b.nodes = append(b.nodes, n)
			return true
		}

		if idx == rt.selfBucketIndex() {
			rt.split(idx)
			continue // retry against the freshly split halves
		}

		// Bucket full and not splittable: replace a bad node if any.
		for i, n := range b.nodes {
			if n.Status == StatusBad {
				nn := NewNode(id, ep)
				nn.MarkGood(now)
				b.nodes[i] = nn
				return true
			}
		}
		return false
	}
}

// MarkBad marks id as bad in-place if present, without inserting it
// (spec.md §4.2's bad-node tracking for lookup and eviction purposes).
func (rt *RoutingTable) MarkBad(id ID, badAfter uint32) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	b := rt.buckets[rt.indexFor(id)]
	if pos := b.find(id); pos >= 0 {
		b.nodes[pos].MarkFailed(badAfter)
	}
}

// Remove deletes id from the table entirely, if present.
func (rt *RoutingTable) Remove(id ID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	b := rt.buckets[rt.indexFor(id)]
	pos := b.find(id)
	if pos < 0 {
		return false
	}
	last := len(b.nodes) - 1
	b.nodes[pos] = b.nodes[last]
	b.nodes = b.nodes[:last]
	return true
}

// Get returns the node for id, if known.
func (rt *RoutingTable) Get(id ID) (*Node, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	b := rt.buckets[rt.indexFor(id)]
	if pos := b.find(id); pos >= 0 {
		return b.nodes[pos], true
	}
	return nil, false
}

// All returns every node in the table, in no particular order.
func (rt *RoutingTable) All() []*Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []*Node
	for _, b := range rt.buckets {
		out = append(out, b.nodes...)
	}
	return out
}

// Count returns the total number of nodes held across all buckets.
func (rt *RoutingTable) Count() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for _, b := range rt.buckets {
		n += len(b.nodes)
	}
	return n
}

// Closest returns up to count live (non-bad) nodes sorted by ascending
// XOR distance to target (spec.md §4.2's closest-nodes operation, used
// to answer find_node/get_peers and to drive lookup recursion). Bad
// nodes are excluded from closeness queries per spec.md §4.2/§8.
func (rt *RoutingTable) Closest(target ID, count int) []*Node {
	all := rt.All()
	live := all[:0]
	for _, n := range all {
		if n.Status != StatusBad {
			live = append(live, n)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return lessDistance(Distance(live[i].ID, target), Distance(live[j].ID, target))
	})
	if len(live) > count {
		live = live[:count]
	}
	return live
}

// Sample returns up to count nodes drawn from across the table's
// buckets rather than concentrated near one target, for diagnostics
// and for seeding lookups with breadth (spec.md §4.2's sample
// operation). It takes the last node of each non-empty bucket, one per
// bucket, so it returns at most BucketCount() nodes.
func (rt *RoutingTable) Sample(count int) []*Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []*Node
	for _, b := range rt.buckets {
		if len(out) >= count {
			break
		}
		if len(b.nodes) == 0 {
			continue
		}
		out = append(out, b.nodes[len(b.nodes)-1])
	}
	return out
}

// RemoveStale deletes every bad node not seen within maxAge, returning
// how many were removed; nodes not marked bad are kept. Used by the maintenance loop's cleanup pass
// (spec.md §4.4).
func (rt *RoutingTable) RemoveStale(maxAge time.Duration) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	now := rt.tp.Now()
	removed := 0
	for _, b := range rt.buckets {
		kept := b.nodes[:0]
		for _, n := range b.nodes {
			if n.Status == StatusBad && now.Sub(n.LastSeen) > maxAge {
				removed++
				continue
			}
			kept = append(kept, n)
		}
		b.nodes = kept
	}
	return removed
}

// Questionable returns every node that hasn't been seen within
// questionableAfter and isn't already marked bad, the set the
// maintenance loop re-pings (spec.md §4.4).
func (rt *RoutingTable) Questionable(questionableAfter time.Duration) []*Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	now := rt.tp.Now()
	var out []*Node
	for _, b := range rt.buckets {
		for _, n := range b.nodes {
			if n.IsQuestionable(now, questionableAfter) {
				out = append(out, n)
			}
		}
	}
	return out
}

// BucketCount reports how many buckets the table currently has, for
// diagnostics and tests of the splitting behavior.
func (rt *RoutingTable) BucketCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.buckets)
}

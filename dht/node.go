package dht

import (
	"time"

	"github.com/cathalgarvey/lightdht/krpc"
)

// TimeProvider abstracts time so routing table and maintenance behavior
// can be driven deterministically in tests without real sleeps.
type TimeProvider interface {
	Now() time.Time
}

// systemTimeProvider is the default, real-clock TimeProvider.
type systemTimeProvider struct{}

func (systemTimeProvider) Now() time.Time { return time.Now() }

// Status reflects spec.md §4.2's three-state node liveness model.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusGood
	StatusBad
)

// Node is one entry in the routing table: a remote id paired with its
// endpoint and the bookkeeping needed to judge liveness (spec.md §3).
type Node struct {
	ID       ID
	Endpoint krpc.Endpoint

	Status       Status
	LastSeen     time.Time
	LastQueried  time.Time
	PendingPings uint32 // consecutive unanswered queries since last good reply
}

// NewNode creates a freshly-discovered node, status unknown until it
// either answers a query or fails one (spec.md §4.2).
func NewNode(id ID, ep krpc.Endpoint) *Node {
	return &Node{ID: id, Endpoint: ep, Status: StatusUnknown}
}

// MarkGood records a successful reply from the node: resets the
// failure streak and (re)marks it good, per spec.md §4.2's "any node
// that ever responds is good until it fails enough requests in a row".
func (n *Node) MarkGood(now time.Time) {
	n.Status = StatusGood
	n.LastSeen = now
	n.PendingPings = 0
}

// MarkQueried records that a request was just sent to the node.
func (n *Node) MarkQueried(now time.Time) {
	n.LastQueried = now
}

// MarkFailed records a timed-out or failed request. badAfter is the
// consecutive-failure threshold (spec.md §4.2: "a node becomes bad
// after failing to respond to multiple queries in a row"); passing the
// threshold flips Status to StatusBad.
func (n *Node) MarkFailed(badAfter uint32) {
	n.PendingPings++
	if n.PendingPings >= badAfter {
		n.Status = StatusBad
	}
}

// IsQuestionable reports whether the node hasn't been seen recently
// enough to be trusted without a fresh ping (spec.md §4.2).
func (n *Node) IsQuestionable(now time.Time, questionableAfter time.Duration) bool {
	return n.Status != StatusBad && now.Sub(n.LastSeen) > questionableAfter
}

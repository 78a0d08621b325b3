// Package dht implements a Mainline DHT (BEP-5) node: peer discovery
// and routing for BitTorrent info-hashes over a prefix-splitting
// Kademlia overlay.
//
// # Architecture
//
// Each node maintains a routing table of known peers organized into
// buckets by XOR distance from the local node's own id. Unlike a
// classical fixed-depth Kademlia table, buckets here split lazily:
// only the bucket containing the local node's own id is ever split
// when full, which keeps the table's size bounded while concentrating
// precision near the ids that matter for lookups.
//
// Key components:
//
//   - RoutingTable: prefix-splitting k-buckets
//   - BootstrapManager: resolves and pings configured bootstrap hosts
//   - Lookup: iterative find_node/get_peers recursion
//   - Responder: answers inbound queries from other nodes
//   - TokenManager: issues and validates announce_peer tokens
//   - Maintainer: periodic ping/refresh/prune background tasks
//   - Engine: wires the above into a single usable node
//
// # Bootstrap
//
//	engine, err := dht.New(dht.DefaultConfig())
//	n, err := engine.BootstrapAgainst(ctx, []string{"router.bittorrent.com:6881"})
//
// # Lookups
//
//	nodes, err := engine.FindNode(ctx, target)
//	closest, peers, err := engine.GetPeers(ctx, infoHash)
//	// GetPeers does not return tokens; token comes from a get_peers
//	// reply of closest[0] itself (e.g. a direct engine.Transport.Query).
//	err = engine.AnnouncePeer(ctx, closest[0], token, infoHash, 6881, false)
//
// # Node status
//
//	const (
//	    StatusUnknown Status = iota // new node, untested
//	    StatusGood                  // has answered at least one query
//	    StatusBad                   // failed enough consecutive queries
//	)
//
// # Maintenance
//
// The Maintainer is started automatically by New/NewWithID and runs
// until Engine.Close:
//
//   - re-pinging questionable nodes on PingInterval
//   - a random-target find_node walk on RefreshInterval to keep sparse
//     buckets fed
//   - pruning long-stale bad nodes and rotating the token secret
//
// # Deterministic testing
//
// RoutingTable and TokenManager accept a TimeProvider (Node's methods
// take the current time as an argument) so tests can control elapsed
// time without real sleeps:
//
//	table.SetTimeProvider(mockClock)
//	tokens.SetTimeProvider(mockClock)
package dht

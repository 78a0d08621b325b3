package krpc

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Endpoint is an IPv4 address plus UDP port, the 6-byte compact form
// spec.md §3 defines for a node record. This implementation is IPv4
// only (spec.md §1 Non-goals).
type Endpoint struct {
	IP   [4]byte
	Port uint16
}

// NewEndpoint builds an Endpoint from a net.UDPAddr-shaped pair,
// rejecting anything that isn't a 4-byte IPv4 address.
func NewEndpoint(ip net.IP, port int) (Endpoint, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Endpoint{}, fmt.Errorf("krpc: %s is not an IPv4 address", ip)
	}
	var e Endpoint
	copy(e.IP[:], v4)
	e.Port = uint16(port)
	return e, nil
}

// UDPAddr renders the endpoint as a *net.UDPAddr for use with a
// net.PacketConn.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(e.IP[:]), Port: int(e.Port)}
}

func (e Endpoint) String() string {
	return e.UDPAddr().String()
}

// Bytes renders the endpoint as its 6-byte compact wire form: 4 bytes
// IPv4 big-endian, 2 bytes port big-endian.
func (e Endpoint) Bytes() [6]byte {
	var b [6]byte
	copy(b[:4], e.IP[:])
	binary.BigEndian.PutUint16(b[4:], e.Port)
	return b
}

// CompactNodeSize is the wire width of one compact node-info record:
// 20 bytes id ‖ 4 bytes IPv4 ‖ 2 bytes port (spec.md §6).
const CompactNodeSize = IDLength + 6

// CompactNode pairs a node id with its endpoint, the decoded form of
// one 26-byte record in a "nodes" blob.
type CompactNode struct {
	ID       ID
	Endpoint Endpoint
}

// EncodeCompactNodes concatenates nodes into a "nodes" wire blob.
func EncodeCompactNodes(nodes []CompactNode) []byte {
	out := make([]byte, 0, len(nodes)*CompactNodeSize)
	for _, n := range nodes {
		out = append(out, n.ID[:]...)
		eb := n.Endpoint.Bytes()
		out = append(out, eb[:]...)
	}
	return out
}

// DecodeCompactNodes parses a "nodes" wire blob. Per spec.md §6, the
// field's length must be a multiple of 26 bytes; a non-conforming blob
// is dropped (returns an error, which callers treat as "ignore this
// field" rather than failing the whole message).
func DecodeCompactNodes(blob []byte) ([]CompactNode, error) {
	if len(blob)%CompactNodeSize != 0 {
		return nil, fmt.Errorf("krpc: compact nodes blob length %d is not a multiple of %d", len(blob), CompactNodeSize)
	}
	count := len(blob) / CompactNodeSize
	out := make([]CompactNode, count)
	for i := 0; i < count; i++ {
		rec := blob[i*CompactNodeSize : (i+1)*CompactNodeSize]
		var n CompactNode
		copy(n.ID[:], rec[:IDLength])
		copy(n.Endpoint.IP[:], rec[IDLength:IDLength+4])
		n.Endpoint.Port = binary.BigEndian.Uint16(rec[IDLength+4:])
		out[i] = n
	}
	return out, nil
}

// DecodeCompactPeer parses one 6-byte "values" entry (a torrent peer's
// endpoint, as returned in a get_peers reply's "values" — this node's
// own responder emits them only for info-hashes it has accepted an
// announce_peer for, and the lookup client decodes them from any reply).
func DecodeCompactPeer(b []byte) (Endpoint, error) {
	if len(b) != 6 {
		return Endpoint{}, fmt.Errorf("krpc: compact peer blob must be 6 bytes, got %d", len(b))
	}
	var e Endpoint
	copy(e.IP[:], b[:4])
	e.Port = binary.BigEndian.Uint16(b[4:])
	return e, nil
}

// Package krpc: wire message shapes.
//
// Grounded on _examples/yarikk-dht/krpc/msg.go's struct-tag layout,
// trimmed to the BEP-5 core fields spec.md names plus the BEP-43
// ReadOnly flag (SPEC_FULL.md §12); the IPv6/BEP-32/BEP-33/51 fields
// present there are dropped as out of scope.
package krpc

import "github.com/cathalgarvey/lightdht/bencode"

// IDLength is the width of a Mainline DHT node id / info-hash, in
// bytes (160 bits).
const IDLength = 20

// ID is a 160-bit Kademlia identifier: a node id or an info-hash.
type ID [IDLength]byte

// MarshalBencode encodes the id as a raw 20-byte bencode string.
func (id ID) MarshalBencode() (bencode.Value, error) {
	return bencode.Bytes(id[:]), nil
}

// UnmarshalBencode decodes a 20-byte bencode string into the id.
func (id *ID) UnmarshalBencode(v bencode.Value) error {
	b, ok := v.Bytes()
	if !ok || len(b) != IDLength {
		return bencode.ErrTypeMismatch
	}
	copy(id[:], b)
	return nil
}

// MsgType is the KRPC "y" discriminant.
type MsgType string

const (
	TypeQuery MsgType = "q"
	TypeReply MsgType = "r"
	TypeError MsgType = "e"
)

// Query method names, the four BEP-5 RPCs this node speaks.
const (
	MethodPing          = "ping"
	MethodFindNode       = "find_node"
	MethodGetPeers       = "get_peers"
	MethodAnnouncePeer   = "announce_peer"
)

// Msg is a single KRPC message: a query, a reply, or an error,
// discriminated by Y. T is the transaction id every message carries;
// A/R/E are populated according to Y.
type Msg struct {
	T        string      `bencode:"t"`
	Y        string      `bencode:"y"`
	Q        string       `bencode:"q,omitempty"`
	A        *QueryArgs   `bencode:"a,omitempty"`
	R        *ReturnValues `bencode:"r,omitempty"`
	E        *Error       `bencode:"e,omitempty"`
	V        string       `bencode:"v,omitempty"`
	ReadOnly bool         `bencode:"ro,omitempty"` // BEP 43: sender will not answer queries.
}

// QueryArgs holds the "a" dictionary's named arguments, a union of
// every field any of the four queries need.
type QueryArgs struct {
	ID          ID     `bencode:"id"`
	InfoHash    ID     `bencode:"info_hash,omitempty"`
	Target      ID     `bencode:"target,omitempty"`
	Token       string `bencode:"token,omitempty"`
	Port        int    `bencode:"port,omitempty"`
	ImpliedPort bool   `bencode:"implied_port,omitempty"`
}

// ReturnValues holds the "r" dictionary returned by a successful reply.
type ReturnValues struct {
	ID     ID       `bencode:"id"`
	Nodes  []byte   `bencode:"nodes,omitempty"`  // compact node info, see DecodeCompactNodes
	Token  string   `bencode:"token,omitempty"`
	Values [][]byte `bencode:"values,omitempty"` // compact peer endpoints (6 bytes each); our own responder populates it only for info-hashes it has accepted an announce_peer for.
}

// Error is the "e" dictionary's wire shape: a two-element list of
// [code, message], not a bencode dict, so it owns its own (de)coding.
type Error struct {
	Code int
	Msg  string
}

func (e Error) Error() string { return e.Msg }

// MarshalBencode renders e as the BEP-5 [code, message] list.
func (e Error) MarshalBencode() (bencode.Value, error) {
	return bencode.List(bencode.Int(int64(e.Code)), bencode.Str(e.Msg)), nil
}

// UnmarshalBencode parses the BEP-5 [code, message] list into e.
func (e *Error) UnmarshalBencode(v bencode.Value) error {
	items, ok := v.List()
	if !ok || len(items) < 2 {
		return bencode.ErrTypeMismatch
	}
	code, ok := items[0].Int()
	if !ok {
		return bencode.ErrTypeMismatch
	}
	msg, ok := items[1].Bytes()
	if !ok {
		return bencode.ErrTypeMismatch
	}
	e.Code = int(code)
	e.Msg = string(msg)
	return nil
}

// NewQuery builds a query Msg. T and V are filled in by Transport.Query/QueryAsync.
func NewQuery(method string, args *QueryArgs) *Msg {
	return &Msg{Y: string(TypeQuery), Q: method, A: args}
}

// NewReply builds a reply Msg answering transaction t.
func NewReply(t string, ret *ReturnValues) *Msg {
	return &Msg{T: t, Y: string(TypeReply), R: ret}
}

// NewError builds an error Msg answering transaction t.
func NewError(t string, code int, msg string) *Msg {
	return &Msg{T: t, Y: string(TypeError), E: &Error{Code: code, Msg: msg}}
}

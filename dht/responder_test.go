package dht

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cathalgarvey/lightdht/krpc"
)

func newTestResponder(t *testing.T) (*Responder, ID) {
	t.Helper()
	self := idFromByte(0x01)
	table := NewRoutingTable(self, 8)
	tokens, err := NewTokenManager(time.Hour)
	require.NoError(t, err)
	return NewResponder(self, table, tokens, 1000), self
}

func udpFrom(t *testing.T, port int) net.Addr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	return addr
}

func TestResponderAnswersPing(t *testing.T) {
	r, self := newTestResponder(t)
	from := udpFrom(t, 6000)

	q := krpc.NewQuery(krpc.MethodPing, &krpc.QueryArgs{ID: idFromByte(0x02)})
	q.T = "\x00\x01"
	reply := r.HandleQuery(q, from)

	require.NotNil(t, reply)
	assert.Equal(t, string(krpc.TypeReply), reply.Y)
	require.NotNil(t, reply.R)
	assert.Equal(t, self, reply.R.ID)
}

func TestResponderLearnsQuerierIntoTable(t *testing.T) {
	r, _ := newTestResponder(t)
	from := udpFrom(t, 6001)
	querier := idFromByte(0x02)

	q := krpc.NewQuery(krpc.MethodPing, &krpc.QueryArgs{ID: querier})
	q.T = "\x00\x01"
	r.HandleQuery(q, from)

	_, ok := r.table.Get(querier)
	assert.True(t, ok)
}

func TestResponderFindNodeReturnsClosest(t *testing.T) {
	r, _ := newTestResponder(t)
	known := idFromByte(0x05)
	r.table.Update(known, testEndpoint(t, 9))

	q := krpc.NewQuery(krpc.MethodFindNode, &krpc.QueryArgs{ID: idFromByte(0x02), Target: idFromByte(0x05)})
	q.T = "\x00\x02"
	reply := r.HandleQuery(q, udpFrom(t, 6002))

	require.NotNil(t, reply.R)
	nodes, err := krpc.DecodeCompactNodes(reply.R.Nodes)
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
}

func TestResponderGetPeersIssuesToken(t *testing.T) {
	r, _ := newTestResponder(t)
	infoHash := idFromByte(0x07)

	q := krpc.NewQuery(krpc.MethodGetPeers, &krpc.QueryArgs{ID: idFromByte(0x02), InfoHash: infoHash})
	q.T = "\x00\x03"
	reply := r.HandleQuery(q, udpFrom(t, 6003))

	require.NotNil(t, reply.R)
	assert.NotEmpty(t, reply.R.Token)
}

func TestResponderAnnouncePeerRequiresValidToken(t *testing.T) {
	r, _ := newTestResponder(t)
	infoHash := idFromByte(0x07)
	from := udpFrom(t, 6004)

	getQ := krpc.NewQuery(krpc.MethodGetPeers, &krpc.QueryArgs{ID: idFromByte(0x02), InfoHash: infoHash})
	getQ.T = "\x00\x04"
	getReply := r.HandleQuery(getQ, from)
	token := getReply.R.Token

	announceQ := krpc.NewQuery(krpc.MethodAnnouncePeer, &krpc.QueryArgs{
		ID: idFromByte(0x02), InfoHash: infoHash, Token: token, Port: 6881,
	})
	announceQ.T = "\x00\x05"
	reply := r.HandleQuery(announceQ, from)
	require.NotNil(t, reply)
	assert.Equal(t, string(krpc.TypeReply), reply.Y)

	badQ := krpc.NewQuery(krpc.MethodAnnouncePeer, &krpc.QueryArgs{
		ID: idFromByte(0x02), InfoHash: infoHash, Token: "garbage", Port: 6881,
	})
	badQ.T = "\x00\x06"
	badReply := r.HandleQuery(badQ, from)
	require.NotNil(t, badReply.E)
}

func TestResponderUnknownMethodReturnsError(t *testing.T) {
	r, _ := newTestResponder(t)
	q := &krpc.Msg{T: "\x00\x07", Y: string(krpc.TypeQuery), Q: "nonexistent", A: &krpc.QueryArgs{ID: idFromByte(0x02)}}
	reply := r.HandleQuery(q, udpFrom(t, 6005))
	require.NotNil(t, reply.E)
	assert.Equal(t, 204, reply.E.Code)
}

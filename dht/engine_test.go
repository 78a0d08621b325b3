package dht

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cathalgarvey/lightdht/krpc"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.LookupTimeout = 3 * time.Second
	cfg.MaxLookupAttempts = 20
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngineBootstrapBetweenTwoNodes(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := a.BootstrapAgainst(ctx, []string{b.Transport.LocalAddr().String()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := a.Table.Get(b.SelfID)
	assert.True(t, ok)
}

func TestEngineFindNodeAcrossThreeNodes(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	c := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := a.BootstrapAgainst(ctx, []string{b.Transport.LocalAddr().String()})
	require.NoError(t, err)
	_, err = b.BootstrapAgainst(ctx, []string{c.Transport.LocalAddr().String()})
	require.NoError(t, err)

	nodes, err := a.FindNode(ctx, c.SelfID)
	require.NoError(t, err)
	require.NotEmpty(t, nodes)

	var found bool
	for _, n := range nodes {
		if n.ID == c.SelfID {
			found = true
		}
	}
	assert.True(t, found, "expected c's id to surface via b during the lookup")
}

func TestEngineGetPeersAndAnnounce(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := a.BootstrapAgainst(ctx, []string{b.Transport.LocalAddr().String()})
	require.NoError(t, err)

	infoHash := idFromByte(0x77)
	closest, _, err := a.GetPeers(ctx, infoHash)
	require.NoError(t, err)
	require.NotEmpty(t, closest)

	var target *Node
	for _, n := range closest {
		if n.ID == b.SelfID {
			target = n
		}
	}
	require.NotNil(t, target, "b should be in the closest set for a 2-node network")

	// Query b directly for get_peers to obtain a token bound to a's
	// own address, the one announce_peer must present back to b.
	reply, err := a.Transport.Query(ctx, target.Endpoint.UDPAddr(), krpc.NewQuery(krpc.MethodGetPeers, &krpc.QueryArgs{
		ID: a.SelfID, InfoHash: infoHash,
	}))
	require.NoError(t, err)
	require.NotNil(t, reply.R)
	token := reply.R.Token
	require.NotEmpty(t, token)

	require.NoError(t, a.AnnouncePeer(ctx, target, token, infoHash, 6881, true))

	// A stale/wrong token must be rejected.
	err = a.AnnouncePeer(ctx, target, "garbage", infoHash, 6881, true)
	assert.Error(t, err)
}

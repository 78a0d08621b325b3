package krpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackTransport(t *testing.T, handler QueryHandler) *Transport {
	t.Helper()
	tr, err := NewTransport("127.0.0.1:0", "GO", handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestQueryReceivesReply(t *testing.T) {
	var gotQuery *Msg
	responder := newLoopbackTransport(t, QueryHandlerFunc(func(msg *Msg, from net.Addr) *Msg {
		gotQuery = msg
		return NewReply(msg.T, &ReturnValues{ID: sampleID(0x02)})
	}))
	caller := newLoopbackTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := caller.Query(ctx, responder.LocalAddr(), NewQuery(MethodPing, &QueryArgs{ID: sampleID(0x01)}))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, string(TypeReply), reply.Y)
	require.NotNil(t, reply.R)
	assert.Equal(t, sampleID(0x02), reply.R.ID)

	require.NotNil(t, gotQuery)
	assert.Equal(t, MethodPing, gotQuery.Q)
}

func TestQueryReceivesErrorReply(t *testing.T) {
	responder := newLoopbackTransport(t, QueryHandlerFunc(func(msg *Msg, from net.Addr) *Msg {
		return NewError(msg.T, 201, "Generic Error")
	}))
	caller := newLoopbackTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := caller.Query(ctx, responder.LocalAddr(), NewQuery(MethodPing, &QueryArgs{ID: sampleID(0x01)}))
	require.Error(t, err)
	assert.Equal(t, "Generic Error", err.Error())
}

func TestQueryTimesOutWithNoResponder(t *testing.T) {
	caller := newLoopbackTransport(t, nil)
	deadAddr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = caller.Query(ctx, deadAddr, NewQuery(MethodPing, &QueryArgs{ID: sampleID(0x01)}))
	require.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestQueryAsyncInvokesCallback(t *testing.T) {
	responder := newLoopbackTransport(t, QueryHandlerFunc(func(msg *Msg, from net.Addr) *Msg {
		return NewReply(msg.T, &ReturnValues{ID: sampleID(0x09)})
	}))
	caller := newLoopbackTransport(t, nil)

	done := make(chan *Msg, 1)
	_, err := caller.QueryAsync(responder.LocalAddr(), NewQuery(MethodPing, &QueryArgs{ID: sampleID(0x01)}), func(msg *Msg, err error) {
		if err == nil {
			done <- msg
		} else {
			done <- nil
		}
	})
	require.NoError(t, err)

	select {
	case msg := <-done:
		require.NotNil(t, msg)
		assert.Equal(t, sampleID(0x09), msg.R.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestUnknownTransactionReplyIsDropped(t *testing.T) {
	caller := newLoopbackTransport(t, nil)
	sender := newLoopbackTransport(t, nil)

	reply := NewReply("\xff\xff", &ReturnValues{ID: sampleID(0x01)})
	require.NoError(t, sender.Reply(caller.LocalAddr(), reply))

	// Give the receive loop a moment to process and drop it; nothing
	// should ever land in the pending table for an id no one registered.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, caller.PendingCount())
}

package krpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cathalgarvey/lightdht/bencode"
)

// ErrTimeout is returned by a synchronous Query call whose transaction
// received no reply within transactionTimeout (spec.md §7).
var ErrTimeout = errors.New("krpc: transaction timed out")

// QueryHandler processes an inbound "q" message and returns the reply
// to send, or nil to send nothing (spec.md §4.3's "y==q" dispatch).
// Implementations must not block the receive loop for long; the DHT
// engine's responder (spec.md §4.4) is the default use case.
type QueryHandler interface {
	HandleQuery(msg *Msg, from net.Addr) *Msg
}

// QueryHandlerFunc adapts a plain function to QueryHandler.
type QueryHandlerFunc func(msg *Msg, from net.Addr) *Msg

func (f QueryHandlerFunc) HandleQuery(msg *Msg, from net.Addr) *Msg { return f(msg, from) }

// readBufferSize comfortably exceeds any KRPC message this node sends
// or expects to receive; BEP-5 datagrams are well under 1500 bytes.
const readBufferSize = 4096

// pollInterval bounds how long a single non-blocking read waits before
// the receive loop re-checks for shutdown and re-runs the scavenger,
// mirroring the teacher's transport.UDPTransport.processPackets.
const pollInterval = 100 * time.Millisecond

// Transport is the single UDP socket a DHT node sends and receives
// KRPC datagrams over (spec.md §4.3). It owns transaction correlation
// and timeout bookkeeping; it has no knowledge of routing tables or
// node liveness bookkeeping — that's layered on by the dht package
// wrapping Query/QueryAsync (see DESIGN.md).
type Transport struct {
	conn    net.PacketConn
	version string
	txns    *transactionTable

	handlerMu sync.RWMutex
	handler   QueryHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTransport binds a UDP socket on addr (e.g. ":6881") and starts
// the receive loop. version is the "v" tag stamped on outbound
// messages. handler answers inbound queries; pass nil to ignore all
// queries until SetHandler is called.
func NewTransport(addr string, version string, handler QueryHandler) (*Transport, error) {
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("krpc: listen %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:    conn,
		version: version,
		txns:    newTransactionTable(),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
	t.wg.Add(1)
	go t.receiveLoop()
	return t, nil
}

// SetHandler replaces the inbound query handler. Safe to call while
// the transport is running.
func (t *Transport) SetHandler(h QueryHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = h
}

// LocalAddr returns the transport's bound local address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Close stops the receive loop and releases the socket. Any
// synchronous Query calls in flight observe this as a timeout
// (spec.md §5, "Cancellation & timeouts").
func (t *Transport) Close() error {
	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

// Query sends a request to addr and blocks until a reply/error
// arrives, the context is cancelled, or transactionTimeout elapses.
// On a reply, it returns the decoded Msg; on an error-kind reply it
// returns the Error value; on timeout it returns ErrTimeout.
func (t *Transport) Query(ctx context.Context, addr net.Addr, msg *Msg) (*Msg, error) {
	resultCh := make(chan result, 1)
	id, err := t.send(addr, msg, &pendingCall{addr: addr, createdAt: time.Now(), resultCh: resultCh})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-resultCh:
		return r.msg, r.err
	case <-time.After(transactionTimeout):
		t.txns.take(id) // no-op if the receive loop already delivered
		return nil, ErrTimeout
	case <-ctx.Done():
		t.txns.take(id)
		return nil, ctx.Err()
	case <-t.ctx.Done():
		t.txns.take(id)
		return nil, ErrTimeout
	}
}

// QueryAsync sends a request to addr and returns immediately; callback
// is invoked from the receive loop on reply, error, or scavenge
// timeout. For fire-and-forget queries where blocking a caller isn't
// warranted.
func (t *Transport) QueryAsync(addr net.Addr, msg *Msg, callback func(*Msg, error)) (string, error) {
	return t.send(addr, msg, &pendingCall{addr: addr, createdAt: time.Now(), callback: callback})
}

func (t *Transport) send(addr net.Addr, msg *Msg, call *pendingCall) (string, error) {
	id := t.txns.nextID()
	msg.T = id
	if msg.V == "" {
		msg.V = t.version
	}
	data, err := bencode.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("krpc: encode query: %w", err)
	}
	t.txns.register(id, call)

	if _, err := t.conn.WriteTo(data, addr); err != nil {
		t.txns.take(id)
		return "", fmt.Errorf("krpc: send to %s: %w", addr, err)
	}
	logrus.WithFields(logrus.Fields{
		"transaction": fmt.Sprintf("%x", id),
		"addr":        addr.String(),
		"method":      msg.Q,
	}).Debug("krpc: query sent")
	return id, nil
}

// Reply sends a pre-built reply or error message to addr. Used by a
// QueryHandler to answer an inbound query (spec.md §4.4).
func (t *Transport) Reply(addr net.Addr, msg *Msg) error {
	if msg.V == "" {
		msg.V = t.version
	}
	data, err := bencode.Marshal(msg)
	if err != nil {
		return fmt.Errorf("krpc: encode reply: %w", err)
	}
	_, err = t.conn.WriteTo(data, addr)
	return err
}

// receiveLoop reads datagrams, classifies and dispatches them, and
// scavenges expired transactions once per iteration. It never returns
// except on shutdown, and never lets a panic in a handler or a decode
// error kill it (spec.md §7's "the receive loop must never die").
func (t *Transport) receiveLoop() {
	defer t.wg.Done()
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		if err := t.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			logrus.WithError(err).Warn("krpc: failed to set read deadline")
		}

		n, from, err := t.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				t.scavenge()
				continue
			}
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			logrus.WithError(err).Debug("krpc: read error, continuing")
			t.scavenge()
			continue
		}

		t.handleDatagram(buf[:n], from)
		t.scavenge()
	}
}

func (t *Transport) handleDatagram(data []byte, from net.Addr) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("krpc: recovered panic while handling datagram")
		}
	}()

	var msg Msg
	if err := bencode.Unmarshal(data, &msg); err != nil {
		logrus.WithError(err).Debug("krpc: dropping undecodable datagram")
		return
	}

	switch MsgType(msg.Y) {
	case TypeReply:
		t.dispatchReply(msg.T, &msg, nil, from)
	case TypeError:
		if msg.T == "" {
			logrus.WithField("addr", from.String()).Warn("krpc: error reply with no transaction id")
			return
		}
		var err error
		if msg.E != nil {
			err = *msg.E
		} else {
			err = fmt.Errorf("krpc: error reply with no error body")
		}
		t.dispatchReply(msg.T, nil, err, from)
	case TypeQuery:
		t.dispatchQuery(&msg, from)
	default:
		logrus.WithFields(logrus.Fields{"y": msg.Y, "addr": from.String()}).Warn("krpc: unknown message type, dropping")
	}
}

func (t *Transport) dispatchReply(id string, msg *Msg, err error, from net.Addr) {
	call, ok := t.txns.take(id)
	if !ok {
		logrus.WithField("addr", from.String()).Debug("krpc: reply with no matching transaction, dropping")
		return
	}
	if call.callback != nil {
		call.callback(msg, err)
		return
	}
	if call.resultCh != nil {
		call.resultCh <- result{msg: msg, err: err}
	}
}

func (t *Transport) dispatchQuery(msg *Msg, from net.Addr) {
	t.handlerMu.RLock()
	h := t.handler
	t.handlerMu.RUnlock()
	if h == nil {
		logrus.WithField("method", msg.Q).Debug("krpc: no handler registered, ignoring query")
		return
	}
	reply := h.HandleQuery(msg, from)
	if reply == nil {
		return
	}
	if err := t.Reply(from, reply); err != nil {
		logrus.WithError(err).Warn("krpc: failed to send reply")
	}
}

// scavenge drops transactions older than transactionTimeout and
// notifies any registered async callback of the timeout. Synchronous
// callers race their own time.After against this and handle the case
// where both see the transaction as gone (spec.md §5's Ordering
// guarantee: a reply is never delivered after scavenge-deletion).
func (t *Transport) scavenge() {
	expired := t.txns.scavenge(time.Now())
	for id, call := range expired {
		if call.callback != nil {
			call.callback(nil, ErrTimeout)
		}
		logrus.WithField("transaction", fmt.Sprintf("%x", id)).Debug("krpc: transaction scavenged")
	}
}

// PendingCount reports the number of outstanding transactions, for
// diagnostics/tests.
func (t *Transport) PendingCount() int { return t.txns.len() }

package dht

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/cathalgarvey/lightdht/krpc"
)

// BootstrapManager resolves and pings a node's configured bootstrap
// hosts to seed its routing table (spec.md §4.1). Each host is wrapped
// in its own circuit breaker so one consistently unreachable host
// doesn't keep eating retry attempts meant for the others.
type BootstrapManager struct {
	transport *krpc.Transport
	table     *RoutingTable
	selfID    ID

	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBootstrapManager builds a manager for the given transport/table.
func NewBootstrapManager(transport *krpc.Transport, table *RoutingTable, selfID ID) *BootstrapManager {
	return &BootstrapManager{
		transport: transport,
		table:     table,
		selfID:    selfID,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (bm *BootstrapManager) breakerFor(host string) *gobreaker.CircuitBreaker {
	if b, ok := bm.breakers[host]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bootstrap:" + host,
		MaxRequests: 1,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	bm.breakers[host] = b
	return b
}

// Bootstrap resolves each "host:port" entry in hosts, pings every
// resolved address, and inserts the ones that reply into the routing
// table. It returns the number of nodes successfully contacted.
//
// Per SPEC_FULL.md §12(a), callers must start the transport's receive
// loop (i.e. construct it via krpc.NewTransport, which starts the loop
// immediately) before calling Bootstrap — original_source/lightdht.py
// had a startup-ordering bug where bootstrap pings could be sent before
// the socket was ready to receive replies; this implementation's
// Transport constructor makes that ordering mistake impossible.
func (bm *BootstrapManager) Bootstrap(ctx context.Context, hosts []string) (int, error) {
	if len(hosts) == 0 {
		return 0, fmt.Errorf("dht: no bootstrap hosts configured")
	}

	contacted := 0
	for _, host := range hosts {
		addrs, err := net.DefaultResolver.LookupUDPAddr(ctx, "udp4", host)
		if err != nil {
			logrus.WithError(err).WithField("host", host).Warn("dht: bootstrap host resolution failed")
			continue
		}

		for _, addr := range addrs {
			breaker := bm.breakerFor(host)
			_, err := breaker.Execute(func() (interface{}, error) {
				return bm.pingOne(ctx, addr)
			})
			if err != nil {
				logrus.WithError(err).WithField("addr", addr.String()).Debug("dht: bootstrap ping failed")
				continue
			}
			contacted++
		}
	}

	if contacted == 0 {
		return 0, fmt.Errorf("dht: bootstrap failed against all %d host(s)", len(hosts))
	}
	return contacted, nil
}

func (bm *BootstrapManager) pingOne(ctx context.Context, addr *net.UDPAddr) (struct{}, error) {
	reply, err := bm.transport.Query(ctx, addr, krpc.NewQuery(krpc.MethodPing, &krpc.QueryArgs{ID: bm.selfID}))
	if err != nil {
		return struct{}{}, err
	}
	if reply.R == nil {
		return struct{}{}, fmt.Errorf("dht: ping reply missing return values")
	}
	ep, err := krpc.NewEndpoint(addr.IP, addr.Port)
	if err != nil {
		return struct{}{}, err
	}
	bm.table.Update(reply.R.ID, ep)
	return struct{}{}, nil
}

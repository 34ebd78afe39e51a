package core

import (
	"fmt"
	"net"
	"time"

	"github.com/meff-network/meff/internal/types"
	"github.com/meff-network/meff/internal/wire"
)

// joinDialTimeout matches the transport's own connect timeout; a
// bootstrap peer that can't be dialed is a configuration error, not a
// transient one, so join() reports it instead of swallowing it the way
// ordinary sends do.
const joinDialTimeout = 1 * time.Second

// joinWait bounds how long join() waits for SendNetworkTable to arrive
// once the bootstrap peer has accepted RequestForTable.
const joinWait = 3 * time.Second

// join runs the bootstrap handshake: dial bootstrap directly (bypassing
// the transport's failure-is-not-an-error semantics, since an
// unreachable bootstrap address is a fatal startup condition), send
// RequestForTable, then wait for the resulting SendNetworkTable to land
// through the normal dispatch path.
func (p *Peer) join(bootstrap types.Address) error {
	p.mu.Lock()
	p.awaitingTable = make(chan struct{})
	wait := p.awaitingTable
	p.mu.Unlock()

	request, err := wire.Pack(wire.KindRequestForTable, p.address, "", wire.RequestForTable{Value: p.name})
	if err != nil {
		return fmt.Errorf("core: pack RequestForTable: %w", err)
	}

	conn, err := net.DialTimeout("tcp", string(bootstrap), joinDialTimeout)
	if err != nil {
		return fmt.Errorf("core: bootstrap address %s unreachable: %w", bootstrap, err)
	}
	defer conn.Close()
	if err := wire.Encode(conn, request); err != nil {
		return fmt.Errorf("core: send RequestForTable to %s: %w", bootstrap, err)
	}

	select {
	case <-wait:
	case <-time.After(joinWait):
		p.log.Warnf("core: no SendNetworkTable from %s within %s, joining with directory of one", bootstrap, joinWait)
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
	return nil
}

// DiscoverAddress finds this host's first non-loopback IPv4 address
// and combines it with port into a listen address. It is the Go
// equivalent of the original client's platform-specific
// get_if_addrs/local_ipaddress split (original_source/src/network.rs);
// net.InterfaceAddrs already abstracts over the OS, so no split is
// needed here.
func DiscoverAddress(port string) (types.Address, error) {
	if err := types.ValidatePort(port); err != nil {
		return "", fmt.Errorf("core: %w", err)
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("core: enumerate network interfaces: %w", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		return types.Address(fmt.Sprintf("%s:%s", ip4.String(), port)), nil
	}
	return "", fmt.Errorf("core: no non-loopback IPv4 interface found")
}

package core

import (
	"sort"
	"time"

	"github.com/meff-network/meff/internal/types"
	"github.com/meff-network/meff/internal/wire"
)

// successorCount is k in "next k peers in address-sorted order",
// chosen so every peer is covered by at least two monitors.
const successorCount = 2

// heartbeatLoop is the failure detector's own timer task. It never
// takes the peer lock for longer than snapshotting the target list.
func (p *Peer) heartbeatLoop() {
	ticker := time.NewTicker(types.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Peer) sendHeartbeats() {
	p.mu.Lock()
	targets := p.heartbeatTargets()
	p.mu.Unlock()

	hb, err := wire.Pack(wire.KindHeartbeat, p.address, "", wire.Heartbeat{})
	if err != nil {
		p.log.Errorf("failuredetector: pack Heartbeat: %v", err)
		return
	}
	for _, addr := range targets {
		p.metrics.HeartbeatsSent.Inc()
		p.sendAsync(addr, hb)
	}
}

// heartbeatTargets picks every other peer when the directory is small,
// or a deterministic successor set once it grows past
// LargeDirectoryThreshold. Must be called with p.mu held.
func (p *Peer) heartbeatTargets() []types.Address {
	if len(p.directory) <= types.LargeDirectoryThreshold {
		out := make([]types.Address, 0, len(p.directory))
		for _, addr := range p.directory {
			if addr == p.address {
				continue
			}
			out = append(out, addr)
		}
		return out
	}
	return p.successorTargets()
}

// successorTargets sorts every known address (including self) and
// returns the next successorCount distinct peers in that ring,
// wrapping around. With successorCount=2, any peer is watched by its
// two predecessors in the ring, giving coverage >= 2.
func (p *Peer) successorTargets() []types.Address {
	addrs := make([]types.Address, 0, len(p.directory))
	for _, a := range p.directory {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	selfIdx := -1
	for i, a := range addrs {
		if a == p.address {
			selfIdx = i
			break
		}
	}
	if selfIdx == -1 || len(addrs) <= 1 {
		return nil
	}

	out := make([]types.Address, 0, successorCount)
	for k := 1; k <= successorCount && k < len(addrs); k++ {
		out = append(out, addrs[(selfIdx+k)%len(addrs)])
	}
	return out
}

// dropByAddress removes addr from the directory if present and fans
// out DroppedPeer, treating a failed connect identically whether it
// came from a heartbeat or a regular send. Safe to call more than once
// for the same address: the second call is a no-op.
func (p *Peer) dropByAddress(addr types.Address) {
	name, ok := p.nameOf(addr)
	if !ok {
		return
	}
	delete(p.directory, name)
	p.transport.Resize(len(p.directory))
	p.metrics.HeartbeatsFailed.Inc()
	p.metrics.DroppedPeers.Inc()

	notif, err := wire.Pack(wire.KindDroppedPeer, p.address, "", wire.DroppedPeer{Addr: addr})
	if err != nil {
		p.log.Errorf("failuredetector: pack DroppedPeer: %v", err)
		return
	}
	p.broadcast(notif)
}

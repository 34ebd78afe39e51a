package core

import (
	"time"

	"github.com/meff-network/meff/internal/types"
)

// pendingTimeout bounds how long a broadcast lookup waits for its first
// ExistFileResponse before being swept, fixed at twice
// the heartbeat period so a single missed heartbeat round doesn't race
// a legitimate response.
const pendingTimeout = 2 * types.HeartbeatPeriod

// pendingLookup is one outstanding FindFile broadcast, keyed by song
// name in Peer.pending. Only the dispatcher goroutine ever touches it,
// so it carries no lock of its own.
type pendingLookup struct {
	instr     types.Instruction
	startedAt time.Time
}

// recordPending starts tracking a lookup for songName. A second lookup
// for the same song while one is outstanding silently replaces the
// first, since handleFindFile calls this unconditionally with no
// existence check of its own.
func (p *Peer) recordPending(songName string, instr types.Instruction, now time.Time) {
	p.pending[songName] = pendingLookup{
		instr:     instr,
		startedAt: now,
	}
	p.metrics.LookupsStarted.Inc()
}

// resolvePending consumes the pending entry for songName, if any, so
// that a second response for the same lookup is silently ignored — the
// "first response wins" rule.
func (p *Peer) resolvePending(songName string) (pendingLookup, bool) {
	entry, ok := p.pending[songName]
	if !ok {
		return pendingLookup{}, false
	}
	delete(p.pending, songName)
	return entry, true
}

// sweepPending drops any lookup older than pendingTimeout, called once
// per dispatched message so the pending table never grows unbounded
// even under a burst of lookups that never get an answer. Must be
// called with the peer lock held.
func (p *Peer) sweepPending(now time.Time) {
	for song, entry := range p.pending {
		if now.Sub(entry.startedAt) < pendingTimeout {
			continue
		}
		delete(p.pending, song)
		p.metrics.LookupsTimedOut.Inc()
		p.log.Warnf("lookup for %q timed out after %s", song, pendingTimeout)

		// The upcall surface has no dedicated "lookup failed" event; a
		// timed-out PLAY intent is reported the same way a STOP would
		// be, since playback never started. Other intents (GET, ORDER,
		// REMOVE) have no matching upcall and are only logged.
		if entry.instr == types.InstructionPlay {
			p.listener.PlayerStopped()
		}
	}
}

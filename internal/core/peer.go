// Package core implements the sole-writer peer runtime: the directory,
// the file catalog, the pending-lookup table, and the single-consumer
// dispatcher that is the only thing ever allowed to mutate them.
// A single goroutine owns every mutation; everything else only reads
// a snapshot or hands work to that goroutine through the queue.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meff-network/meff/internal/playback"
	"github.com/meff-network/meff/internal/transport"
	"github.com/meff-network/meff/internal/types"
	"github.com/meff-network/meff/internal/wire"
)

// workQueueCapacity bounds the backlog between producers (the
// transport's accept loop, the Request API) and the single dispatcher
// goroutine that drains it.
const workQueueCapacity = 5

// quitSendTimeout bounds each ExitPeer send issued during Quit so a
// single unreachable peer can't delay shutdown indefinitely.
const quitSendTimeout = 2 * time.Second

// Config is everything NewPeer needs to bring a peer up.
type Config struct {
	Name             string
	Address          types.Address
	BootstrapAddress types.Address // empty if this peer is the first in the network
	Listener         types.Listener
	Sink             types.Sink
	Logger           types.Logger
}

// Peer is the exclusive owner of the directory, the file catalog and
// the pending-lookup table. The dispatcher goroutine is the only one
// that changes them (apart from join arming awaitingTable before the
// handshake); other goroutines only read them under mu, and any change
// they need travels through the work queue instead.
type Peer struct {
	mu sync.Mutex

	name    string
	address types.Address

	directory map[string]types.Address // display name -> address, self included
	files     map[string]types.FileEntry
	pending   map[string]pendingLookup

	playback *playback.Machine
	listener types.Listener

	transport *transport.Transport
	log       types.Logger
	metrics   *Metrics
	invoker   Invoker

	queue chan wire.Notification

	ctx    context.Context
	cancel context.CancelFunc

	// awaitingTable is non-nil while a bootstrap join is outstanding,
	// closed once SendNetworkTable arrives. nil once joined (or if this
	// peer is the bootstrap node itself).
	awaitingTable chan struct{}
}

// NewPeer constructs a Peer and starts its transport and dispatcher.
// If cfg.BootstrapAddress is empty, the peer starts as the sole member
// of a fresh network; otherwise it begins the join handshake described
// in membership.go before returning.
func NewPeer(ctx context.Context, cfg Config) (*Peer, error) {
	if cfg.Listener == nil {
		cfg.Listener = types.NullListener{}
	}
	if cfg.Sink == nil {
		cfg.Sink = &playback.NullSink{}
	}
	if err := types.ValidatePort(portOf(cfg.Address)); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &Peer{
		name:      cfg.Name,
		address:   cfg.Address,
		directory: make(map[string]types.Address),
		files:     make(map[string]types.FileEntry),
		pending:   make(map[string]pendingLookup),
		playback:  playback.New(cfg.Sink),
		listener:  cfg.Listener,
		log:       cfg.Logger,
		metrics:   NewMetrics(cfg.Name),
		invoker:   NewInvoker(),
		queue:     make(chan wire.Notification, workQueueCapacity),
		ctx:       pctx,
		cancel:    cancel,
	}
	p.directory[cfg.Name] = cfg.Address

	p.transport = transport.New(cfg.Address, cfg.Logger, p.onReceive, p.onLostConnection)
	if err := p.transport.Listen(pctx); err != nil {
		cancel()
		return nil, fmt.Errorf("core: %w", err)
	}

	p.invoker.Spawn(p.dispatchLoop)
	p.invoker.Spawn(p.heartbeatLoop)

	if !cfg.BootstrapAddress.Empty() {
		if err := p.join(cfg.BootstrapAddress); err != nil {
			p.Quit()
			return nil, err
		}
	}

	return p, nil
}

// onReceive is the transport.Handler: it only enqueues, never
// processes inline, so the accept loop is never blocked by dispatcher
// work. A full queue applies backpressure by blocking the inbound
// connection's goroutine, which is acceptable since each connection
// carries exactly one record and nothing else depends on it finishing
// quickly.
func (p *Peer) onReceive(n wire.Notification) {
	select {
	case p.queue <- n:
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
	case <-p.ctx.Done():
	}
}

// onLostConnection is the transport.LostConnHandler: a failed dial or
// write is direct evidence the target is gone, so it is funneled
// through the same queue as any other event instead of mutating the
// directory from a transport goroutine.
func (p *Peer) onLostConnection(target types.Address) {
	notif, err := wire.Pack(wire.KindDroppedPeer, p.address, "", wire.DroppedPeer{Addr: target})
	if err != nil {
		p.log.Errorf("core: pack DroppedPeer for %s: %v", target, err)
		return
	}
	p.enqueueLocal(notif)
}

// dispatchLoop is the sole consumer of the work queue. Every iteration
// takes the peer lock for the duration of applying one notification,
// so the directory, files and pending maps never see a torn update.
func (p *Peer) dispatchLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case n, ok := <-p.queue:
			if !ok {
				return
			}
			p.mu.Lock()
			p.metrics.QueueDepth.Set(float64(len(p.queue)))
			p.sweepPending(time.Now())
			p.process(n)
			p.mu.Unlock()
		}
	}
}

// enqueueLocal is how the Request API (requestapi.go) injects a
// self-originated notification into the same dispatch path inbound
// traffic takes, so both producers serialize through one consumer.
func (p *Peer) enqueueLocal(n wire.Notification) {
	select {
	case p.queue <- n:
	case <-p.ctx.Done():
	}
}

// sendAsync launches a transport.Send in the background via the
// invoker, keeping every outbound write off the dispatcher goroutine
// and out from under the peer lock.
func (p *Peer) sendAsync(target types.Address, n wire.Notification) {
	p.invoker.Spawn(func() {
		if err := p.transport.Send(p.ctx, target, n); err != nil {
			p.log.Warnf("send %s to %s: %v", n.Kind, target, err)
		}
	})
}

// broadcast sends n to every address currently in the directory,
// snapshot under lock, I/O outside it. Must be called with p.mu held;
// it only reads, and sendAsync itself never touches peer state.
func (p *Peer) broadcast(n wire.Notification) {
	for _, addr := range p.directory {
		if addr == p.address {
			continue
		}
		p.sendAsync(addr, n)
	}
}

// Quit runs the graceful exit sequence and tears the peer down. It
// blocks until every ExitPeer send has been attempted before
// cancelling the peer context, since cancelling first would abort the
// very sends the exit sequence depends on.
func (p *Peer) Quit() {
	p.mu.Lock()
	addr := p.address
	directory := make(map[string]types.Address, len(p.directory))
	for k, v := range p.directory {
		directory[k] = v
	}
	p.mu.Unlock()

	exit, err := wire.Pack(wire.KindExitPeer, p.address, "", wire.ExitPeer{Addr: addr})
	if err != nil {
		p.log.Errorf("core: pack ExitPeer: %v", err)
	} else {
		var wg sync.WaitGroup
		for _, target := range directory {
			wg.Add(1)
			go func(target types.Address) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), quitSendTimeout)
				defer cancel()
				if err := p.transport.Send(ctx, target, exit); err != nil {
					p.log.Warnf("core: send ExitPeer to %s: %v", target, err)
				}
			}(target)
		}
		wg.Wait()
	}

	p.cancel()
	p.invoker.Wait()
	_ = p.transport.Close()
}

// Name returns the peer's current display name (post-collision-rename).
func (p *Peer) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Address returns the peer's listening address.
func (p *Peer) Address() types.Address {
	return p.address
}

func portOf(addr types.Address) string {
	s := string(addr)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s[i+1:]
		}
	}
	return s
}

// Package transport implements a one-shot TCP transport: a listener
// that decodes exactly one Notification per accepted connection, and a
// Send that dials, writes, and closes with no pooling. Treating
// connect failure as direct evidence of peer death is the whole point
// of never reusing a connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/meff-network/meff/internal/types"
	"github.com/meff-network/meff/internal/wire"
)

// connectTimeout bounds how long Send waits to establish a connection
// before treating the target as unreachable.
const connectTimeout = 1 * time.Second

// minSenderWeight is the floor on concurrent outbound sends, so a
// freshly bootstrapped one-or-two-peer network isn't starved while the
// semaphore is sized to the (tiny) directory.
const minSenderWeight = 4

// Handler is invoked once per decoded inbound Notification. It must
// not block longer than the work queue's own bound tolerates, since it
// is called from the accept loop.
type Handler func(wire.Notification)

// LostConnHandler is invoked when Send fails to connect to or write to
// target, treated as direct evidence that the peer is gone.
type LostConnHandler func(target types.Address)

// Transport is the concrete TCP implementation of the peer's transport
// surface. It has no connection pool by design.
type Transport struct {
	address  types.Address
	log      types.Logger
	handler  Handler
	onLost   LostConnHandler
	listener net.Listener

	semMu sync.RWMutex
	sem   *semaphore.Weighted
}

// New builds a Transport bound to address. Listen must be called to
// start accepting connections.
func New(address types.Address, log types.Logger, handler Handler, onLost LostConnHandler) *Transport {
	return &Transport{
		address: address,
		log:     log,
		handler: handler,
		onLost:  onLost,
		sem:     semaphore.NewWeighted(minSenderWeight),
	}
}

// Resize adjusts the bound on concurrent outbound sends to match the
// current directory size, resolving the "unbounded sender tasks"
// design note without ever shrinking below minSenderWeight. Safe to
// call concurrently with Send, which reads the semaphore under the
// same mutex.
func (t *Transport) Resize(directorySize int) {
	weight := int64(directorySize)
	if weight < minSenderWeight {
		weight = minSenderWeight
	}
	t.semMu.Lock()
	t.sem = semaphore.NewWeighted(weight)
	t.semMu.Unlock()
}

func (t *Transport) currentSem() *semaphore.Weighted {
	t.semMu.RLock()
	defer t.semMu.RUnlock()
	return t.sem
}

// Listen starts the accept loop in the background. It returns once the
// listening socket is bound, surfacing bind failures synchronously so
// the caller can terminate the process rather than run unbound.
func (t *Transport) Listen(ctx context.Context) error {
	l, err := net.Listen("tcp", string(t.address))
	if err != nil {
		return fmt.Errorf("transport: bind %s: %w", t.address, err)
	}
	t.listener = l
	go t.acceptLoop(ctx)
	return nil
}

func (t *Transport) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				t.log.Warnf("transport: accept failed: %v", err)
				return
			}
		}
		go t.handleConn(conn)
	}
}

// handleConn reads the connection to EOF, decodes the single record it
// carries, and hands it to the handler. Decode failures are logged and
// the connection dropped; they never reach the dispatcher.
func (t *Transport) handleConn(conn net.Conn) {
	defer conn.Close()
	notif, err := wire.Decode(conn)
	if err != nil {
		t.log.Warnf("transport: dropping malformed record from %s: %v", conn.RemoteAddr(), err)
		return
	}
	t.handler(notif)
}

// Send dials target with a 1s timeout, writes the encoded notification,
// and closes. A connect or write failure invokes onLost and is
// swallowed: transient network errors are never raised to the caller.
// An encoding error (such as an oversized record) is returned.
func (t *Transport) Send(ctx context.Context, target types.Address, n wire.Notification) error {
	sem := t.currentSem()
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	conn, err := net.DialTimeout("tcp", string(target), connectTimeout)
	if err != nil {
		t.log.Warnf("transport: lost connection to %s: %v", target, err)
		if t.onLost != nil {
			t.onLost(target)
		}
		return nil
	}
	defer conn.Close()

	if err := wire.Encode(conn, n); err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			t.log.Warnf("transport: lost connection to %s during write: %v", target, err)
			if t.onLost != nil {
				t.onLost(target)
			}
			return nil
		}
		t.log.Errorf("transport: failed encoding to %s: %v", target, err)
		return err
	}
	return nil
}

// Close stops accepting new connections. In-flight sends are left to
// finish; there is no connection pool to drain.
func (t *Transport) Close() error {
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

// LocalAddress returns the address the transport is bound to.
func (t *Transport) LocalAddress() types.Address {
	if t.listener != nil {
		return types.Address(t.listener.Addr().String())
	}
	return t.address
}

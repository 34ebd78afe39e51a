package core

import "sync"

// Invoker spawns fire-and-forget work. It exists so the dispatcher
// never performs I/O while holding the peer lock: every outbound send
// is launched through an Invoker instead of called inline.
type Invoker interface {
	// Spawn runs f in the background.
	Spawn(f func())
	// Wait blocks until every spawned f has returned. Used on Quit so
	// a peer doesn't exit mid-broadcast.
	Wait()
}

// goroutineInvoker is the production Invoker: every Spawn is a bare
// goroutine tracked by a WaitGroup.
type goroutineInvoker struct {
	group sync.WaitGroup
}

// NewInvoker returns the default goroutine-backed Invoker.
func NewInvoker() Invoker {
	return &goroutineInvoker{}
}

func (g *goroutineInvoker) Spawn(f func()) {
	g.group.Add(1)
	go func() {
		defer g.group.Done()
		f()
	}()
}

func (g *goroutineInvoker) Wait() {
	g.group.Wait()
}

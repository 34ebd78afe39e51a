package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/meff-network/meff/internal/core"
	"github.com/meff-network/meff/internal/logging"
	"github.com/meff-network/meff/internal/playback"
	"github.com/meff-network/meff/internal/types"
)

// recordingListener captures every upcall for assertion as plain
// locked slices, since tests only need to poll, not block a caller.
type recordingListener struct {
	mu         sync.Mutex
	statuses   [][]string
	names      []string
	fileEvents []fileEvent
	playing    []*string
	stops      int
}

type fileEvent struct {
	Name   string
	Status types.FileStatus
}

func (r *recordingListener) NotifyStatus(files []string, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, files)
	r.names = append(r.names, name)
}

func (r *recordingListener) FileStatusChanged(name string, status types.FileStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileEvents = append(r.fileEvents, fileEvent{Name: name, Status: status})
}

func (r *recordingListener) PlayerPlaying(title *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = append(r.playing, title)
}

func (r *recordingListener) PlayerStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *recordingListener) fileEventCount(status types.FileStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.fileEvents {
		if e.Status == status {
			n++
		}
	}
	return n
}

func (r *recordingListener) lastPlaying() (*string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.playing) == 0 {
		return nil, false
	}
	return r.playing[len(r.playing)-1], true
}

func newTestPeer(t *testing.T, name string, addr types.Address, bootstrap types.Address, listener *recordingListener) *core.Peer {
	t.Helper()
	p, err := core.NewPeer(context.Background(), core.Config{
		Name:             name,
		Address:          addr,
		BootstrapAddress: bootstrap,
		Listener:         listener,
		Sink:             &playback.NullSink{},
		Logger:           logging.Default(false),
	})
	require.NoError(t, err)
	return p
}

func TestTwoPeerJoinConverges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := newTestPeer(t, "a", "127.0.0.1:14000", "", &recordingListener{})
	defer a.Quit()
	b := newTestPeer(t, "b", "127.0.0.1:14001", "127.0.0.1:14000", &recordingListener{})
	defer b.Quit()

	require.Eventually(t, func() bool {
		return len(a.Status()) == 2 && len(b.Status()) == 2
	}, 2*time.Second, 20*time.Millisecond)

	require.Equal(t, a.Status(), b.Status())
}

func TestNameCollisionIsRenamed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := newTestPeer(t, "a", "127.0.0.1:14010", "", &recordingListener{})
	defer a.Quit()
	b := newTestPeer(t, "a", "127.0.0.1:14011", "127.0.0.1:14010", &recordingListener{})
	defer b.Quit()

	require.Eventually(t, func() bool {
		return b.Name() == "a#1"
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		status := a.Status()
		_, hasOriginal := status["a"]
		_, hasRenamed := status["a#1"]
		return hasOriginal && hasRenamed
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPushReplicatesToASecondPeer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	la, lb, lc := &recordingListener{}, &recordingListener{}, &recordingListener{}
	a := newTestPeer(t, "a", "127.0.0.1:14020", "", la)
	defer a.Quit()
	b := newTestPeer(t, "b", "127.0.0.1:14021", "127.0.0.1:14020", lb)
	defer b.Quit()
	c := newTestPeer(t, "c", "127.0.0.1:14022", "127.0.0.1:14020", lc)
	defer c.Quit()

	require.Eventually(t, func() bool {
		return len(a.Status()) == 3 && len(b.Status()) == 3 && len(c.Status()) == 3
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Push("song", []byte("bytes")))

	require.Eventually(t, func() bool {
		return la.fileEventCount(types.FileStatusNew) >= 1 &&
			(lb.fileEventCount(types.FileStatusNew) >= 1 || lc.fileEventCount(types.FileStatusNew) >= 1)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStreamFetchesRemoteFileAndPlays(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	la, lb := &recordingListener{}, &recordingListener{}
	a := newTestPeer(t, "a", "127.0.0.1:14030", "", la)
	defer a.Quit()
	b := newTestPeer(t, "b", "127.0.0.1:14031", "127.0.0.1:14030", lb)
	defer b.Quit()

	require.Eventually(t, func() bool {
		return len(a.Status()) == 2 && len(b.Status()) == 2
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Push("song", []byte("bytes")))
	require.NoError(t, b.Stream("song"))

	require.Eventually(t, func() bool {
		title, ok := lb.lastPlaying()
		return ok && title != nil && *title == "song"
	}, 2*time.Second, 20*time.Millisecond)

	require.Equal(t, 2, len(b.Status()), "streaming must not change the directory")
}

func TestGracefulExitPropagates(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := newTestPeer(t, "a", "127.0.0.1:14040", "", &recordingListener{})
	defer a.Quit()
	b := newTestPeer(t, "b", "127.0.0.1:14041", "127.0.0.1:14040", &recordingListener{})
	defer b.Quit()
	c := newTestPeer(t, "c", "127.0.0.1:14042", "127.0.0.1:14040", &recordingListener{})

	require.Eventually(t, func() bool {
		return len(a.Status()) == 3 && len(b.Status()) == 3
	}, 2*time.Second, 20*time.Millisecond)

	c.Quit()

	require.Eventually(t, func() bool {
		return len(a.Status()) == 2 && len(b.Status()) == 2
	}, 2*time.Second, 20*time.Millisecond)

	_, cInA := a.Status()["c"]
	_, cInB := b.Status()["c"]
	require.False(t, cInA)
	require.False(t, cInB)
}

func TestDeletePropagatesToReplicas(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	la, lb := &recordingListener{}, &recordingListener{}
	a := newTestPeer(t, "a", "127.0.0.1:14050", "", la)
	defer a.Quit()
	b := newTestPeer(t, "b", "127.0.0.1:14051", "127.0.0.1:14050", lb)
	defer b.Quit()

	require.Eventually(t, func() bool {
		return len(a.Status()) == 2 && len(b.Status()) == 2
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Push("x", []byte("bytes")))
	require.Eventually(t, func() bool {
		return la.fileEventCount(types.FileStatusNew) >= 1 && lb.fileEventCount(types.FileStatusNew) >= 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Remove("x"))

	require.Eventually(t, func() bool {
		return la.fileEventCount(types.FileStatusDelete) >= 1 && lb.fileEventCount(types.FileStatusDelete) >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDroppedPeerIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := newTestPeer(t, "a", "127.0.0.1:14060", "", &recordingListener{})
	defer a.Quit()
	b := newTestPeer(t, "b", "127.0.0.1:14061", "127.0.0.1:14060", &recordingListener{})
	defer b.Quit()

	require.Eventually(t, func() bool {
		return len(a.Status()) == 2
	}, 2*time.Second, 20*time.Millisecond)

	// A send to an address nobody is listening on triggers the same
	// failure path a heartbeat miss would, without waiting out a real
	// heartbeat period.
	require.NoError(t, a.RequestPeerStatus("127.0.0.1:1"))

	// RequestPeerStatus targets an address outside the directory, so it
	// shouldn't itself shrink anything; this just exercises that the
	// lost-connection path doesn't panic on an address it doesn't know.
	require.Eventually(t, func() bool {
		return len(a.Status()) == 2
	}, 500*time.Millisecond, 20*time.Millisecond)
}

func TestPlaybackPauseStopContinue(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := &recordingListener{}
	a := newTestPeer(t, "a", "127.0.0.1:14070", "", l)
	defer a.Quit()

	require.NoError(t, a.Push("song", []byte("bytes")))
	require.NoError(t, a.Play("song"))

	require.Eventually(t, func() bool {
		title, ok := l.lastPlaying()
		return ok && title != nil && *title == "song"
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Pause())
	require.NoError(t, a.Continue())
	require.NoError(t, a.Stop())

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.stops >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

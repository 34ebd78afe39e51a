// Package playback implements the playback state machine: the table
// of (state, command) transitions that sits between a PlayAudioRequest
// and the external Sink collaborator.
package playback

import (
	"fmt"
	"sync"

	"github.com/meff-network/meff/internal/types"
)

// State is one of the three playback states.
type State string

const (
	Idle    State = "IDLE"
	Playing State = "PLAYING"
	Paused  State = "PAUSED"
)

// Machine tracks whether the local sink holds an unfinished track and
// drives it through Play/Pause/Stop/Continue. It is the sole owner of
// the "playing" boolean callers observe through Playing.
type Machine struct {
	mu    sync.Mutex
	state State
	title string
	sink  types.Sink
}

// New builds a Machine around the given Sink, starting IDLE.
func New(sink types.Sink) *Machine {
	return &Machine{state: Idle, sink: sink}
}

// State returns the current playback state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Playing reports whether the sink holds an unfinished track: true in
// PLAYING and PAUSED, false in IDLE (before any PLAY, or after STOP).
func (m *Machine) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Playing || m.state == Paused
}

// Title returns the title of the track currently loaded, if any.
func (m *Machine) Title() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Idle {
		return "", false
	}
	return m.title, true
}

// Play starts (or restarts) playback of title with data, following the
// transition table: from PLAYING or PAUSED this stops whatever is
// current before starting the new track.
func (m *Machine) Play(title string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Playing || m.state == Paused {
		if err := m.sink.Stop(); err != nil {
			return fmt.Errorf("playback: stop before replay: %w", err)
		}
	}
	if err := m.sink.Play(title, data); err != nil {
		return fmt.Errorf("playback: play %s: %w", title, err)
	}
	m.state = Playing
	m.title = title
	return nil
}

// Pause is only meaningful from PLAYING; it is a no-op from IDLE or
// PAUSED.
func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Playing {
		return nil
	}
	if err := m.sink.Pause(); err != nil {
		return err
	}
	m.state = Paused
	return nil
}

// Stop is only meaningful from PLAYING or PAUSED.
func (m *Machine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Idle {
		return nil
	}
	if err := m.sink.Stop(); err != nil {
		return err
	}
	m.state = Idle
	m.title = ""
	return nil
}

// Continue resumes a paused track. It is only meaningful from PAUSED.
func (m *Machine) Continue() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Paused {
		return nil
	}
	if err := m.sink.Resume(); err != nil {
		return err
	}
	m.state = Playing
	return nil
}

// NullSink is a Sink that does nothing but remember the last command,
// useful for running a peer headless or in tests.
type NullSink struct {
	mu   sync.Mutex
	last string
}

func (n *NullSink) Play(title string, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = fmt.Sprintf("play:%s:%d bytes", title, len(data))
	return nil
}

func (n *NullSink) Pause() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = "pause"
	return nil
}

func (n *NullSink) Resume() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = "resume"
	return nil
}

func (n *NullSink) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = "stop"
	return nil
}

// Last returns a description of the last command applied, for test
// assertions.
func (n *NullSink) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

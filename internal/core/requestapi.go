package core

import (
	"fmt"

	"github.com/meff-network/meff/internal/types"
	"github.com/meff-network/meff/internal/wire"
)

// Push stores data locally under title and triggers the redundant
// replication fan-out, implementing the push(path, title) front-end
// call. Reading the file from disk is the caller's job (the core never
// touches the filesystem); an empty blob is rejected synchronously,
// before any Notification is built.
func (p *Peer) Push(title string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("core: push %q: empty content", title)
	}
	notif, err := wire.Pack(wire.KindPushToDB, p.address, "", wire.PushToDB{
		Key: title, Value: data, From: string(p.address),
	})
	if err != nil {
		return fmt.Errorf("core: push %q: %w", title, err)
	}
	p.enqueueLocal(notif)
	return nil
}

// Remove deletes title locally and broadcasts the deletion, routing
// through FindFile{InstructionRemove} the same way Download routes
// through FindFile{InstructionGet}, so it reaches deleteLocalAndBroadcast
// instead of only deleting the local copy.
func (p *Peer) Remove(title string) error {
	notif, err := wire.Pack(wire.KindFindFile, p.address, "", wire.FindFile{
		Instr: types.InstructionRemove, SongName: title,
	})
	if err != nil {
		return fmt.Errorf("core: remove %q: %w", title, err)
	}
	p.enqueueLocal(notif)
	return nil
}

// Stream plays title over the network without regard to whatever is
// currently loaded, fetching it first if it isn't local.
func (p *Peer) Stream(title string) error {
	return p.enqueuePlayAudio(&title, types.CommandPlay)
}

// Download fetches title and stores it locally without playing it.
func (p *Peer) Download(title string) error {
	notif, err := wire.Pack(wire.KindFindFile, p.address, "", wire.FindFile{
		Instr: types.InstructionGet, SongName: title,
	})
	if err != nil {
		return fmt.Errorf("core: download %q: %w", title, err)
	}
	p.enqueueLocal(notif)
	return nil
}

// Play is the front-end convenience: it issues CONTINUE if a track is
// already playing or paused, and PLAY(title) otherwise. The playing
// boolean is the only thing consulted here.
func (p *Peer) Play(title string) error {
	if p.playback.Playing() {
		return p.Continue()
	}
	return p.enqueuePlayAudio(&title, types.CommandPlay)
}

// Pause pauses the current track, if any.
func (p *Peer) Pause() error {
	return p.enqueuePlayAudio(nil, types.CommandPause)
}

// Stop halts playback and marks the playing boolean false.
func (p *Peer) Stop() error {
	return p.enqueuePlayAudio(nil, types.CommandStop)
}

// Continue resumes a paused track.
func (p *Peer) Continue() error {
	return p.enqueuePlayAudio(nil, types.CommandContinue)
}

func (p *Peer) enqueuePlayAudio(title *string, cmd types.PlaybackCommand) error {
	notif, err := wire.Pack(wire.KindPlayAudioRequest, p.address, "", wire.PlayAudioRequest{
		Name: title, State: cmd,
	})
	if err != nil {
		return fmt.Errorf("core: play audio request %s: %w", cmd, err)
	}
	p.enqueueLocal(notif)
	return nil
}

// Status returns a snapshot of the current directory, satisfying the
// status() → directory snapshot front-end call. It makes no upcall;
// RefreshSelfStatus is what reports the local file catalog to the
// listener.
func (p *Peer) Status() map[string]types.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := make(map[string]types.Address, len(p.directory))
	for k, v := range p.directory {
		snapshot[k] = v
	}
	return snapshot
}

// RefreshSelfStatus upcalls the listener with the current file catalog
// and display name, implementing SelfStatusRequest's local-only path.
func (p *Peer) RefreshSelfStatus() {
	notif, err := wire.Pack(wire.KindSelfStatusRequest, p.address, "", wire.SelfStatusRequest{})
	if err != nil {
		p.log.Errorf("core: pack SelfStatusRequest: %v", err)
		return
	}
	p.enqueueLocal(notif)
}

// RequestPeerStatus asks target for its file catalog, delivered back
// through the listener as a StatusResponse upcall.
func (p *Peer) RequestPeerStatus(target types.Address) error {
	notif, err := wire.Pack(wire.KindStatusRequest, p.address, "", wire.StatusRequest{})
	if err != nil {
		return fmt.Errorf("core: status request: %w", err)
	}
	p.sendAsync(target, notif)
	return nil
}

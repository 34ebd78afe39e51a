package core

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/meff-network/meff/internal/playback"
	"github.com/meff-network/meff/internal/types"
	"github.com/meff-network/meff/internal/wire"
)

// process applies a single Notification to Peer State. Called from
// dispatchLoop with p.mu held; every branch either mutates state
// in-place or launches sendAsync/invoker.Spawn work, never blocking I/O
// inline.
func (p *Peer) process(n wire.Notification) {
	switch n.Kind {
	case wire.KindPushToDB:
		p.handlePushToDB(n)
	case wire.KindRedundantPushToDB:
		p.handleRedundantPushToDB(n)
	case wire.KindChangePeerName:
		p.handleChangePeerName(n)
	case wire.KindSendNetworkTable:
		p.handleSendNetworkTable(n)
	case wire.KindSendNetworkUpdateTable:
		p.handleSendNetworkUpdateTable(n)
	case wire.KindRequestForTable:
		p.handleRequestForTable(n)
	case wire.KindFindFile:
		p.handleFindFileNotification(n)
	case wire.KindOrderSongRequest:
		p.handleOrderSongRequest(n)
	case wire.KindExistFile:
		p.handleExistFile(n)
	case wire.KindExistFileResponse:
		p.handleExistFileResponse(n)
	case wire.KindGetFile:
		p.handleGetFile(n)
	case wire.KindGetFileResponse:
		p.handleGetFileResponse(n)
	case wire.KindDeleteFileRequest:
		p.handleDeleteFileRequest(n)
	case wire.KindExitPeer:
		p.handleExitPeer(n)
	case wire.KindDeleteFromNetwork:
		p.handleDeleteFromNetwork(n)
	case wire.KindDroppedPeer:
		p.handleDroppedPeer(n)
	case wire.KindStatusRequest:
		p.handleStatusRequest(n)
	case wire.KindSelfStatusRequest:
		p.handleSelfStatusRequest()
	case wire.KindStatusResponse:
		p.handleStatusResponse(n)
	case wire.KindPlayAudioRequest:
		p.handlePlayAudioRequest(n)
	case wire.KindHeartbeat:
		// No-op: successful delivery is itself the liveness signal.
	default:
		p.log.Warnf("dispatcher: unknown notification kind %q from %s", n.Kind, n.From)
	}
}

func (p *Peer) storeFile(key string, value []byte) {
	p.files[key] = types.FileEntry{Bytes: value, Metadata: extractMetadata(value)}
	p.metrics.FilesStored.Set(float64(len(p.files)))
}

func (p *Peer) handlePushToDB(n wire.Notification) {
	var payload wire.PushToDB
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad PushToDB from %s: %v", n.From, err)
		return
	}
	p.storeFile(payload.Key, payload.Value)
	p.listener.FileStatusChanged(payload.Key, types.FileStatusNew)

	if target, ok := p.pickRedundancyTarget(types.Address(payload.From)); ok {
		redundant, err := wire.Pack(wire.KindRedundantPushToDB, p.address, "", wire.RedundantPushToDB{
			Key: payload.Key, Value: payload.Value, From: payload.From,
		})
		if err != nil {
			p.log.Errorf("dispatcher: pack RedundantPushToDB: %v", err)
			return
		}
		p.sendAsync(target, redundant)
	}
}

func (p *Peer) handleRedundantPushToDB(n wire.Notification) {
	var payload wire.RedundantPushToDB
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad RedundantPushToDB from %s: %v", n.From, err)
		return
	}
	p.storeFile(payload.Key, payload.Value)
	p.listener.FileStatusChanged(payload.Key, types.FileStatusNew)
}

// pickRedundancyTarget chooses one peer uniformly at random from the
// directory, excluding self and origin: origin and self are never
// candidates.
func (p *Peer) pickRedundancyTarget(origin types.Address) (types.Address, bool) {
	var candidates []types.Address
	for _, addr := range p.directory {
		if addr == p.address || addr == origin {
			continue
		}
		candidates = append(candidates, addr)
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.Intn(len(candidates))], true
}

func (p *Peer) handleChangePeerName(n wire.Notification) {
	var payload wire.ChangePeerName
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad ChangePeerName from %s: %v", n.From, err)
		return
	}
	// Only drop the old name's entry if it still points at self: a
	// SendNetworkTable racing this message over a separate
	// connection may already have overwritten it with the bootstrap
	// peer's own legitimate entry, which must not be deleted.
	if addr, ok := p.directory[p.name]; ok && addr == p.address {
		delete(p.directory, p.name)
	}
	p.name = payload.Value
	p.directory[p.name] = p.address
}

func (p *Peer) handleSendNetworkTable(n wire.Notification) {
	var payload wire.SendNetworkTable
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad SendNetworkTable from %s: %v", n.From, err)
		return
	}
	p.directory = payload.Value
	p.transport.Resize(len(p.directory))
	p.completeJoin()
}

func (p *Peer) handleSendNetworkUpdateTable(n wire.Notification) {
	var payload wire.SendNetworkUpdateTable
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad SendNetworkUpdateTable from %s: %v", n.From, err)
		return
	}
	for name, addr := range payload.Value {
		p.directory[name] = addr
	}
	p.transport.Resize(len(p.directory))
	p.completeJoin()
}

// completeJoin signals a blocked join() call that the directory has
// been seeded, if one is outstanding.
func (p *Peer) completeJoin() {
	if p.awaitingTable != nil {
		close(p.awaitingTable)
		p.awaitingTable = nil
	}
}

func (p *Peer) handleRequestForTable(n wire.Notification) {
	var payload wire.RequestForTable
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad RequestForTable from %s: %v", n.From, err)
		return
	}
	name := p.disambiguate(payload.Value)
	p.directory[name] = n.From

	if name != payload.Value {
		rename, err := wire.Pack(wire.KindChangePeerName, p.address, "", wire.ChangePeerName{Value: name})
		if err != nil {
			p.log.Errorf("dispatcher: pack ChangePeerName: %v", err)
		} else {
			p.sendAsync(n.From, rename)
		}
	}

	p.transport.Resize(len(p.directory))
	snapshot := make(map[string]types.Address, len(p.directory))
	for k, v := range p.directory {
		snapshot[k] = v
	}

	// The newcomer gets the full table as SendNetworkTable (its
	// first-contact message); everyone already a member merges the new
	// entry in via SendNetworkUpdateTable instead of overwriting what
	// they already have.
	full, err := wire.Pack(wire.KindSendNetworkTable, p.address, "", wire.SendNetworkTable{Value: snapshot})
	if err != nil {
		p.log.Errorf("dispatcher: pack SendNetworkTable: %v", err)
		return
	}
	p.sendAsync(n.From, full)

	update, err := wire.Pack(wire.KindSendNetworkUpdateTable, p.address, "", wire.SendNetworkUpdateTable{Value: snapshot})
	if err != nil {
		p.log.Errorf("dispatcher: pack SendNetworkUpdateTable: %v", err)
		return
	}
	for _, addr := range p.directory {
		if addr == p.address || addr == n.From {
			continue
		}
		p.sendAsync(addr, update)
	}
}

// disambiguate returns proposed unchanged if it doesn't collide with an
// existing directory entry, otherwise the smallest "proposed#n" that
// doesn't.
func (p *Peer) disambiguate(proposed string) string {
	if _, collides := p.directory[proposed]; !collides {
		return proposed
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s#%d", proposed, n)
		if _, collides := p.directory[candidate]; !collides {
			return candidate
		}
	}
}

func (p *Peer) handleFindFileNotification(n wire.Notification) {
	var payload wire.FindFile
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad FindFile from %s: %v", n.From, err)
		return
	}
	p.handleFindFile(payload.Instr, payload.SongName)
}

func (p *Peer) handleOrderSongRequest(n wire.Notification) {
	var payload wire.OrderSongRequest
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad OrderSongRequest from %s: %v", n.From, err)
		return
	}
	p.handleFindFile(types.InstructionOrder, payload.SongName)
}

// handleFindFile implements FindFile. REMOVE is unconditional:
// deletion never needs to confirm existence first, so it bypasses the
// ExistFile/pending round-trip entirely and just fans out
// DeleteFileRequest.
func (p *Peer) handleFindFile(instr types.Instruction, songName string) {
	if instr == types.InstructionRemove {
		p.deleteLocalAndBroadcast(songName)
		return
	}

	entry, local := p.files[songName]
	if local {
		p.actOnLocalFile(instr, songName, entry)
		return
	}

	existFile, err := wire.Pack(wire.KindExistFile, p.address, "", wire.ExistFile{
		SongName: songName, ID: time.Now(),
	})
	if err != nil {
		p.log.Errorf("dispatcher: pack ExistFile: %v", err)
		return
	}
	p.broadcast(existFile)
	p.recordPending(songName, instr, time.Now())
}

func (p *Peer) actOnLocalFile(instr types.Instruction, songName string, entry types.FileEntry) {
	switch instr {
	case types.InstructionPlay:
		if err := p.playback.Play(songName, entry.Bytes); err != nil {
			p.log.Errorf("dispatcher: play %s: %v", songName, err)
			return
		}
		title := songName
		p.listener.PlayerPlaying(&title)
	case types.InstructionGet:
		p.listener.FileStatusChanged(songName, types.FileStatusDownload)
	case types.InstructionOrder:
		if target, ok := p.pickRedundancyTarget(p.address); ok {
			redundant, err := wire.Pack(wire.KindRedundantPushToDB, p.address, "", wire.RedundantPushToDB{
				Key: songName, Value: entry.Bytes, From: string(p.address),
			})
			if err == nil {
				p.sendAsync(target, redundant)
			}
		}
		p.listener.FileStatusChanged(songName, types.FileStatusNew)
	}
}

func (p *Peer) handleExistFile(n wire.Notification) {
	var payload wire.ExistFile
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad ExistFile from %s: %v", n.From, err)
		return
	}
	if _, local := p.files[payload.SongName]; !local {
		return
	}
	resp, err := wire.Pack(wire.KindExistFileResponse, p.address, "", wire.ExistFileResponse{
		SongName: payload.SongName, ID: payload.ID,
	})
	if err != nil {
		p.log.Errorf("dispatcher: pack ExistFileResponse: %v", err)
		return
	}
	p.sendAsync(n.From, resp)
}

func (p *Peer) handleExistFileResponse(n wire.Notification) {
	var payload wire.ExistFileResponse
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad ExistFileResponse from %s: %v", n.From, err)
		return
	}
	entry, ok := p.resolvePending(payload.SongName)
	if !ok {
		// Second or later response for an already-resolved lookup.
		return
	}
	get, err := wire.Pack(wire.KindGetFile, p.address, "", wire.GetFile{
		Instr: entry.instr, Key: payload.SongName,
	})
	if err != nil {
		p.log.Errorf("dispatcher: pack GetFile: %v", err)
		return
	}
	p.sendAsync(n.From, get)
}

func (p *Peer) handleGetFile(n wire.Notification) {
	var payload wire.GetFile
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad GetFile from %s: %v", n.From, err)
		return
	}
	entry, local := p.files[payload.Key]
	if !local {
		p.log.Warnf("dispatcher: GetFile for %q but no longer local", payload.Key)
		return
	}
	resp, err := wire.Pack(wire.KindGetFileResponse, p.address, "", wire.GetFileResponse{
		Instr: payload.Instr, Key: payload.Key, Value: entry.Bytes,
	})
	if err != nil {
		p.log.Errorf("dispatcher: pack GetFileResponse: %v", err)
		return
	}
	p.sendAsync(n.From, resp)
}

func (p *Peer) handleGetFileResponse(n wire.Notification) {
	var payload wire.GetFileResponse
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad GetFileResponse from %s: %v", n.From, err)
		return
	}
	switch payload.Instr {
	case types.InstructionPlay:
		if err := p.playback.Play(payload.Key, payload.Value); err != nil {
			p.log.Errorf("dispatcher: play %s: %v", payload.Key, err)
			return
		}
		title := payload.Key
		p.listener.PlayerPlaying(&title)
	case types.InstructionGet:
		p.storeFile(payload.Key, payload.Value)
		p.listener.FileStatusChanged(payload.Key, types.FileStatusDownload)
	case types.InstructionOrder:
		p.storeFile(payload.Key, payload.Value)
		if target, ok := p.pickRedundancyTarget(p.address); ok {
			redundant, err := wire.Pack(wire.KindRedundantPushToDB, p.address, "", wire.RedundantPushToDB{
				Key: payload.Key, Value: payload.Value, From: string(p.address),
			})
			if err == nil {
				p.sendAsync(target, redundant)
			}
		}
		p.listener.FileStatusChanged(payload.Key, types.FileStatusNew)
	}
}

func (p *Peer) deleteLocalAndBroadcast(songName string) {
	if _, ok := p.files[songName]; ok {
		delete(p.files, songName)
		p.metrics.FilesStored.Set(float64(len(p.files)))
		p.listener.FileStatusChanged(songName, types.FileStatusDelete)
	}
	notif, err := wire.Pack(wire.KindDeleteFileRequest, p.address, "", wire.DeleteFileRequest{SongName: songName})
	if err != nil {
		p.log.Errorf("dispatcher: pack DeleteFileRequest: %v", err)
		return
	}
	p.broadcast(notif)
}

func (p *Peer) handleDeleteFileRequest(n wire.Notification) {
	var payload wire.DeleteFileRequest
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad DeleteFileRequest from %s: %v", n.From, err)
		return
	}
	if _, ok := p.files[payload.SongName]; !ok {
		return // idempotent
	}
	delete(p.files, payload.SongName)
	p.metrics.FilesStored.Set(float64(len(p.files)))
	p.listener.FileStatusChanged(payload.SongName, types.FileStatusDelete)
}

func (p *Peer) handleExitPeer(n wire.Notification) {
	var payload wire.ExitPeer
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad ExitPeer from %s: %v", n.From, err)
		return
	}
	name, ok := p.nameOf(payload.Addr)
	if !ok {
		return // idempotent
	}
	delete(p.directory, name)
	p.transport.Resize(len(p.directory))

	gone, err := wire.Pack(wire.KindDeleteFromNetwork, p.address, "", wire.DeleteFromNetwork{Name: name})
	if err != nil {
		p.log.Errorf("dispatcher: pack DeleteFromNetwork: %v", err)
		return
	}
	p.broadcast(gone)
}

func (p *Peer) handleDeleteFromNetwork(n wire.Notification) {
	var payload wire.DeleteFromNetwork
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad DeleteFromNetwork from %s: %v", n.From, err)
		return
	}
	if _, ok := p.directory[payload.Name]; !ok {
		return // idempotent
	}
	delete(p.directory, payload.Name)
	p.transport.Resize(len(p.directory))
}

func (p *Peer) handleDroppedPeer(n wire.Notification) {
	var payload wire.DroppedPeer
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad DroppedPeer from %s: %v", n.From, err)
		return
	}
	p.dropByAddress(payload.Addr) // idempotent internally
}

func (p *Peer) handleStatusRequest(n wire.Notification) {
	files := make([]string, 0, len(p.files))
	for k := range p.files {
		files = append(files, k)
	}
	resp, err := wire.Pack(wire.KindStatusResponse, p.address, "", wire.StatusResponse{
		Files: files, Name: p.name,
	})
	if err != nil {
		p.log.Errorf("dispatcher: pack StatusResponse: %v", err)
		return
	}
	p.sendAsync(n.From, resp)
}

func (p *Peer) handleSelfStatusRequest() {
	files := make([]string, 0, len(p.files))
	for k := range p.files {
		files = append(files, k)
	}
	p.listener.NotifyStatus(files, p.name)
}

func (p *Peer) handleStatusResponse(n wire.Notification) {
	var payload wire.StatusResponse
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad StatusResponse from %s: %v", n.From, err)
		return
	}
	p.listener.NotifyStatus(payload.Files, payload.Name)
}

func (p *Peer) handlePlayAudioRequest(n wire.Notification) {
	var payload wire.PlayAudioRequest
	if err := wire.Unpack(n, &payload); err != nil {
		p.log.Warnf("dispatcher: bad PlayAudioRequest from %s: %v", n.From, err)
		return
	}
	switch payload.State {
	case types.CommandPlay:
		if payload.Name == nil {
			p.log.Warnf("dispatcher: PlayAudioRequest PLAY with no name")
			return
		}
		p.handleFindFile(types.InstructionPlay, *payload.Name)
	case types.CommandPause:
		if err := p.playback.Pause(); err != nil {
			p.log.Errorf("dispatcher: pause: %v", err)
		}
	case types.CommandStop:
		if err := p.playback.Stop(); err != nil {
			p.log.Errorf("dispatcher: stop: %v", err)
			return
		}
		p.listener.PlayerStopped()
	case types.CommandContinue:
		resuming := p.playback.State() == playback.Paused
		if err := p.playback.Continue(); err != nil {
			p.log.Errorf("dispatcher: continue: %v", err)
			return
		}
		if resuming {
			p.listener.PlayerPlaying(nil)
		}
	}
}

func (p *Peer) nameOf(addr types.Address) (string, bool) {
	for name, a := range p.directory {
		if a == addr {
			return name, true
		}
	}
	return "", false
}

// Package meff is the public API of a peer in the meff ("Music
// Entertainment For Friends") network: a small peer-to-peer system for
// sharing and playing audio files among a group of participants.
//
// Bootstrap a Client, register a Listener to learn about file and
// playback events, and drive it through the Request API (Push, Remove,
// Stream, Download, Play, Pause, Stop, Status, Quit).
package meff

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/meff-network/meff/internal/config"
	"github.com/meff-network/meff/internal/core"
	"github.com/meff-network/meff/internal/logging"
	"github.com/meff-network/meff/internal/types"
)

// Listener is the upcall surface a front-end registers to learn about
// state the dispatcher changes on its own: file catalog changes,
// status replies, and playback transitions. Implementations must be
// safe to call while the peer's internal lock is held, i.e. they must
// not call back into the Client synchronously.
type Listener = types.Listener

// Sink is the external audio output collaborator a front-end supplies.
// The core never decodes audio; it only hands a Sink raw bytes.
type Sink = types.Sink

// Address identifies a peer's listening endpoint, host:port.
type Address = types.Address

// Metadata is the best-effort tag information extracted from pushed
// audio bytes via github.com/dhowden/tag. Nil when the bytes weren't a
// recognizable container.
type Metadata = types.Metadata

// FileStatus is the upcall status reported on FileStatusChanged.
type FileStatus = types.FileStatus

// Options configure Bootstrap. Listener and Sink default to no-ops if
// left nil, letting a peer run headless.
type Options struct {
	Name             string
	Port             string
	BootstrapAddress Address // empty starts a fresh network
	Listener         Listener
	Sink             Sink
	Debug            bool
}

// Client is a running peer. Obtain one with Bootstrap.
type Client struct {
	peer *core.Peer
}

// Bootstrap discovers this host's listen address, brings up the
// transport and dispatcher, and — if BootstrapAddress is set — joins
// an existing network. Configuration, bind, and bootstrap-unreachable
// errors are all returned here, before any background goroutine not
// already torn down by the failed attempt keeps running; the caller
// is expected to log err and os.Exit(1).
func Bootstrap(opts Options) (*Client, error) {
	addr, err := core.DiscoverAddress(opts.Port)
	if err != nil {
		return nil, errors.Wrap(err, "meff: discover listen address")
	}

	log := logging.Default(opts.Debug)
	cfg := core.Config{
		Name:             opts.Name,
		Address:          addr,
		BootstrapAddress: opts.BootstrapAddress,
		Listener:         opts.Listener,
		Sink:             opts.Sink,
		Logger:           log,
	}

	peer, err := core.NewPeer(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "meff: bootstrap")
	}
	return &Client{peer: peer}, nil
}

// BootstrapFromConfigFile loads Config via internal/config (file plus
// MEFF_-prefixed environment overrides) and bootstraps a Client from
// it. A config error is fatal and returned before any goroutine starts.
func BootstrapFromConfigFile(path string, listener Listener, sink Sink) (*Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "meff: load configuration")
	}
	client, err := Bootstrap(Options{
		Name:             cfg.Name,
		Port:             cfg.Port,
		BootstrapAddress: Address(cfg.BootstrapAddress),
		Listener:         listener,
		Sink:             sink,
		Debug:            cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	if cfg.MetricsAddr != "" {
		if err := client.ServeMetrics(cfg.MetricsAddr); err != nil {
			return nil, errors.Wrap(err, "meff: serve metrics")
		}
	}
	return client, nil
}

// Name returns the peer's current display name, which may have been
// rewritten during join if it collided with an existing peer.
func (c *Client) Name() string {
	return c.peer.Name()
}

// Address returns the peer's listening address.
func (c *Client) Address() Address {
	return c.peer.Address()
}

// Push stores data locally under title and replicates it to one other
// peer.
func (c *Client) Push(title string, data []byte) error {
	return c.peer.Push(title, data)
}

// PushFile reads path from disk and pushes its contents under title.
// The file read happens synchronously here, never inside the
// dispatcher: a local I/O error returns directly to the caller and
// never becomes a Notification.
func (c *Client) PushFile(path, title string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "meff: push %s", path)
	}
	return c.peer.Push(title, data)
}

// Remove deletes title locally and broadcasts the deletion.
func (c *Client) Remove(title string) error {
	return c.peer.Remove(title)
}

// Stream plays title over the network, fetching it first if needed.
func (c *Client) Stream(title string) error {
	return c.peer.Stream(title)
}

// Download fetches title and stores it locally without playing it.
func (c *Client) Download(title string) error {
	return c.peer.Download(title)
}

// Play is the front-end convenience that starts playback, or resumes
// it if already playing or paused.
func (c *Client) Play(title string) error {
	return c.peer.Play(title)
}

// Pause pauses the current track, if any.
func (c *Client) Pause() error {
	return c.peer.Pause()
}

// Stop halts playback.
func (c *Client) Stop() error {
	return c.peer.Stop()
}

// Continue resumes a paused track.
func (c *Client) Continue() error {
	return c.peer.Continue()
}

// Status returns a snapshot of the directory (name -> address).
func (c *Client) Status() map[string]Address {
	return c.peer.Status()
}

// RefreshSelfStatus triggers a notify_status upcall with the current
// local file catalog and display name.
func (c *Client) RefreshSelfStatus() {
	c.peer.RefreshSelfStatus()
}

// RequestPeerStatus asks target for its file catalog; the reply
// arrives via the Listener's NotifyStatus upcall.
func (c *Client) RequestPeerStatus(target Address) error {
	return c.peer.RequestPeerStatus(target)
}

// Quit runs the graceful exit sequence (ExitPeer fan-out) and tears
// the peer down, blocking until every in-flight send has finished.
func (c *Client) Quit() {
	c.peer.Quit()
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mattermost/callsignal/service"
)

const (
	clientStateNew int32 = iota
	clientStateInit
	clientStateClosing
	clientStateClosed
)

// Client is a ready to use calling client: a Controller wired to a
// callsignald service for signaling and bookkeeping, pion for media
// transport and a static media source.
type Client struct {
	*Controller

	api   *service.Client
	bus   *WSBus
	media *StaticMediaSource

	state int32
	// watchDoneCh is closed once the relay watcher has exited.
	watchDoneCh chan struct{}
}

// New initializes and returns a new calling client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Parse(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	api, err := service.NewClient(cfg.apiConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	c := &Client{
		api:         api,
		bus:         NewWSBus(slog.Default(), api),
		media:       NewStaticMediaSource(cfg.UserID),
		watchDoneCh: make(chan struct{}),
	}

	// The peer connection factory needs the final logger so it's resolved
	// lazily.
	var ctrl *Controller
	newPeerConn := func() (PeerConn, error) {
		return NewRTCPeerConnFactory(ctrl.log, cfg.ICEServers)()
	}

	ctrl, err = NewController(cfg, Collaborators{
		Bus:         c.bus,
		Bookkeeper:  NewAPIBookkeeper(api),
		Media:       c.media,
		NewPeerConn: newPeerConn,
	}, opts...)
	if err != nil {
		return nil, err
	}
	c.Controller = ctrl
	c.bus.log = ctrl.log

	return c, nil
}

// Connect logs in and opens the relay connection. Incoming calls are
// delivered from then on.
func (c *Client) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.state, clientStateNew, clientStateInit) {
		return fmt.Errorf("client is already initialized")
	}

	if _, err := c.api.Login(ctx); err != nil {
		atomic.StoreInt32(&c.state, clientStateNew)
		return fmt.Errorf("failed to login: %w", err)
	}

	if err := c.api.Connect(); err != nil {
		atomic.StoreInt32(&c.state, clientStateNew)
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.bus.Start()

	go c.watchRelay()

	return nil
}

// watchRelay ends the current call if the relay connection drops while the
// client is in use.
func (c *Client) watchRelay() {
	defer close(c.watchDoneCh)
	<-c.bus.Done()

	if atomic.LoadInt32(&c.state) != clientStateInit {
		return
	}

	c.log.Warn("relay connection lost, ending call")
	if err := c.Controller.EndCall(context.Background()); err != nil {
		c.log.Error("failed to end call", slog.String("err", err.Error()))
	}
}

// Media returns the source of the client's local tracks.
func (c *Client) Media() *StaticMediaSource {
	return c.media
}

// Close ends the current call, if any, and disconnects the client.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.state, clientStateInit, clientStateClosing) {
		return fmt.Errorf("client is not initialized")
	}
	defer atomic.StoreInt32(&c.state, clientStateClosed)

	if err := c.Controller.Close(); err != nil {
		c.log.Error("failed to end call", slog.String("err", err.Error()))
	}

	if err := c.api.Close(); err != nil {
		return fmt.Errorf("failed to close api client: %w", err)
	}

	<-c.watchDoneCh

	return nil
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattermost/callsignal/service/relay"
)

// relayConn is the relay side of a service.Client.
type relayConn interface {
	JoinRoom(room string) error
	LeaveRoom(room string) error
	Emit(room, event string, data []byte) error
	ReceiveCh() <-chan relay.Message
	ErrorCh() <-chan error
}

// WSBus is a SignalBus over a relay connection.
type WSBus struct {
	log  *slog.Logger
	conn relayConn

	handler func(Envelope)
	mut     sync.RWMutex

	startOnce sync.Once
	doneCh    chan struct{}
}

func NewWSBus(log *slog.Logger, conn relayConn) *WSBus {
	return &WSBus{
		log:    log,
		conn:   conn,
		doneCh: make(chan struct{}),
	}
}

func (b *WSBus) JoinRoom(room string) error {
	return b.conn.JoinRoom(room)
}

func (b *WSBus) LeaveRoom(room string) error {
	return b.conn.LeaveRoom(room)
}

func (b *WSBus) Emit(env Envelope) error {
	if env.Room == "" {
		return fmt.Errorf("invalid empty room")
	}
	return b.conn.Emit(env.Room, string(env.Type), env.Payload)
}

func (b *WSBus) Subscribe(fn func(Envelope)) error {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.handler != nil {
		return ErrAlreadySubscribed
	}
	b.handler = fn
	return nil
}

// Start begins delivering inbound envelopes to the subscribed handler.
func (b *WSBus) Start() {
	b.startOnce.Do(func() {
		go b.reader()
	})
}

// Done is closed once the relay connection has dropped.
func (b *WSBus) Done() <-chan struct{} {
	return b.doneCh
}

func (b *WSBus) reader() {
	defer close(b.doneCh)

	receiveCh := b.conn.ReceiveCh()
	errorCh := b.conn.ErrorCh()
	for {
		select {
		case msg, ok := <-receiveCh:
			if !ok {
				b.log.Info("relay connection closed")
				return
			}
			b.handleMessage(msg)
		case err, ok := <-errorCh:
			if !ok {
				errorCh = nil
				continue
			}
			b.log.Error("relay error", slog.String("err", err.Error()))
		}
	}
}

func (b *WSBus) handleMessage(msg relay.Message) {
	switch msg.Type {
	case relay.HelloMessage:
		b.log.Debug("connected to relay", slog.String("connID", string(msg.Data)))
		return
	case relay.ErrorMessage:
		b.log.Error("relay rejected request", slog.String("room", msg.Room), slog.String("err", string(msg.Data)))
		return
	case relay.EventMessage:
	default:
		b.log.Warn("unexpected relay message", slog.String("type", string(msg.Type)))
		return
	}

	env, err := envelopeFromMessage(msg)
	if err != nil {
		b.log.Warn("dropping invalid envelope", slog.String("event", msg.Event), slog.String("err", err.Error()))
		return
	}

	b.mut.RLock()
	fn := b.handler
	b.mut.RUnlock()
	if fn == nil {
		b.log.Debug("no handler subscribed, dropping envelope", slog.String("type", string(env.Type)))
		return
	}

	fn(env)
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mattermost/callsignal/service/ws"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"golang.org/x/time/rate"
)

var (
	ErrRoomNotAllowed = errors.New("room not allowed")
	ErrTooManyRooms   = errors.New("too many rooms")
	ErrNotMember      = errors.New("not a member of room")
	ErrRateLimited    = errors.New("rate limited")
	ErrInvalidMessage = errors.New("invalid message")
)

const (
	dirIn  = "in"
	dirOut = "out"
)

type Metrics interface {
	IncRelayConnections()
	DecRelayConnections()
	SetRelayRooms(n int)
	IncRelayMessages(msgType, direction string)
	IncRelayDropped(reason string)
}

type member struct {
	connID   string
	clientID string
	rooms    map[string]struct{}
	limiter  *rate.Limiter
}

// Hub routes frames received by the websocket server between the members
// of named rooms. All routing state is owned by the hub goroutine.
type Hub struct {
	cfg      Config
	log      mlog.LoggerIFace
	metrics  Metrics
	wsServer *ws.Server

	members map[string]*member
	rooms   map[string]map[string]struct{}
	mut     sync.RWMutex

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewHub(cfg Config, wsServer *ws.Server, log mlog.LoggerIFace, metrics Metrics) (*Hub, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if wsServer == nil {
		return nil, fmt.Errorf("wsServer should not be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics should not be nil")
	}

	return &Hub{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		wsServer: wsServer,
		members:  make(map[string]*member),
		rooms:    make(map[string]map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

func (h *Hub) Start() {
	go h.loop()
}

// Stop halts routing. It must be called before closing the websocket server.
func (h *Hub) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *Hub) loop() {
	defer close(h.doneCh)
	for {
		select {
		case msg, ok := <-h.wsServer.ReceiveCh():
			if !ok {
				return
			}
			h.handleMessage(msg)
		case <-h.stopCh:
			return
		}
	}
}

func (h *Hub) handleMessage(msg ws.Message) {
	switch msg.Type {
	case ws.OpenMessage:
		h.addMember(msg.ConnID, msg.ClientID)
	case ws.CloseMessage:
		h.removeMember(msg.ConnID)
	case ws.TextMessage, ws.BinaryMessage:
		h.mut.RLock()
		m := h.members[msg.ConnID]
		h.mut.RUnlock()
		if m == nil {
			h.log.Debug("relay: message from unknown connection", mlog.String("connID", msg.ConnID))
			return
		}
		if err := h.handleFrame(m, msg.Data); err != nil {
			h.log.Debug("relay: failed to handle frame",
				mlog.String("connID", m.connID), mlog.String("clientID", m.clientID), mlog.Err(err))
		}
	}
}

func (h *Hub) addMember(connID, clientID string) {
	m := &member{
		connID:   connID,
		clientID: clientID,
		rooms:    make(map[string]struct{}),
		limiter:  rate.NewLimiter(rate.Limit(h.cfg.MessageRateLimit), h.cfg.MessageBurst),
	}

	h.mut.Lock()
	h.members[connID] = m
	h.mut.Unlock()

	h.metrics.IncRelayConnections()

	if clientID != "" {
		if err := h.join(m, UserRoom(clientID)); err != nil {
			h.log.Error("relay: failed to join personal room", mlog.String("clientID", clientID), mlog.Err(err))
		}
	}

	h.log.Debug("relay: member connected", mlog.String("connID", connID), mlog.String("clientID", clientID))

	h.send(connID, NewMessage(HelloMessage, "", "", []byte(connID)))
}

func (h *Hub) removeMember(connID string) {
	h.mut.Lock()
	m := h.members[connID]
	if m == nil {
		h.mut.Unlock()
		return
	}
	delete(h.members, connID)
	for room := range m.rooms {
		h.removeFromRoom(room, connID)
	}
	nRooms := len(h.rooms)
	h.mut.Unlock()

	h.metrics.DecRelayConnections()
	h.metrics.SetRelayRooms(nRooms)

	h.log.Debug("relay: member disconnected", mlog.String("connID", connID), mlog.String("clientID", m.clientID))
}

// removeFromRoom must be called with the lock held.
func (h *Hub) removeFromRoom(room, connID string) {
	conns := h.rooms[room]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) handleFrame(m *member, data []byte) error {
	if !m.limiter.Allow() {
		h.metrics.IncRelayDropped("rate_limited")
		h.sendError(m.connID, "", ErrRateLimited)
		return ErrRateLimited
	}

	var msg Message
	if err := msg.Unpack(data); err != nil {
		h.metrics.IncRelayDropped("invalid")
		h.sendError(m.connID, "", ErrInvalidMessage)
		return fmt.Errorf("failed to unpack message: %w", err)
	}

	h.metrics.IncRelayMessages(string(msg.Type), dirIn)

	var err error
	switch msg.Type {
	case JoinMessage:
		err = h.join(m, msg.Room)
	case LeaveMessage:
		h.leave(m, msg.Room)
	case EmitMessage:
		err = h.emit(m, msg.Room, msg.Event, msg.Data)
	default:
		err = fmt.Errorf("%w: unexpected type %q", ErrInvalidMessage, msg.Type)
	}

	if err != nil {
		h.sendError(m.connID, msg.Room, err)
	}

	return err
}

func (h *Hub) join(m *member, room string) error {
	isOwnRoom := IsUserRoom(room) && room == UserRoom(m.clientID)
	if !IsCallRoom(room) && !isOwnRoom {
		return fmt.Errorf("%w: %q", ErrRoomNotAllowed, room)
	}

	h.mut.Lock()
	if _, ok := m.rooms[room]; ok {
		h.mut.Unlock()
		return nil
	}
	if len(m.rooms) >= h.cfg.MaxRoomsPerConn {
		h.mut.Unlock()
		return ErrTooManyRooms
	}
	m.rooms[room] = struct{}{}
	conns := h.rooms[room]
	if conns == nil {
		conns = make(map[string]struct{})
		h.rooms[room] = conns
	}
	conns[m.connID] = struct{}{}
	nRooms := len(h.rooms)
	h.mut.Unlock()

	h.metrics.SetRelayRooms(nRooms)

	return nil
}

func (h *Hub) leave(m *member, room string) {
	h.mut.Lock()
	if _, ok := m.rooms[room]; !ok || room == UserRoom(m.clientID) {
		h.mut.Unlock()
		return
	}
	delete(m.rooms, room)
	h.removeFromRoom(room, m.connID)
	nRooms := len(h.rooms)
	h.mut.Unlock()

	h.metrics.SetRelayRooms(nRooms)
}

// emit delivers the event to every member of room except the sender.
// Personal rooms can be addressed without joining them.
func (h *Hub) emit(m *member, room, event string, data []byte) error {
	if room == "" || event == "" {
		return fmt.Errorf("%w: room and event are required", ErrInvalidMessage)
	}

	h.mut.RLock()
	_, isMember := m.rooms[room]
	if !isMember && !IsUserRoom(room) {
		h.mut.RUnlock()
		return fmt.Errorf("%w: %q", ErrNotMember, room)
	}
	targets := make([]string, 0, len(h.rooms[room]))
	for connID := range h.rooms[room] {
		if connID != m.connID {
			targets = append(targets, connID)
		}
	}
	h.mut.RUnlock()

	out := &Message{
		Type:  EventMessage,
		Room:  room,
		Event: event,
		From:  m.clientID,
		Data:  data,
	}
	for _, connID := range targets {
		h.send(connID, out)
	}

	return nil
}

func (h *Hub) sendError(connID, room string, err error) {
	h.send(connID, NewMessage(ErrorMessage, room, "", []byte(err.Error())))
}

func (h *Hub) send(connID string, msg *Message) {
	data, err := msg.Pack()
	if err != nil {
		h.log.Error("relay: failed to pack message", mlog.Err(err))
		return
	}

	select {
	case h.wsServer.SendCh() <- ws.Message{ConnID: connID, Type: ws.BinaryMessage, Data: data}:
		h.metrics.IncRelayMessages(string(msg.Type), dirOut)
	default:
		h.metrics.IncRelayDropped("queue_full")
		h.log.Warn("relay: send queue is full, dropping message", mlog.String("connID", connID))
	}
}

// RoomMembers returns the connection IDs currently in room.
func (h *Hub) RoomMembers(room string) []string {
	h.mut.RLock()
	defer h.mut.RUnlock()
	members := make([]string, 0, len(h.rooms[room]))
	for connID := range h.rooms[room] {
		members = append(members, connID)
	}
	return members
}

// Stats returns the number of connected members and active rooms.
func (h *Hub) Stats() (members, rooms int) {
	h.mut.RLock()
	defer h.mut.RUnlock()
	return len(h.members), len(h.rooms)
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mattermost/callsignal/service/random"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const (
	sendChSize    = 256
	receiveChSize = 256
	writeWaitTime = 10 * time.Second
)

type Server struct {
	cfg       ServerConfig
	log       mlog.LoggerIFace
	conns     map[string]*conn
	authCb    AuthCb
	sendCh    chan Message
	receiveCh chan Message
	doneCh    chan struct{}
	closed    bool
	wg        sync.WaitGroup
	mut       sync.RWMutex
}

func NewServer(cfg ServerConfig, log mlog.LoggerIFace, opts ...ServerOption) (*Server, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		conns:     make(map[string]*conn),
		sendCh:    make(chan Message, sendChSize),
		receiveCh: make(chan Message, receiveChSize),
		doneCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	go s.connWriter()

	return s, nil
}

// SendCh returns a channel used to queue messages for delivery to
// the connection identified by Message.ConnID. Sending a CloseMessage
// closes that connection.
func (s *Server) SendCh() chan<- Message {
	return s.sendCh
}

// ReceiveCh returns a channel on which the server delivers incoming
// messages along with open/close notifications for each connection.
func (s *Server) ReceiveCh() <-chan Message {
	return s.receiveCh
}

func (s *Server) receive(msg Message) {
	select {
	case s.receiveCh <- msg:
	case <-s.doneCh:
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var clientID string
	if s.authCb != nil {
		var err error
		clientID, err = s.authCb(w, r)
		if err != nil {
			s.log.Debug("ws auth failed", mlog.Err(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade connection", mlog.Err(err))
		return
	}

	maxReadBytes := int64(connMaxReadBytes)
	if s.cfg.MaxMessageSize > 0 {
		maxReadBytes = s.cfg.MaxMessageSize
	}
	ws.SetReadLimit(maxReadBytes)

	conn := newConn(random.NewID(), clientID, ws)

	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		_ = ws.Close()
		return
	}
	s.conns[conn.id] = conn
	s.wg.Add(1)
	s.mut.Unlock()

	defer func() {
		s.removeConn(conn.id)
		if err := conn.close(); err != nil {
			s.log.Debug("failed to close ws conn", mlog.String("connID", conn.id), mlog.Err(err))
		}
		s.receive(newCloseMessage(conn.id, clientID))
		conn.markClosed()
		s.wg.Done()
	}()

	s.receive(newOpenMessage(conn.id, clientID))

	pongWait := 2 * s.cfg.PingInterval
	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Error("failed to set read deadline", mlog.Err(err))
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.pinger(conn)

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws read failed", mlog.String("connID", conn.id), mlog.Err(err))
			}
			return
		}

		var msgType MessageType
		switch mt {
		case websocket.TextMessage:
			msgType = TextMessage
		case websocket.BinaryMessage:
			msgType = BinaryMessage
		default:
			continue
		}

		s.receive(Message{
			ConnID:   conn.id,
			ClientID: clientID,
			Type:     msgType,
			Data:     data,
		})
	}
}

func (s *Server) pinger(c *conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWaitTime)); err != nil {
				s.log.Debug("failed to send ping", mlog.String("connID", c.id), mlog.Err(err))
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

// Close disconnects all the connections and stops the server. It must be
// called after the consumer of SendCh has stopped producing.
func (s *Server) Close() {
	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		return
	}
	s.closed = true
	close(s.doneCh)
	s.mut.Unlock()

	for _, conn := range s.getConns() {
		if err := conn.close(); err != nil {
			s.log.Error("failed to close ws conn", mlog.Err(err))
		}
	}
	s.wg.Wait()

	close(s.receiveCh)
}

func (s *Server) connWriter() {
	for {
		var msg Message
		select {
		case msg = <-s.sendCh:
		case <-s.doneCh:
			return
		}

		conn := s.getConn(msg.ConnID)
		if conn == nil {
			s.log.Debug("failed to get conn for sending", mlog.String("connID", msg.ConnID))
			continue
		}

		if msg.Type == CloseMessage {
			data := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(msg.Data))
			if err := conn.ws.WriteControl(websocket.CloseMessage, data, time.Now().Add(writeWaitTime)); err != nil {
				s.log.Debug("failed to write close message", mlog.String("connID", msg.ConnID), mlog.Err(err))
			}
			if err := conn.close(); err != nil {
				s.log.Debug("failed to close ws conn", mlog.String("connID", msg.ConnID), mlog.Err(err))
			}
			continue
		}

		msgType := websocket.TextMessage
		if msg.Type == BinaryMessage {
			msgType = websocket.BinaryMessage
		}

		if err := conn.ws.SetWriteDeadline(time.Now().Add(writeWaitTime)); err != nil {
			s.log.Error("failed to set write deadline", mlog.String("connID", msg.ConnID), mlog.Err(err))
			continue
		}
		if err := conn.ws.WriteMessage(msgType, msg.Data); err != nil {
			s.log.Debug("failed to write message", mlog.String("connID", msg.ConnID), mlog.Err(err))
		}
	}
}

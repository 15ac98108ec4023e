// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package relay

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type MessageType string

const (
	// Sent by clients.
	JoinMessage  MessageType = "join"
	LeaveMessage MessageType = "leave"
	EmitMessage  MessageType = "emit"

	// Sent by the relay.
	HelloMessage MessageType = "hello"
	EventMessage MessageType = "event"
	ErrorMessage MessageType = "error"
)

func (t MessageType) IsValid() bool {
	switch t {
	case JoinMessage, LeaveMessage, EmitMessage, HelloMessage, EventMessage, ErrorMessage:
		return true
	default:
		return false
	}
}

// Message is the frame exchanged between clients and the relay.
//
// For EmitMessage and EventMessage, Event names the application event and
// Data carries its opaque payload. From is set by the relay on delivered
// events to the authenticated ID of the sender. HelloMessage carries the
// connection ID in Data and ErrorMessage the error description.
type Message struct {
	Type  MessageType
	Room  string
	Event string
	From  string
	Data  []byte
}

var _ msgpack.CustomEncoder = (*Message)(nil)

func (m *Message) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeMulti(string(m.Type), m.Room, m.Event, m.From, m.Data)
}

var _ msgpack.CustomDecoder = (*Message)(nil)

func (m *Message) DecodeMsgpack(dec *msgpack.Decoder) error {
	msgType, err := dec.DecodeString()
	if err != nil {
		return fmt.Errorf("failed to decode msg.Type: %w", err)
	}
	m.Type = MessageType(msgType)

	if m.Room, err = dec.DecodeString(); err != nil {
		return fmt.Errorf("failed to decode msg.Room: %w", err)
	}

	if m.Event, err = dec.DecodeString(); err != nil {
		return fmt.Errorf("failed to decode msg.Event: %w", err)
	}

	if m.From, err = dec.DecodeString(); err != nil {
		return fmt.Errorf("failed to decode msg.From: %w", err)
	}

	if m.Data, err = dec.DecodeBytes(); err != nil {
		return fmt.Errorf("failed to decode msg.Data: %w", err)
	}

	return nil
}

func NewMessage(msgType MessageType, room, event string, data []byte) *Message {
	return &Message{
		Type:  msgType,
		Room:  room,
		Event: event,
		Data:  data,
	}
}

func (m *Message) Pack() ([]byte, error) {
	return msgpack.Marshal(m)
}

func (m *Message) Unpack(data []byte) error {
	if err := msgpack.Unmarshal(data, m); err != nil {
		return err
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid message type %q", m.Type)
	}
	return nil
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
	OpenMessage
	CloseMessage
)

func (mt MessageType) String() string {
	switch mt {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	case OpenMessage:
		return "open"
	case CloseMessage:
		return "close"
	default:
		return "unknown"
	}
}

// Message is the unit exchanged between the server and its consumer.
// ClientID is only set on messages received by the server and holds the
// identity returned by the auth callback.
type Message struct {
	ConnID   string
	ClientID string
	Type     MessageType
	Data     []byte
}

func newOpenMessage(connID, clientID string) Message {
	return Message{
		ConnID:   connID,
		ClientID: clientID,
		Type:     OpenMessage,
	}
}

func newCloseMessage(connID, clientID string) Message {
	return Message{
		ConnID:   connID,
		ClientID: clientID,
		Type:     CloseMessage,
	}
}

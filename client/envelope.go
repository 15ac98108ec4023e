// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"fmt"

	"github.com/mattermost/callsignal/service/calls"
	"github.com/mattermost/callsignal/service/relay"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Mode is the media mode of a call.
type Mode = calls.Mode

const (
	ModeAudio = calls.ModeAudio
	ModeVideo = calls.ModeVideo
)

type EnvelopeType string

const (
	EnvelopeCallInitiated   EnvelopeType = "call_initiated"
	EnvelopeCallAnswered    EnvelopeType = "call_answered"
	EnvelopeCallRejected    EnvelopeType = "call_rejected"
	EnvelopeCallEnded       EnvelopeType = "call_ended"
	EnvelopeCallModeChanged EnvelopeType = "call_mode_changed"
	EnvelopeWebRTCOffer     EnvelopeType = "webrtc_offer"
	EnvelopeWebRTCAnswer    EnvelopeType = "webrtc_answer"
	EnvelopeWebRTCICE       EnvelopeType = "webrtc_ice"
)

func (t EnvelopeType) IsValid() bool {
	switch t {
	case EnvelopeCallInitiated, EnvelopeCallAnswered, EnvelopeCallRejected,
		EnvelopeCallEnded, EnvelopeCallModeChanged,
		EnvelopeWebRTCOffer, EnvelopeWebRTCAnswer, EnvelopeWebRTCICE:
		return true
	default:
		return false
	}
}

// Envelope is a signaling message exchanged through the relay. Payload
// holds the msgpack encoded body matching Type. From is filled in by the
// relay with the sender's user ID and is empty on outgoing envelopes.
type Envelope struct {
	Type    EnvelopeType
	CallID  string
	Room    string
	From    string
	Payload []byte
}

type CallerInfo struct {
	ID   string `msgpack:"id"`
	Name string `msgpack:"name"`
}

type InitiatedPayload struct {
	CallID       string     `msgpack:"call_id"`
	Caller       CallerInfo `msgpack:"caller"`
	CalleeUserID string     `msgpack:"callee_user_id"`
	Mode         Mode       `msgpack:"mode"`
}

// CallPayload is the body of call_answered and call_rejected.
type CallPayload struct {
	CallID string `msgpack:"call_id"`
}

type EndedPayload struct {
	CallID          string `msgpack:"call_id"`
	DurationSeconds int64  `msgpack:"duration_seconds"`
}

type ModeChangedPayload struct {
	CallID  string `msgpack:"call_id"`
	NewMode Mode   `msgpack:"new_mode"`
}

// SDPPayload is the body of webrtc_offer and webrtc_answer.
type SDPPayload struct {
	CallID string `msgpack:"call_id"`
	Type   string `msgpack:"type"`
	SDP    string `msgpack:"sdp"`
}

func (p SDPPayload) SessionDescription() webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(p.Type),
		SDP:  p.SDP,
	}
}

type ICEPayload struct {
	CallID           string  `msgpack:"call_id"`
	Candidate        string  `msgpack:"candidate"`
	SDPMid           *string `msgpack:"sdp_mid"`
	SDPMLineIndex    *uint16 `msgpack:"sdp_mline_index"`
	UsernameFragment *string `msgpack:"username_fragment"`
}

func newICEPayload(callID string, c webrtc.ICECandidateInit) ICEPayload {
	return ICEPayload{
		CallID:           callID,
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func (p ICEPayload) CandidateInit() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        p.Candidate,
		SDPMid:           p.SDPMid,
		SDPMLineIndex:    p.SDPMLineIndex,
		UsernameFragment: p.UsernameFragment,
	}
}

// NewEnvelope encodes payload into an envelope addressed to room.
func NewEnvelope(envType EnvelopeType, callID, room string, payload any) (Envelope, error) {
	if !envType.IsValid() {
		return Envelope{}, fmt.Errorf("invalid envelope type %q", envType)
	}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", envType, err)
	}
	return Envelope{
		Type:    envType,
		CallID:  callID,
		Room:    room,
		Payload: data,
	}, nil
}

// Decode unpacks the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if err := msgpack.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// envelopeFromMessage turns a relay event frame into an envelope. The call
// ID is read from the payload since every payload type carries it.
func envelopeFromMessage(msg relay.Message) (Envelope, error) {
	if msg.Type != relay.EventMessage {
		return Envelope{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}

	env := Envelope{
		Type:    EnvelopeType(msg.Event),
		Room:    msg.Room,
		From:    msg.From,
		Payload: msg.Data,
	}
	if !env.Type.IsValid() {
		return Envelope{}, fmt.Errorf("invalid envelope type %q", msg.Event)
	}

	var hdr CallPayload
	if err := env.Decode(&hdr); err != nil {
		return Envelope{}, err
	}
	if hdr.CallID == "" {
		return Envelope{}, fmt.Errorf("missing call id in %s payload", env.Type)
	}
	env.CallID = hdr.CallID

	return env, nil
}

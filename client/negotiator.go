// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var errUnexpectedAnswer = errors.New("unexpected answer")

// negotiator drives offer/answer/ICE for a single call. It owns the peer
// connection for the call's lifetime. Its methods are called with the
// controller lock held; outgoing envelopes go through send.
type negotiator struct {
	log    *slog.Logger
	role   Role
	callID string
	send   func(envType EnvelopeType, payload any)

	pc      PeerConn
	senders map[webrtc.RTPCodecType]Sender

	pendingICE []webrtc.ICECandidateInit
	remoteSet  bool

	// offerPending is set while a local offer awaits its answer.
	offerPending bool
	// renegotiate is set when another offer is needed once the pending
	// one settles.
	renegotiate bool
}

func newNegotiator(log *slog.Logger, role Role, callID string, send func(EnvelopeType, any)) *negotiator {
	return &negotiator{
		log:     log,
		role:    role,
		callID:  callID,
		send:    send,
		senders: make(map[webrtc.RTPCodecType]Sender),
	}
}

// attach binds the peer connection and adds one sender per local track.
func (n *negotiator) attach(pc PeerConn, tracks *TrackSet) error {
	n.pc = pc
	for _, t := range tracks.Tracks() {
		snd, err := pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("failed to add %s track: %w", t.Kind(), err)
		}
		n.senders[t.Kind()] = snd
	}
	return nil
}

func (n *negotiator) attached() bool {
	return n.pc != nil
}

// offer creates and sends a new offer. If one is already in flight the
// new offer is deferred until it's answered.
func (n *negotiator) offer() error {
	if n.pc == nil {
		return fmt.Errorf("peer connection is not initialized")
	}
	if n.offerPending {
		n.renegotiate = true
		return nil
	}

	offer, err := n.pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	n.offerPending = true

	n.send(EnvelopeWebRTCOffer, SDPPayload{
		CallID: n.callID,
		Type:   offer.Type.String(),
		SDP:    offer.SDP,
	})

	return nil
}

// handleOffer answers a remote offer. On collision the caller keeps its own
// offer and ignores the remote one while the callee rolls its own back.
// It returns false if the offer was ignored.
func (n *negotiator) handleOffer(sd webrtc.SessionDescription) (bool, error) {
	if n.pc == nil {
		return false, fmt.Errorf("peer connection is not initialized")
	}
	if sd.Type != webrtc.SDPTypeOffer {
		return false, fmt.Errorf("unexpected description type %q", sd.Type)
	}

	if n.offerPending {
		if n.role == RoleCaller {
			n.log.Debug("ignoring colliding offer", slog.String("callID", n.callID))
			return false, nil
		}
		n.log.Debug("rolling back local offer", slog.String("callID", n.callID))
		if err := n.pc.Rollback(); err != nil {
			return false, fmt.Errorf("failed to rollback local offer: %w", err)
		}
		n.offerPending = false
		n.renegotiate = true
	}

	if err := n.setRemote(sd); err != nil {
		return false, err
	}

	answer, err := n.pc.CreateAnswer()
	if err != nil {
		return false, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return false, fmt.Errorf("failed to set local description: %w", err)
	}

	n.send(EnvelopeWebRTCAnswer, SDPPayload{
		CallID: n.callID,
		Type:   answer.Type.String(),
		SDP:    answer.SDP,
	})

	if n.renegotiate {
		n.renegotiate = false
		if err := n.offer(); err != nil {
			return true, err
		}
	}

	return true, nil
}

// handleAnswer applies the answer to the pending offer. Answers without a
// pending offer are duplicates and return errUnexpectedAnswer.
func (n *negotiator) handleAnswer(sd webrtc.SessionDescription) error {
	if n.pc == nil || !n.offerPending {
		return errUnexpectedAnswer
	}
	if sd.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("unexpected description type %q", sd.Type)
	}

	if err := n.setRemote(sd); err != nil {
		return err
	}
	n.offerPending = false

	if n.renegotiate {
		n.renegotiate = false
		return n.offer()
	}

	return nil
}

// settled reports whether no offer is pending or queued.
func (n *negotiator) settled() bool {
	return !n.offerPending && !n.renegotiate
}

func (n *negotiator) setRemote(sd webrtc.SessionDescription) error {
	counts, err := parseMediaSections(sd.SDP)
	if err != nil {
		return err
	}
	n.log.Debug("applying remote description",
		slog.String("callID", n.callID),
		slog.String("type", sd.Type.String()),
		slog.Int("audio", counts[webrtc.RTPCodecTypeAudio]),
		slog.Int("video", counts[webrtc.RTPCodecTypeVideo]))

	if err := n.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	n.remoteSet = true

	return n.flushCandidates()
}

// addCandidate applies a remote candidate, queuing it until the remote
// description is set.
func (n *negotiator) addCandidate(c webrtc.ICECandidateInit) error {
	if n.pc == nil || !n.remoteSet {
		n.pendingICE = append(n.pendingICE, c)
		return nil
	}
	if err := n.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("failed to add remote candidate: %w", err)
	}
	return nil
}

func (n *negotiator) flushCandidates() error {
	pending := n.pendingICE
	n.pendingICE = nil
	for _, c := range pending {
		if err := n.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("failed to add queued candidate: %w", err)
		}
	}
	return nil
}

// applyTracks moves the senders onto a new track set. Existing senders get
// their track replaced in place, missing kinds get a new sender and kinds
// absent from tracks lose theirs. It reports whether the sender set changed,
// which requires a new offer.
func (n *negotiator) applyTracks(tracks *TrackSet) (bool, error) {
	if n.pc == nil {
		return false, fmt.Errorf("peer connection is not initialized")
	}

	var changed bool
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		track := tracks.Get(kind)
		snd := n.senders[kind]
		switch {
		case track != nil && snd != nil:
			if err := snd.ReplaceTrack(track); err != nil {
				return changed, fmt.Errorf("failed to replace %s track: %w", kind, err)
			}
		case track != nil:
			newSnd, err := n.pc.AddTrack(track)
			if err != nil {
				return changed, fmt.Errorf("failed to add %s track: %w", kind, err)
			}
			n.senders[kind] = newSnd
			changed = true
		case snd != nil:
			if err := n.pc.RemoveTrack(snd); err != nil {
				return changed, fmt.Errorf("failed to remove %s sender: %w", kind, err)
			}
			delete(n.senders, kind)
			changed = true
		}
	}

	return changed, nil
}

// close clears the negotiation state and returns the connection so the
// caller can close it outside the lock.
func (n *negotiator) close() PeerConn {
	pc := n.pc
	n.pc = nil
	n.pendingICE = nil
	n.senders = make(map[webrtc.RTPCodecType]Sender)
	n.offerPending = false
	n.renegotiate = false
	return pc
}

// parseMediaSections validates a session description and counts its media
// sections per kind.
func parseMediaSections(raw string) (map[webrtc.RTPCodecType]int, error) {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return nil, fmt.Errorf("invalid session description: %w", err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("invalid session description: no media sections")
	}

	counts := make(map[webrtc.RTPCodecType]int)
	for _, md := range desc.MediaDescriptions {
		counts[webrtc.NewRTPCodecType(md.MediaName.Media)]++
	}

	return counts, nil
}

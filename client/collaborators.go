// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"

	"github.com/mattermost/callsignal/service/calls"

	"github.com/pion/webrtc/v4"
)

// SignalBus delivers envelopes to the members of relay rooms.
type SignalBus interface {
	JoinRoom(room string) error
	LeaveRoom(room string) error
	// Emit sends env to every member of env.Room except the sender.
	Emit(env Envelope) error
	// Subscribe registers the single handler for inbound envelopes.
	Subscribe(fn func(Envelope)) error
}

// Bookkeeper keeps the remote call records.
type Bookkeeper interface {
	CreateCall(ctx context.Context, peerUserID string, mode Mode) (string, error)
	MarkAnswered(ctx context.Context, callID string) error
	MarkEnded(ctx context.Context, callID string, durationSeconds int64) error
	MarkRejected(ctx context.Context, callID string) error
	History(ctx context.Context, limit int) ([]calls.Record, error)
}

// MediaSource acquires local tracks. Audio is always acquired, video only
// when asked for.
type MediaSource interface {
	Acquire(ctx context.Context, wantVideo bool) (*TrackSet, error)
}

type LocalTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the track. It's safe to call more than once.
	Stop()
	// TrackLocal returns the underlying pion track, if any.
	TrackLocal() webrtc.TrackLocal
}

type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
}

// TrackSet is the set of local tracks owned by a call.
type TrackSet struct {
	Audio LocalTrack
	Video LocalTrack
}

func (ts *TrackSet) Get(kind webrtc.RTPCodecType) LocalTrack {
	if ts == nil {
		return nil
	}
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return ts.Audio
	case webrtc.RTPCodecTypeVideo:
		return ts.Video
	default:
		return nil
	}
}

func (ts *TrackSet) Tracks() []LocalTrack {
	if ts == nil {
		return nil
	}
	var tracks []LocalTrack
	if ts.Audio != nil {
		tracks = append(tracks, ts.Audio)
	}
	if ts.Video != nil {
		tracks = append(tracks, ts.Video)
	}
	return tracks
}

func (ts *TrackSet) Stop() {
	for _, t := range ts.Tracks() {
		t.Stop()
	}
}

type Sender interface {
	Kind() webrtc.RTPCodecType
	ReplaceTrack(track LocalTrack) error
}

// PeerConn is the point to point media connection used by a call.
// Callbacks may fire from any goroutine.
type PeerConn interface {
	AddTrack(track LocalTrack) (Sender, error)
	RemoveTrack(sender Sender) error

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sd webrtc.SessionDescription) error
	SetRemoteDescription(sd webrtc.SessionDescription) error
	// Rollback discards a pending local offer.
	Rollback() error
	AddICECandidate(c webrtc.ICECandidateInit) error

	OnICECandidate(fn func(c webrtc.ICECandidateInit))
	OnTrack(fn func(track RemoteTrack))
	OnConnectionStateChange(fn func(st webrtc.PeerConnectionState))
	OnQuality(fn func(lossRate, jitter float64))

	Close() error
}

type PeerConnFactory func() (PeerConn, error)

// Collaborators groups the dependencies of a Controller.
type Collaborators struct {
	Bus         SignalBus
	Bookkeeper  Bookkeeper
	Media       MediaSource
	NewPeerConn PeerConnFactory
}

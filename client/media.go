// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mattermost/callsignal/service/random"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrDeviceUnavailable = errors.New("device unavailable")

var (
	opusCodec = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}
	vp8Codec = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
)

// StaticMediaSource hands out tracks that the application feeds with RTP
// packets through StaticTrack.WriteRTP.
type StaticMediaSource struct {
	streamID string

	mut       sync.Mutex
	noAudio   bool
	noVideo   bool
	lastAudio *StaticTrack
	lastVideo *StaticTrack
}

func NewStaticMediaSource(streamID string) *StaticMediaSource {
	if streamID == "" {
		streamID = random.NewID()
	}
	return &StaticMediaSource{streamID: streamID}
}

// SetAvailable marks which devices can be acquired.
func (s *StaticMediaSource) SetAvailable(audio, video bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.noAudio = !audio
	s.noVideo = !video
}

func (s *StaticMediaSource) Acquire(ctx context.Context, wantVideo bool) (*TrackSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	if s.noAudio {
		return nil, fmt.Errorf("microphone: %w", ErrDeviceUnavailable)
	}
	if wantVideo && s.noVideo {
		return nil, fmt.Errorf("camera: %w", ErrDeviceUnavailable)
	}

	audio, err := newStaticTrack(opusCodec, "audio_"+random.NewID(), s.streamID)
	if err != nil {
		return nil, err
	}
	ts := &TrackSet{Audio: audio}
	s.lastAudio = audio
	s.lastVideo = nil

	if wantVideo {
		video, err := newStaticTrack(vp8Codec, "video_"+random.NewID(), s.streamID)
		if err != nil {
			audio.Stop()
			return nil, err
		}
		ts.Video = video
		s.lastVideo = video
	}

	return ts, nil
}

// Current returns the most recently acquired tracks. Either may be nil.
func (s *StaticMediaSource) Current() (audio, video *StaticTrack) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.lastAudio, s.lastVideo
}

// StaticTrack is a local track backed by a pion TrackLocalStaticRTP.
// Packets written while the track is disabled or stopped are dropped.
type StaticTrack struct {
	*webrtc.TrackLocalStaticRTP

	enabled atomic.Bool
	stopped atomic.Bool
}

func newStaticTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*StaticTrack, error) {
	tl, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}
	t := &StaticTrack{TrackLocalStaticRTP: tl}
	t.enabled.Store(true)
	return t, nil
}

func (t *StaticTrack) Enabled() bool {
	return t.enabled.Load()
}

func (t *StaticTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *StaticTrack) Stop() {
	t.stopped.Store(true)
}

func (t *StaticTrack) Stopped() bool {
	return t.stopped.Load()
}

func (t *StaticTrack) TrackLocal() webrtc.TrackLocal {
	return t.TrackLocalStaticRTP
}

func (t *StaticTrack) WriteRTP(pkt *rtp.Packet) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	return t.TrackLocalStaticRTP.WriteRTP(pkt)
}

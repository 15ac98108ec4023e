// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func newTestRTCPeerConn(t *testing.T) *rtcPeerConn {
	t.Helper()
	pc, err := newRTCPeerConn(newTestLogger(), nil)
	require.NoError(t, err)
	require.NotNil(t, pc.monitor)
	t.Cleanup(func() {
		require.NoError(t, pc.Close())
	})
	return pc
}

func TestRTCPeerConnNegotiation(t *testing.T) {
	offerer := newTestRTCPeerConn(t)
	answerer := newTestRTCPeerConn(t)

	src := NewStaticMediaSource("alice")
	tracks, err := src.Acquire(context.Background(), true)
	require.NoError(t, err)

	audioSnd, err := offerer.AddTrack(tracks.Audio)
	require.NoError(t, err)
	require.Equal(t, webrtc.RTPCodecTypeAudio, audioSnd.Kind())
	videoSnd, err := offerer.AddTrack(tracks.Video)
	require.NoError(t, err)

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, offerer.SetLocalDescription(offer))

	counts, err := parseMediaSections(offer.SDP)
	require.NoError(t, err)
	require.Equal(t, 1, counts[webrtc.RTPCodecTypeAudio])
	require.Equal(t, 1, counts[webrtc.RTPCodecTypeVideo])

	require.NoError(t, answerer.SetRemoteDescription(offer))
	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, answerer.SetLocalDescription(answer))
	require.NoError(t, offerer.SetRemoteDescription(answer))

	require.Equal(t, webrtc.SignalingStateStable, offerer.pc.SignalingState())
	require.Equal(t, webrtc.SignalingStateStable, answerer.pc.SignalingState())

	t.Run("replace track", func(t *testing.T) {
		next, err := src.Acquire(context.Background(), true)
		require.NoError(t, err)
		require.NoError(t, audioSnd.ReplaceTrack(next.Audio))
		require.EqualError(t, audioSnd.ReplaceTrack(next.Video), "cannot replace audio track with video track")
	})

	t.Run("remove track", func(t *testing.T) {
		require.EqualError(t, offerer.RemoveTrack(&fakeSender{}), "unexpected sender type *client.fakeSender")
		require.NoError(t, offerer.RemoveTrack(videoSnd))
	})

	t.Run("rollback", func(t *testing.T) {
		require.EqualError(t, offerer.Rollback(), "no pending local description")

		offer, err := offerer.CreateOffer()
		require.NoError(t, err)
		require.NoError(t, offerer.SetLocalDescription(offer))
		require.Equal(t, webrtc.SignalingStateHaveLocalOffer, offerer.pc.SignalingState())

		require.NoError(t, offerer.Rollback())
		require.Equal(t, webrtc.SignalingStateStable, offerer.pc.SignalingState())
	})
}

func TestRTCPeerConnAddTrack(t *testing.T) {
	pc := newTestRTCPeerConn(t)
	_, err := pc.AddTrack(&fakeTrack{id: "a", kind: webrtc.RTPCodecTypeAudio})
	require.EqualError(t, err, "track a has no local track")
}

func TestRTCPeerConnClose(t *testing.T) {
	pc, err := newRTCPeerConn(newTestLogger(), []webrtc.ICEServer{
		{URLs: []string{"stun:localhost:3478"}},
	})
	require.NoError(t, err)

	pc.OnQuality(func(float64, float64) {})
	require.NoError(t, pc.Close())
	require.NoError(t, pc.Close())
}

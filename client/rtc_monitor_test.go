// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"testing"
	"time"

	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/webrtc/v4"

	"github.com/stretchr/testify/require"
)

type statsGetter struct{}

func (sg *statsGetter) Get(_ uint32) *stats.Stats {
	return nil
}

func TestQualityMonitor(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()

	var sg statsGetter
	mon := newQualityMonitor(newTestLogger(), pc, &sg, 100*time.Millisecond)
	require.NotNil(t, mon)

	mon.Start()
	time.Sleep(350 * time.Millisecond)
	mon.Stop()

	// Nothing to sample without streams.
	_, ok := <-mon.SampleCh()
	require.False(t, ok)
}

func TestQualityMonitorSample(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()

	var sg statsGetter

	sndStats := func(sent uint64, fractionLost, jitter float64) *stats.Stats {
		return &stats.Stats{
			RemoteInboundRTPStreamStats: stats.RemoteInboundRTPStreamStats{
				FractionLost: fractionLost,
				ReceivedRTPStreamStats: stats.ReceivedRTPStreamStats{
					Jitter: jitter,
				},
			},
			OutboundRTPStreamStats: stats.OutboundRTPStreamStats{
				SentRTPStreamStats: stats.SentRTPStreamStats{
					PacketsSent: sent,
				},
			},
		}
	}

	rcvStats := func(received, remoteSent uint64, jitter float64) *stats.Stats {
		return &stats.Stats{
			InboundRTPStreamStats: stats.InboundRTPStreamStats{
				ReceivedRTPStreamStats: stats.ReceivedRTPStreamStats{
					PacketsReceived: received,
					Jitter:          jitter,
				},
			},
			RemoteOutboundRTPStreamStats: stats.RemoteOutboundRTPStreamStats{
				SentRTPStreamStats: stats.SentRTPStreamStats{
					PacketsSent: remoteSent,
				},
			},
		}
	}

	t.Run("sender", func(t *testing.T) {
		mon := newQualityMonitor(newTestLogger(), pc, &sg, time.Second)
		mon.prevSnd = ssrcStats{45454545: sndStats(45, 0, 0)}

		mon.sample(ssrcStats{45454545: sndStats(4545, 0.45, 0.4545)}, nil)

		select {
		case s := <-mon.SampleCh():
			require.Equal(t, qualitySample{lossRate: 0.45, jitter: 0.4545}, s)
		default:
			require.Fail(t, "channel should have a sample")
		}
	})

	t.Run("receiver", func(t *testing.T) {
		mon := newQualityMonitor(newTestLogger(), pc, &sg, time.Second)
		mon.prevRcv = ssrcStats{1: rcvStats(100, 100, 0)}

		// 100 new packets were sent and 90 received.
		mon.sample(nil, ssrcStats{1: rcvStats(190, 200, 0.02)})

		select {
		case s := <-mon.SampleCh():
			require.InDelta(t, 10.0/90.0, s.lossRate, 1e-9)
			require.Equal(t, 0.02, s.jitter)
		default:
			require.Fail(t, "channel should have a sample")
		}
	})

	t.Run("worst of both", func(t *testing.T) {
		mon := newQualityMonitor(newTestLogger(), pc, &sg, time.Second)
		mon.prevSnd = ssrcStats{1: sndStats(10, 0, 0)}
		mon.prevRcv = ssrcStats{2: rcvStats(100, 100, 0)}

		mon.sample(ssrcStats{1: sndStats(20, 0.1, 0.01)}, ssrcStats{2: rcvStats(200, 200, 0.05)})

		s := <-mon.SampleCh()
		require.Equal(t, qualitySample{lossRate: 0.1, jitter: 0.05}, s)
	})

	t.Run("idle streams", func(t *testing.T) {
		mon := newQualityMonitor(newTestLogger(), pc, &sg, time.Second)
		mon.prevSnd = ssrcStats{1: sndStats(10, 0, 0)}

		mon.sample(ssrcStats{1: sndStats(10, 0.5, 0.5)}, nil)
		require.Empty(t, mon.SampleCh())

		// The first sample only sets the baseline.
		mon = newQualityMonitor(newTestLogger(), pc, &sg, time.Second)
		mon.sample(ssrcStats{1: sndStats(10, 0.5, 0.5)}, nil)
		require.Empty(t, mon.SampleCh())
		require.Len(t, mon.prevSnd, 1)
	})

	t.Run("full channel", func(t *testing.T) {
		mon := newQualityMonitor(newTestLogger(), pc, &sg, time.Second)
		for i := range 3 {
			mon.sample(ssrcStats{1: sndStats(uint64(i+1)*10, 0.1, 0)}, nil)
		}
		require.Len(t, mon.SampleCh(), 1)
	})
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"log/slog"
	"time"

	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/webrtc/v4"
)

type ssrcStats map[webrtc.SSRC]*stats.Stats

// qualityMonitor periodically samples the interceptor stats of a peer
// connection and reports the worst loss rate and jitter seen across the
// audio streams.
type qualityMonitor struct {
	log         *slog.Logger
	pc          *webrtc.PeerConnection
	statsGetter stats.Getter
	interval    time.Duration

	prevSnd ssrcStats
	prevRcv ssrcStats

	sampleCh chan qualitySample
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type qualitySample struct {
	lossRate float64
	jitter   float64
}

func newQualityMonitor(log *slog.Logger, pc *webrtc.PeerConnection, sg stats.Getter, interval time.Duration) *qualityMonitor {
	return &qualityMonitor{
		log:         log,
		pc:          pc,
		statsGetter: sg,
		interval:    interval,
		prevSnd:     make(ssrcStats),
		prevRcv:     make(ssrcStats),
		sampleCh:    make(chan qualitySample, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// isAudio reports whether codec is opus. Only audio streams are sampled so
// that the clock rate is known.
func isAudio(codec webrtc.RTPCodecParameters) bool {
	return codec.MimeType == webrtc.MimeTypeOpus
}

func (m *qualityMonitor) collect() (ssrcStats, ssrcStats) {
	snd := make(ssrcStats)
	for _, sender := range m.pc.GetSenders() {
		if sender == nil || sender.Track() == nil {
			continue
		}
		params := sender.GetParameters()
		if len(params.Codecs) == 0 || !isAudio(params.Codecs[0]) {
			continue
		}
		for _, enc := range params.Encodings {
			if s := m.statsGetter.Get(uint32(enc.SSRC)); s != nil {
				snd[enc.SSRC] = s
			}
		}
	}

	rcv := make(ssrcStats)
	for _, receiver := range m.pc.GetReceivers() {
		if receiver == nil {
			continue
		}
		track := receiver.Track()
		if track == nil || !isAudio(track.Codec()) {
			continue
		}
		if s := m.statsGetter.Get(uint32(track.SSRC())); s != nil {
			rcv[track.SSRC()] = s
		}
	}

	return snd, rcv
}

// senderQuality averages what the remote end reported about our streams.
func (m *qualityMonitor) senderQuality(cur ssrcStats) (lossRate, jitter float64, n int) {
	for ssrc, s := range cur {
		prev := m.prevSnd[ssrc]
		if prev == nil || s.OutboundRTPStreamStats.PacketsSent == prev.OutboundRTPStreamStats.PacketsSent {
			continue
		}
		lossRate += s.RemoteInboundRTPStreamStats.FractionLost
		jitter += s.RemoteInboundRTPStreamStats.Jitter
		n++
	}

	if n > 0 {
		lossRate /= float64(n)
		jitter /= float64(n)
	}

	return
}

// receiverQuality computes loss over the last interval from the counters of
// the streams we receive.
func (m *qualityMonitor) receiverQuality(cur ssrcStats) (lossRate, jitter float64, n int) {
	var lost, received float64
	for ssrc, s := range cur {
		prev := m.prevRcv[ssrc]
		if prev == nil || s.InboundRTPStreamStats.PacketsReceived == prev.InboundRTPStreamStats.PacketsReceived {
			continue
		}

		missing := int64(s.RemoteOutboundRTPStreamStats.PacketsSent) - int64(s.InboundRTPStreamStats.PacketsReceived)
		prevMissing := int64(prev.RemoteOutboundRTPStreamStats.PacketsSent) - int64(prev.InboundRTPStreamStats.PacketsReceived)
		if prevMissing >= 0 && missing > prevMissing {
			lost += float64(missing - prevMissing)
		}
		received += float64(s.InboundRTPStreamStats.PacketsReceived - prev.InboundRTPStreamStats.PacketsReceived)
		jitter += s.InboundRTPStreamStats.Jitter
		n++
	}

	if n > 0 {
		jitter /= float64(n)
		lossRate = lost / received
	}

	return
}

func (m *qualityMonitor) sample(snd, rcv ssrcStats) {
	sndLoss, sndJitter, sndN := m.senderQuality(snd)
	rcvLoss, rcvJitter, rcvN := m.receiverQuality(rcv)
	m.prevSnd = snd
	m.prevRcv = rcv

	if sndN == 0 && rcvN == 0 {
		return
	}

	select {
	case m.sampleCh <- qualitySample{lossRate: max(sndLoss, rcvLoss), jitter: max(sndJitter, rcvJitter)}:
	default:
		m.log.Warn("dropping quality sample: channel is full")
	}
}

func (m *qualityMonitor) Start() {
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sample(m.collect())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts sampling and closes SampleCh.
func (m *qualityMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
	close(m.sampleCh)
}

func (m *qualityMonitor) SampleCh() <-chan qualitySample {
	return m.sampleCh
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

const qualityInterval = 5 * time.Second

// NewRTCPeerConnFactory returns a factory of pion backed peer connections
// using the default codecs and interceptors.
func NewRTCPeerConnFactory(log *slog.Logger, iceServers []webrtc.ICEServer) PeerConnFactory {
	return func() (PeerConn, error) {
		return newRTCPeerConn(log, iceServers)
	}
}

type rtcPeerConn struct {
	log     *slog.Logger
	pc      *webrtc.PeerConnection
	monitor *qualityMonitor

	onQuality func(lossRate, jitter float64)
	mut       sync.RWMutex

	closeOnce sync.Once
	wg        sync.WaitGroup
}

type rtcSender struct {
	snd  *webrtc.RTPSender
	kind webrtc.RTPCodecType
}

func (s *rtcSender) Kind() webrtc.RTPCodecType {
	return s.kind
}

func (s *rtcSender) ReplaceTrack(track LocalTrack) error {
	if track.Kind() != s.kind {
		return fmt.Errorf("cannot replace %s track with %s track", s.kind, track.Kind())
	}
	return s.snd.ReplaceTrack(track.TrackLocal())
}

func newRTCPeerConn(log *slog.Logger, iceServers []webrtc.ICEServer) (*rtcPeerConn, error) {
	var m webrtc.MediaEngine
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	var i interceptor.Registry
	statsFactory, err := stats.NewInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create stats interceptor: %w", err)
	}
	var statsGetter stats.Getter
	statsFactory.OnNewPeerConnection(func(_ string, g stats.Getter) {
		statsGetter = g
	})
	i.Add(statsFactory)

	if err := webrtc.RegisterDefaultInterceptors(&m, &i); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{
		LoggerFactory: pionLoggerFactory{log: log},
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(&m),
		webrtc.WithInterceptorRegistry(&i),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   iceServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	c := &rtcPeerConn{
		log: log,
		pc:  pc,
	}

	if statsGetter != nil {
		c.monitor = newQualityMonitor(log, pc, statsGetter, qualityInterval)
		c.monitor.Start()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for sample := range c.monitor.SampleCh() {
				c.mut.RLock()
				fn := c.onQuality
				c.mut.RUnlock()
				if fn != nil {
					fn(sample.lossRate, sample.jitter)
				}
			}
		}()
	} else {
		log.Warn("stats getter not available, call quality won't be reported")
	}

	return c, nil
}

func (c *rtcPeerConn) AddTrack(track LocalTrack) (Sender, error) {
	tl := track.TrackLocal()
	if tl == nil {
		return nil, fmt.Errorf("track %s has no local track", track.ID())
	}

	snd, err := c.pc.AddTrack(tl)
	if err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readSenderRTCP(snd)
	}()

	return &rtcSender{snd: snd, kind: track.Kind()}, nil
}

func (c *rtcPeerConn) RemoveTrack(sender Sender) error {
	s, ok := sender.(*rtcSender)
	if !ok {
		return fmt.Errorf("unexpected sender type %T", sender)
	}
	return c.pc.RemoveTrack(s.snd)
}

// readSenderRTCP drains the sender's RTCP so that interceptors keep working.
func (c *rtcPeerConn) readSenderRTCP(snd *webrtc.RTPSender) {
	for {
		pkts, _, err := snd.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.log.Debug("failed to read RTCP packet", slog.String("err", err.Error()))
			}
			return
		}
		for _, pkt := range pkts {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				c.log.Debug("received PLI request")
			}
		}
	}
}

func (c *rtcPeerConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *rtcPeerConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *rtcPeerConn) SetLocalDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sd)
}

func (c *rtcPeerConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *rtcPeerConn) Rollback() error {
	pending := c.pc.PendingLocalDescription()
	if pending == nil {
		return fmt.Errorf("no pending local description")
	}
	return c.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeRollback,
		SDP:  pending.SDP,
	})
}

func (c *rtcPeerConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *rtcPeerConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			c.log.Debug("local ICE gathering completed")
			return
		}
		fn(cand.ToJSON())
	})
}

func (c *rtcPeerConn) OnTrack(fn func(RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Debug("received remote track",
			slog.String("id", track.ID()),
			slog.String("kind", track.Kind().String()),
			slog.String("codec", track.Codec().MimeType))

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				if _, _, err := receiver.ReadRTCP(); err != nil {
					return
				}
			}
		}()

		fn(track)
	})
}

func (c *rtcPeerConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *rtcPeerConn) OnQuality(fn func(lossRate, jitter float64)) {
	c.mut.Lock()
	c.onQuality = fn
	c.mut.Unlock()
}

func (c *rtcPeerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.monitor != nil {
			c.monitor.Stop()
		}
		err = c.pc.Close()
		c.wg.Wait()
	})
	return err
}

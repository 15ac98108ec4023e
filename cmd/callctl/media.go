// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/mattermost/callsignal/client"

	"github.com/pion/rtp"
)

const (
	opusPayloadType = 111
	opusFrameTime   = 20 * time.Millisecond
	// Samples per frame at 48kHz.
	opusFrameSamples = 960
)

// opusSilence is a single opus frame of comfort silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// feedSilence writes silent opus frames to the current audio track until
// ctx is done, so that the remote end receives a live stream.
func feedSilence(ctx context.Context, src *client.StaticMediaSource) error {
	ticker := time.NewTicker(opusFrameTime)
	defer ticker.Stop()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: uint16(rand.Uint32()),
			Timestamp:      rand.Uint32(),
		},
		Payload: opusSilence,
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		audio, _ := src.Current()
		if audio == nil || audio.Stopped() {
			continue
		}

		if err := audio.WriteRTP(pkt); err != nil {
			return err
		}
		pkt.SequenceNumber++
		pkt.Timestamp += opusFrameSamples
	}
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"
	"log/slog"
	"time"
)

// ticker calls fn every interval until stopped.
type ticker struct {
	stopCh chan struct{}
	doneCh chan struct{}
}

func startTicker(interval time.Duration, fn func()) *ticker {
	t := &ticker{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go func() {
		defer close(t.doneCh)
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				fn()
			case <-t.stopCh:
				return
			}
		}
	}()

	return t
}

// stop halts the ticker without waiting for an in flight fn, which may
// be blocked on the caller's lock.
func (t *ticker) stop() {
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
}

func (c *Controller) armRingTimer(s *session) {
	gen := s.gen
	s.ringTimer = time.AfterFunc(c.cfg.RingTimeout, func() {
		c.onRingTimeout(gen)
	})
}

func (c *Controller) disarmRingTimer(s *session) {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (c *Controller) startDurationTicker(s *session) {
	gen := s.gen
	s.ticker = startTicker(c.cfg.DurationInterval, func() {
		c.onDurationTick(gen)
	})
}

func (c *Controller) stopDurationTicker(s *session) {
	if s.ticker != nil {
		s.ticker.stop()
		s.ticker = nil
	}
}

func (c *Controller) onRingTimeout(gen uint64) {
	c.mut.Lock()
	s := c.sessionFor(gen)
	if s == nil || s.State != StateRingingOut {
		c.unlockAndFlush()
		return
	}

	c.log.Info("call not answered in time", slog.String("callID", s.CallID))
	c.queueEvent(CallInactiveEvent, CallInactive{CallID: s.CallID})
	callID, dur := c.endLocked(s, true)
	c.unlockAndFlush()

	c.markEnded(context.Background(), callID, dur)
}

func (c *Controller) onDurationTick(gen uint64) {
	c.mut.Lock()
	s := c.sessionFor(gen)
	if s != nil && s.State == StateConnected {
		c.queueEvent(DurationEvent, Duration{
			CallID:  s.CallID,
			Elapsed: c.now().Sub(s.ConnectedAt),
		})
	}
	c.unlockAndFlush()
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"fmt"
	"log/slog"
	"time"
)

type EventHandler func(ctx any) error

type EventType string

const (
	IncomingCallEvent EventType = "IncomingCall"
	StateChangeEvent  EventType = "StateChange"
	LocalTracksEvent  EventType = "LocalTracks"
	RemoteTrackEvent  EventType = "RemoteTrack"
	ModeChangedEvent  EventType = "ModeChanged"
	CallInactiveEvent EventType = "CallInactive"
	DurationEvent     EventType = "Duration"
	CallQualityEvent  EventType = "CallQuality"
	ErrorEvent        EventType = "Error"
)

func (e EventType) IsValid() bool {
	switch e {
	case IncomingCallEvent, StateChangeEvent,
		LocalTracksEvent, RemoteTrackEvent,
		ModeChangedEvent, CallInactiveEvent,
		DurationEvent, CallQualityEvent,
		ErrorEvent:
		return true
	default:
		return false
	}
}

type IncomingCall struct {
	CallID string
	Caller CallerInfo
	Mode   Mode
}

type StateChange struct {
	CallID string
	From   State
	To     State
}

type LocalTracks struct {
	CallID string
	Tracks *TrackSet
}

type RemoteTrackInfo struct {
	CallID string
	Track  RemoteTrack
}

// ModeChange is fired when a local switch completes or when the peer
// announces one. Remote announcements do not touch local tracks.
type ModeChange struct {
	CallID string
	Mode   Mode
	Remote bool
}

type CallInactive struct {
	CallID string
}

type Duration struct {
	CallID  string
	Elapsed time.Duration
}

// Display formats the elapsed time as mm:ss.
func (d Duration) Display() string {
	secs := int64(d.Elapsed / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

type CallQuality struct {
	CallID   string
	LossRate float64
	Jitter   float64
}

type CallError struct {
	CallID string
	Err    error
}

type pendingEvent struct {
	eventType EventType
	ctx       any
}

// On is used to subscribe to any events fired by the controller.
// Note: there can only be one subscriber per event type.
func (c *Controller) On(eventType EventType, h EventHandler) error {
	if !eventType.IsValid() {
		return fmt.Errorf("invalid event type %q", eventType)
	}

	c.handlersMut.Lock()
	defer c.handlersMut.Unlock()

	if _, ok := c.handlers[eventType]; ok {
		return ErrAlreadySubscribed
	}

	c.handlers[eventType] = h

	return nil
}

func (c *Controller) emit(eventType EventType, ctx any) {
	c.handlersMut.RLock()
	handler := c.handlers[eventType]
	c.handlersMut.RUnlock()
	if handler != nil {
		if err := handler(ctx); err != nil {
			c.log.Error("failed to handle event",
				slog.Any("type", eventType), slog.String("err", err.Error()))
		}
	}
}

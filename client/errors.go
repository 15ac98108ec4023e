// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"errors"
)

var (
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrStaleCall is returned when an action references a call that is no
	// longer the current one.
	ErrStaleCall        = errors.New("stale call")
	ErrBusy             = errors.New("another call is in progress")
	ErrNoSession        = errors.New("no active call")
	ErrNoLocalTracks    = errors.New("no local tracks")
	ErrInvalidState     = errors.New("invalid call state")
	ErrSwitchInProgress = errors.New("mode switch in progress")
)

// MediaAcquisitionError means local media could not be acquired.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return "failed to acquire local media: " + e.Err.Error()
}

func (e *MediaAcquisitionError) Unwrap() error {
	return e.Err
}

// BookkeepingError means a call record operation failed.
type BookkeepingError struct {
	Op  string
	Err error
}

func (e *BookkeepingError) Error() string {
	return "bookkeeping " + e.Op + " failed: " + e.Err.Error()
}

func (e *BookkeepingError) Unwrap() error {
	return e.Err
}

// NegotiationError means the description or candidate exchange failed.
type NegotiationError struct {
	Err error
}

func (e *NegotiationError) Error() string {
	return "negotiation failed: " + e.Err.Error()
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

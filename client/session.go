// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"time"

	"github.com/mattermost/callsignal/service/relay"
)

// Session is a snapshot of a call.
type Session struct {
	CallID     string
	Role       Role
	PeerUserID string
	// Mode changes only once a mode switch completes.
	Mode Mode
	// PeerMode is the mode last announced by the peer.
	PeerMode    Mode
	State       State
	StartedAt   time.Time
	ConnectedAt time.Time
}

// session is the controller owned state of the current call.
type session struct {
	Session

	gen    uint64
	caller CallerInfo

	tracks *TrackSet
	neg    *negotiator

	// answering is set while answerCall awaits its collaborators.
	answering bool
	// switching is set while a mode switch awaits new tracks.
	switching bool
	// pendingMode is the target of a mode switch awaiting renegotiation.
	pendingMode Mode

	ringTimer *time.Timer
	ticker    *ticker
}

func (s *session) room() string {
	return relay.CallRoom(s.CallID)
}

// durationSeconds is the connected time, zero if never connected.
func (s *session) durationSeconds(now time.Time) int64 {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	return int64(now.Sub(s.ConnectedAt) / time.Second)
}

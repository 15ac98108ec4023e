// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"fmt"
	"slices"
)

// State is the lifecycle state of a call as seen by the local controller.
type State int

const (
	StateIdle State = iota
	StateRingingOut
	StateRingingIn
	StateNegotiating
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRingingOut:
		return "RingingOut"
	case StateRingingIn:
		return "RingingIn"
	case StateNegotiating:
		return "Negotiating"
	case StateConnected:
		return "Connected"
	case StateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

var validTransitions = map[State][]State{
	StateIdle:        {StateRingingOut, StateRingingIn},
	StateRingingOut:  {StateNegotiating, StateEnded},
	StateRingingIn:   {StateNegotiating, StateEnded},
	StateNegotiating: {StateConnected, StateEnded},
	StateConnected:   {StateEnded},
	StateEnded:       {},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s State) CanTransitionTo(next State) bool {
	return slices.Contains(validTransitions[s], next)
}

func (s State) IsTerminal() bool {
	return s == StateEnded
}

// Role is the part the local user plays in a call.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "Caller"
	case RoleCallee:
		return "Callee"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package relay

import (
	"strings"
)

const (
	userRoomPrefix = "user_"
	callRoomPrefix = "call_"
	maxRoomNameLen = 128
)

// UserRoom returns the personal room every connection of userID joins on
// connect.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// CallRoom returns the room scoping the signaling of a single call.
func CallRoom(callID string) string {
	return callRoomPrefix + callID
}

func IsUserRoom(room string) bool {
	return len(room) > len(userRoomPrefix) && len(room) <= maxRoomNameLen && strings.HasPrefix(room, userRoomPrefix)
}

func IsCallRoom(room string) bool {
	return len(room) > len(callRoomPrefix) && len(room) <= maxRoomNameLen && strings.HasPrefix(room, callRoomPrefix)
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package calls

import (
	"encoding/json"
	"fmt"
)

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusAnswered  Status = "answered"
	StatusEnded     Status = "ended"
	StatusMissed    Status = "missed"
	StatusRejected  Status = "rejected"
)

func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusMissed || s == StatusRejected
}

type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

func (m Mode) IsValid() bool {
	return m == ModeAudio || m == ModeVideo
}

// Record is the persisted bookkeeping entry of a single call attempt.
// Timestamps are unix milliseconds, zero when not reached.
type Record struct {
	ID              string `json:"id"`
	CallerID        string `json:"caller_id"`
	CalleeID        string `json:"callee_id"`
	Mode            Mode   `json:"mode"`
	Status          Status `json:"status"`
	CreatedAt       int64  `json:"created_at"`
	AnsweredAt      int64  `json:"answered_at,omitempty"`
	EndedAt         int64  `json:"ended_at,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
}

func (r Record) isParticipant(clientID string) bool {
	return r.CallerID == clientID || r.CalleeID == clientID
}

func (r Record) marshal() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return string(data), nil
}

func unmarshalRecord(data string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return r, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return r, nil
}

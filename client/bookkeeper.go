// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"

	"github.com/mattermost/callsignal/service/calls"
)

// callsAPI is the bookkeeping side of a service.Client.
type callsAPI interface {
	CreateCall(ctx context.Context, calleeID string, mode calls.Mode) (string, error)
	AnswerCall(ctx context.Context, callID string) error
	RejectCall(ctx context.Context, callID string) error
	EndCall(ctx context.Context, callID string, durationSeconds int64) error
	History(ctx context.Context, limit int) ([]calls.Record, error)
}

// APIBookkeeper keeps call records through the service HTTP API.
type APIBookkeeper struct {
	api callsAPI
}

func NewAPIBookkeeper(api callsAPI) *APIBookkeeper {
	return &APIBookkeeper{api: api}
}

func (b *APIBookkeeper) CreateCall(ctx context.Context, peerUserID string, mode Mode) (string, error) {
	return b.api.CreateCall(ctx, peerUserID, mode)
}

func (b *APIBookkeeper) MarkAnswered(ctx context.Context, callID string) error {
	return b.api.AnswerCall(ctx, callID)
}

func (b *APIBookkeeper) MarkEnded(ctx context.Context, callID string, durationSeconds int64) error {
	return b.api.EndCall(ctx, callID, durationSeconds)
}

func (b *APIBookkeeper) MarkRejected(ctx context.Context, callID string) error {
	return b.api.RejectCall(ctx, callID)
}

func (b *APIBookkeeper) History(ctx context.Context, limit int) ([]calls.Record, error) {
	return b.api.History(ctx, limit)
}

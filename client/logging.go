// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// pionLoggerFactory routes pion's internal logs to slog. Pion's debug output
// is demoted one level since it's very verbose.
type pionLoggerFactory struct {
	log *slog.Logger
}

func (f pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{log: f.log.With(slog.String("scope", scope))}
}

type pionLogger struct {
	log *slog.Logger
}

const levelTrace = slog.LevelDebug - 4

func (l *pionLogger) Trace(msg string) {
	l.log.Log(context.Background(), levelTrace, msg)
}

func (l *pionLogger) Tracef(format string, args ...any) {
	l.Trace(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Debug(msg string) {
	l.Trace(msg)
}

func (l *pionLogger) Debugf(format string, args ...any) {
	l.Trace(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Info(msg string) {
	l.log.Debug(msg)
}

func (l *pionLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Warn(msg string) {
	l.log.Warn(msg)
}

func (l *pionLogger) Warnf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Error(msg string) {
	l.log.Error(msg)
}

func (l *pionLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package calls

import (
	"fmt"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/robfig/cron/v3"
)

// cronLogger forwards the scheduler's own logging to mlog.
type cronLogger struct {
	log mlog.LoggerIFace
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, mlog.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, mlog.Err(err), mlog.Any("kv", keysAndValues))
}

// Start schedules the retention job. It's a no-op when retention is
// disabled.
func (s *Service) Start() error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.cfg.RetentionDays == 0 {
		s.log.Info("calls: retention disabled")
		return nil
	}

	if s.cron != nil {
		return fmt.Errorf("retention job already started")
	}

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.cfg.PruneSchedule, s.pruneExpired); err != nil {
		return fmt.Errorf("failed to schedule retention job: %w", err)
	}
	c.Start()
	s.cron = c

	s.log.Info("calls: retention job scheduled",
		mlog.String("schedule", s.cfg.PruneSchedule),
		mlog.Int("retentionDays", s.cfg.RetentionDays))

	return nil
}

// Stop unschedules the retention job and waits for a running prune to
// complete.
func (s *Service) Stop() {
	s.mut.Lock()
	c := s.cron
	s.cron = nil
	s.mut.Unlock()

	if c == nil {
		return
	}

	<-c.Stop().Done()
}

func (s *Service) pruneExpired() {
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	n, err := s.Prune(cutoff)
	if err != nil {
		s.log.Error("calls: failed to prune records", mlog.Err(err), mlog.Int("pruned", n))
		return
	}
	s.log.Debug("calls: pruned records", mlog.Int("pruned", n))
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package calls

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// HistoryLimit is the maximum number of records returned by History.
	HistoryLimit int `toml:"history_limit"`
	// RetentionDays is the number of days records are kept for. Zero
	// disables pruning.
	RetentionDays int `toml:"retention_days"`
	// PruneSchedule is the cron expression driving the pruning job.
	PruneSchedule string `toml:"prune_schedule"`
}

func (c Config) IsValid() error {
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("invalid HistoryLimit value: should be greater than zero")
	}

	if c.RetentionDays < 0 {
		return fmt.Errorf("invalid RetentionDays value: should not be negative")
	}

	if c.RetentionDays == 0 {
		return nil
	}

	if _, err := cron.ParseStandard(c.PruneSchedule); err != nil {
		return fmt.Errorf("invalid PruneSchedule value: %w", err)
	}

	return nil
}

func (c *Config) SetDefaults() {
	c.HistoryLimit = 50
	c.RetentionDays = 90
	c.PruneSchedule = "@daily"
}

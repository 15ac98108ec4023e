// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package logger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const (
	targetQueueSize  = 1000
	plainFormatOpts  = `{"delim": " ", "min_level_len": 5, "min_msg_len": 45, "enable_color": %t, "enable_caller": true}`
	jsonFormatOpts   = `{"enable_caller": true}`
	fileTargetOpts   = `{"filename": %q, "max_size": %d, "max_age": 0, "max_backups": 0, "compress": true}`
	consoleTargetOpt = `{"out": "stdout"}`
)

// getLevels returns every standard level up to and including the named
// one. Unknown names enable all of them.
func getLevels(level string) []mlog.Level {
	var levels []mlog.Level
	for _, l := range mlog.StdAll {
		levels = append(levels, l)
		if l.Name == strings.ToLower(level) {
			break
		}
	}
	return levels
}

func newTarget(targetType, level string, useJSON, color bool, opts string) mlog.TargetCfg {
	format := "plain"
	formatOpts := fmt.Sprintf(plainFormatOpts, color)
	if useJSON {
		format = "json"
		formatOpts = jsonFormatOpts
	}

	return mlog.TargetCfg{
		Type:          targetType,
		Levels:        getLevels(level),
		Options:       json.RawMessage(opts),
		Format:        format,
		FormatOptions: json.RawMessage(formatOpts),
		MaxQueueSize:  targetQueueSize,
	}
}

// New returns a newly created and initialized logger with the given cfg.
func New(config Config) (*mlog.Logger, error) {
	if err := config.IsValid(); err != nil {
		return nil, err
	}

	logger, err := mlog.NewLogger()
	if err != nil {
		return nil, err
	}

	cfg := mlog.LoggerConfiguration{}
	if config.EnableConsole {
		cfg["console"] = newTarget("console", config.ConsoleLevel, config.ConsoleJSON, config.EnableColor, consoleTargetOpt)
	}

	if config.EnableFile {
		maxSize := config.FileMaxSizeMB
		if maxSize <= 0 {
			maxSize = defaultFileMaxSizeMB
		}
		opts := fmt.Sprintf(fileTargetOpts, config.FileLocation, maxSize)
		cfg["file"] = newTarget("file", config.FileLevel, config.FileJSON, false, opts)
	}

	if err := logger.ConfigureTargets(cfg, nil); err != nil {
		_ = logger.Shutdown()
		return nil, fmt.Errorf("failed to configure targets: %w", err)
	}

	return logger, nil
}

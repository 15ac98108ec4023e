// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"fmt"

	"github.com/mattermost/callsignal/service"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// loadConfig starts from the defaults, applies the settings found in the
// config file and finally any matching CALLSIGNALD_* environment variables.
func loadConfig(path string) (service.Config, error) {
	var cfg service.Config
	cfg.SetDefaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := envconfig.Process("callsignald", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/mattermost/callsignal/client"

	"github.com/kelseyhightower/envconfig"
	"github.com/pion/webrtc/v4"
)

// ctlConfig holds the settings shared by every command. Values come from
// CALLCTL_* environment variables and can be overridden with flags.
type ctlConfig struct {
	SiteURL     string        `envconfig:"SITE_URL" default:"http://localhost:8046"`
	UserID      string        `envconfig:"USER_ID"`
	AuthKey     string        `envconfig:"AUTH_KEY"`
	AdminKey    string        `envconfig:"ADMIN_KEY"`
	DisplayName string        `envconfig:"DISPLAY_NAME"`
	RingTimeout time.Duration `envconfig:"RING_TIMEOUT" default:"30s"`
	STUNServer  string        `envconfig:"STUN_SERVER"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"INFO"`
}

func loadConfig(args []string) (ctlConfig, []string, error) {
	var cfg ctlConfig
	if err := envconfig.Process("callctl", &cfg); err != nil {
		return cfg, nil, fmt.Errorf("failed to process env: %w", err)
	}

	fs := flag.NewFlagSet("callctl", flag.ContinueOnError)
	fs.StringVar(&cfg.SiteURL, "url", cfg.SiteURL, "URL of the callsignald service.")
	fs.StringVar(&cfg.UserID, "user", cfg.UserID, "ID of the local user.")
	fs.StringVar(&cfg.AuthKey, "key", cfg.AuthKey, "Auth key of the local user.")
	fs.StringVar(&cfg.AdminKey, "admin-key", cfg.AdminKey, "Admin secret key, needed to register users.")
	fs.StringVar(&cfg.DisplayName, "name", cfg.DisplayName, "Display name shown to callees.")
	fs.DurationVar(&cfg.RingTimeout, "ring-timeout", cfg.RingTimeout, "How long outgoing calls ring before giving up.")
	fs.StringVar(&cfg.STUNServer, "stun", cfg.STUNServer, "STUN server URL, e.g. stun:stun.example.com:3478.")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (DEBUG, INFO, WARN, ERROR).")
	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}

	return cfg, fs.Args(), nil
}

func (c ctlConfig) clientConfig() client.Config {
	cfg := client.Config{
		SiteURL:     c.SiteURL,
		UserID:      c.UserID,
		AuthKey:     c.AuthKey,
		DisplayName: c.DisplayName,
		RingTimeout: c.RingTimeout,
	}
	if c.STUNServer != "" {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{c.STUNServer}})
	}
	return cfg
}

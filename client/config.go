// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"fmt"
	"time"

	"github.com/mattermost/callsignal/service"
	"github.com/mattermost/callsignal/service/auth"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const (
	defaultRingTimeout      = 30 * time.Second
	defaultDurationInterval = time.Second
)

type Config struct {
	// SiteURL is the URL of the callsignald service to connect to.
	SiteURL string
	// UserID is the registered client ID of the local user.
	UserID string
	// AuthKey is the key the local user registered with.
	AuthKey string
	// DisplayName is shown to callees. Optional.
	DisplayName string

	// RingTimeout is how long an outgoing call rings before being given up.
	RingTimeout time.Duration
	// DurationInterval is the period of Duration events.
	DurationInterval time.Duration

	ICEServers []webrtc.ICEServer
}

func (c *Config) Parse() error {
	apiCfg := c.apiConfig()
	if err := apiCfg.Parse(); err != nil {
		return fmt.Errorf("invalid SiteURL value: %w", err)
	}

	if c.AuthKey == "" {
		return fmt.Errorf("invalid AuthKey value: should not be empty")
	}

	for _, srv := range c.ICEServers {
		for _, u := range srv.URLs {
			if _, err := stun.ParseURI(u); err != nil {
				return fmt.Errorf("invalid ICE server URL %q: %w", u, err)
			}
		}
	}

	return c.parseCall()
}

// parseCall validates the settings used by the controller and fills in
// defaults.
func (c *Config) parseCall() error {
	if !auth.IsValidClientID(c.UserID) {
		return fmt.Errorf("invalid UserID value %q", c.UserID)
	}

	if c.RingTimeout < 0 {
		return fmt.Errorf("invalid RingTimeout value: should not be negative")
	} else if c.RingTimeout == 0 {
		c.RingTimeout = defaultRingTimeout
	}

	if c.DurationInterval < 0 {
		return fmt.Errorf("invalid DurationInterval value: should not be negative")
	} else if c.DurationInterval == 0 {
		c.DurationInterval = defaultDurationInterval
	}

	return nil
}

func (c *Config) apiConfig() service.ClientConfig {
	return service.ClientConfig{
		URL:      c.SiteURL,
		ClientID: c.UserID,
		AuthKey:  c.AuthKey,
	}
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mattermost/callsignal/logger"
	"github.com/mattermost/callsignal/service/api"
	"github.com/mattermost/callsignal/service/auth"
	"github.com/mattermost/callsignal/service/calls"
	"github.com/mattermost/callsignal/service/relay"
)

type SecurityConfig struct {
	// Whether or not to enable admin API access.
	EnableAdmin bool `toml:"enable_admin"`
	// The secret key used to authenticate admin requests.
	AdminSecretKey string `toml:"admin_secret_key"`
	// Whether or not to allow clients to self-register.
	AllowSelfRegistration bool                    `toml:"allow_self_registration"`
	SessionCache          auth.SessionCacheConfig `toml:"session_cache"`
}

func (c SecurityConfig) IsValid() error {
	if err := c.SessionCache.IsValid(); err != nil {
		return fmt.Errorf("invalid SessionCache config: %w", err)
	}

	if !c.EnableAdmin {
		return nil
	}

	if c.AdminSecretKey == "" {
		return fmt.Errorf("invalid AdminSecretKey value: should not be empty")
	}

	return nil
}

type APIConfig struct {
	HTTP     api.Config     `toml:"http"`
	Security SecurityConfig `toml:"security"`
}

func (c APIConfig) IsValid() error {
	if err := c.Security.IsValid(); err != nil {
		return fmt.Errorf("failed to validate security config: %w", err)
	}

	if err := c.HTTP.IsValid(); err != nil {
		return fmt.Errorf("failed to validate http config: %w", err)
	}

	return nil
}

type StoreConfig struct {
	DataSource string `toml:"data_source"`
}

func (c StoreConfig) IsValid() error {
	if c.DataSource == "" {
		return fmt.Errorf("invalid DataSource value: should not be empty")
	}
	return nil
}

type Config struct {
	API    APIConfig     `toml:"api"`
	Relay  relay.Config  `toml:"relay"`
	Calls  calls.Config  `toml:"calls"`
	Store  StoreConfig   `toml:"store"`
	Logger logger.Config `toml:"logger"`
}

func (c Config) IsValid() error {
	if err := c.API.IsValid(); err != nil {
		return err
	}

	if err := c.Relay.IsValid(); err != nil {
		return fmt.Errorf("failed to validate relay config: %w", err)
	}

	if err := c.Calls.IsValid(); err != nil {
		return fmt.Errorf("failed to validate calls config: %w", err)
	}

	if err := c.Store.IsValid(); err != nil {
		return err
	}

	return c.Logger.IsValid()
}

func (c *Config) SetDefaults() {
	c.API.HTTP.ListenAddress = ":8046"
	c.API.HTTP.MaxRequestBodySize = 64 * 1024
	c.API.Security.SessionCache.ExpirationMinutes = 1440
	c.Relay.SetDefaults()
	c.Calls.SetDefaults()
	c.Store.DataSource = "/tmp/callsignald_db"
	c.Logger.SetDefaults()
	c.Logger.FileLocation = "callsignald.log"
}

// ClientConfig holds the settings of a service API client.
type ClientConfig struct {
	// URL is the base HTTP(S) address of the service.
	URL string
	// ClientID and AuthKey are the registered credentials. An AuthKey
	// without a ClientID authenticates as admin.
	ClientID string
	AuthKey  string

	httpURL string
	wsURL   string
}

func (c *ClientConfig) Parse() error {
	if c.URL == "" {
		return fmt.Errorf("invalid URL value: should not be empty")
	}

	u, err := url.Parse(strings.TrimRight(c.URL, "/"))
	if err != nil {
		return fmt.Errorf("failed to parse url: %w", err)
	}

	if u.Host == "" {
		return fmt.Errorf("invalid url host: should not be empty")
	}

	switch u.Scheme {
	case "http":
		c.httpURL = u.String()
		u.Scheme = "ws"
	case "https":
		c.httpURL = u.String()
		u.Scheme = "wss"
	default:
		return fmt.Errorf("invalid url scheme: %q is not valid", u.Scheme)
	}

	u.Path += "/ws"
	c.wsURL = u.String()

	return nil
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package relay

import (
	"fmt"
	"time"

	"github.com/mattermost/callsignal/service/ws"
)

type Config struct {
	// MaxRoomsPerConn caps the number of rooms a single connection can be
	// a member of, including its personal room.
	MaxRoomsPerConn int `toml:"max_rooms_per_conn"`
	// MessageRateLimit is the sustained number of frames per second a
	// connection can send.
	MessageRateLimit float64 `toml:"message_rate_limit"`
	// MessageBurst is the number of frames a connection can send at once
	// above the sustained rate.
	MessageBurst int `toml:"message_burst"`

	WS ws.ServerConfig `toml:"ws"`
}

func (c Config) IsValid() error {
	if c.MaxRoomsPerConn < 2 {
		return fmt.Errorf("invalid MaxRoomsPerConn value: should be at least 2")
	}
	if c.MessageRateLimit <= 0 {
		return fmt.Errorf("invalid MessageRateLimit value: should be greater than zero")
	}
	if c.MessageBurst <= 0 {
		return fmt.Errorf("invalid MessageBurst value: should be greater than zero")
	}
	if err := c.WS.IsValid(); err != nil {
		return fmt.Errorf("invalid WS config: %w", err)
	}
	return nil
}

func (c *Config) SetDefaults() {
	c.MaxRoomsPerConn = 8
	c.MessageRateLimit = 50
	c.MessageBurst = 100
	c.WS.ReadBufferSize = 4096
	c.WS.WriteBufferSize = 4096
	c.WS.PingInterval = 10 * time.Second
	c.WS.MaxMessageSize = 256 * 1024
}

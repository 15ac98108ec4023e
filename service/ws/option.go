// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// AuthCb is called before upgrading a connection. It returns the ID of the
// authenticated client or an error if the request should be refused.
type AuthCb func(w http.ResponseWriter, r *http.Request) (string, error)

type ServerOption func(s *Server) error

// WithAuthCb lets the caller set an optional callback to be called prior to
// performing the websocket upgrade.
func WithAuthCb(cb AuthCb) ServerOption {
	return func(s *Server) error {
		s.authCb = cb
		return nil
	}
}

type ClientOption func(c *Client) error

// WithDialTimeout overrides the default handshake timeout used when dialing.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("invalid dial timeout %v", d)
		}
		c.dialer.HandshakeTimeout = d
		return nil
	}
}

// WithDialContext sets the function used to open the underlying network
// connection.
func WithDialContext(fn func(ctx context.Context, network, addr string) (net.Conn, error)) ClientOption {
	return func(c *Client) error {
		c.dialer.NetDialContext = fn
		return nil
	}
}

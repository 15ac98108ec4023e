// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

const testAdminKey = "admin_secret_key"

type TestHelper struct {
	srvc        *Service
	adminClient *Client
	cfg         Config
	tb          testing.TB
	apiURL      string
	dbDir       string
}

func MakeDefaultCfg(tb testing.TB) *Config {
	tb.Helper()

	dbDir, err := os.MkdirTemp("", "db")
	require.NoError(tb, err)

	var cfg Config
	cfg.SetDefaults()
	cfg.API.HTTP.ListenAddress = ":0"
	cfg.API.Security.EnableAdmin = true
	cfg.API.Security.AdminSecretKey = testAdminKey
	cfg.Store.DataSource = dbDir
	cfg.Logger.EnableFile = false
	cfg.Logger.ConsoleLevel = "ERROR"

	return &cfg
}

func SetupTestHelper(tb testing.TB, cfg *Config) *TestHelper {
	tb.Helper()
	var err error

	if cfg == nil {
		cfg = MakeDefaultCfg(tb)
	}

	th := &TestHelper{
		cfg:   *cfg,
		tb:    tb,
		dbDir: cfg.Store.DataSource,
	}

	th.srvc, err = New(th.cfg)
	require.NoError(th.tb, err)
	require.NotNil(th.tb, th.srvc)

	err = th.srvc.Start()
	require.NoError(th.tb, err)

	_, port, err := net.SplitHostPort(th.srvc.apiServer.Addr())
	require.NoError(th.tb, err)
	th.apiURL = "http://localhost:" + port

	th.adminClient, err = NewClient(ClientConfig{
		URL:     th.apiURL,
		AuthKey: th.srvc.cfg.API.Security.AdminSecretKey,
	})
	require.NoError(th.tb, err)
	require.NotNil(th.tb, th.adminClient)

	return th
}

// newRegisteredClient registers clientID through the admin client and
// returns a client authenticated as it.
func (th *TestHelper) newRegisteredClient(clientID string) *Client {
	th.tb.Helper()

	authKey, err := th.adminClient.Register(clientID, "")
	require.NoError(th.tb, err)

	c, err := NewClient(ClientConfig{
		URL:      th.apiURL,
		ClientID: clientID,
		AuthKey:  authKey,
	})
	require.NoError(th.tb, err)

	return c
}

func (th *TestHelper) Teardown() {
	err := th.srvc.Stop()
	require.NoError(th.tb, err)

	err = os.RemoveAll(th.dbDir)
	require.NoError(th.tb, err)

	err = th.adminClient.Close()
	require.NoError(th.tb, err)
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"os"
	"testing"

	"github.com/mattermost/callsignal/service/random"
	"github.com/mattermost/callsignal/service/store"

	"github.com/stretchr/testify/require"
)

func newTestDBStore(t *testing.T) (store.Store, func()) {
	t.Helper()
	dbDir, err := os.MkdirTemp("", "db")
	require.NoError(t, err)
	dbStore, err := store.New(dbDir)
	require.NoError(t, err)
	return dbStore, func() {
		err := dbStore.Close()
		require.NoError(t, err)
		err = os.RemoveAll(dbDir)
		require.NoError(t, err)
	}
}

func newTestSessionCache(t *testing.T) *SessionCache {
	t.Helper()
	sessionCache, err := NewSessionCache(SessionCacheConfig{ExpirationMinutes: 1440})
	require.NoError(t, err)
	require.NotNil(t, sessionCache)
	return sessionCache
}

func TestNewService(t *testing.T) {
	dbStore, teardown := newTestDBStore(t)
	defer teardown()
	sessionCache := newTestSessionCache(t)

	t.Run("missing store", func(t *testing.T) {
		s, err := NewService(nil, sessionCache)
		require.Error(t, err)
		require.Nil(t, s)
	})

	t.Run("missing session cache", func(t *testing.T) {
		s, err := NewService(dbStore, nil)
		require.Error(t, err)
		require.Nil(t, s)
	})

	t.Run("valid", func(t *testing.T) {
		s, err := NewService(dbStore, sessionCache)
		require.NoError(t, err)
		require.NotNil(t, s)
	})
}

func TestRegister(t *testing.T) {
	dbStore, teardown := newTestDBStore(t)
	defer teardown()
	sessionCache := newTestSessionCache(t)

	s, err := NewService(dbStore, sessionCache)
	require.NoError(t, err)
	require.NotNil(t, s)

	err = s.Register("alice", "short key")
	require.Error(t, err)
	require.EqualError(t, err, "registration failed: key not long enough")

	authKey, err := random.NewSecureString(MinKeyLen)
	require.NoError(t, err)

	err = s.Register("bad id!", authKey)
	require.Error(t, err)
	require.EqualError(t, err, "registration failed: invalid client id")

	err = s.Register("alice", authKey)
	require.NoError(t, err)

	err = s.Register("alice", authKey)
	require.Error(t, err)
	require.EqualError(t, err, "registration failed: already registered")

	err = s.Unregister("alice")
	require.NoError(t, err)

	err = s.Unregister("alice")
	require.Error(t, err)
	require.EqualError(t, err, "unregister failed: error: not found")

	err = s.Register("alice", authKey)
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	dbStore, teardown := newTestDBStore(t)
	defer teardown()
	sessionCache := newTestSessionCache(t)

	s, err := NewService(dbStore, sessionCache)
	require.NoError(t, err)
	require.NotNil(t, s)

	err = s.Authenticate("alice", "authkey")
	require.Error(t, err)
	require.EqualError(t, err, "authentication failed: error: not found")

	authKey, err := random.NewSecureString(MinKeyLen)
	require.NoError(t, err)
	err = s.Register("alice", authKey)
	require.NoError(t, err)

	err = s.Authenticate("alice", authKey)
	require.NoError(t, err)

	err = s.Authenticate("alice", authKey+" ")
	require.Error(t, err)
	require.EqualError(t, err, "authentication failed")

	err = s.Unregister("alice")
	require.NoError(t, err)

	err = s.Authenticate("alice", "authkey")
	require.Error(t, err)
	require.EqualError(t, err, "authentication failed: error: not found")
}

func TestLogin(t *testing.T) {
	dbStore, teardown := newTestDBStore(t)
	defer teardown()
	sessionCache := newTestSessionCache(t)

	s, err := NewService(dbStore, sessionCache)
	require.NoError(t, err)

	authKey, err := random.NewSecureString(MinKeyLen)
	require.NoError(t, err)
	require.NoError(t, s.Register("alice", authKey))

	t.Run("bad key", func(t *testing.T) {
		token, err := s.Login("alice", authKey+"x")
		require.EqualError(t, err, "authentication failed")
		require.Empty(t, token)
	})

	t.Run("token round trip", func(t *testing.T) {
		token, err := s.Login("alice", authKey)
		require.NoError(t, err)
		require.Len(t, token, MinKeyLen)

		clientID, err := s.ValidateToken(token)
		require.NoError(t, err)
		require.Equal(t, "alice", clientID)

		_, err = s.ValidateToken("unknown")
		require.Error(t, err)
	})

	t.Run("new login replaces token", func(t *testing.T) {
		first, err := s.Login("alice", authKey)
		require.NoError(t, err)
		second, err := s.Login("alice", authKey)
		require.NoError(t, err)

		_, err = s.ValidateToken(first)
		require.Error(t, err)
		clientID, err := s.ValidateToken(second)
		require.NoError(t, err)
		require.Equal(t, "alice", clientID)
	})

	t.Run("unregister drops session", func(t *testing.T) {
		token, err := s.Login("alice", authKey)
		require.NoError(t, err)
		require.NoError(t, s.Unregister("alice"))
		_, err = s.ValidateToken(token)
		require.Error(t, err)
	})
}

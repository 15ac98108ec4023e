// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/mattermost/callsignal/service/store"
)

const (
	MinKeyLen = 32
	keyPrefix = "auth:"
)

var clientIDRE = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)

// IsValidClientID reports whether id can be used to register a client.
func IsValidClientID(id string) bool {
	return clientIDRE.MatchString(id)
}

// Service manages client credentials. Keys are stored as bcrypt hashes and
// successful logins are exchanged for short lived bearer tokens.
type Service struct {
	store        store.Store
	sessionCache *SessionCache
}

func NewService(store store.Store, sessionCache *SessionCache) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("invalid store")
	}
	if sessionCache == nil {
		return nil, fmt.Errorf("invalid session cache")
	}
	return &Service{
		store:        store,
		sessionCache: sessionCache,
	}, nil
}

func (s *Service) Authenticate(id, key string) error {
	hash, err := s.store.Get(keyPrefix + id)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if err := compareKeyHash(hash, key); err != nil {
		return fmt.Errorf("authentication failed")
	}
	return nil
}

// Login authenticates the client and returns a bearer token that can be
// used in place of the key until it expires.
func (s *Service) Login(id, key string) (string, error) {
	if err := s.Authenticate(id, key); err != nil {
		return "", err
	}

	token, err := newRandomToken()
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}

	if err := s.sessionCache.Put(id, token); err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}

	return token, nil
}

// ValidateToken returns the client ID the bearer token was issued to.
func (s *Service) ValidateToken(token string) (string, error) {
	session, err := s.sessionCache.Get(token)
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}
	return session.ClientID, nil
}

func (s *Service) Register(id, key string) error {
	if !IsValidClientID(id) {
		return fmt.Errorf("registration failed: invalid client id")
	}

	if len(key) < MinKeyLen {
		return fmt.Errorf("registration failed: key not long enough")
	}

	hash, err := hashKey(key)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	if err := s.store.Put(keyPrefix+id, hash); errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("registration failed: already registered")
	} else if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	return nil
}

func (s *Service) Unregister(id string) error {
	if _, err := s.store.Get(keyPrefix + id); err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}

	if err := s.store.Delete(keyPrefix + id); err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}

	s.sessionCache.Delete(id)

	return nil
}

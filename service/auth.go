// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mattermost/callsignal/service/auth"
	"github.com/mattermost/callsignal/service/random"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

type authInfo struct {
	clientID string
	isAdmin  bool
}

// authenticate accepts either a bearer session token or basic auth
// credentials. Basic auth with an empty client ID and the admin secret key
// authenticates as admin when admin access is enabled.
func (s *Service) authenticate(r *http.Request) (authInfo, error) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		clientID, err := s.auth.ValidateToken(token)
		if err != nil {
			return authInfo{}, fmt.Errorf("authentication failed: %w", errUnauthorized)
		}
		return authInfo{clientID: clientID}, nil
	}

	clientID, authKey, ok := r.BasicAuth()
	if !ok {
		return authInfo{}, fmt.Errorf("authentication failed: invalid auth header")
	}

	if clientID == "" {
		if s.cfg.API.Security.EnableAdmin && authKey == s.cfg.API.Security.AdminSecretKey {
			return authInfo{isAdmin: true}, nil
		}
		return authInfo{}, fmt.Errorf("authentication failed: %w", errUnauthorized)
	}

	if err := s.auth.Authenticate(clientID, authKey); err != nil {
		s.log.Debug("authentication failed", mlog.String("clientID", clientID), mlog.Err(err))
		return authInfo{}, fmt.Errorf("authentication failed: %w", errUnauthorized)
	}

	return authInfo{clientID: clientID}, nil
}

// clientAuthHandler authenticates requests that must act on behalf of a
// registered client.
func (s *Service) clientAuthHandler(r *http.Request) (string, error) {
	info, err := s.authenticate(r)
	if err != nil {
		return "", err
	}
	if info.clientID == "" {
		return "", fmt.Errorf("authentication failed: %w", errUnauthorized)
	}
	return info.clientID, nil
}

func (s *Service) wsAuthHandler(_ http.ResponseWriter, r *http.Request) (string, error) {
	return s.clientAuthHandler(r)
}

type registerRequest struct {
	ClientID string `json:"clientID"`
	AuthKey  string `json:"authKey"`
}

type unregisterRequest struct {
	ClientID string `json:"clientID"`
}

func (s *Service) registerClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("registerClient", data, w, r)

	if !s.cfg.API.Security.AllowSelfRegistration {
		info, err := s.authenticate(r)
		if err != nil {
			data.err = err.Error()
			data.code = http.StatusUnauthorized
			return
		}
		if !info.isAdmin {
			data.err = errForbidden.Error()
			data.code = http.StatusForbidden
			return
		}
	}

	var req registerRequest
	if err := s.apiServer.DecodeJSON(r, &req); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}
	data.clientID = req.ClientID

	if req.AuthKey == "" {
		key, err := random.NewSecureString(auth.MinKeyLen)
		if err != nil {
			data.err = err.Error()
			data.code = http.StatusInternalServerError
			return
		}
		req.AuthKey = key
	}

	if err := s.auth.Register(req.ClientID, req.AuthKey); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	data.code = http.StatusCreated
	data.resData["clientID"] = req.ClientID
	data.resData["authKey"] = req.AuthKey
}

func (s *Service) unregisterClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("unregisterClient", data, w, r)

	info, err := s.authenticate(r)
	if err != nil {
		data.err = err.Error()
		data.code = http.StatusUnauthorized
		return
	}

	var req unregisterRequest
	if err := s.apiServer.DecodeJSON(r, &req); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}
	data.clientID = req.ClientID

	if req.ClientID == "" {
		data.err = "client id should not be empty"
		data.code = http.StatusBadRequest
		return
	}

	// Clients can only unregister themselves.
	if !info.isAdmin && info.clientID != req.ClientID {
		data.err = errForbidden.Error()
		data.code = http.StatusForbidden
		return
	}

	if err := s.auth.Unregister(req.ClientID); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	data.code = http.StatusOK
}

func (s *Service) loginClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("loginClient", data, w, r)

	clientID, authKey, ok := r.BasicAuth()
	if !ok || clientID == "" {
		data.err = "authentication failed: invalid auth header"
		data.code = http.StatusUnauthorized
		return
	}
	data.clientID = clientID

	token, err := s.auth.Login(clientID, authKey)
	if err != nil {
		data.err = fmt.Errorf("authentication failed: %w", errUnauthorized).Error()
		data.code = http.StatusUnauthorized
		return
	}

	data.code = http.StatusOK
	data.resData["clientID"] = clientID
	data.resData["token"] = token
}

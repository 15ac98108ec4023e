// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"net/http"
)

func (s *Service) authAdmin(data *httpData, r *http.Request) bool {
	info, err := s.authenticate(r)
	if err != nil {
		data.err = err.Error()
		data.code = http.StatusUnauthorized
		return false
	}
	if !info.isAdmin {
		data.err = errForbidden.Error()
		data.code = http.StatusForbidden
		return false
	}
	return true
}

// getStats reports the current relay load. Admin only.
func (s *Service) getStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("getStats", data, w, r)

	if !s.authAdmin(data, r) {
		return
	}

	members, rooms := s.hub.Stats()
	data.resData["connections"] = members
	data.resData["rooms"] = rooms
	data.code = http.StatusOK
}

// getRoomMembers lists the connections currently in a relay room. Admin only.
func (s *Service) getRoomMembers(w http.ResponseWriter, r *http.Request) {
	data := newHTTPData()
	defer s.httpAudit("getRoomMembers", data, w, r)

	if !s.authAdmin(data, r) {
		return
	}

	members := s.hub.RoomMembers(r.PathValue("room"))
	if members == nil {
		members = []string{}
	}
	data.resData["members"] = members
	data.code = http.StatusOK
}

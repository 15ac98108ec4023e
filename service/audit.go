// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"
	"net/http"

	"github.com/mattermost/callsignal/service/api"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

type httpData struct {
	err      string
	code     int
	clientID string
	resData  map[string]any
}

func newHTTPData() *httpData {
	return &httpData{
		resData: map[string]any{},
	}
}

// httpAudit logs the outcome of an administrative request and writes the
// response. Failed requests get an error field in their body.
func (s *Service) httpAudit(handler string, data *httpData, w http.ResponseWriter, r *http.Request) {
	fields := append(reqAuditFields(r), mlog.Int("code", data.code))
	status := "fail"
	if data.err == "" {
		status = "success"
	} else {
		data.resData["error"] = data.err
		fields = append(fields, mlog.Err(fmt.Errorf("%s", data.err)))
	}
	if data.clientID != "" {
		fields = append(fields, mlog.String("clientID", data.clientID))
	}
	s.log.Debug(handler, append(fields, mlog.String("status", status))...)

	if w == nil {
		return
	}
	if err := api.WriteJSON(w, data.code, data.resData); err != nil {
		s.log.Error("failed to write response", mlog.Err(err))
	}
}

func reqAuditFields(r *http.Request) []mlog.Field {
	header := r.Header.Clone()
	header.Del("Authorization")
	return []mlog.Field{
		mlog.String("remoteAddr", r.RemoteAddr),
		mlog.String("method", r.Method),
		mlog.String("url", r.URL.String()),
		mlog.Any("header", header),
		mlog.String("host", r.Host),
	}
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package calls

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/mattermost/callsignal/service/api"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// AuthCb authenticates the request and returns the ID of the calling
// client.
type AuthCb func(r *http.Request) (string, error)

type CreateRequest struct {
	CalleeID string `json:"callee_id"`
	Mode     Mode   `json:"mode"`
}

type CreateResponse struct {
	ID string `json:"id"`
}

type EndRequest struct {
	Duration int64 `json:"duration"`
}

type HistoryResponse struct {
	Calls []Record `json:"calls"`
}

type handler struct {
	srvc      *Service
	apiServer *api.Server
	authCb    AuthCb
	log       mlog.LoggerIFace
}

// RegisterHandlers exposes the bookkeeping operations on the given API
// server.
func (s *Service) RegisterHandlers(apiServer *api.Server, authCb AuthCb) {
	h := &handler{
		srvc:      s,
		apiServer: apiServer,
		authCb:    authCb,
		log:       s.log,
	}

	apiServer.RegisterHandleFunc("POST /calls", h.createCall)
	apiServer.RegisterHandleFunc("GET /calls/history", h.getHistory)
	apiServer.RegisterHandleFunc("GET /calls/{id}", h.getCall)
	apiServer.RegisterHandleFunc("POST /calls/{id}/answer", h.answerCall)
	apiServer.RegisterHandleFunc("POST /calls/{id}/reject", h.rejectCall)
	apiServer.RegisterHandleFunc("POST /calls/{id}/end", h.endCall)
}

func (h *handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	clientID, err := h.authCb(r)
	if err != nil || clientID == "" {
		h.log.Debug("calls: unauthorized request", mlog.String("url", r.URL.Path), mlog.Err(err))
		h.writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return "", false
	}
	return clientID, true
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v any) {
	if err := api.WriteJSON(w, code, v); err != nil {
		h.log.Error("failed to write response", mlog.Err(err))
	}
}

func (h *handler) writeError(w http.ResponseWriter, code int, err error) {
	if err := api.WriteError(w, code, err); err != nil {
		h.log.Error("failed to write response", mlog.Err(err))
	}
}

func (h *handler) writeServiceError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, ErrInvalidRequest):
		code = http.StatusBadRequest
	default:
		h.log.Error("calls: request failed", mlog.Err(err))
	}
	h.writeError(w, code, err)
}

func (h *handler) createCall(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if err := h.apiServer.DecodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.srvc.Create(clientID, req.CalleeID, req.Mode)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.log.Debug("calls: created",
		mlog.String("callID", rec.ID),
		mlog.String("callerID", rec.CallerID),
		mlog.String("calleeID", rec.CalleeID))

	h.writeJSON(w, http.StatusCreated, CreateResponse{ID: rec.ID})
}

func (h *handler) getCall(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	rec, err := h.srvc.Get(r.PathValue("id"), clientID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

func (h *handler) answerCall(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	rec, err := h.srvc.Answer(r.PathValue("id"), clientID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

func (h *handler) rejectCall(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	rec, err := h.srvc.Reject(r.PathValue("id"), clientID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

func (h *handler) endCall(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req EndRequest
	if r.ContentLength != 0 {
		if err := h.apiServer.DecodeJSON(r, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	rec, err := h.srvc.End(r.PathValue("id"), clientID, req.Duration)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}

	records, err := h.srvc.History(clientID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []Record{}
	}

	h.writeJSON(w, http.StatusOK, HistoryResponse{Calls: records})
}

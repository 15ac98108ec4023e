// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const defaultMaxRequestBodySize = 64 * 1024 // 64KB

type HandleFunc func(http.ResponseWriter, *http.Request)

// RegisterHandleFunc registers hf for the given pattern. Patterns follow
// http.ServeMux syntax, including method and wildcard segments
// (e.g. "POST /calls/{id}/answer").
func (s *Server) RegisterHandleFunc(pattern string, hf HandleFunc) {
	s.mux.HandleFunc(pattern, hf)
}

func (s *Server) RegisterHandler(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// ErrorResponse is the body sent along with any non successful status code.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON encodes v as the JSON response body with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return nil
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}

// WriteError sends err as an ErrorResponse with the given status code.
func WriteError(w http.ResponseWriter, code int, err error) error {
	return WriteJSON(w, code, ErrorResponse{Error: err.Error()})
}

// DecodeJSON decodes the request body into v reading at most limit bytes.
// A limit of zero applies the default.
func DecodeJSON(r *http.Request, v any, limit int64) error {
	if limit <= 0 {
		limit = defaultMaxRequestBodySize
	}
	dec := json.NewDecoder(&io.LimitedReader{
		R: r.Body,
		N: limit,
	})
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body")
		}
		return fmt.Errorf("failed to decode request: %w", err)
	}
	return nil
}

// DecodeJSON decodes the request body honoring the server's configured limit.
func (s *Server) DecodeJSON(r *http.Request, v any) error {
	return DecodeJSON(r, v, s.cfg.MaxRequestBodySize)
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/LeeDigitalWorks/vospace/pkg/auth"
	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

const maxJSONBody = 1 << 20

// writeError maps err onto a status code and writes its message as text.
// Internal errors are logged with their cause and reported without it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := verrors.CodeOf(err)
	status := code.HTTPStatus()
	msg := err.Error()
	if code == verrors.CodeInternalError {
		logger.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		var verr *verrors.Error
		if errors.As(err, &verr) && verr.Message != "" {
			msg = verr.Message
		} else {
			msg = "internal error"
		}
	}
	w.Header().Set("X-Vospace-Error", code.String())
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return verrors.InvalidArgument("invalid request body: %v", err)
	}
	return nil
}

// caller is the authenticated identity; the router guarantees one.
func caller(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// nodePath reads the node path from the trailing wildcard of the route.
func nodePath(r *http.Request) (node.Path, error) {
	raw := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		u, err := url.PathUnescape(raw)
		if err != nil {
			return node.Path{}, verrors.InvalidPath("bad path escape: %v", err)
		}
		raw = u
	}
	return node.ParsePath("/"+raw, "")
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, verrors.InvalidArgument("%s must be an integer", key)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return b
}

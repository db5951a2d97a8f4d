// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package api is the HTTP surface: the data channel, the transfer job
// resources and JSON node management.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LeeDigitalWorks/vospace/pkg/auth"
	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/regions"
	"github.com/LeeDigitalWorks/vospace/pkg/nodes"
	"github.com/LeeDigitalWorks/vospace/pkg/transfer"
)

// Handler holds what the routes need.
type Handler struct {
	proc    *transfer.Processor
	nodes   *nodes.Manager
	regions regions.Registry
}

// Deps are the collaborators of the HTTP surface. Regions may be nil.
type Deps struct {
	Processor *transfer.Processor
	Nodes     *nodes.Manager
	Auth      *auth.Authenticator
	Regions   regions.Registry
}

// NewRouter builds the chi router. Every route requires authentication.
func NewRouter(d Deps) http.Handler {
	h := &Handler{proc: d.Processor, nodes: d.Nodes, regions: d.Regions}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(d.Auth.Middleware)

	r.Route("/data/{jobId}", func(r chi.Router) {
		r.Get("/", h.getData)
		r.With(requireWrite).Put("/", h.putData)
	})

	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.submitTransfer)
		r.Get("/", h.listTransfers)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getTransfer)
			r.Get("/phase", h.getPhase)
			r.Post("/phase", h.postPhase)
			r.Get("/error", h.getError)
			r.Get("/results", h.getResults)
			r.Get("/results/details", h.getDetails)
		})
	})

	r.Get("/nodes/*", h.getNode)
	r.With(requireWrite).Put("/nodes/*", h.createNode)
	r.With(requireWrite).Delete("/nodes/*", h.deleteNode)
	r.Get("/search/*", h.search)
	r.Get("/properties/*", h.getProperties)
	r.With(requireWrite).Post("/properties/*", h.setProperties)
	r.With(requireWrite).Post("/shares/*", h.createShare)
	r.Get("/sharetokens/{token}", h.getShare)
	r.Get("/regions", h.listRegions)
	r.Get("/regions/*", h.getNodeRegions)
	r.With(requireWrite).Put("/regions/*", h.setNodeRegions)

	return r
}

// requireWrite rejects callers without write permission.
func requireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, _ := auth.FromContext(r.Context()); !id.WritePermission {
			http.Error(w, "write permission required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger attaches a request scoped logger and logs completion.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := logger.With().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.WithLogger(r.Context(), &l)))

		ev := l.Info()
		if ww.Status() >= http.StatusInternalServerError {
			ev = l.Warn()
		}
		ev.Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request completed")
	})
}

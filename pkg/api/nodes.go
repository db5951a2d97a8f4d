// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/nodes"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

const defaultSearchLimit = 1000

type nodeView struct {
	URI         string     `json:"uri"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	Size        int64      `json:"size"`
	ContentType string     `json:"content_type,omitempty"`
	Revision    int64      `json:"revision"`
	Modified    time.Time  `json:"modified,omitzero"`
	Deleted     bool       `json:"deleted,omitempty"`
	Children    []nodeView `json:"children,omitempty"`
	Total       *int       `json:"total,omitempty"`
}

func newView(id node.Identifier, typ node.Type, info node.Info) nodeView {
	return nodeView{
		URI:         id.String(),
		Path:        id.Path.String(),
		Type:        typ.String(),
		Size:        info.Size,
		ContentType: info.ContentType,
		Revision:    info.Revision,
		Modified:    info.ModifiedTime,
		Deleted:     info.Deleted,
	}
}

type propertyView struct {
	URI      string `json:"uri"`
	Value    string `json:"value"`
	ReadOnly bool   `json:"readonly,omitempty"`
}

func propertyViews(props []db.Property) []propertyView {
	out := make([]propertyView, 0, len(props))
	for _, p := range props {
		out = append(out, propertyView(p))
	}
	return out
}

// lookup resolves the route's node for the caller.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (nodes.Node, bool) {
	p, err := nodePath(r)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	n, err := h.nodes.Get(r.Context(), caller(r).Username, p)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return n, true
}

// getNode describes a node; containers list their children, paged with
// start and count.
func (h *Handler) getNode(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var info node.Info
	if !n.Path().IsRoot() {
		var err error
		if info, err = n.Info(ctx); err != nil {
			writeError(w, r, err)
			return
		}
	}
	view := newView(n.ID(), n.Type(), info)

	if c, ok := n.(*nodes.ContainerNode); ok {
		start, err := queryInt(r, "start", 0)
		if err != nil {
			writeError(w, r, err)
			return
		}
		count, err := queryInt(r, "count", -1)
		if err != nil {
			writeError(w, r, err)
			return
		}
		children, total, err := c.Children(ctx, start, count, queryBool(r, "deleted"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		view.Children = make([]nodeView, 0, len(children))
		for _, s := range children {
			view.Children = append(view.Children, newView(n.ID().WithPath(s.Path), s.Type, s.Info))
		}
		view.Total = &total
	}
	writeJSON(w, http.StatusOK, view)
}

// createNode creates a container, or a data node with ?type=data.
// ?parents=true creates missing ancestors.
func (h *Handler) createNode(w http.ResponseWriter, r *http.Request) {
	p, err := nodePath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	typ := node.TypeContainer
	if t := r.URL.Query().Get("type"); t != "" {
		if typ, err = node.ParseType(t); err != nil {
			writeError(w, r, err)
			return
		}
	}

	create := h.nodes.Create
	if queryBool(r, "parents") {
		create = h.nodes.CreateParent
	}
	n, err := create(r.Context(), caller(r).Username, p, typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := n.Info(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newView(n.ID(), n.Type(), info))
}

// deleteNode tombstones a node; ?purge=true removes it and its bytes.
func (h *Handler) deleteNode(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var err error
	if queryBool(r, "purge") {
		err = n.Remove(r.Context())
	} else {
		err = n.MarkRemoved(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// search lists paths below the node matching ?pattern.
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookup(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultSearchLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	paths, err := n.Search(r.Context(), r.URL.Query().Get("pattern"), limit, queryBool(r, "deleted"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, n.ID().WithPath(p).String())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getProperties(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookup(w, r)
	if !ok {
		return
	}
	props, err := n.Properties(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, propertyViews(props))
}

// setProperties takes a JSON object of URI to value; null deletes.
func (h *Handler) setProperties(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var props map[string]*string
	if err := decodeJSON(r, &props); err != nil {
		writeError(w, r, err)
		return
	}
	if err := n.SetProperties(r.Context(), props); err != nil {
		writeError(w, r, err)
		return
	}
	h.getProperties(w, r)
}

type shareRequest struct {
	Group string `json:"group"`
	Write bool   `json:"write"`
}

type shareView struct {
	Token     string    `json:"token"`
	Owner     string    `json:"owner,omitempty"`
	Container string    `json:"container,omitempty"`
	Group     string    `json:"group,omitempty"`
	Write     bool      `json:"write"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func (h *Handler) createShare(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req shareRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	token, err := n.Share(r.Context(), req.Group, req.Write)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shareView{Token: token, Group: req.Group, Write: req.Write})
}

// getShare describes a share token to its owner.
func (h *Handler) getShare(w http.ResponseWriter, r *http.Request) {
	s, err := h.nodes.GetShare(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.Owner != caller(r).Username {
		writeError(w, r, verrors.NotFound("share not found"))
		return
	}
	writeJSON(w, http.StatusOK, shareView{
		Token:     s.Token,
		Owner:     s.Owner,
		Container: s.Container,
		Group:     s.GroupID,
		Write:     s.Write,
		CreatedAt: s.CreatedAt,
	})
}

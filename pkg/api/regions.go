// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/LeeDigitalWorks/vospace/pkg/metadata/regions"
	"github.com/LeeDigitalWorks/vospace/pkg/nodes"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

type regionsView struct {
	Regions []string          `json:"regions"`
	Pairs   map[string]string `json:"pairs"`
}

// listRegions reports every known region.
func (h *Handler) listRegions(w http.ResponseWriter, r *http.Request) {
	if h.regions == nil {
		writeJSON(w, http.StatusOK, []regions.RegionInfo{})
		return
	}
	infos, err := h.regions.Regions(r.Context())
	if err != nil {
		writeError(w, r, verrors.Internal(err, "list regions"))
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) container(w http.ResponseWriter, r *http.Request) (*nodes.ContainerNode, bool) {
	n, ok := h.lookup(w, r)
	if !ok {
		return nil, false
	}
	c, ok := n.(*nodes.ContainerNode)
	if !ok {
		writeError(w, r, verrors.InvalidArgument("%s is not a container", n.Path()))
		return nil, false
	}
	return c, true
}

// getNodeRegions reports the regions holding a container and the pairing
// used to keep them in sync.
func (h *Handler) getNodeRegions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.container(w, r)
	if !ok {
		return
	}
	names, err := c.Regions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	pairs, err := c.RegionMap(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, regionsView{Regions: names, Pairs: pairs})
}

// setNodeRegions replaces the region map of a container with the JSON
// object in the body.
func (h *Handler) setNodeRegions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.container(w, r)
	if !ok {
		return
	}
	var m map[string]string
	if err := decodeJSON(r, &m); err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.SetRegions(r.Context(), m); err != nil {
		writeError(w, r, err)
		return
	}
	h.getNodeRegions(w, r)
}

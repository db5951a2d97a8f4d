// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LeeDigitalWorks/vospace/pkg/transfer"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

const (
	xmlContentType = "text/xml; charset=utf-8"
	maxPhaseBody   = 1 << 10
)

func (h *Handler) jobURL(job *types.TransferJob) string {
	return h.proc.AppURL() + "/transfers/" + job.ID.String()
}

// submitTransfer creates a job and redirects to it.
func (h *Handler) submitTransfer(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	req, err := transfer.ParseRequest(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.WritesToStore() && !id.WritePermission {
		writeError(w, r, verrors.PermissionDenied("write permission required for %s", req.Direction))
		return
	}
	job, err := h.proc.SubmitRequest(r.Context(), id.Username, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, h.jobURL(job), http.StatusSeeOther)
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.proc.List(r.Context(), caller(r).Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_ = transfer.WriteQueue(w, jobs)
}

// ownedJob loads the job named in the route for the caller, writing the
// error response when that fails.
func (h *Handler) ownedJob(w http.ResponseWriter, r *http.Request, param string) (*types.TransferJob, bool) {
	job, err := h.proc.GetOwned(r.Context(), caller(r).Username, chi.URLParam(r, param))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return job, true
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r, "id")
	if !ok {
		return
	}
	writeXML(w, r, func(b *bytes.Buffer) error { return transfer.WriteJob(b, job, h.proc.AppURL()) })
}

func (h *Handler) getPhase(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r, "id")
	if !ok {
		return
	}
	writeText(w, transfer.PhaseText(job))
}

// postPhase accepts PHASE=ABORT; other phase changes are driven by the
// server.
func (h *Handler) postPhase(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r, "id")
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPhaseBody))
	if err != nil {
		writeError(w, r, verrors.InvalidArgument("read phase: %v", err))
		return
	}
	phase, err := transfer.ParsePhase(string(body))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if phase != types.StateAborted {
		writeError(w, r, verrors.InvalidArgument("phase %s cannot be requested", phase))
		return
	}
	if _, err := h.proc.Abort(r.Context(), job); err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, h.jobURL(job), http.StatusSeeOther)
}

func (h *Handler) getError(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r, "id")
	if !ok {
		return
	}
	writeText(w, transfer.ErrorText(job))
}

func (h *Handler) getResults(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r, "id")
	if !ok {
		return
	}
	writeXML(w, r, func(b *bytes.Buffer) error { return transfer.WriteResults(b, job, h.proc.AppURL()) })
}

func (h *Handler) getDetails(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r, "id")
	if !ok {
		return
	}
	writeXML(w, r, func(b *bytes.Buffer) error { return transfer.WriteDetails(b, job) })
}

// writeXML renders into a buffer first so an encoding failure still gets
// an error status.
func writeXML(w http.ResponseWriter, r *http.Request, render func(*bytes.Buffer) error) {
	var b bytes.Buffer
	if err := render(&b); err != nil {
		writeError(w, r, verrors.Internal(err, "render document"))
		return
	}
	w.Header().Set("Content-Type", xmlContentType)
	_, _ = b.WriteTo(w)
}

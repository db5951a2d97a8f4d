// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/transfer"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/utils"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// startJob loads the caller's job for the data channel, checks its
// direction and moves it to RUN.
func (h *Handler) startJob(w http.ResponseWriter, r *http.Request, want types.Direction) (*types.TransferJob, bool) {
	job, ok := h.ownedJob(w, r, "jobId")
	if !ok {
		return nil, false
	}
	if job.Direction != want {
		writeError(w, r, verrors.InvalidArgument("job %s is not a %s job", job.ID, want.WireName()))
		return nil, false
	}
	running, err := h.proc.ModifyState(r.Context(), job, types.StateRun)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return running, true
}

// getData streams the target of a pullFromVoSpace job.
func (h *Handler) getData(w http.ResponseWriter, r *http.Request) {
	job, ok := h.startJob(w, r, types.DirectionPullFromStore)
	if !ok {
		return
	}
	ctx := r.Context()

	src, err := transfer.OpenSource(ctx, h.nodes, job.Owner, job.Target.Path)
	if err != nil {
		_, err = h.proc.Fail(ctx, job, err)
		writeError(w, r, err)
		return
	}
	defer src.Close()

	w.Header().Set("Content-Type", src.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", src.Filename))
	if src.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(src.Size, 10))
	}
	n, err := utils.CopyPooled(w, src)
	if err != nil {
		// headers are gone; the client sees a truncated body
		_, _ = h.proc.Fail(ctx, job, verrors.Internal(err, "send %s", job.Target.Path))
		return
	}
	if _, err := h.proc.ModifyState(context.WithoutCancel(ctx), job, types.StateCompleted); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("job_id", job.ID.String()).Msg("could not complete job")
		return
	}
	transfer.BytesTransferredTotal.WithLabelValues(string(job.Direction)).Add(float64(n))
	logger.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("path", job.Target.Path.String()).
		Str("bytes", humanize.Bytes(uint64(n))).
		Msg("data sent")
}

// putData stores the request body as the target of a pushToVoSpace job.
func (h *Handler) putData(w http.ResponseWriter, r *http.Request) {
	job, ok := h.startJob(w, r, types.DirectionPushToStore)
	if !ok {
		return
	}
	ctx := r.Context()

	size := r.ContentLength
	if size < 0 {
		size = -1
	}
	info, err := transfer.StoreInto(ctx, h.nodes, job.Owner, job.Target.Path, r.Body, size, r.Header.Get("Content-Type"))
	if err != nil {
		_, err = h.proc.Fail(ctx, job, err)
		writeError(w, r, err)
		return
	}
	if _, err := h.proc.ModifyState(context.WithoutCancel(ctx), job, types.StateCompleted); err != nil {
		writeError(w, r, err)
		return
	}
	transfer.BytesTransferredTotal.WithLabelValues(string(job.Direction)).Add(float64(info.Size))
	logger.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("path", job.Target.Path.String()).
		Str("bytes", humanize.Bytes(uint64(info.Size))).
		Msg("data received")
	w.WriteHeader(http.StatusOK)
}

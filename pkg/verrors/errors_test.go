// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package verrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeNone},
		{"plain", errors.New("disk on fire"), CodeInternalError},
		{"not found", NotFound("node %s", "/a"), CodeNotFound},
		{"wrapped", fmt.Errorf("lookup: %w", PermissionDenied("owner mismatch")), CodePermissionDenied},
		{"direction", UnsupportedDirection("LOCAL"), CodeUnsupportedDirection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestErrorsIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFound("container not found"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrPermissionDenied))
	assert.True(t, IsNotFound(err))
	assert.True(t, Is(err, CodeNotFound))
	assert.False(t, Is(nil, CodeNone))
}

func TestInternalUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause, "write %s", "key")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "write key: connection reset", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, CodeInvalidPath.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, CodeNotFound.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, CodePermissionDenied.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, CodeInternalError.HTTPStatus())
	assert.Equal(t, "UnsupportedDirection", CodeUnsupportedDirection.String())
}

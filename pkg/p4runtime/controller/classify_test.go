// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func writeError(t *testing.T, details ...code.Code) error {
	t.Helper()
	st := status.New(codes.Unknown, "one or more updates failed")
	for _, c := range details {
		var err error
		st, err = st.WithDetails(&p4_v1.Error{CanonicalCode: int32(c), Message: c.String()})
		require.NoError(t, err)
	}
	return st.Err()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  Status
		wantErr     error
		wantRetry   bool
		wantSession bool
	}{
		{
			name:       "duplicate key",
			err:        status.Error(codes.AlreadyExists, "exists"),
			wantStatus: AlreadyExists,
		},
		{
			name:       "duplicate key in write details",
			err:        writeError(t, code.Code_ALREADY_EXISTS),
			wantStatus: AlreadyExists,
		},
		{
			name:       "first failed update decides",
			err:        writeError(t, code.Code_OK, code.Code_OUT_OF_RANGE, code.Code_NOT_FOUND),
			wantStatus: Failed,
			wantErr:    ErrValueOutOfRange,
		},
		{
			name:       "unknown table",
			err:        status.Error(codes.NotFound, "unknown table id 42"),
			wantStatus: Failed,
			wantErr:    ErrSchemaMismatch,
		},
		{
			name:       "unknown field id",
			err:        status.Error(codes.InvalidArgument, "unknown match field id 3"),
			wantStatus: Failed,
			wantErr:    ErrSchemaMismatch,
		},
		{
			name:       "other invalid argument",
			err:        status.Error(codes.InvalidArgument, "priority must be zero"),
			wantStatus: Failed,
			wantErr:    ErrRejected,
		},
		{
			name:       "deadline from the server",
			err:        status.Error(codes.DeadlineExceeded, "deadline"),
			wantStatus: Failed,
			wantErr:    ErrTimeout,
			wantRetry:  true,
		},
		{
			name:       "deadline from the context",
			err:        fmt.Errorf("write: %w", context.DeadlineExceeded),
			wantStatus: Failed,
			wantErr:    ErrTimeout,
			wantRetry:  true,
		},
		{
			name:        "link down",
			err:         status.Error(codes.Unavailable, "connection refused"),
			wantStatus:  Failed,
			wantErr:     ErrChannel,
			wantRetry:   true,
			wantSession: true,
		},
		{
			name:        "lost mastership",
			err:         status.Error(codes.PermissionDenied, "not primary"),
			wantStatus:  Failed,
			wantErr:     ErrChannel,
			wantSession: true,
		},
		{
			name:        "caller cancelled",
			err:         context.Canceled,
			wantStatus:  Failed,
			wantErr:     ErrChannel,
			wantSession: true,
		},
		{
			name:       "busy target",
			err:        status.Error(codes.ResourceExhausted, "table full"),
			wantStatus: Failed,
			wantErr:    ErrRejected,
			wantRetry:  true,
		},
		{
			name:       "plain error",
			err:        errors.New("boom"),
			wantStatus: Failed,
			wantErr:    ErrRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.wantStatus, got.status)
			if tt.wantErr == nil {
				assert.NoError(t, got.err)
			} else {
				assert.ErrorIs(t, got.err, tt.wantErr)
			}
			assert.Equal(t, tt.wantRetry, got.retry)
			assert.Equal(t, tt.wantSession, got.session)
		})
	}
}

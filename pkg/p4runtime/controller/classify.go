// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// outcome is the classification of one failed write attempt
type outcome struct {
	status Status
	err    error
	// retry marks transient errors worth another attempt
	retry bool
	// session marks errors that make the rest of the batch pointless
	session bool
}

// classify maps a write error to a result. A P4Runtime write that fails
// carries one p4.v1.Error per update; the first non OK one decides.
func classify(err error) outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return outcome{status: Failed, err: fmt.Errorf("%w: %v", ErrTimeout, err), retry: true}
	}
	if errors.Is(err, context.Canceled) {
		return outcome{status: Failed, err: fmt.Errorf("%w: %v", ErrChannel, err), session: true}
	}

	st := status.Convert(err)
	c, msg := st.Code(), st.Message()
	for _, d := range st.Details() {
		if p4Err, ok := d.(*p4_v1.Error); ok && codes.Code(p4Err.GetCanonicalCode()) != codes.OK {
			c, msg = codes.Code(p4Err.GetCanonicalCode()), p4Err.GetMessage()
			break
		}
	}

	switch c {
	case codes.AlreadyExists:
		return outcome{status: AlreadyExists}
	case codes.NotFound:
		return outcome{status: Failed, err: fmt.Errorf("%w: %s", ErrSchemaMismatch, msg)}
	case codes.InvalidArgument:
		if strings.Contains(strings.ToLower(msg), "unknown") {
			return outcome{status: Failed, err: fmt.Errorf("%w: %s", ErrSchemaMismatch, msg)}
		}
		return outcome{status: Failed, err: fmt.Errorf("%w: %s", ErrRejected, msg)}
	case codes.OutOfRange:
		return outcome{status: Failed, err: fmt.Errorf("%w: %s", ErrValueOutOfRange, msg)}
	case codes.DeadlineExceeded:
		return outcome{status: Failed, err: fmt.Errorf("%w: %s", ErrTimeout, msg), retry: true}
	case codes.Unavailable:
		return outcome{status: Failed, err: fmt.Errorf("%w: %s", ErrChannel, msg), retry: true, session: true}
	case codes.Unauthenticated, codes.PermissionDenied, codes.Canceled:
		return outcome{status: Failed, err: fmt.Errorf("%w: %s", ErrChannel, msg), session: true}
	case codes.Aborted, codes.ResourceExhausted:
		return outcome{status: Failed, err: fmt.Errorf("%w: %s: %s", ErrRejected, c, msg), retry: true}
	default:
		return outcome{status: Failed, err: fmt.Errorf("%w: %s: %s", ErrRejected, c, msg)}
	}
}

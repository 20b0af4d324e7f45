// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package p4rtsim

import (
	"context"
	"net"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// Address is the target to dial together with Server.DialOption
const Address = "passthrough:///p4rtsim"

// Server serves a Switch over an in-memory gRPC listener
type Server struct {
	Switch   *Switch
	listener *bufconn.Listener
	grpc     *grpc.Server
}

// Serve starts serving sw and returns once the server goroutine is running
func Serve(sw *Switch) *Server {
	s := &Server{
		Switch:   sw,
		listener: bufconn.Listen(bufSize),
		grpc:     grpc.NewServer(),
	}
	p4_v1.RegisterP4RuntimeServer(s.grpc, sw)
	go func() {
		if err := s.grpc.Serve(s.listener); err != nil {
			sw.log.Debugf("simulator stopped serving: %v", err)
		}
	}()
	return s
}

// DialOption routes connections for Address to the in-memory listener
func (s *Server) DialOption() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return s.listener.DialContext(ctx)
	})
}

// Stop closes every open stream and connection
func (s *Server) Stop() {
	s.grpc.Stop()
}

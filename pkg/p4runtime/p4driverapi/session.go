// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

// Package p4driverapi opens P4Runtime sessions to switches: it dials the
// device, wins mastership arbitration, optionally pushes the forwarding
// pipeline and exposes the table schema of the loaded program.
package p4driverapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antoninbas/p4runtime-go-client/pkg/client"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	logr "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/schema"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/utils"
)

const (
	defaultDeviceID           = 1
	defaultArbitrationTimeout = 5 * time.Second
)

// ErrNotPrimary is returned when mastership arbitration is not won in time
var ErrNotPrimary = errors.New("not the primary client")

// SwitchTarget identifies one P4Runtime device and the controller's place in
// its arbitration.
type SwitchTarget struct {
	Name       string
	Address    string
	DeviceID   uint64
	ElectionID *p4_v1.Uint128
	Role       string
	P4InfoFile string
	BinFile    string
}

func (t SwitchTarget) String() string {
	return fmt.Sprintf("%s(%s#%d)", t.Name, t.Address, t.DeviceID)
}

type options struct {
	arbitrationTimeout time.Duration
	dialOptions        []grpc.DialOption
}

// Option customizes Dial
type Option func(*options)

// WithArbitrationTimeout bounds the wait for mastership
func WithArbitrationTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.arbitrationTimeout = d
		}
	}
}

// WithDialOptions appends gRPC dial options, for example a custom dialer
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) {
		o.dialOptions = append(o.dialOptions, opts...)
	}
}

// Session is an established primary P4Runtime session to one device
type Session struct {
	Target SwitchTarget

	conn      *grpc.ClientConn
	p4rt      *client.Client
	schema    *schema.Schema
	stopCh    chan struct{}
	primary   atomic.Bool
	closeOnce sync.Once
	log       *logr.Entry
}

// Dial connects to target and returns once this client is primary and the
// pipeline schema is known. The caller owns the session and must Close it.
func Dial(ctx context.Context, target SwitchTarget, opts ...Option) (*Session, error) {
	o := &options{arbitrationTimeout: defaultArbitrationTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if target.BinFile != "" && target.P4InfoFile == "" {
		return nil, fmt.Errorf("target %s: a device config needs a p4info file", target.Name)
	}
	if target.DeviceID == 0 {
		target.DeviceID = defaultDeviceID
	}
	if target.ElectionID == nil {
		target.ElectionID = &p4_v1.Uint128{High: 0, Low: 1}
	}
	entry := logr.WithField("target", target.Name)

	grpcLogger := utils.InterceptorLogger(entry)
	dialOptions := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		// unary only: the stream channel sends and receives concurrently
		grpc.WithChainUnaryInterceptor(logging.UnaryClientInterceptor(grpcLogger)),
	}, o.dialOptions...)
	conn, err := grpc.NewClient(target.Address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dialing %v: %w", target, err)
	}

	s := &Session{
		Target: target,
		conn:   conn,
		stopCh: make(chan struct{}),
		log:    entry,
	}
	if err := s.start(ctx, o.arbitrationTimeout); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) start(ctx context.Context, arbitrationTimeout time.Duration) error {
	c := p4_v1.NewP4RuntimeClient(s.conn)
	resp, err := c.Capabilities(ctx, &p4_v1.CapabilitiesRequest{})
	if err != nil {
		return fmt.Errorf("capabilities RPC to %v: %w", s.Target, err)
	}
	s.log.Infof("P4Runtime server version is %s", resp.GetP4RuntimeApiVersion())

	if s.Target.Role != "" {
		s.log.Infof("arbitrating for role %q", s.Target.Role)
		s.p4rt = client.NewClientForRole(c, s.Target.DeviceID, s.Target.ElectionID, &p4_v1.Role{Name: s.Target.Role})
	} else {
		s.p4rt = client.NewClient(c, s.Target.DeviceID, s.Target.ElectionID)
	}
	arbitrationCh := make(chan bool)
	runErr := make(chan error, 1)
	go func() {
		runErr <- s.p4rt.Run(s.stopCh, arbitrationCh, nil)
	}()

	waitCh := make(chan struct{}, 1)
	go func() {
		sent := false
		for {
			select {
			case <-s.stopCh:
				return
			case isPrimary := <-arbitrationCh:
				s.primary.Store(isPrimary)
				if !isPrimary {
					s.log.Info("We are not the primary client!")
					continue
				}
				s.log.Info("We are the primary client!")
				if !sent {
					waitCh <- struct{}{}
					sent = true
				}
			}
		}
	}()

	arbCtx, cancel := context.WithTimeout(ctx, arbitrationTimeout)
	defer cancel()
	select {
	case <-arbCtx.Done():
		return fmt.Errorf("%w: %v within %v", ErrNotPrimary, s.Target, arbitrationTimeout)
	case err := <-runErr:
		return fmt.Errorf("stream channel to %v: %w", s.Target, err)
	case <-waitCh:
	}

	if s.Target.BinFile != "" {
		s.log.Info("Setting forwarding pipe")
		if _, err := s.p4rt.SetFwdPipe(ctx, s.Target.BinFile, s.Target.P4InfoFile, 0); err != nil {
			return fmt.Errorf("setting forwarding pipe on %v: %w", s.Target, err)
		}
	}

	if s.Target.P4InfoFile != "" {
		s.schema, err = schema.Load(s.Target.P4InfoFile)
		return err
	}
	cfg, err := c.GetForwardingPipelineConfig(ctx, &p4_v1.GetForwardingPipelineConfigRequest{
		DeviceId:     s.Target.DeviceID,
		ResponseType: p4_v1.GetForwardingPipelineConfigRequest_P4INFO_AND_COOKIE,
	})
	if err != nil {
		return fmt.Errorf("reading pipeline of %v: %w", s.Target, err)
	}
	s.schema = schema.FromP4Info(cfg.GetConfig().GetP4Info())
	return nil
}

// InsertTableEntry issues a single INSERT write for entry
func (s *Session) InsertTableEntry(ctx context.Context, entry *p4_v1.TableEntry) error {
	return s.p4rt.InsertTableEntry(ctx, entry)
}

// Schema describes the program loaded on the device
func (s *Session) Schema() *schema.Schema {
	return s.schema
}

// IsPrimary reports the last arbitration outcome seen on the stream
func (s *Session) IsPrimary() bool {
	return s.primary.Load()
}

// Close stops the stream channel and closes the connection
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		if err := s.conn.Close(); err != nil {
			s.log.Warnf("closing connection: %v", err)
		}
	})
}

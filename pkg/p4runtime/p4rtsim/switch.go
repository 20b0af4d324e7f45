// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

// Package p4rtsim implements an in-memory P4Runtime switch. It keeps table
// entries per loaded pipeline and answers writes the way a P4Runtime agent
// does, which makes it usable as a fixture for controller tests.
package p4rtsim

import (
	"context"
	_ "embed" // p4info of the built-in pipeline
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	log "github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/code"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	protov2 "google.golang.org/protobuf/proto"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/codec"
)

//go:embed ingress_pipe.p4info.txt
var ingressPipeP4Info string

// IngressPipeP4Info returns the P4Info of the single switch pipeline used by
// the simple four host topology: an ARP responder table and an L2 exact table.
func IngressPipeP4Info() *p4_config_v1.P4Info {
	p4Info := &p4_config_v1.P4Info{}
	if err := proto.UnmarshalText(ingressPipeP4Info, p4Info); err != nil {
		panic(fmt.Sprintf("p4rtsim: built-in p4info does not parse: %v", err))
	}
	return p4Info
}

// Switch is a simulated P4Runtime device
type Switch struct {
	p4_v1.UnimplementedP4RuntimeServer

	deviceID uint64
	log      *log.Entry

	lock       sync.Mutex
	p4Info     *p4_config_v1.P4Info
	cookie     uint64
	primary    *p4_v1.Uint128
	entries    map[string]*p4_v1.TableEntry
	writes     int
	faults     []error
	writeDelay time.Duration

	// last role named by an arbitration update and by a write
	arbitrationRole string
	writeRole       string
}

// NewSwitch creates a switch with the given device id and, when p4Info is
// not nil, that pipeline already loaded.
func NewSwitch(deviceID uint64, p4Info *p4_config_v1.P4Info) *Switch {
	return &Switch{
		deviceID: deviceID,
		p4Info:   p4Info,
		entries:  make(map[string]*p4_v1.TableEntry),
		log:      log.WithField("device", deviceID),
	}
}

// FailWrites makes the next len(errs) Write calls return those errors, in order
func (s *Switch) FailWrites(errs ...error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.faults = append(s.faults, errs...)
}

// SetWriteDelay delays every Write by d before it is processed
func (s *Switch) SetWriteDelay(d time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.writeDelay = d
}

// Writes is the number of Write calls received, including failed ones
func (s *Switch) Writes() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.writes
}

// Roles returns the role of the last arbitration update and of the last write
func (s *Switch) Roles() (arbitration, write string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.arbitrationRole, s.writeRole
}

// Entries returns the entries installed in a table, ordered by match key
func (s *Switch) Entries(tableID uint32) []*p4_v1.TableEntry {
	s.lock.Lock()
	defer s.lock.Unlock()
	var keys []string
	for key, e := range s.entries {
		if e.GetTableId() == tableID {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	entries := make([]*p4_v1.TableEntry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, s.entries[key])
	}
	return entries
}

// Capabilities reports the P4Runtime version implemented by the simulator
func (s *Switch) Capabilities(_ context.Context, _ *p4_v1.CapabilitiesRequest) (*p4_v1.CapabilitiesResponse, error) {
	return &p4_v1.CapabilitiesResponse{P4RuntimeApiVersion: "1.4.0"}, nil
}

// StreamChannel only handles mastership arbitration
func (s *Switch) StreamChannel(stream p4_v1.P4Runtime_StreamChannelServer) error {
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		arbitration := req.GetArbitration()
		if arbitration == nil {
			s.log.Debugf("ignoring stream message %T", req.GetUpdate())
			continue
		}
		if err := stream.Send(s.arbitrate(arbitration)); err != nil {
			return err
		}
	}
}

func (s *Switch) arbitrate(update *p4_v1.MasterArbitrationUpdate) *p4_v1.StreamMessageResponse {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.arbitrationRole = update.GetRole().GetName()
	electionStatus := &rpcstatus.Status{Code: int32(code.Code_OK)}
	if update.GetDeviceId() != s.deviceID {
		electionStatus.Code = int32(code.Code_NOT_FOUND)
		electionStatus.Message = fmt.Sprintf("unknown device %d", update.GetDeviceId())
	} else if s.primary == nil || !higherElection(s.primary, update.GetElectionId()) {
		s.primary = update.GetElectionId()
		s.log.Infof("primary controller elected with id %v", s.primary)
	} else {
		electionStatus.Code = int32(code.Code_ALREADY_EXISTS)
		electionStatus.Message = "a controller with a higher election id is primary"
	}
	return &p4_v1.StreamMessageResponse{
		Update: &p4_v1.StreamMessageResponse_Arbitration{
			Arbitration: &p4_v1.MasterArbitrationUpdate{
				DeviceId:   update.GetDeviceId(),
				Role:       update.GetRole(),
				ElectionId: s.primary,
				Status:     electionStatus,
			},
		},
	}
}

// higherElection reports whether election id a is strictly higher than b
func higherElection(a, b *p4_v1.Uint128) bool {
	return a.GetHigh() > b.GetHigh() || (a.GetHigh() == b.GetHigh() && a.GetLow() > b.GetLow())
}

// SetForwardingPipelineConfig loads a new P4Info and drops all entries
func (s *Switch) SetForwardingPipelineConfig(_ context.Context, req *p4_v1.SetForwardingPipelineConfigRequest) (*p4_v1.SetForwardingPipelineConfigResponse, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkPrimary(req.GetDeviceId(), req.GetElectionId()); err != nil {
		return nil, err
	}
	if req.GetConfig().GetP4Info() == nil {
		return nil, status.Error(codes.InvalidArgument, "missing p4info")
	}
	s.p4Info = req.GetConfig().GetP4Info()
	s.cookie = req.GetConfig().GetCookie().GetCookie()
	s.entries = make(map[string]*p4_v1.TableEntry)
	return &p4_v1.SetForwardingPipelineConfigResponse{}, nil
}

// GetForwardingPipelineConfig returns the loaded P4Info
func (s *Switch) GetForwardingPipelineConfig(_ context.Context, req *p4_v1.GetForwardingPipelineConfigRequest) (*p4_v1.GetForwardingPipelineConfigResponse, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if req.GetDeviceId() != s.deviceID {
		return nil, status.Errorf(codes.NotFound, "unknown device %d", req.GetDeviceId())
	}
	if s.p4Info == nil {
		return nil, status.Error(codes.FailedPrecondition, "no forwarding pipeline loaded")
	}
	return &p4_v1.GetForwardingPipelineConfigResponse{
		Config: &p4_v1.ForwardingPipelineConfig{
			P4Info: s.p4Info,
			Cookie: &p4_v1.ForwardingPipelineConfig_Cookie{Cookie: s.cookie},
		},
	}, nil
}

// Write applies table entry updates. Failed updates are reported the
// P4Runtime way: an UNKNOWN status carrying one p4.v1.Error per update.
func (s *Switch) Write(ctx context.Context, req *p4_v1.WriteRequest) (*p4_v1.WriteResponse, error) {
	s.lock.Lock()
	s.writes++
	s.writeRole = req.GetRole()
	delay := s.writeDelay
	var fault error
	if len(s.faults) > 0 {
		fault, s.faults = s.faults[0], s.faults[1:]
	}
	s.lock.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		}
	}
	if fault != nil {
		return nil, fault
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkPrimary(req.GetDeviceId(), req.GetElectionId()); err != nil {
		return nil, err
	}
	if s.p4Info == nil {
		return nil, status.Error(codes.FailedPrecondition, "no forwarding pipeline loaded")
	}

	details := make([]*p4_v1.Error, len(req.GetUpdates()))
	failed := false
	for i, update := range req.GetUpdates() {
		err := s.apply(update)
		details[i] = &p4_v1.Error{CanonicalCode: int32(code.Code_OK)}
		if err != nil {
			failed = true
			details[i] = &p4_v1.Error{
				CanonicalCode: int32(status.Code(err)),
				Message:       status.Convert(err).Message(),
				Space:         "p4rtsim",
			}
		}
	}
	if !failed {
		return &p4_v1.WriteResponse{}, nil
	}
	st := status.New(codes.Unknown, "one or more updates failed")
	for _, d := range details {
		if withDetails, err := st.WithDetails(d); err == nil {
			st = withDetails
		}
	}
	return nil, st.Err()
}

func (s *Switch) checkPrimary(deviceID uint64, electionID *p4_v1.Uint128) error {
	if deviceID != s.deviceID {
		return status.Errorf(codes.NotFound, "unknown device %d", deviceID)
	}
	if s.primary == nil || !protov2.Equal(s.primary, electionID) {
		return status.Error(codes.PermissionDenied, "not the primary controller")
	}
	return nil
}

func (s *Switch) apply(update *p4_v1.Update) error {
	entry := update.GetEntity().GetTableEntry()
	if entry == nil {
		return status.Error(codes.Unimplemented, "only table entries are supported")
	}
	normalized, err := s.normalize(entry)
	if err != nil {
		return err
	}
	key, err := matchKey(normalized)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	_, exists := s.entries[key]
	switch update.GetType() {
	case p4_v1.Update_INSERT:
		if exists {
			return status.Error(codes.AlreadyExists, "entry with the same match key already exists")
		}
		s.entries[key] = normalized
	case p4_v1.Update_MODIFY:
		if !exists {
			return status.Error(codes.NotFound, "no entry with this match key")
		}
		s.entries[key] = normalized
	case p4_v1.Update_DELETE:
		if !exists {
			return status.Error(codes.NotFound, "no entry with this match key")
		}
		delete(s.entries, key)
	default:
		return status.Errorf(codes.InvalidArgument, "unsupported update type %v", update.GetType())
	}
	return nil
}

// normalize validates the entry against the loaded P4Info and pads every
// value to its field width so that equal keys compare equal.
func (s *Switch) normalize(entry *p4_v1.TableEntry) (*p4_v1.TableEntry, error) {
	table := s.table(entry.GetTableId())
	if table == nil {
		return nil, status.Errorf(codes.NotFound, "unknown table id %d", entry.GetTableId())
	}
	out := protov2.Clone(entry).(*p4_v1.TableEntry)
	for _, fm := range out.GetMatch() {
		var field *p4_config_v1.MatchField
		for _, mf := range table.GetMatchFields() {
			if mf.GetId() == fm.GetFieldId() {
				field = mf
			}
		}
		if field == nil {
			return nil, status.Errorf(codes.InvalidArgument, "unknown match field id %d in table %s", fm.GetFieldId(), table.GetPreamble().GetName())
		}
		width := field.GetBitwidth()
		var err error
		switch m := fm.GetFieldMatchType().(type) {
		case *p4_v1.FieldMatch_Exact_:
			m.Exact.Value, err = pad(m.Exact.GetValue(), width)
		case *p4_v1.FieldMatch_Lpm:
			m.Lpm.Value, err = pad(m.Lpm.GetValue(), width)
		case *p4_v1.FieldMatch_Ternary_:
			if m.Ternary.Value, err = pad(m.Ternary.GetValue(), width); err == nil {
				m.Ternary.Mask, err = pad(m.Ternary.GetMask(), width)
			}
		case *p4_v1.FieldMatch_Range_:
			if m.Range.Low, err = pad(m.Range.GetLow(), width); err == nil {
				m.Range.High, err = pad(m.Range.GetHigh(), width)
			}
		case *p4_v1.FieldMatch_Optional_:
			m.Optional.Value, err = pad(m.Optional.GetValue(), width)
		default:
			err = status.Errorf(codes.InvalidArgument, "unsupported match type for field %s", field.GetName())
		}
		if err != nil {
			return nil, err
		}
	}
	if action := out.GetAction().GetAction(); action != nil {
		p4Action := s.action(action.GetActionId())
		if p4Action == nil {
			return nil, status.Errorf(codes.NotFound, "unknown action id %d", action.GetActionId())
		}
		if len(action.GetParams()) != len(p4Action.GetParams()) {
			return nil, status.Errorf(codes.InvalidArgument, "action %s takes %d params, got %d",
				p4Action.GetPreamble().GetName(), len(p4Action.GetParams()), len(action.GetParams()))
		}
		for _, param := range action.GetParams() {
			var width int32
			for _, p := range p4Action.GetParams() {
				if p.GetId() == param.GetParamId() {
					width = p.GetBitwidth()
				}
			}
			if width == 0 {
				return nil, status.Errorf(codes.InvalidArgument, "unknown param id %d", param.GetParamId())
			}
			var err error
			if param.Value, err = pad(param.GetValue(), width); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func pad(b []byte, width int32) ([]byte, error) {
	if len(b) > codec.ByteWidth(width) {
		return nil, status.Errorf(codes.OutOfRange, "%d bytes for a %d bit field", len(b), width)
	}
	out, err := codec.Encode(codec.FromBytes(b), width)
	if err != nil {
		return nil, status.Error(codes.OutOfRange, err.Error())
	}
	return out, nil
}

// matchKey identifies an entry by table, priority and match fields
func matchKey(entry *p4_v1.TableEntry) (string, error) {
	key := &p4_v1.TableEntry{
		TableId:  entry.GetTableId(),
		Priority: entry.GetPriority(),
		Match:    append([]*p4_v1.FieldMatch(nil), entry.GetMatch()...),
	}
	sort.Slice(key.Match, func(i, j int) bool {
		return key.Match[i].GetFieldId() < key.Match[j].GetFieldId()
	})
	b, err := protov2.MarshalOptions{Deterministic: true}.Marshal(key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Switch) table(id uint32) *p4_config_v1.Table {
	for _, t := range s.p4Info.GetTables() {
		if t.GetPreamble().GetId() == id {
			return t
		}
	}
	return nil
}

func (s *Switch) action(id uint32) *p4_config_v1.Action {
	for _, a := range s.p4Info.GetActions() {
		if a.GetPreamble().GetId() == id {
			return a
		}
	}
	return nil
}

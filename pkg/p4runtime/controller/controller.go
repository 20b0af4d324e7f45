// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

// Package controller programs match-action tables on P4Runtime switches.
// It turns declarative table entries into encoded inserts, writes them one
// at a time per target and reports a result for every entry.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	logr "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/eventbus"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/p4driverapi"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/schema"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/taskmanager"
)

// EventBatchApplied is published with a *BatchReport after every Apply
const EventBatchApplied = "batch_applied"

const (
	defaultRequestTimeout  = 5 * time.Second
	defaultMaxAttempts     = 3
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// ErrUnknownTarget is returned by Apply for a target that is neither
// attached nor configured
var ErrUnknownTarget = errors.New("unknown target")

var errClosed = errors.New("controller closed")

// Channel is the write side of a P4Runtime session
type Channel interface {
	InsertTableEntry(ctx context.Context, entry *p4_v1.TableEntry) error
}

// Dialer opens a session to a configured target
type Dialer func(ctx context.Context, target p4driverapi.SwitchTarget) (*p4driverapi.Session, error)

// RetryPolicy bounds the attempts made for a transient failure
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Option configures a Controller
type Option func(*Controller)

// WithTargets makes targets known by name so that Apply can open them
func WithTargets(targets ...p4driverapi.SwitchTarget) Option {
	return func(c *Controller) {
		for _, t := range targets {
			c.targets[t.Name] = t
		}
	}
}

// WithDialer replaces the function used to open configured targets
func WithDialer(d Dialer) Option {
	return func(c *Controller) {
		c.dialer = d
	}
}

// WithRequestTimeout bounds every single write request
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithRetryPolicy sets the retry policy for transient failures
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Controller) {
		if p.MaxAttempts > 0 {
			c.retry.MaxAttempts = p.MaxAttempts
		}
		if p.InitialInterval > 0 {
			c.retry.InitialInterval = p.InitialInterval
		}
		if p.MaxInterval > 0 {
			c.retry.MaxInterval = p.MaxInterval
		}
	}
}

// WithEventBus publishes a BatchReport on bus after every Apply
func WithEventBus(bus *eventbus.EventBus) Option {
	return func(c *Controller) {
		c.bus = bus
	}
}

// targetSession serialises the writes made to one target
type targetSession struct {
	lock    sync.Mutex
	channel Channel
	schema  *schema.Schema
	// closer is set for sessions the controller opened itself
	closer func()
}

// pendingDial is the session being opened for one target. Callers asking for
// the same target wait on done instead of dialing again.
type pendingDial struct {
	done chan struct{}
	ts   *targetSession
	err  error
}

// Controller writes table entries to any number of targets
type Controller struct {
	lock     sync.Mutex
	targets  map[string]p4driverapi.SwitchTarget
	sessions map[string]*targetSession
	dialing  map[string]*pendingDial
	closed   bool

	dialer         Dialer
	requestTimeout time.Duration
	retry          RetryPolicy
	bus            *eventbus.EventBus
	tasks          *taskmanager.TaskManager
	tracer         trace.Tracer
	log            *logr.Entry
}

// New creates a controller without any session
func New(opts ...Option) *Controller {
	c := &Controller{
		targets:  make(map[string]p4driverapi.SwitchTarget),
		sessions: make(map[string]*targetSession),
		dialing:  make(map[string]*pendingDial),
		dialer: func(ctx context.Context, target p4driverapi.SwitchTarget) (*p4driverapi.Session, error) {
			return p4driverapi.Dial(ctx, target)
		},
		requestTimeout: defaultRequestTimeout,
		retry: RetryPolicy{
			MaxAttempts:     defaultMaxAttempts,
			InitialInterval: defaultInitialInterval,
			MaxInterval:     defaultMaxInterval,
		},
		tasks:  taskmanager.NewTaskManager(),
		tracer: otel.Tracer("github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/controller"),
		log:    logr.WithField("component", "controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach registers a session owned by the caller under target. The
// controller writes through ch using s and never closes it.
func (c *Controller) Attach(target string, ch Channel, s *schema.Schema) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.sessions[target] = &targetSession{channel: ch, schema: s}
}

// Open dials target and keeps the session until Close
func (c *Controller) Open(ctx context.Context, target p4driverapi.SwitchTarget) error {
	c.lock.Lock()
	c.targets[target.Name] = target
	c.lock.Unlock()
	_, err := c.session(ctx, target.Name)
	return err
}

// session returns the open session of name, dialing it when needed. The
// dial runs without c.lock so that other targets stay usable meanwhile.
func (c *Controller) session(ctx context.Context, name string) (*targetSession, error) {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil, errClosed
	}
	if ts, ok := c.sessions[name]; ok {
		c.lock.Unlock()
		return ts, nil
	}
	if p, ok := c.dialing[name]; ok {
		c.lock.Unlock()
		select {
		case <-p.done:
			return p.ts, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	target, ok := c.targets[name]
	if !ok {
		c.lock.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
	}
	p := &pendingDial{done: make(chan struct{})}
	c.dialing[name] = p
	c.lock.Unlock()

	s, err := c.dialer(ctx, target)

	c.lock.Lock()
	delete(c.dialing, name)
	switch {
	case err != nil:
		p.err = fmt.Errorf("opening session to %v: %w", target, err)
	case c.closed:
		s.Close()
		p.err = errClosed
	default:
		p.ts = &targetSession{channel: s, schema: s.Schema(), closer: s.Close}
		c.sessions[name] = p.ts
		c.log.WithField("target", name).Info("session opened")
	}
	c.lock.Unlock()
	close(p.done)
	return p.ts, p.err
}

// Close closes the sessions opened by the controller and forgets attached ones
func (c *Controller) Close() {
	c.tasks.Close()
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
	for name, ts := range c.sessions {
		if ts.closer != nil {
			ts.closer()
			c.log.WithField("target", name).Info("session closed")
		}
		delete(c.sessions, name)
	}
}

// Apply inserts entries on target in input order and returns one result per
// entry at the same position. The error is set only when no session to the
// target can be established.
func (c *Controller) Apply(ctx context.Context, target string, entries []TableEntry) ([]WriteResult, error) {
	if len(entries) == 0 {
		return []WriteResult{}, nil
	}
	ts, err := c.session(ctx, target)
	if err != nil {
		return nil, err
	}

	ts.lock.Lock()
	defer ts.lock.Unlock()

	report := &BatchReport{
		BatchID: uuid.NewString(),
		Target:  target,
		Started: time.Now(),
		Entries: entries,
	}
	entry := c.log.WithFields(logr.Fields{"target": target, "batch": report.BatchID})
	ctx, span := c.tracer.Start(ctx, "Apply", trace.WithAttributes(
		attribute.String("target", target),
		attribute.String("batch", report.BatchID),
		attribute.Int("entries", len(entries)),
	))
	defer span.End()

	results := make([]WriteResult, len(entries))
	var aborted error
	for i, e := range entries {
		if aborted != nil {
			results[i] = WriteResult{Status: Failed, Err: fmt.Errorf("%w: batch aborted: %v", ErrChannel, aborted)}
			continue
		}
		wire, err := BuildEntry(ts.schema, e)
		if err != nil {
			results[i] = WriteResult{Status: Failed, Err: err}
		} else {
			var o outcome
			results[i], o = c.insert(ctx, ts.channel, e, wire)
			if o.session {
				aborted = o.err
				entry.Warnf("aborting batch after entry %d: %v", i, o.err)
			}
		}
		entry.WithField("table", e.Table).Debugf("entry %d: %v", i, results[i])
	}

	report.Results = results
	report.Duration = time.Since(report.Started)
	summary := report.Summary()
	span.SetAttributes(
		attribute.Int("inserted", summary.Inserted),
		attribute.Int("alreadyexists", summary.AlreadyExists),
		attribute.Int("failed", summary.Failed),
	)
	if aborted != nil {
		span.SetStatus(otelcodes.Error, aborted.Error())
	}
	entry.Infof("batch applied in %v: %d inserted, %d already existed, %d failed",
		report.Duration, summary.Inserted, summary.AlreadyExists, summary.Failed)
	c.publish(ctx, report)
	return results, nil
}

// insert writes one entry, retrying transient failures with exponential backoff
func (c *Controller) insert(ctx context.Context, ch Channel, e TableEntry, wire *p4_v1.TableEntry) (WriteResult, outcome) {
	ctx, span := c.tracer.Start(ctx, "InsertTableEntry", trace.WithAttributes(
		attribute.String("table", e.Table),
		attribute.String("action", e.Action),
	))
	defer span.End()

	var last outcome
	attempts := 0
	op := func() error {
		attempts++
		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		err := ch.InsertTableEntry(reqCtx, wire)
		if err == nil {
			last = outcome{status: Inserted}
			return nil
		}
		if ctx.Err() != nil {
			last = outcome{status: Failed, err: fmt.Errorf("%w: %v", ErrChannel, ctx.Err()), session: true}
			return backoff.Permanent(err)
		}
		last = classify(err)
		if last.retry {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		c.log.WithField("table", e.Table).Debugf("attempt %d failed, retrying in %v: %v", attempts, wait, err)
	}
	if err := backoff.RetryNotify(op, c.retry.backOff(ctx), notify); err != nil && ctx.Err() != nil && last.retry {
		// the caller gave up while waiting between attempts
		last = outcome{status: Failed, err: fmt.Errorf("%w: %v", ErrChannel, ctx.Err()), session: true}
	}

	span.SetAttributes(attribute.Int("attempts", attempts), attribute.String("result", last.status.String()))
	if last.err != nil {
		span.SetStatus(otelcodes.Error, last.err.Error())
	}
	return WriteResult{Status: last.status, Err: last.err, Attempts: attempts}, last
}

func (c *Controller) publish(ctx context.Context, report *BatchReport) {
	if c.bus == nil {
		return
	}
	// a cancelled caller still gets its batch journaled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout)
	defer cancel()
	if err := c.bus.Notify(ctx, EventBatchApplied, report); err != nil {
		c.log.WithField("batch", report.BatchID).Warnf("publishing batch report: %v", err)
	}
}

// ApplyAll applies every batch. Batches for different targets run in
// parallel, batches for the same target run one after the other in input
// order. Results are aligned with batches.
func (c *Controller) ApplyAll(ctx context.Context, batches []Batch) []BatchResult {
	out := make([]BatchResult, len(batches))
	tasks := make([]*taskmanager.Task, 0, len(batches))
	for i, b := range batches {
		i, b := i, b
		out[i].Target = b.Target
		task, err := c.tasks.CreateTask(b.Target, func() {
			out[i].Results, out[i].Err = c.Apply(ctx, b.Target, b.Entries)
		})
		if err != nil {
			out[i].Err = err
			continue
		}
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		task.Wait()
	}
	return out
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

// Package journal keeps the last batch report of every target in storage
package journal

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/eventbus"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/controller"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/storage"
)

const moduleName = "journal"

// ErrNotFound is returned by Last when nothing was recorded for a target
var ErrNotFound = errors.New("no batch recorded")

// EntryRecord is the stored outcome of one entry
type EntryRecord struct {
	Entry    string `json:"entry" yaml:"entry"`
	Status   string `json:"status" yaml:"status"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
	Attempts int    `json:"attempts" yaml:"attempts"`
}

// Record is the stored form of a controller.BatchReport
type Record struct {
	BatchID  string             `json:"batchid" yaml:"batchid"`
	Target   string             `json:"target" yaml:"target"`
	Started  time.Time          `json:"started" yaml:"started"`
	Duration string             `json:"duration" yaml:"duration"`
	Summary  controller.Summary `json:"summary" yaml:"summary"`
	Entries  []EntryRecord      `json:"entries" yaml:"entries"`
}

// NewRecord flattens report into a Record
func NewRecord(report *controller.BatchReport) Record {
	r := Record{
		BatchID:  report.BatchID,
		Target:   report.Target,
		Started:  report.Started,
		Duration: report.Duration.String(),
		Summary:  report.Summary(),
		Entries:  make([]EntryRecord, len(report.Results)),
	}
	for i, res := range report.Results {
		er := EntryRecord{Status: res.Status.String(), Attempts: res.Attempts}
		if i < len(report.Entries) {
			er.Entry = report.Entries[i].String()
		}
		if res.Err != nil {
			er.Error = res.Err.Error()
		}
		r.Entries[i] = er
	}
	return r
}

// Journal stores batch reports
type Journal struct {
	store *storage.Storage
}

// New creates a journal writing into store
func New(store *storage.Storage) *Journal {
	return &Journal{store: store}
}

// Start subscribes the journal to the batch reports published on bus
func (j *Journal) Start(bus *eventbus.EventBus, priority int) *eventbus.Subscriber {
	return bus.StartSubscriber(moduleName, controller.EventBatchApplied, priority, j)
}

// HandleEvent records the report carried by a batch_applied event
func (j *Journal) HandleEvent(eventType string, event *eventbus.Event) error {
	report, ok := event.Payload.(*controller.BatchReport)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", eventType, event.Payload)
	}
	return j.Record(report)
}

// Record replaces the last report stored for the report's target
func (j *Journal) Record(report *controller.BatchReport) error {
	if err := j.store.Set(key(report.Target), NewRecord(report)); err != nil {
		return fmt.Errorf("recording batch %s: %w", report.BatchID, err)
	}
	log.WithFields(log.Fields{"target": report.Target, "batch": report.BatchID}).Debug("batch recorded")
	return nil
}

// Last returns the last report recorded for target
func (j *Journal) Last(target string) (*Record, error) {
	var r Record
	found, err := j.store.Get(key(target), &r)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w for target %q", ErrNotFound, target)
	}
	return &r, nil
}

// Clear forgets the report recorded for target
func (j *Journal) Clear(target string) error {
	if err := j.store.Delete(key(target)); err != nil {
		return fmt.Errorf("clearing %s: %w", target, err)
	}
	return nil
}

func key(target string) string {
	return "report/" + target
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

// Package taskmanager runs tasks on keyed queues. Tasks sharing a key run one
// at a time in submission order, tasks with different keys run in parallel.
package taskmanager

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned when creating a task on a closed manager
var ErrClosed = errors.New("task manager is closed")

// TaskManager owns one queue and one worker per key
type TaskManager struct {
	lock    sync.Mutex
	queues  map[string]*TaskQueue
	closed  bool
	workers sync.WaitGroup
	log     *log.Entry
}

// Task is one unit of work bound to a key
type Task struct {
	ID   string
	Key  string
	run  func()
	done chan struct{}
}

// NewTaskManager creates a manager without any queue; queues are created on
// first use of a key.
func NewTaskManager() *TaskManager {
	return &TaskManager{
		queues: make(map[string]*TaskQueue),
		log:    log.WithField("component", "taskmanager"),
	}
}

// CreateTask queues run behind the earlier tasks of key
func (t *TaskManager) CreateTask(key string, run func()) (*Task, error) {
	task := &Task{
		ID:   uuid.NewString(),
		Key:  key,
		run:  run,
		done: make(chan struct{}),
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	q, ok := t.queues[key]
	if !ok {
		q = NewTaskQueue()
		t.queues[key] = q
		t.workers.Add(1)
		go t.processTasks(key, q)
	}
	// enqueue under the lock so that tasks of a key keep submission order
	q.Enqueue(task)
	t.log.Debugf("CreateTask(): task %s queued for %s", task.ID, key)
	return task, nil
}

// Done is closed once the task has run
func (task *Task) Done() <-chan struct{} {
	return task.done
}

// Wait blocks until the task has run
func (task *Task) Wait() {
	<-task.done
}

// Close lets the queued tasks finish and stops every worker
func (t *TaskManager) Close() {
	t.lock.Lock()
	if !t.closed {
		t.closed = true
		for _, q := range t.queues {
			q.Close()
		}
	}
	t.lock.Unlock()
	t.workers.Wait()
}

func (t *TaskManager) processTasks(key string, q *TaskQueue) {
	defer t.workers.Done()
	for {
		task, ok := q.Dequeue()
		if !ok {
			t.log.Debugf("processTasks(): queue %s closed", key)
			return
		}
		t.runTask(task)
	}
}

func (t *TaskManager) runTask(task *Task) {
	defer close(task.done)
	defer func() {
		if r := recover(); r != nil {
			t.log.Errorf("processTasks(): task %s of %s panicked: %v", task.ID, task.Key, r)
		}
	}()
	task.run()
}

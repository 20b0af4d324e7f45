// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package taskmanager

const queueSize = 200

// TaskQueue is a FIFO of tasks
type TaskQueue struct {
	channel chan *Task
}

// NewTaskQueue creates an empty queue
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		channel: make(chan *Task, queueSize),
	}
}

// Enqueue blocks while the queue is full
func (q *TaskQueue) Enqueue(task *Task) {
	q.channel <- task
}

// Dequeue returns false once the queue is closed and drained
func (q *TaskQueue) Dequeue() (*Task, bool) {
	task, ok := <-q.channel
	return task, ok
}

// Close stops accepting tasks
func (q *TaskQueue) Close() {
	close(q.channel)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobqueue holds jobs accepted from the control plane until a
// slot frees up. Jobs leave in arrival order; the Priority field is
// carried but never consulted.
//
// A Queue is owned by the agent control loop and is not safe for
// concurrent use.
package jobqueue

import (
	"slices"

	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

// Queue is a FIFO of jobs paired with an id lookup. A job id is present
// at most once.
type Queue struct {
	order  []schema.Job
	lookup map[string]schema.Job
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{lookup: make(map[string]schema.Job)}
}

// Enqueue appends job unless its id is already queued. It reports
// whether the job was added; the caller acknowledges exactly the jobs
// for which this returns true.
func (q *Queue) Enqueue(job schema.Job) bool {
	if _, exists := q.lookup[job.ID]; exists {
		return false
	}
	q.lookup[job.ID] = job
	q.order = append(q.order, job)
	return true
}

// Cancel removes a queued job. It reports whether the job was queued.
// A job that already left the queue is unaffected: its process keeps
// running until it exits on its own.
func (q *Queue) Cancel(id string) bool {
	if _, exists := q.lookup[id]; !exists {
		return false
	}
	delete(q.lookup, id)
	q.order = slices.DeleteFunc(q.order, func(job schema.Job) bool {
		return job.ID == id
	})
	return true
}

// DequeueIfCapacity removes and returns the head of the queue when
// running < maxParallel. The job is dropped from the lookup before it
// is returned, so it is no longer queued by the time it is spawned.
func (q *Queue) DequeueIfCapacity(running, maxParallel int) (schema.Job, bool) {
	if running >= maxParallel || len(q.order) == 0 {
		return schema.Job{}, false
	}
	job := q.order[0]
	q.order[0] = schema.Job{}
	q.order = q.order[1:]
	delete(q.lookup, job.ID)
	return job, true
}

// Forget drops id from the lookup without touching the order. It is a
// no-op for ids that are not present, which is the common case for
// jobs that finished after being dequeued.
func (q *Queue) Forget(id string) {
	if _, exists := q.lookup[id]; !exists {
		return
	}
	q.Cancel(id)
}

// Contains reports whether id is queued.
func (q *Queue) Contains(id string) bool {
	_, exists := q.lookup[id]
	return exists
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.order)
}

// IDs returns the queued job ids in dequeue order.
func (q *Queue) IDs() []string {
	ids := make([]string, len(q.order))
	for i, job := range q.order {
		ids[i] = job.ID
	}
	return ids
}

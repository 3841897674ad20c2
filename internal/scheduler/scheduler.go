// Package scheduler implements the transaction-scoped job queue from spec
// §4.J: jobs are keyed by (contextId, owner), carry a set of owner
// dependencies, and run at most once per context in dependency order. A
// nil contextId means "run synchronously, right now" — the path taken by
// every synchronous-source live-query collection and effect.
package scheduler

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var schedulerMetrics struct {
	contextsQueued metric.Int64UpDownCounter
}

func init() {
	m := otel.Meter("github.com/relaydb/relaydb/internal/scheduler")
	schedulerMetrics.contextsQueued, _ = m.Int64UpDownCounter("relaydb.scheduler.contexts_queued",
		metric.WithDescription("Transaction contexts currently holding unrun jobs"),
		metric.WithUnit("{context}"),
	)
}

// Owner identifies a schedulable unit — in practice a *livequery.Collection
// or *effect.Effect, compared by identity. Any comparable value works.
type Owner = any

// ContextID scopes a batch of jobs to one transaction. The zero value
// means "no context": Schedule runs such a job at once instead of
// queueing it.
type ContextID string

type job struct {
	owner Owner
	deps  map[Owner]bool
	run   func()
}

// Scheduler holds one topologically-ordered job queue per live
// transaction context.
type Scheduler struct {
	queues       map[ContextID]*contextQueue
	clearHooks   []func(ContextID)
}

type contextQueue struct {
	jobs  map[Owner]*job
	order []Owner // insertion order, used only to make iteration deterministic
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{queues: map[ContextID]*contextQueue{}}
}

// contextRegistry maps a ContextID to every Scheduler currently holding an
// unrun queue for it. A synchronous mutation's commit (spec §4.H.2) has no
// direct handle on whichever Scheduler(s) its subscribers happened to
// schedule against — a Collection is deliberately decoupled from
// livequery/effect internals — so the registry is how FlushContext finds
// them: the one piece of process-scoped shared state component J needs to
// let a transaction's committer drive its own context to completion (spec
// §4.J "when contextId is null, the job runs immediately... for
// synchronous-source flows" generalizes to "once the context's owner is
// known complete, run it immediately").
var contextRegistry = map[ContextID][]*Scheduler{}

func registerContext(ctxID ContextID, s *Scheduler) {
	for _, existing := range contextRegistry[ctxID] {
		if existing == s {
			return
		}
	}
	contextRegistry[ctxID] = append(contextRegistry[ctxID], s)
}

// FlushContext runs ctxID to completion on every Scheduler that currently
// holds queued jobs for it, then forgets them. Called once a transaction
// (or equivalent synchronous write) has finished broadcasting every change
// it produced, so every job those changes caused to be scheduled is known
// to be complete before any of them runs.
func FlushContext(ctxID ContextID) error {
	if ctxID == "" {
		return nil
	}
	// RunContext deregisters itself as it drains each scheduler's queue, so
	// iterate over a snapshot rather than the live (shrinking) slice.
	schedulers := append([]*Scheduler(nil), contextRegistry[ctxID]...)
	for _, s := range schedulers {
		if err := s.RunContext(ctxID); err != nil {
			return err
		}
	}
	return nil
}

// defaultScheduler is the process-wide scheduler every livequery.Collection
// and effect.Effect uses unless the caller supplies its own — a
// process-scoped singleton, analogous to this engine's auto-incrementing id
// counters (spec §5 "global mutable counter... acceptable as process-scoped
// monotone state; must not escape process boundaries").
var defaultScheduler = New()

// Default returns the process-wide Scheduler singleton.
func Default() *Scheduler { return defaultScheduler }

// Schedule registers run as the job for owner within ctxID, unioning deps
// with any deps already recorded for this (ctxID, owner) pair and keeping
// the most recently supplied run. A zero-value ctxID runs immediately and
// is never queued.
func (s *Scheduler) Schedule(ctxID ContextID, owner Owner, deps []Owner, run func()) {
	if ctxID == "" {
		run()
		return
	}
	q, ok := s.queues[ctxID]
	if !ok {
		q = &contextQueue{jobs: map[Owner]*job{}}
		s.queues[ctxID] = q
		schedulerMetrics.contextsQueued.Add(context.Background(), 1)
		registerContext(ctxID, s)
	}
	j, exists := q.jobs[owner]
	if !exists {
		j = &job{owner: owner, deps: map[Owner]bool{}}
		q.jobs[owner] = j
		q.order = append(q.order, owner)
	}
	for _, d := range deps {
		j.deps[d] = true
	}
	j.run = run
}

// RunContext runs every job scheduled under ctxID exactly once, in an order
// where a job's dependencies (when themselves scheduled in this context)
// always run first. Jobs depending on an owner with no job in this context
// are unaffected — that dependency isn't part of this context's batch.
// Returns an error if the dependency graph contains a cycle.
func (s *Scheduler) RunContext(ctxID ContextID) error {
	q, ok := s.queues[ctxID]
	if !ok {
		return nil
	}
	delete(s.queues, ctxID)
	deregisterContext(ctxID, s)
	schedulerMetrics.contextsQueued.Add(context.Background(), -1)

	const (
		unvisited = iota
		visiting
		done
	)
	state := map[Owner]int{}
	var visit func(owner Owner) error
	visit = func(owner Owner) error {
		switch state[owner] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("scheduler: dependency cycle at owner %v", owner)
		}
		state[owner] = visiting
		j := q.jobs[owner]
		if j != nil {
			for dep := range j.deps {
				if _, inContext := q.jobs[dep]; inContext {
					if err := visit(dep); err != nil {
						return err
					}
				}
			}
		}
		state[owner] = done
		if j != nil && j.run != nil {
			j.run()
		}
		return nil
	}
	for _, owner := range q.order {
		if err := visit(owner); err != nil {
			return err
		}
	}
	return nil
}

// OnClear registers fn to be invoked whenever Clear discards a context.
func (s *Scheduler) OnClear(fn func(ContextID)) {
	s.clearHooks = append(s.clearHooks, fn)
}

// Clear discards ctxID's queued jobs without running them (a transaction
// rollback) and fires every registered OnClear hook.
func (s *Scheduler) Clear(ctxID ContextID) {
	if _, ok := s.queues[ctxID]; ok {
		schedulerMetrics.contextsQueued.Add(context.Background(), -1)
	}
	delete(s.queues, ctxID)
	deregisterContext(ctxID, s)
	for _, fn := range s.clearHooks {
		fn(ctxID)
	}
}

func deregisterContext(ctxID ContextID, s *Scheduler) {
	schedulers := contextRegistry[ctxID]
	for i, existing := range schedulers {
		if existing == s {
			contextRegistry[ctxID] = append(schedulers[:i], schedulers[i+1:]...)
			break
		}
	}
	if len(contextRegistry[ctxID]) == 0 {
		delete(contextRegistry, ctxID)
	}
}

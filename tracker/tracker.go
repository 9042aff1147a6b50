// Package tracker implements the reactive dependency graph from spec.md
// §4.8: Dependency/Computation primitives plus a batched flush scheduler.
// It has no knowledge of DDP, collections, or subscriptions — those layer
// on top via Dependency.Depend/Changed, exactly as the teacher's
// model.Reducer is a domain-agnostic state-apply primitive that higher
// layers (tui.Model) build meaning on top of.
//
// All graph state (the currently-running computation, the pending-flush
// queue, the scheduler) lives on a Graph value rather than as package
// globals, so each ddp.Client owns its own independent graph: spec.md §9
// calls for "one Client instance; tests may construct many" rather than a
// single process-wide singleton that concurrent Clients would race on.
package tracker

import "sync"

// Graph owns one reactive dependency graph: the computation currently
// executing, the batched flush queue, and the scheduler that eventually
// runs a scheduled flush. Construct one per owner (normally one per
// ddp.Client) via NewGraph.
type Graph struct {
	mu             sync.Mutex
	currentComp    *Computation
	flushing       bool // true while flush()'s main loop is actively running
	flushScheduled bool // true once the scheduler has been asked to call flush but hasn't started it yet
	invalidatedComps []*Computation
	afterFlushFns    []func()
	scheduler        func(func())
}

// NewGraph builds a Graph with the default synchronous scheduler: a
// scheduled flush runs immediately on the calling goroutine, inside the
// Invalidate/Changed/AfterFlush call that scheduled it. Hosts (e.g. a UI
// event loop) may call SetScheduler to defer onto their own
// microtask-equivalent.
func NewGraph() *Graph {
	return &Graph{scheduler: func(f func()) { f() }}
}

// Computation holds a user function and the set of Dependencies it read
// during its last run. It reruns inside a batched flush whenever any of
// those dependencies changes, until Stop is called.
type Computation struct {
	graph       *Graph
	fn          func(c *Computation)
	invalidated bool
	stopped     bool
	firstRun    bool
	hasRun      bool

	mu   sync.Mutex
	deps map[*Dependency]struct{}

	onInvalidate []func()
	onStop       []func()
}

// Dependency is a set of Computations that depend on some piece of state.
// Depend records the currently-running computation (if any) as a dependent;
// Changed invalidates every recorded dependent and schedules a flush.
type Dependency struct {
	graph *Graph

	mu   sync.Mutex
	deps map[*Computation]struct{}
}

// NewDependency creates an empty Dependency set scoped to g.
func (g *Graph) NewDependency() *Dependency {
	return &Dependency{graph: g, deps: make(map[*Computation]struct{})}
}

// SetScheduler overrides how a scheduled flush is eventually executed. fn
// must eventually call the callback passed to it exactly once.
func (g *Graph) SetScheduler(fn func(func())) {
	g.mu.Lock()
	g.scheduler = fn
	g.mu.Unlock()
}

// Current returns the Computation currently executing on g, or nil if none
// is (e.g. code running outside any Autorun, or inside Nonreactive).
// Collaborator packages like collection.Registry use this to wire implicit
// query observers without importing package tracker's internals.
func (g *Graph) Current() *Computation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentComp
}

// Autorun creates a Computation wrapping fn, runs it once immediately, and
// ensures subsequent invalidations trigger a rerun inside a batched flush.
func (g *Graph) Autorun(fn func(c *Computation)) *Computation {
	c := &Computation{graph: g, fn: fn, deps: make(map[*Dependency]struct{})}
	c.run()
	return c
}

// Nonreactive runs fn with no current computation, so any Dependency.Depend
// calls inside fn are no-ops. Used by collection transforms that must not
// accidentally wire themselves into the caller's reactive context.
func (g *Graph) Nonreactive(fn func()) {
	g.mu.Lock()
	saved := g.currentComp
	g.currentComp = nil
	g.mu.Unlock()

	fn()

	g.mu.Lock()
	g.currentComp = saved
	g.mu.Unlock()
}

// Depend records the graph's current computation (if any) as depending on
// d, and returns true if there was a computation to record.
func (d *Dependency) Depend() bool {
	c := d.graph.Current()

	if c == nil || c.stopped {
		return false
	}

	d.mu.Lock()
	if d.deps == nil {
		d.deps = make(map[*Computation]struct{})
	}
	d.deps[c] = struct{}{}
	d.mu.Unlock()

	c.mu.Lock()
	c.deps[d] = struct{}{}
	c.mu.Unlock()

	return true
}

// HasDependents reports whether any live computation currently depends on d.
func (d *Dependency) HasDependents() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deps) > 0
}

// Changed invalidates every computation currently depending on d and
// schedules a flush. Multiple Changed calls within one flush cycle collapse
// into a single rerun per computation (spec.md §5).
func (d *Dependency) Changed() {
	d.mu.Lock()
	deps := make([]*Computation, 0, len(d.deps))
	for c := range d.deps {
		deps = append(deps, c)
	}
	d.mu.Unlock()

	for _, c := range deps {
		c.Invalidate()
	}
}

// Invalidate marks c for rerun and schedules a flush, calling any
// onInvalidate callbacks registered via OnInvalidate exactly once per
// invalidation (spec.md §4.8).
func (c *Computation) Invalidate() {
	c.mu.Lock()
	if c.invalidated || c.stopped {
		c.mu.Unlock()
		return
	}
	c.invalidated = true
	// Snapshot the callbacks registered so far: with a synchronous scheduler
	// the rerun below completes before they fire, and any callback the rerun
	// registers belongs to the next invalidation, not this one.
	callbacks := append([]func(){}, c.onInvalidate...)
	c.mu.Unlock()

	// Queue the rerun before firing onInvalidate callbacks: those callbacks
	// may themselves call AfterFlush, which must observe this computation as
	// already part of the pending cycle rather than starting a separate one.
	c.graph.scheduleFlush(c)

	for _, fn := range callbacks {
		fn()
	}
}

// OnInvalidate registers fn to run each time c is invalidated from now on;
// registrations are never removed, so fn also runs on every later
// invalidation, not only the next one. Used by
// the subscription manager's reactive-reuse rule (spec.md §4.5).
func (c *Computation) OnInvalidate(fn func()) {
	c.mu.Lock()
	c.onInvalidate = append(c.onInvalidate, fn)
	c.mu.Unlock()
}

// OnStop registers fn to run when c is stopped.
func (c *Computation) OnStop(fn func()) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		fn()
		return
	}
	c.onStop = append(c.onStop, fn)
	c.mu.Unlock()
}

// Stopped reports whether Stop has been called.
func (c *Computation) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// FirstRun reports whether c is currently executing its very first run.
func (c *Computation) FirstRun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstRun
}

// AfterFlush registers fn to run once c's graph finishes its current flush
// cycle. Used by the subscription manager's reactive-reuse rule to defer a
// teardown decision until the rerun has had a chance to re-subscribe.
func (c *Computation) AfterFlush(fn func()) {
	c.graph.AfterFlush(fn)
}

// Stop detaches c from every Dependency it is recorded against and prevents
// further runs.
func (c *Computation) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	deps := make([]*Dependency, 0, len(c.deps))
	for d := range c.deps {
		deps = append(deps, d)
	}
	c.deps = make(map[*Dependency]struct{})
	callbacks := append([]func(){}, c.onStop...)
	c.mu.Unlock()

	for _, d := range deps {
		d.mu.Lock()
		delete(d.deps, c)
		d.mu.Unlock()
	}
	for _, fn := range callbacks {
		fn()
	}
}

func (c *Computation) run() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	first := !c.ranOnce()
	c.firstRun = first
	// Detach from prior-run dependencies before rebuilding them.
	deps := make([]*Dependency, 0, len(c.deps))
	for d := range c.deps {
		deps = append(deps, d)
	}
	c.deps = make(map[*Dependency]struct{})
	c.invalidated = false
	c.mu.Unlock()

	for _, d := range deps {
		d.mu.Lock()
		delete(d.deps, c)
		d.mu.Unlock()
	}

	g := c.graph
	g.mu.Lock()
	prev := g.currentComp
	g.currentComp = c
	g.mu.Unlock()

	c.fn(c)

	g.mu.Lock()
	g.currentComp = prev
	g.mu.Unlock()

	c.mu.Lock()
	c.firstRun = false
	c.hasRun = true
	c.mu.Unlock()
}

func (c *Computation) ranOnce() bool {
	// firstRun is only ever set true while run() executes; once run() has
	// executed at least once this always reports false afterward because
	// run() clears it at the end. We track that with a dedicated flag
	// instead of reusing firstRun so concurrent Invalidate/Stop calls can't
	// observe a half-updated state.
	return c.hasRun
}

// requireFlush asks the scheduler to call flush unless a flush is already
// running or already scheduled to run; either way the caller's work has
// already been queued onto invalidatedComps/afterFlushFns before calling this.
func (g *Graph) requireFlush() {
	g.mu.Lock()
	needSchedule := !g.flushing && !g.flushScheduled
	if needSchedule {
		g.flushScheduled = true
	}
	sched := g.scheduler
	g.mu.Unlock()

	if needSchedule {
		sched(g.flush)
	}
}

func (g *Graph) scheduleFlush(c *Computation) {
	g.mu.Lock()
	g.invalidatedComps = append(g.invalidatedComps, c)
	g.mu.Unlock()

	g.requireFlush()
}

func (g *Graph) flush() {
	g.mu.Lock()
	g.flushScheduled = false
	g.flushing = true
	g.mu.Unlock()

	for {
		g.mu.Lock()
		batch := g.invalidatedComps
		g.invalidatedComps = nil
		g.mu.Unlock()

		if len(batch) == 0 {
			break
		}

		seen := make(map[*Computation]struct{}, len(batch))
		for _, c := range batch {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}

			c.mu.Lock()
			needsRun := c.invalidated && !c.stopped
			c.mu.Unlock()

			if needsRun {
				c.run()
			}
		}
	}

	g.mu.Lock()
	fns := g.afterFlushFns
	g.afterFlushFns = nil
	g.flushing = false
	g.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// AfterFlush registers fn to run once the current flush cycle on g
// completes. If no flush is currently running or pending, fn runs via the
// scheduler on its own (otherwise-empty) cycle. Re-entrant registration —
// calling AfterFlush from inside an AfterFlush callback, after flush() has
// already cleared its flushing flag — re-queues for the next cycle,
// matching spec.md §4.8.
func (g *Graph) AfterFlush(fn func()) {
	g.mu.Lock()
	g.afterFlushFns = append(g.afterFlushFns, fn)
	g.mu.Unlock()

	g.requireFlush()
}

// Package reactive implements spec.md §4.11's useTracker-equivalent
// binding: a Computation that recomputes a value on invalidation and
// hands the new value to a host-supplied update callback, disposed
// exactly once. It is domain-agnostic, the same way package tracker is
// agnostic of DDP or collections — this package is the glue a UI layer
// (e.g. cmd/ddp-watch) uses to drive repaints off tracker.Dependency
// changes, analogous to how the teacher's internal/tui.Model drives
// repaints off model.Reducer updates via updateChans.
package reactive

import "github.com/pfrederiksen/ddp-go/tracker"

// Binding ties a reactive computation of type T to a host callback that
// receives every recomputed value, matching Meteor's useTracker(fn, deps)
// plus React's commit-on-change semantics.
type Binding[T any] struct {
	comp *tracker.Computation
}

// Use creates a Binding that calls fn() once immediately and again every
// time fn's reactive dependencies invalidate, passing each result to
// onUpdate. graph must be the same Graph that fn's dependencies (e.g. a
// ddp.Client's collections, via ddp.Client.Graph) were created on — a
// Binding run on the wrong Graph silently observes nothing. The returned
// Binding must be disposed via Stop when the host component unmounts
// (spec.md §4.11's "dispose the Computation on unmount").
func Use[T any](graph *tracker.Graph, fn func() T, onUpdate func(T)) *Binding[T] {
	comp := graph.Autorun(func(c *tracker.Computation) {
		onUpdate(fn())
	})
	return &Binding[T]{comp: comp}
}

// Stop disposes the underlying computation; onUpdate will not be called
// again after Stop returns.
func (b *Binding[T]) Stop() {
	b.comp.Stop()
}

// Stopped reports whether Stop has been called.
func (b *Binding[T]) Stopped() bool {
	return b.comp.Stopped()
}

// WithTrackerData is the withTracker(getMeteorData) sugar from spec.md
// §4.11: getData computes a mapping that onUpdate merges into whatever
// host-side props/state structure the caller maintains. It differs from
// Use only in the label, kept distinct because Meteor's withTracker HOC
// and its useTracker hook have different call-site shapes that callers
// may want to search for by name.
func WithTrackerData[T any](graph *tracker.Graph, getData func() T, onUpdate func(T)) *Binding[T] {
	return Use(graph, getData, onUpdate)
}

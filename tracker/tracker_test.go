package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutorunRerunsOnChange(t *testing.T) {
	graph := NewGraph()
	dep := graph.NewDependency()
	runs := 0

	comp := graph.Autorun(func(c *Computation) {
		dep.Depend()
		runs++
	})
	defer comp.Stop()

	require.Equal(t, 1, runs)

	dep.Changed()
	require.Equal(t, 2, runs)

	dep.Changed()
	dep.Changed()
	require.Equal(t, 4, runs)
}

func TestStopDetachesFromDependencies(t *testing.T) {
	graph := NewGraph()
	dep := graph.NewDependency()
	runs := 0

	comp := graph.Autorun(func(c *Computation) {
		dep.Depend()
		runs++
	})

	comp.Stop()
	require.False(t, dep.HasDependents())

	dep.Changed()
	require.Equal(t, 1, runs)
	require.True(t, comp.Stopped())
}

func TestNonreactiveDoesNotWireDependency(t *testing.T) {
	graph := NewGraph()
	dep := graph.NewDependency()
	runs := 0

	graph.Autorun(func(c *Computation) {
		graph.Nonreactive(func() {
			dep.Depend()
		})
		runs++
	})

	require.False(t, dep.HasDependents())
	dep.Changed()
	require.Equal(t, 1, runs)
}

func TestOnInvalidateFiresOnce(t *testing.T) {
	graph := NewGraph()
	dep := graph.NewDependency()
	fires := 0

	comp := graph.Autorun(func(c *Computation) {
		dep.Depend()
		c.OnInvalidate(func() { fires++ })
	})
	defer comp.Stop()

	dep.Changed()
	require.Equal(t, 1, fires)
}

func TestAfterFlushRunsOnceCycleCompletes(t *testing.T) {
	graph := NewGraph()
	dep := graph.NewDependency()
	var order []string

	comp := graph.Autorun(func(c *Computation) {
		dep.Depend()
		order = append(order, "run")
	})
	defer comp.Stop()

	comp.OnInvalidate(func() {
		graph.AfterFlush(func() { order = append(order, "after") })
	})
	dep.Changed()

	require.Equal(t, []string{"run", "run", "after"}, order)
}

package collection

import (
	"testing"

	"github.com/pfrederiksen/ddp-go/tracker"
	"github.com/stretchr/testify/require"
)

func TestAddedChangedRemovedLifecycle(t *testing.T) {
	graph := tracker.NewGraph()
	store := NewStore(graph, nil, nil)
	col, err := store.Collection("things")
	require.NoError(t, err)

	store.Added("things", "a", map[string]interface{}{"color": "red"})
	require.Equal(t, "red", col.FindOne("a")["color"])

	store.Changed("things", "a", map[string]interface{}{"color": "blue"}, nil)
	require.Equal(t, "blue", col.FindOne("a")["color"])

	store.Removed("things", "a")
	require.Nil(t, col.FindOne("a"))
}

func TestChangedClearedFieldsBecomeNull(t *testing.T) {
	graph := tracker.NewGraph()
	store := NewStore(graph, nil, nil)
	store.Added("things", "a", map[string]interface{}{"color": "red", "size": float64(3)})
	store.Changed("things", "a", nil, []string{"size"})

	col, _ := store.Collection("things")
	doc := col.FindOne("a")
	_, present := doc["size"]
	require.False(t, present)
	require.Equal(t, "red", doc["color"])
}

func TestResetNonLocalPreservesLocalCollections(t *testing.T) {
	graph := tracker.NewGraph()
	store := NewStore(graph, nil, nil)
	store.Added("things", "a", map[string]interface{}{"color": "red"})

	local, err := store.LocalCollection("drafts")
	require.NoError(t, err)
	local.Upsert(Document{"_id": "d1", "title": "untitled"})

	store.ResetNonLocal()

	things, _ := store.Collection("things")
	require.Nil(t, things.FindOne("a"))
	require.NotNil(t, local.FindOne("d1"))
}

func TestForbiddenCollectionName(t *testing.T) {
	graph := tracker.NewGraph()
	store := NewStore(graph, nil, nil)
	_, err := store.Collection("constructor")
	require.Error(t, err)
}

func TestCursorObserverSelectorMatchesPostImageOnly(t *testing.T) {
	graph := tracker.NewGraph()
	store := NewStore(graph, nil, nil)
	col, _ := store.Collection("items")
	store.Added("items", "x", map[string]interface{}{"color": "red"})

	var changedCalls int
	cur := col.Find(map[string]interface{}{"color": "red"})
	cur.Observe(CursorCallbacks{
		Changed: func(newDoc, oldDoc Document) { changedCalls++ },
	})

	// transition out of selector: post-image no longer matches, so per
	// spec.md §4.7 rule 1 the Changed callback does NOT fire.
	store.Changed("items", "x", map[string]interface{}{"color": "blue"}, nil)
	require.Equal(t, 0, changedCalls)
}

func TestCursorObserverAddedFiresOnSelectorMatch(t *testing.T) {
	graph := tracker.NewGraph()
	store := NewStore(graph, nil, nil)
	col, _ := store.Collection("items")

	var added []string
	cur := col.Find(map[string]interface{}{"color": "red"})
	cur.Observe(CursorCallbacks{
		Added: func(doc Document) { added = append(added, doc.ID()) },
	})

	store.Added("items", "x", map[string]interface{}{"color": "red"})
	store.Added("items", "y", map[string]interface{}{"color": "blue"})

	require.Equal(t, []string{"x"}, added)
}

func TestComputationObserverInvalidatesOnRelevantChange(t *testing.T) {
	graph := tracker.NewGraph()
	store := NewStore(graph, nil, nil)
	col, _ := store.Collection("widgets")
	store.Added("widgets", "w1", map[string]interface{}{"qty": float64(1)})

	runs := 0
	comp := graph.Autorun(func(c *tracker.Computation) {
		col.Find(nil).Fetch()
		runs++
	})
	defer comp.Stop()

	require.Equal(t, 1, runs)

	store.Changed("widgets", "w1", map[string]interface{}{"qty": float64(2)}, nil)
	require.Equal(t, 2, runs)
}

func TestComputationObserverSkipsNoopRewrite(t *testing.T) {
	graph := tracker.NewGraph()
	store := NewStore(graph, nil, nil)
	col, _ := store.Collection("widgets")
	store.Added("widgets", "w1", map[string]interface{}{"qty": float64(1)})

	runs := 0
	comp := graph.Autorun(func(c *tracker.Computation) {
		col.Find(nil).Fetch()
		runs++
	})
	defer comp.Stop()

	require.Equal(t, 1, runs)

	// Re-sending the identical value is an EJSON-equal no-op rewrite and
	// must not invalidate (spec.md §8 property 7).
	store.Changed("widgets", "w1", map[string]interface{}{"qty": float64(1)}, nil)
	require.Equal(t, 1, runs)
}

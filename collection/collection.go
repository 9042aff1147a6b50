// Package collection implements the in-memory document store mirrored from
// DDP server frames (spec.md §3, §4.4) plus the selector-filtered observer
// registry (§4.7) that ties it to the reactive graph in package tracker.
//
// The query engine itself — general selector matching, sort/limit/skip,
// field projection — is named in spec.md §1 as an external collaborator
// treated as a black box. This package supplies a minimal, concrete
// Matcher sufficient for the observer-invalidation rules the spec does
// put in scope (§4.4, §4.7), behind the Matcher interface so a fuller
// query engine can be substituted without touching Store or Cursor.
package collection

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pfrederiksen/ddp-go/ejson"
	"github.com/pfrederiksen/ddp-go/tracker"
)

// Document is a server-mirrored document: `_id` plus arbitrary fields.
type Document map[string]interface{}

// ID returns the document's _id field as a string, or "" if absent.
func (d Document) ID() string {
	if v, ok := d["_id"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Clone returns a deep, EJSON-normalized copy of d.
func (d Document) Clone() Document {
	cloned, err := ejson.Clone(map[string]interface{}(d))
	if err != nil {
		// ejson.Clone only fails on values that can't round-trip through
		// JSON at all, which server-mirrored documents never contain.
		panic(fmt.Sprintf("collection: clone failed: %v", err))
	}
	return Document(cloned.(map[string]interface{}))
}

// Matcher decides whether a document satisfies a selector. The default
// implementation (Subset) treats a selector as an exact-value subset match,
// sufficient for the observer re-match rules in spec.md §4.7; callers
// needing Mongo-style operators supply their own Matcher.
type Matcher interface {
	Match(selector map[string]interface{}, doc Document) bool
}

// Subset is the default Matcher: every key in selector must be present in
// doc with an EJSON-equal value.
type Subset struct{}

// Match implements Matcher.
func (Subset) Match(selector map[string]interface{}, doc Document) bool {
	for k, v := range selector {
		docVal, ok := doc[k]
		if !ok || !ejson.Equals(v, docVal) {
			return false
		}
	}
	return true
}

// protoForbidden blocks collection names that collide with
// Object prototype properties in the source implementation (spec.md §8
// property 10). Go has no such prototype, but the invariant is preserved so
// a port targeting a JS host embedding this store inherits the same safety
// check, and so collection names stay portable across collaborators.
var protoForbidden = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// Store is a named set of Collections, mirroring server-pushed documents.
// It is not safe for concurrent use from multiple goroutines without
// external synchronization; the DDP client that owns it runs on a single
// cooperative event loop (spec.md §5).
type Store struct {
	mu          sync.Mutex
	collections map[string]*Collection
	matcher     Matcher
	observers   *Registry
}

// NewStore creates an empty Store using matcher for selector evaluation (nil
// defaults to Subset) and registering invalidations with observers (nil
// creates a private Registry scoped to graph).
func NewStore(graph *tracker.Graph, matcher Matcher, observers *Registry) *Store {
	if matcher == nil {
		matcher = Subset{}
	}
	if observers == nil {
		observers = NewRegistry(graph, matcher)
	}
	return &Store{
		collections: make(map[string]*Collection),
		matcher:     matcher,
		observers:   observers,
	}
}

// Observers returns the Registry backing this store's computation/cursor
// observers.
func (s *Store) Observers() *Registry { return s.observers }

// Collection returns the named collection, creating it (non-local) if absent.
func (s *Store) Collection(name string) (*Collection, error) {
	if protoForbidden[name] {
		return nil, fmt.Errorf("collection: name %q is not allowed", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectionLocked(name, false), nil
}

// LocalCollection returns, creating if absent, a collection flagged local:
// it is never cleared on session reset and is never populated by server
// frames (spec.md §3).
func (s *Store) LocalCollection(name string) (*Collection, error) {
	if protoForbidden[name] {
		return nil, fmt.Errorf("collection: name %q is not allowed", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectionLocked(name, true), nil
}

func (s *Store) collectionLocked(name string, local bool) *Collection {
	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &Collection{
		name:      name,
		local:     local,
		docs:      make(map[string]Document),
		matcher:   s.matcher,
		observers: s.observers,
	}
	s.collections[name] = c
	return c
}

// Added applies an `added` server frame (spec.md §4.4).
func (s *Store) Added(collectionName, id string, fields map[string]interface{}) {
	c, err := s.Collection(collectionName)
	if err != nil {
		return
	}
	c.applyAdded(id, fields)
}

// Changed applies a `changed` server frame.
func (s *Store) Changed(collectionName, id string, fields map[string]interface{}, cleared []string) {
	c, err := s.Collection(collectionName)
	if err != nil {
		return
	}
	c.applyChanged(id, fields, cleared)
}

// Removed applies a `removed` server frame.
func (s *Store) Removed(collectionName, id string) {
	c, err := s.Collection(collectionName)
	if err != nil {
		return
	}
	c.applyRemoved(id)
}

// ResetNonLocal clears every non-local collection, called when a reconnect
// produces a fresh (non-reused) session (spec.md §4.4, §8 property 3).
func (s *Store) ResetNonLocal() {
	s.mu.Lock()
	cols := make([]*Collection, 0, len(s.collections))
	for _, c := range s.collections {
		if !c.local {
			cols = append(cols, c)
		}
	}
	s.mu.Unlock()

	for _, c := range cols {
		c.clear()
	}
}

// Collection is a named container of Documents keyed by _id.
type Collection struct {
	name  string
	local bool

	mu   sync.Mutex
	docs map[string]Document

	matcher   Matcher
	observers *Registry
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// IsLocal reports whether the collection is exempt from session-reset clears.
func (c *Collection) IsLocal() bool { return c.local }

// Upsert inserts or replaces the document with the given id, entirely
// outside the added/changed merge semantics — used by local collections and
// by optimistic-write call sites that manage their own documents directly.
func (c *Collection) Upsert(doc Document) {
	id := doc.ID()
	c.mu.Lock()
	c.docs[id] = doc.Clone()
	c.mu.Unlock()
}

// Remove deletes the document with the given id, if present.
func (c *Collection) Remove(id string) {
	c.mu.Lock()
	delete(c.docs, id)
	c.mu.Unlock()
}

// FindOne returns a copy of the document with the given id, or nil.
func (c *Collection) FindOne(id string) Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil
	}
	return doc.Clone()
}

// Find returns a Cursor over documents matching selector (nil selector
// matches every document), registering the calling computation (if any) as
// a computation observer of this collection (spec.md §4.7).
func (c *Collection) Find(selector map[string]interface{}, opts ...FindOption) *Cursor {
	o := findOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if c.observers != nil {
		c.observers.observeComputation(c, selector)
	}

	c.mu.Lock()
	matched := make([]Document, 0, len(c.docs))
	for _, d := range c.docs {
		if selector == nil || c.matcher.Match(selector, d) {
			matched = append(matched, d.Clone())
		}
	}
	c.mu.Unlock()

	if o.sortKey != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			less := fmt.Sprintf("%v", matched[i][o.sortKey]) < fmt.Sprintf("%v", matched[j][o.sortKey])
			if o.sortDesc {
				return !less
			}
			return less
		})
	}

	if o.skip > 0 {
		if o.skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[o.skip:]
		}
	}
	if o.limit > 0 && o.limit < len(matched) {
		matched = matched[:o.limit]
	}

	return &Cursor{
		collection: c,
		selector:   selector,
		docs:       matched,
		fields:     o.fields,
	}
}

// FindOption configures Find.
type FindOption func(*findOptions)

type findOptions struct {
	sortKey  string
	sortDesc bool
	limit    int
	skip     int
	fields   []string
}

// Sort orders results by key ascending (or descending if desc is true).
func Sort(key string, desc bool) FindOption {
	return func(o *findOptions) { o.sortKey = key; o.sortDesc = desc }
}

// Limit caps the number of documents returned.
func Limit(n int) FindOption { return func(o *findOptions) { o.limit = n } }

// Skip drops the first n matched documents.
func Skip(n int) FindOption { return func(o *findOptions) { o.skip = n } }

// Fields restricts the projection returned by Cursor.Fetch to the named
// fields (plus _id, always retained).
func Fields(names ...string) FindOption {
	return func(o *findOptions) { o.fields = names }
}

func (c *Collection) applyAdded(id string, fields map[string]interface{}) {
	doc := make(Document, len(fields)+1)
	for k, v := range fields {
		doc[k] = v
	}
	doc["_id"] = id

	c.mu.Lock()
	c.docs[id] = doc
	c.mu.Unlock()

	if c.observers != nil {
		c.observers.notifyAdded(c, doc)
	}
}

func (c *Collection) applyChanged(id string, fields map[string]interface{}, cleared []string) {
	c.mu.Lock()
	old, existed := c.docs[id]
	var oldCopy Document
	if existed {
		oldCopy = old.Clone()
	}

	doc := make(Document, len(old)+len(fields)+len(cleared)+1)
	for k, v := range old {
		doc[k] = v
	}
	for k, v := range fields {
		doc[k] = v
	}
	for _, k := range cleared {
		delete(doc, k)
	}
	doc["_id"] = id
	c.docs[id] = doc
	newCopy := doc.Clone()
	c.mu.Unlock()

	if c.observers != nil {
		c.observers.notifyChanged(c, newCopy, oldCopy, fields)
	}
}

func (c *Collection) applyRemoved(id string) {
	c.mu.Lock()
	old, existed := c.docs[id]
	var oldCopy Document
	if existed {
		oldCopy = old.Clone()
		delete(c.docs, id)
	}
	c.mu.Unlock()

	if existed && c.observers != nil {
		c.observers.notifyRemoved(c, id, oldCopy)
	}
}

func (c *Collection) clear() {
	c.mu.Lock()
	removed := make([]Document, 0, len(c.docs))
	for _, d := range c.docs {
		removed = append(removed, d.Clone())
	}
	c.docs = make(map[string]Document)
	c.mu.Unlock()

	if c.observers != nil {
		for _, d := range removed {
			c.observers.notifyRemoved(c, d.ID(), d)
		}
	}
}

// snapshot returns every document currently in the collection, used by
// Registry when rebuilding computation-observer diffs.
func (c *Collection) snapshot() map[string]Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Document, len(c.docs))
	for k, v := range c.docs {
		out[k] = v.Clone()
	}
	return out
}

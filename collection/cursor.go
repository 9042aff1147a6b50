package collection

// Cursor is an immutable snapshot of matched documents plus the selector
// that produced them (spec.md §3).
type Cursor struct {
	collection *Collection
	selector   map[string]interface{}
	docs       []Document
	fields     []string
}

// Fetch materializes the cursor's documents, applying any field projection.
func (cur *Cursor) Fetch() []Document {
	out := make([]Document, len(cur.docs))
	for i, d := range cur.docs {
		out[i] = project(d, cur.fields)
	}
	return out
}

// ForEach calls fn for each document in order.
func (cur *Cursor) ForEach(fn func(Document)) {
	for _, d := range cur.docs {
		fn(project(d, cur.fields))
	}
}

// Map applies fn to each document and returns the results.
func (cur *Cursor) Map(fn func(Document) interface{}) []interface{} {
	out := make([]interface{}, len(cur.docs))
	for i, d := range cur.docs {
		out[i] = fn(project(d, cur.fields))
	}
	return out
}

// Count returns the number of matched documents.
func (cur *Cursor) Count() int { return len(cur.docs) }

// CursorCallbacks are the selector-filtered observer callbacks registered
// via Cursor.Observe (spec.md §4.7).
type CursorCallbacks struct {
	Added   func(doc Document)
	Changed func(newDoc, oldDoc Document)
	Removed func(id string, oldDoc Document)
}

// Observe registers cb against this cursor's originating collection and
// selector. Added/Changed fire only when the document (re)matches the
// selector (or the selector is nil); Removed always fires for the dedicated
// callback since a deleted document can no longer be selector-matched
// (spec.md §4.7 rule 1).
func (cur *Cursor) Observe(cb CursorCallbacks) *ObserverHandle {
	return cur.collection.observers.addCursorObserver(cur.collection, cur.selector, cb)
}

func project(d Document, fields []string) Document {
	if len(fields) == 0 {
		return d.Clone()
	}
	out := make(Document, len(fields)+1)
	out["_id"] = d["_id"]
	for _, f := range fields {
		if v, ok := d[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Package draft holds not-yet-submitted comment compositions for a single
// viewing client. Drafts never touch the server or any store: they live in
// this process, keyed by diff position, and vanish on submit, cancel, or
// subject change.
package draft

import (
	"sync"

	"github.com/reviewthread/pkg/models"
)

// Registry keeps at most one draft per (file_path, side, line_number).
type Registry struct {
	mu     sync.Mutex
	drafts map[models.Anchor]models.Draft
}

// NewRegistry creates an empty draft registry.
func NewRegistry() *Registry {
	return &Registry{drafts: make(map[models.Anchor]models.Draft)}
}

// Set stores the draft under its anchor, replacing any draft already there.
func (r *Registry) Set(d models.Draft) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts[d.Anchor] = d
}

// Get returns the draft at the anchor, if one exists.
func (r *Registry) Get(anchor models.Anchor) (models.Draft, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drafts[anchor]
	return d, ok
}

// Clear drops the draft at the anchor. Clearing an empty slot is a no-op.
func (r *Registry) Clear(anchor models.Anchor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drafts, anchor)
}

// ClearAll drops every draft. Called when the review subject changes or the
// diff view is rebuilt, since any code_line snapshots are stale from then on.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts = make(map[models.Anchor]models.Draft)
}

// Len reports how many drafts are being held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drafts)
}

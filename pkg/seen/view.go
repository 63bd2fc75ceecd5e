// View replaces the rendering layer's implicit reactivity with an explicit subscription mechanism: the
// reported "whole slice seen" boolean is recomputed whenever one of its dependencies (the item slice, the
// filtering toggle) changes, and subscribers are only notified when the reported value actually flips.

package seen

import (
	"slices"
	"sync"
)

// View observes the seen-state of one slice of posts.
type View struct {
	tracker *Tracker

	mux         sync.Mutex
	items       []Post
	toggle      bool
	reported    bool
	closed      bool
	subscribers []func(seen bool)
}

// NewView is the constructor for View. A view starts without items and reports false until the first
// non-empty SetItems.
func NewView(tracker *Tracker, toggle bool) *View {
	return &View{tracker: tracker, toggle: toggle}
}

// recompute re-evaluates the reported value under the current dependencies and notifies subscribers on change.
// An empty item slice is never queried and keeps the previously reported value, so a transient empty render
// pass causes no spurious transition. Caller must hold no locks.
func (v *View) recompute(mutate func()) {
	v.mux.Lock()
	if v.closed {
		v.mux.Unlock()
		return
	}
	mutate()
	if len(v.items) == 0 {
		v.mux.Unlock()
		return
	}
	next := false
	if v.toggle { // With filtering off, the view reports false without querying.
		next = v.tracker.IsSliceSeen(v.items)
	}
	changed := next != v.reported
	v.reported = next
	subscribers := slices.Clone(v.subscribers)
	v.mux.Unlock()

	if changed {
		for _, notify := range subscribers {
			notify(next)
		}
	}
}

// SetItems replaces the observed item slice and recomputes.
func (v *View) SetItems(items []Post) {
	v.recompute(func() { v.items = slices.Clone(items) })
}

// SetToggle flips the filtering toggle dependency and recomputes.
func (v *View) SetToggle(toggle bool) {
	v.recompute(func() { v.toggle = toggle })
}

// Refresh recomputes under unchanged dependencies. The rendering layer calls this when an earlier lookup may
// have resolved asynchronously, correcting a previously reported false negative.
func (v *View) Refresh() {
	v.recompute(func() {})
}

// Subscribe registers a callback fired on every change of the reported value and returns the current value.
func (v *View) Subscribe(notify func(seen bool)) bool {
	v.mux.Lock()
	defer v.mux.Unlock()
	if !v.closed {
		v.subscribers = append(v.subscribers, notify)
	}
	return v.reported
}

// Value returns the currently reported value.
func (v *View) Value() bool {
	v.mux.Lock()
	defer v.mux.Unlock()
	return v.reported
}

// Close detaches the view; subsequent updates are ignored and subscribers are dropped.
func (v *View) Close() {
	v.mux.Lock()
	defer v.mux.Unlock()
	v.closed = true
	v.subscribers = nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package threads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/companion/internal/model"
)

// Lister loads threads from the backend.
type Lister interface {
	List(ctx context.Context) ([]model.Thread, error)
}

// Index is the ordered thread list shown in the sidebar: pinned threads
// first, then by most recent update. It is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	threads  map[string]model.Thread
	onChange func()
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{threads: make(map[string]model.Thread)}
}

// SetOnChange registers a callback invoked after every mutation.
func (x *Index) SetOnChange(fn func()) {
	x.mu.Lock()
	x.onChange = fn
	x.mu.Unlock()
}

// Load replaces the non-pending entries with the backend list.
func (x *Index) Load(ctx context.Context, l Lister) error {
	list, err := l.List(ctx)
	if err != nil {
		return err
	}
	x.mutate(func() {
		for id, t := range x.threads {
			if !t.IsPending() {
				delete(x.threads, id)
			}
		}
		for _, t := range list {
			x.threads[t.ID] = t
		}
	})
	return nil
}

// AddPlaceholder inserts a pending entry for a thread whose create call is in
// flight and returns its transient id.
func (x *Index) AddPlaceholder(title string) string {
	id := model.NewPlaceholderID()
	now := time.Now()
	x.mutate(func() {
		x.threads[id] = model.Thread{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}
	})
	return id
}

// Resolve replaces the placeholder with the server-assigned id.
func (x *Index) Resolve(placeholderID, id string) {
	x.mutate(func() {
		t, ok := x.threads[placeholderID]
		if !ok {
			t = model.Thread{CreatedAt: time.Now()}
		}
		delete(x.threads, placeholderID)
		t.ID = id
		t.UpdatedAt = time.Now()
		if t.MessageCount == 0 {
			t.MessageCount = 1
		}
		x.threads[id] = t
	})
}

// Touch marks a thread as updated and bumps its message count.
func (x *Index) Touch(id string, added int) {
	x.mutate(func() {
		t, ok := x.threads[id]
		if !ok {
			return
		}
		t.UpdatedAt = time.Now()
		t.MessageCount += added
		x.threads[id] = t
	})
}

// SetTitle updates a thread title.
func (x *Index) SetTitle(id, title string) {
	x.mutate(func() {
		if t, ok := x.threads[id]; ok {
			t.Title = title
			x.threads[id] = t
		}
	})
}

// SetPinned updates a thread's pinned flag.
func (x *Index) SetPinned(id string, pinned bool) {
	x.mutate(func() {
		if t, ok := x.threads[id]; ok {
			t.Pinned = pinned
			x.threads[id] = t
		}
	})
}

// Remove drops a thread or placeholder.
func (x *Index) Remove(id string) {
	x.mutate(func() {
		delete(x.threads, id)
	})
}

// Get returns the entry for id.
func (x *Index) Get(id string) (model.Thread, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	t, ok := x.threads[id]
	return t, ok
}

// Threads returns the entries in display order.
func (x *Index) Threads() []model.Thread {
	x.mu.RLock()
	list := make([]model.Thread, 0, len(x.threads))
	for _, t := range x.threads {
		list = append(list, t)
	}
	x.mu.RUnlock()

	SortThreads(list)
	return list
}

// Len returns the number of entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.threads)
}

// SortThreads orders threads pinned first, then newest update first. Ties
// break on id so the order is stable.
func SortThreads(list []model.Thread) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

func (x *Index) mutate(fn func()) {
	x.mu.Lock()
	fn()
	cb := x.onChange
	x.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Copyright (c) 2026 - The Event Machine authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lru is a size bounded least recently used cache.
package lru

import (
	"container/list"
	"sync"
)

// Cache is a least recently used cache, safe for concurrent use. A size of
// zero or less means no limit.
type Cache[K comparable, V any] struct {
	size  int
	ll    *list.List
	items map[K]*list.Element
	mu    sync.Mutex
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a new Cache holding at most size items.
func New[K comparable, V any](size int) *Cache[K, V] {
	return &Cache[K, V]{
		size:  size,
		ll:    list.New(),
		items: map[K]*list.Element{},
	}
}

// Get returns the value for a key and marks it as recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.ll.MoveToFront(e)
		return e.Value.(*entry[K, V]).value, true
	}

	var zero V

	return zero, false
}

// Add adds or replaces a value, evicting the least recently used item when
// the cache is full.
func (c *Cache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.ll.MoveToFront(e)
		e.Value.(*entry[K, V]).value = value

		return
	}

	c.items[key] = c.ll.PushFront(&entry[K, V]{key: key, value: value})

	if c.size > 0 && c.ll.Len() > c.size {
		if oldest := c.ll.Back(); oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*entry[K, V]).key)
		}
	}
}

// Remove removes a key.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.ll.Remove(e)
		delete(c.items, key)
	}
}

// Purge removes all items.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = map[K]*list.Element{}
}

// Len returns the number of items.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ll.Len()
}

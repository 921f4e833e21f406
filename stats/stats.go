// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides collections of counters and time
// accumulators. Each belongs to a snapshottable collection, and
// these collections can be aggregated.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Values is a snapshot of the values in a collection. Counters are
// reported as-is; timers are reported in microseconds.
type Values map[string]int64

// Copy returns a copy of the values v.
func (v Values) Copy() Values {
	w := make(Values)
	for k, v := range v {
		w[k] = v
	}
	return w
}

// String returns an abbreviated string with the values in this
// snapshot sorted by key.
func (v Values) String() string {
	var keys []string
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Map is a set of counters and timers keyed by name.
type Map struct {
	mu     sync.Mutex
	values map[string]*Int
	timers map[string]*Timer
}

// NewMap returns a fresh Map.
func NewMap() *Map {
	return &Map{
		values: make(map[string]*Int),
		timers: make(map[string]*Timer),
	}
}

// Int returns the counter with the provided name. The counter is
// created if it does not already exist.
func (m *Map) Int(name string) *Int {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	v := m.values[name]
	if v == nil {
		v = new(Int)
		m.values[name] = v
	}
	m.mu.Unlock()
	return v
}

// Timer returns the timer with the provided name. The timer is
// created if it does not already exist.
func (m *Map) Timer(name string) *Timer {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	v := m.timers[name]
	if v == nil {
		v = new(Timer)
		m.timers[name] = v
	}
	m.mu.Unlock()
	return v
}

// AddAll adds all counters and timers in the map to the provided
// snapshot.
func (m *Map) AddAll(vals Values) {
	if m == nil {
		return
	}
	m.mu.Lock()
	for k, v := range m.values {
		vals[k] += v.Get()
	}
	for k, v := range m.timers {
		vals[k] += int64(v.Get() / time.Microsecond)
	}
	m.mu.Unlock()
}

// An Int is a integer counter. Ints can be atomically
// incremented and set.
type Int struct {
	val int64
}

// Add increments v by delta.
func (v *Int) Add(delta int64) {
	if v == nil {
		return
	}
	atomic.AddInt64(&v.val, delta)
}

// Set sets the counter's value to val.
func (v *Int) Set(val int64) {
	if v == nil {
		return
	}
	atomic.StoreInt64(&v.val, val)
}

// Get returns the current value of a counter.
func (v *Int) Get() int64 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt64(&v.val)
}

// A Timer accumulates elapsed time. Timers keep the exact sum of the
// durations added to them.
type Timer struct {
	nanos int64
}

// Add adds d to the timer.
func (v *Timer) Add(d time.Duration) {
	if v == nil {
		return
	}
	atomic.AddInt64(&v.nanos, int64(d))
}

// AddSeconds adds a duration given in (fractional) seconds, as
// reported on the wire.
func (v *Timer) AddSeconds(s float64) {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return
	}
	v.Add(time.Duration(s * float64(time.Second)))
}

// Get returns the accumulated time.
func (v *Timer) Get() time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&v.nanos))
}

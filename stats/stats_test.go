// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"math"
	"testing"
	"time"
)

func TestStats(t *testing.T) {
	coll := NewMap()
	var (
		x = coll.Int("x")
		_ = coll.Int("y")
	)
	if got, want := x.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	x.Add(123)
	x.Add(123)
	if got, want := x.Get(), int64(123*2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	all := make(Values)
	coll.AddAll(all)
	coll.AddAll(all)
	if got, want := len(all), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["x"], int64(123*4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["y"], int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTimer(t *testing.T) {
	coll := NewMap()
	tm := coll.Timer("render")
	tm.Add(time.Millisecond)
	tm.AddSeconds(0.5)
	tm.AddSeconds(math.NaN())
	if got, want := tm.Get(), 501*time.Millisecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if coll.Timer("render") != tm {
		t.Error("timer not reused")
	}
	all := make(Values)
	coll.AddAll(all)
	if got, want := all["render"], int64(501000); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all.String(), "render:501000"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNil(t *testing.T) {
	var m *Map
	m.Int("x").Add(1)
	m.Timer("y").Add(time.Second)
	m.AddAll(make(Values))
	if got, want := m.Int("x").Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"testing"
	"time"
)

func TestResponseCache_ExpiresByTTL(t *testing.T) {
	now := time.Now()
	c := newResponseCache()
	c.now = func() time.Time { return now }

	c.Set("GET:/api/analysis/a1", []byte(`{"id":"a1"}`), 15*time.Second)

	if _, ok := c.Get("GET:/api/analysis/a1"); !ok {
		t.Fatal("expected hit inside TTL window")
	}

	now = now.Add(14 * time.Second)
	if _, ok := c.Get("GET:/api/analysis/a1"); !ok {
		t.Error("expected hit at 14s for 15s TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("GET:/api/analysis/a1"); ok {
		t.Error("expected miss after TTL elapsed")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry pruned, len=%d", c.Len())
	}
}

func TestResponseCache_ZeroTTLDisablesCaching(t *testing.T) {
	c := newResponseCache()
	c.Set("GET:/api/health", []byte(`{}`), 0)
	if _, ok := c.Get("GET:/api/health"); ok {
		t.Error("zero TTL must not store")
	}
}

func TestResponseCache_DeleteAndPurge(t *testing.T) {
	c := newResponseCache()
	c.Set("GET:/a", []byte("1"), time.Minute)
	c.Set("GET:/b", []byte("2"), time.Minute)

	c.Delete("GET:/a")
	if _, ok := c.Get("GET:/a"); ok {
		t.Error("expected /a deleted")
	}
	if _, ok := c.Get("GET:/b"); !ok {
		t.Error("expected /b intact")
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after purge, len=%d", c.Len())
	}
}

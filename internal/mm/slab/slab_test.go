package slab

import "testing"

func TestAllocFreeRoundTrip(t *testing.T) {
	c, err := NewCache(8, 8, true, nil, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	obj := c.Alloc()
	if obj == nil {
		t.Fatal("Alloc returned nil")
	}
	if len(obj) != 8 {
		t.Fatalf("len(obj) = %d, want 8", len(obj))
	}
	c.Free(obj)
}

func TestCtorDtorCalled(t *testing.T) {
	var ctorCalls, dtorCalls int
	ctor := func(b []byte) { ctorCalls++; b[0] = 0xAA }
	dtor := func(b []byte) { dtorCalls++ }

	c, err := NewCache(16, 8, false, ctor, dtor)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	obj := c.Alloc()
	if obj[0] != 0xAA {
		t.Fatal("constructor was not invoked on the fresh object")
	}
	c.Free(obj)

	if ctorCalls != 1 || dtorCalls != 1 {
		t.Fatalf("ctorCalls=%d dtorCalls=%d, want 1,1", ctorCalls, dtorCalls)
	}
}

func TestCacheGrowsAcrossSlabs(t *testing.T) {
	c, err := NewCache(1024, 0, true, nil, nil) // over the cutoff: 16 objects/slab
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	var objs [][]byte
	for i := 0; i < 40; i++ {
		obj := c.Alloc()
		if obj == nil {
			t.Fatalf("Alloc returned nil on iteration %d", i)
		}
		objs = append(objs, obj)
	}
	for _, obj := range objs {
		c.Free(obj)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	c, err := NewCache(8, 8, true, nil, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	obj := c.Alloc()
	c.Free(obj)

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on double free")
		}
	}()
	c.Free(obj)
}

func TestDestroyRejectsLiveCache(t *testing.T) {
	c, err := NewCache(8, 8, true, nil, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	obj := c.Alloc()

	if err := c.Destroy(); err == nil {
		t.Fatal("Destroy should fail while an object is live")
	}
	c.Free(obj)
	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy after freeing everything: %v", err)
	}
}

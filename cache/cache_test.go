package cache

import "testing"

func TestNewRequiresExactlyOneBound(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New({}) = nil error, want error (no bound configured)")
	}
	if _, err := New(Config{MaxImages: 10, MaxCapacityMB: 5}); err == nil {
		t.Error("New(both bounds) = nil error, want error (ambiguous)")
	}
	if _, err := New(Config{MaxImages: 10}); err != nil {
		t.Errorf("New(MaxImages) = %v, want nil", err)
	}
	if _, err := New(Config{MaxCapacityMB: 1}); err != nil {
		t.Errorf("New(MaxCapacityMB) = %v, want nil", err)
	}
}

func TestCountBoundedEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewCountBounded(2)
	if err != nil {
		t.Fatalf("NewCountBounded: %v", err)
	}
	c.Insert("a", []byte("1"))
	c.Insert("b", []byte("2"))
	// touch "a" so "b" becomes the least recently used
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be present")
	}
	c.Insert("c", []byte("3"))

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted (least recently used)")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be present")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be present")
	}
}

func TestCountBoundedInvalidate(t *testing.T) {
	c, err := NewCountBounded(4)
	if err != nil {
		t.Fatalf("NewCountBounded: %v", err)
	}
	c.Insert("a", []byte("1"))
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Error("a should be absent after Invalidate")
	}
	// invalidating an absent key is a no-op, not a panic
	c.Invalidate("nope")
}

func TestWeightBoundedEvictsByApproximateByteBudget(t *testing.T) {
	// weight(key,value) = len(key)+len(value); budget fits "a"+4 bytes and "b"+4 bytes (10) but not a third.
	c := NewWeightBounded(10)
	c.Insert("a", []byte("1111")) // weight 5
	c.Insert("b", []byte("2222")) // weight 5, total 10: exactly at budget

	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should still be present")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("b should still be present")
	}

	// touch "a" to make "b" the LRU victim, then push over budget.
	c.Get("a")
	c.Insert("c", []byte("3333")) // weight 5; evicts LRU ("b") to fit

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted to stay within the byte budget")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be present")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be present")
	}
}

func TestWeightBoundedReinsertUpdatesWeight(t *testing.T) {
	c := NewWeightBounded(20)
	c.Insert("a", []byte("1"))
	c.Insert("a", []byte("1234567890")) // reinsert under the same key with a larger value

	got, ok := c.Get("a")
	if !ok || string(got) != "1234567890" {
		t.Errorf("Get(a) = (%q, %v), want (\"1234567890\", true)", got, ok)
	}
}

func TestWeightBoundedInvalidate(t *testing.T) {
	c := NewWeightBounded(100)
	c.Insert("a", []byte("1"))
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Error("a should be absent after Invalidate")
	}
}

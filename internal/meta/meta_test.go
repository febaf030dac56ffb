package meta

import (
	"errors"
	"strings"
	"testing"
)

func newTestKV(t *testing.T) *KV {
	t.Helper()
	kv := NewKV(":memory:")
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestSetGetRoundtrip(t *testing.T) {
	kv := newTestKV(t)

	if err := kv.Set("palaces", `{"version":"2.0.0"}`); err != nil {
		t.Fatalf("set error: %v", err)
	}
	got, err := kv.Get("palaces")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != `{"version":"2.0.0"}` {
		t.Errorf("got %q", got)
	}
}

func TestSetOverwrites(t *testing.T) {
	kv := newTestKV(t)

	kv.Set("k", "first")
	kv.Set("k", "second")
	got, err := kv.Get("k")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != "second" {
		t.Errorf("got %q, want second", got)
	}
}

func TestGetMissing(t *testing.T) {
	kv := newTestKV(t)
	if _, err := kv.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	kv := newTestKV(t)

	kv.Set("k", "v")
	if err := kv.Delete("k"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if err := kv.Delete("k"); err != nil {
		t.Errorf("second delete should succeed: %v", err)
	}
}

func TestQuota(t *testing.T) {
	kv := newTestKV(t)

	big := strings.Repeat("x", DefaultQuota+1)
	if err := kv.Set("big", big); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("got %v, want ErrQuotaExceeded", err)
	}

	// A value exactly at the quota is allowed.
	ok := strings.Repeat("x", DefaultQuota)
	if err := kv.Set("ok", ok); err != nil {
		t.Errorf("at-quota value rejected: %v", err)
	}
}

func TestSetMany(t *testing.T) {
	kv := newTestKV(t)

	err := kv.SetMany(map[string]string{"doc": "payload", "flag": "true"})
	if err != nil {
		t.Fatalf("set many error: %v", err)
	}
	for key, want := range map[string]string{"doc": "payload", "flag": "true"} {
		got, err := kv.Get(key)
		if err != nil || got != want {
			t.Errorf("key %s = %q (%v), want %q", key, got, err, want)
		}
	}
}

func TestSetManyAllOrNothing(t *testing.T) {
	kv := newTestKV(t)

	kv.Set("doc", "old")
	err := kv.SetMany(map[string]string{
		"doc":  "new",
		"flag": strings.Repeat("x", DefaultQuota+1),
	})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("got %v, want ErrQuotaExceeded", err)
	}

	// Nothing from the failed batch may land.
	got, err := kv.Get("doc")
	if err != nil || got != "old" {
		t.Errorf("doc = %q (%v), want old value intact", got, err)
	}
	if _, err := kv.Get("flag"); !errors.Is(err, ErrNotFound) {
		t.Errorf("flag = %v, want ErrNotFound", err)
	}
}

func TestKeysSorted(t *testing.T) {
	kv := newTestKV(t)

	kv.Set("b", "2")
	kv.Set("a", "1")
	kv.Set("c", "3")

	keys, err := kv.Keys()
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(keys) != 3 {
		t.Fatalf("got %d keys, want 3", len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestUsageAndClear(t *testing.T) {
	kv := newTestKV(t)

	kv.Set("ab", "cdef")
	used, quota, err := kv.Usage()
	if err != nil {
		t.Fatalf("usage error: %v", err)
	}
	if used != 6 {
		t.Errorf("used = %d, want 6", used)
	}
	if quota != DefaultQuota {
		t.Errorf("quota = %d, want %d", quota, DefaultQuota)
	}

	if err := kv.Clear(); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	used, _, err = kv.Usage()
	if err != nil {
		t.Fatalf("usage error: %v", err)
	}
	if used != 0 {
		t.Errorf("used = %d after clear, want 0", used)
	}
}

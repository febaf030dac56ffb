package blob

import (
	"errors"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(":memory:")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundtrip(t *testing.T) {
	s := newTestStore(t)

	payload := []byte("binary image payload")
	key, err := s.Put(payload)
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if !strings.HasPrefix(key, "img_") {
		t.Errorf("key = %q, want img_ prefix", key)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(got) != string(payload) {
		t.Error("payload did not round-trip")
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("img_0_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	key, err := s.Put([]byte("x"))
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := s.Get(key); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v after delete, want ErrNotFound", err)
	}
	if err := s.Delete(key); err != nil {
		t.Errorf("second delete should succeed: %v", err)
	}
}

func TestKeysAndClear(t *testing.T) {
	s := newTestStore(t)

	k1, _ := s.Put([]byte("a"))
	k2, _ := s.Put([]byte("b"))

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	seen := map[string]bool{keys[0]: true, keys[1]: true}
	if !seen[k1] || !seen[k2] {
		t.Errorf("keys %v missing %q or %q", keys, k1, k2)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	keys, err = s.Keys()
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("got %d keys after clear, want 0", len(keys))
	}
}

func TestUsage(t *testing.T) {
	s := newTestStore(t)

	s.Put(make([]byte, 100))
	s.Put(make([]byte, 50))

	count, bytes, err := s.Usage()
	if err != nil {
		t.Fatalf("usage error: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if bytes != 150 {
		t.Errorf("bytes = %d, want 150", bytes)
	}
}

func TestTempURL(t *testing.T) {
	s := newTestStore(t)

	payload := []byte("panorama bytes")
	key, err := s.Put(payload)
	if err != nil {
		t.Fatalf("put error: %v", err)
	}

	url, release, err := s.TempURL(key)
	if err != nil {
		t.Fatalf("temp url error: %v", err)
	}
	defer release()
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("url = %q, want file:// prefix", url)
	}
}

func TestUniqueKeys(t *testing.T) {
	s := newTestStore(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, err := s.Put([]byte{byte(i)})
		if err != nil {
			t.Fatalf("put %d error: %v", i, err)
		}
		if seen[key] {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = true
	}
}

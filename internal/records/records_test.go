package records

import (
	"errors"
	"testing"

	"github.com/kalambet/memorium/internal/meta"
	"github.com/kalambet/memorium/internal/palace"
	"github.com/kalambet/memorium/internal/vault"
)

func newTestStore(t *testing.T) (*Store, *meta.KV) {
	t.Helper()
	kv := meta.NewKV(":memory:")
	t.Cleanup(func() { kv.Close() })
	return New(kv, vault.New(kv)), kv
}

func somePalaces() []palace.Palace {
	return []palace.Palace{
		{ID: "palace_1", Name: "Childhood home", Images: []palace.Image{
			{ID: "img_1", Name: "hallway", DataURL: "data:image/png;base64,AAAA", Annotations: []palace.Annotation{}},
		}},
	}
}

func TestSaveLoadPlaintext(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Save(somePalaces(), ""); err != nil {
		t.Fatalf("save error: %v", err)
	}
	got, err := s.Load("")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Childhood home" {
		t.Errorf("got %+v", got)
	}

	encrypted, err := s.Encrypted()
	if err != nil {
		t.Fatalf("encrypted error: %v", err)
	}
	if encrypted {
		t.Error("plaintext save reports encrypted")
	}
}

func TestLoadEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.Load("")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestEncryptedSaveLoad(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Vault().Enable(); err != nil {
		t.Fatalf("enable error: %v", err)
	}
	if err := s.Save(somePalaces(), "pw"); err != nil {
		t.Fatalf("save error: %v", err)
	}

	encrypted, _ := s.Encrypted()
	if !encrypted {
		t.Fatal("save with encryption enabled did not mark document encrypted")
	}

	got, err := s.Load("pw")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d palaces, want 1", len(got))
	}
}

func TestEncryptedSaveRequiresPassword(t *testing.T) {
	s, _ := newTestStore(t)

	s.Vault().Enable()
	if err := s.Save(somePalaces(), ""); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("got %v, want ErrPasswordRequired", err)
	}
}

func TestEncryptedLoadWrongPassword(t *testing.T) {
	s, _ := newTestStore(t)

	s.Vault().Enable()
	if err := s.Save(somePalaces(), "right"); err != nil {
		t.Fatalf("save error: %v", err)
	}
	s.ClearSessionPassword()

	if _, err := s.Load(""); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("no password: got %v, want ErrPasswordRequired", err)
	}
	if _, err := s.Load("wrong"); !errors.Is(err, vault.ErrAuthenticationFailed) {
		t.Errorf("wrong password: got %v, want ErrAuthenticationFailed", err)
	}
}

func TestSessionPasswordReused(t *testing.T) {
	s, _ := newTestStore(t)

	s.Vault().Enable()
	if err := s.Save(somePalaces(), "pw"); err != nil {
		t.Fatalf("save error: %v", err)
	}

	// Save caches the password; later saves and loads need no explicit one.
	if err := s.Save(somePalaces(), ""); err != nil {
		t.Errorf("save with cached session password failed: %v", err)
	}
	if _, err := s.Load(""); err != nil {
		t.Errorf("load with cached session password failed: %v", err)
	}

	s.ClearSessionPassword()
	if err := s.Save(somePalaces(), ""); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("after clear: got %v, want ErrPasswordRequired", err)
	}
}

func TestSavePlaintextClearsFlag(t *testing.T) {
	s, _ := newTestStore(t)

	s.Vault().Enable()
	if err := s.Save(somePalaces(), "pw"); err != nil {
		t.Fatalf("save error: %v", err)
	}

	// SavePlaintext rewrites the document readable and drops the
	// encrypted flag even though the vault is still enabled.
	if err := s.SavePlaintext(somePalaces()); err != nil {
		t.Fatalf("save plaintext error: %v", err)
	}
	encrypted, err := s.Encrypted()
	if err != nil {
		t.Fatalf("encrypted error: %v", err)
	}
	if encrypted {
		t.Error("document still marked encrypted")
	}

	s.ClearSessionPassword()
	got, err := s.Load("")
	if err != nil {
		t.Fatalf("load without password: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d palaces, want 1", len(got))
	}
}

func TestVerifyPassword(t *testing.T) {
	s, _ := newTestStore(t)

	// Nothing stored verifies trivially.
	ok, err := s.VerifyPassword("anything")
	if err != nil || !ok {
		t.Errorf("empty store: ok=%v err=%v, want true nil", ok, err)
	}

	s.Vault().Enable()
	if err := s.Save(somePalaces(), "pw"); err != nil {
		t.Fatalf("save error: %v", err)
	}

	ok, err = s.VerifyPassword("pw")
	if err != nil || !ok {
		t.Errorf("right password: ok=%v err=%v", ok, err)
	}
	ok, err = s.VerifyPassword("nope")
	if err != nil || ok {
		t.Errorf("wrong password: ok=%v err=%v, want false nil", ok, err)
	}
}

func TestCorruptDocument(t *testing.T) {
	s, kv := newTestStore(t)

	if err := kv.Set("palaces", "{not json"); err != nil {
		t.Fatalf("set error: %v", err)
	}
	if _, err := s.Load(""); !errors.Is(err, ErrCorruptDocument) {
		t.Errorf("got %v, want ErrCorruptDocument", err)
	}
}

func TestReset(t *testing.T) {
	s, _ := newTestStore(t)

	s.Vault().Enable()
	if err := s.Save(somePalaces(), "pw"); err != nil {
		t.Fatalf("save error: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("reset error: %v", err)
	}

	got, err := s.Load("")
	if err != nil {
		t.Fatalf("load after reset: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d palaces after reset, want 0", len(got))
	}
}

package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/storage"
)

func exerciseStorage(t *testing.T, s portal.Storage) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, portal.KeyCredential); err != nil || ok {
		t.Fatalf("Get() on empty store = (ok=%v, err=%v), want absent", ok, err)
	}

	if err := s.Set(ctx, portal.KeyCredential, "raw-token"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Set(ctx, portal.KeyStudentID, "42"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	v, ok, err := s.Get(ctx, portal.KeyCredential)
	if err != nil || !ok || v != "raw-token" {
		t.Fatalf("Get() = (%q, %v, %v), want raw-token", v, ok, err)
	}

	if err := s.Delete(ctx, portal.SessionKeys...); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	for _, k := range portal.SessionKeys {
		if _, ok, _ := s.Get(ctx, k); ok {
			t.Errorf("key %q survived Delete()", k)
		}
	}

	if err := s.Delete(ctx, "never-set"); err != nil {
		t.Errorf("Delete() of a missing key error: %v", err)
	}
}

func TestMemory(t *testing.T) {
	m := storage.NewMemory()
	exerciseStorage(t, m)
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestFile(t *testing.T) {
	exerciseStorage(t, storage.NewFile(filepath.Join(t.TempDir(), "nested", "session.json")))
}

func TestFile_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	if err := storage.NewFile(path).Set(ctx, portal.KeyCredential, "persisted"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	v, ok, err := storage.NewFile(path).Get(ctx, portal.KeyCredential)
	if err != nil || !ok || v != "persisted" {
		t.Errorf("Get() after reopen = (%q, %v, %v), want persisted", v, ok, err)
	}
}

func TestFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := storage.NewFile(path).Get(context.Background(), portal.KeyCredential); err == nil {
		t.Error("Get() on a corrupt file should fail")
	}
}

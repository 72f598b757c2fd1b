package store

import (
	"os"
	"testing"
)

func TestProofStoreSaveAndGetByID(t *testing.T) {
	s := NewProofStore(t.TempDir())
	rec, err := s.SaveImage("tx_1", "whatsapp", "u1", "receipt.jpg", "image/jpeg", []byte("fakejpegbytes"))
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	if rec.ID == "" || rec.StoredPath == "" {
		t.Fatalf("unexpected empty record: %+v", rec)
	}
	if _, err := os.Stat(rec.StoredPath); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if rec.SHA256 == "" || rec.SizeBytes != int64(len("fakejpegbytes")) {
		t.Fatalf("hash or size not recorded: %+v", rec)
	}

	got, ok := s.GetByID(rec.ID)
	if !ok {
		t.Fatalf("record not found by id")
	}
	if got.Name != "receipt.jpg" {
		t.Fatalf("name mismatch: got %q", got.Name)
	}
	if !s.IsInRoot(got.StoredPath) {
		t.Fatalf("stored path %q not under root", got.StoredPath)
	}
}

func TestProofStoreForTransaction(t *testing.T) {
	s := NewProofStore(t.TempDir())
	if _, err := s.SaveImage("tx_1", "whatsapp", "u1", "a.jpg", "image/jpeg", []byte("aaa")); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	if _, err := s.SaveImage("tx_1", "whatsapp", "u1", "b.jpg", "image/jpeg", []byte("bbb")); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	if _, err := s.SaveImage("tx_2", "telegram", "u1", "c.jpg", "image/jpeg", []byte("ccc")); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	got := s.ForTransaction("tx_1")
	if len(got) != 2 {
		t.Fatalf("expected 2 proofs for tx_1, got %d", len(got))
	}
	for _, r := range got {
		if r.TransactionID != "tx_1" {
			t.Fatalf("wrong transaction in result: %+v", r)
		}
	}
}

func TestProofStoreReloadsIndex(t *testing.T) {
	dir := t.TempDir()
	s := NewProofStore(dir)
	rec, err := s.SaveImage("tx_1", "whatsapp", "u1", "receipt.png", "image/png", []byte("pngbytes"))
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	reopened := NewProofStore(dir)
	got, ok := reopened.GetByID(rec.ID)
	if !ok {
		t.Fatalf("record lost after reload")
	}
	if got.StoredPath != rec.StoredPath {
		t.Fatalf("stored path changed: %q vs %q", got.StoredPath, rec.StoredPath)
	}
}

func TestProofStoreRejectsEmpty(t *testing.T) {
	s := NewProofStore(t.TempDir())
	if _, err := s.SaveImage("", "whatsapp", "u1", "x.jpg", "image/jpeg", []byte("x")); err == nil {
		t.Fatalf("expected error for missing transaction id")
	}
	if _, err := s.SaveImage("tx_1", "whatsapp", "u1", "x.jpg", "image/jpeg", nil); err == nil {
		t.Fatalf("expected error for empty image")
	}
}

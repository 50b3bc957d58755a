package model

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestWeights_SaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heads.safetensors")

	h := NewHeads(123)
	if err := h.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadHeads(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if !reflect.DeepEqual(h.Shared.W, loaded.Shared.W) || !reflect.DeepEqual(h.Shared.B, loaded.Shared.B) {
		t.Error("shared layer weights differ after roundtrip")
	}
	if !reflect.DeepEqual(h.Threat.W, loaded.Threat.W) || !reflect.DeepEqual(h.Threat.B, loaded.Threat.B) {
		t.Error("threat head weights differ after roundtrip")
	}
	if !reflect.DeepEqual(h.Severity.W, loaded.Severity.W) || !reflect.DeepEqual(h.Severity.B, loaded.Severity.B) {
		t.Error("severity head weights differ after roundtrip")
	}

	// Loaded heads must produce identical predictions.
	x := testEmbedding(3)
	t1, s1 := h.Forward(x)
	t2, s2 := loaded.Forward(x)
	if !reflect.DeepEqual(t1, t2) || !reflect.DeepEqual(s1, s2) {
		t.Error("loaded heads produce different logits")
	}
}

func TestLoadHeads_MissingFile(t *testing.T) {
	if _, err := LoadHeads(filepath.Join(t.TempDir(), "nope.safetensors")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadHeads_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.safetensors")
	if err := os.WriteFile(path, []byte("not a safetensors file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHeads(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestLoadHeads_TruncatedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heads.safetensors")
	h := NewHeads(1)
	if err := h.Save(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)/2], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHeads(path); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

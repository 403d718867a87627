package labels

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pose_labels.txt")
	if err := os.WriteFile(path, []byte("squat\n\nlunge\n  plank  \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := []string{"squat", "lunge", "plank"}
	got := s.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if i, ok := s.Index("plank"); !ok || i != 2 {
		t.Errorf("Index(plank) = %d, %v", i, ok)
	}
}

func TestLoad_MissingFallsBackToDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Len() != len(Defaults) {
		t.Errorf("Len() = %d, want %d", s.Len(), len(Defaults))
	}
	if s.Name(0) != "chair" {
		t.Errorf("Name(0) = %q, want chair", s.Name(0))
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, []byte("\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func TestFromList(t *testing.T) {
	if _, err := FromList([]string{"a", "b", "a"}); err == nil {
		t.Error("expected duplicate error")
	}

	s, err := FromList([]string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Name(5) != Unknown || s.Name(-1) != Unknown {
		t.Error("out of range Name should return Unknown")
	}

	names := s.Names()
	names[0] = "mutated"
	if s.Name(0) != "a" {
		t.Error("Names() must return a copy")
	}
}

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/qubitlab/runcache/internal/descriptions"
)

func newSQLiteStore(t *testing.T) RunStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	return s
}

func TestSQLiteRunStore(t *testing.T) {
	exerciseRunStore(t, newSQLiteStore)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	desc := testDescriber()
	runID, err := s.CreateRun(ctx, "iv-sweep", desc)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, runID, []Row{{"voltage": 0.0, "current": 1e-6}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	data, read, err := s2.ReadNew(ctx, runID, desc, map[string]int{})
	if err != nil {
		t.Fatal(err)
	}
	if read["current"] != 1 {
		t.Errorf("read cursor = %v, want 1", read)
	}
	if got := data["current"]["current"].Float64s()[0]; got != 1e-6 {
		t.Errorf("current[0] = %v, want 1e-6", got)
	}
}

func TestSQLiteRejectsUnsafeParameterNames(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	defer s.Close()

	desc := &descriptions.RunDescriber{
		Params: []descriptions.ParamSpec{
			{Name: `v"; DROP TABLE runs; --`, Type: descriptions.Numeric},
		},
		Interdeps: descriptions.InterDependencies{
			Standalones: []string{`v"; DROP TABLE runs; --`},
		},
	}
	if _, err := s.CreateRun(ctx, "bad", desc); err == nil {
		t.Error("CreateRun() expected error for unsafe parameter name")
	}
}

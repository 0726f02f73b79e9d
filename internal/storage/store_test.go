package storage

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/qubitlab/runcache/internal/descriptions"
)

func testDescriber() *descriptions.RunDescriber {
	return &descriptions.RunDescriber{
		Params: []descriptions.ParamSpec{
			{Name: "voltage", Type: descriptions.Numeric, Unit: "V"},
			{Name: "current", Type: descriptions.Numeric, Unit: "A"},
			{Name: "phase", Type: descriptions.ComplexNum},
			{Name: "note", Type: descriptions.Text},
		},
		Interdeps: descriptions.InterDependencies{
			Dependencies: map[string][]string{
				"current": {"voltage"},
				"phase":   {"voltage"},
			},
			Standalones: []string{"note"},
		},
	}
}

// exerciseRunStore runs the shared RunStore contract tests against an
// implementation.
func exerciseRunStore(t *testing.T, newStore func(t *testing.T) RunStore) {
	ctx := context.Background()

	t.Run("create and describe", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		runID, err := s.CreateRun(ctx, "iv-sweep", testDescriber())
		if err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}

		desc, err := s.Describe(ctx, runID)
		if err != nil {
			t.Fatalf("Describe() error = %v", err)
		}
		if got := len(desc.Params); got != 4 {
			t.Errorf("Describe() params = %d, want 4", got)
		}

		if _, err := s.CreateRun(ctx, "", testDescriber()); err == nil {
			t.Error("CreateRun() expected error for empty name")
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if _, err := s.Describe(ctx, 42); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("Describe() error = %v, want ErrRunNotFound", err)
		}
		if _, err := s.Completed(ctx, 42); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("Completed() error = %v, want ErrRunNotFound", err)
		}
		if err := s.MarkCompleted(ctx, 42); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("MarkCompleted() error = %v, want ErrRunNotFound", err)
		}
	})

	t.Run("read new advances cursors", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		desc := testDescriber()

		runID, err := s.CreateRun(ctx, "iv-sweep", desc)
		if err != nil {
			t.Fatal(err)
		}

		rows := []Row{
			{"voltage": 0.0, "current": 1e-6, "phase": complex(0.5, -0.5)},
			{"voltage": 0.1, "current": 2e-6, "phase": complex(0.6, -0.4)},
		}
		if err := s.Append(ctx, runID, rows); err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		data, read, err := s.ReadNew(ctx, runID, desc, map[string]int{})
		if err != nil {
			t.Fatalf("ReadNew() error = %v", err)
		}
		if read["current"] != 2 || read["phase"] != 2 {
			t.Errorf("read cursors = %v, want 2 for current and phase", read)
		}

		current := data["current"]["current"]
		if current == nil || current.Size() != 2 {
			t.Fatalf("current tree = %v, want 2 values", data["current"])
		}
		if got := current.Float64s()[1]; got != 2e-6 {
			t.Errorf("current[1] = %v, want 2e-6", got)
		}
		phase := data["phase"]["phase"]
		if got := phase.Complex128s()[0]; got != complex(0.5, -0.5) {
			t.Errorf("phase[0] = %v, want (0.5-0.5i)", got)
		}

		// A second read with the returned cursors yields nothing new.
		again, read2, err := s.ReadNew(ctx, runID, desc, read)
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != 0 {
			t.Errorf("ReadNew() after catch-up returned %d trees, want 0", len(again))
		}
		if read2["current"] != 2 {
			t.Errorf("cursor moved without new rows: %v", read2)
		}
	})

	t.Run("rows count per tree", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		desc := testDescriber()

		runID, err := s.CreateRun(ctx, "iv-sweep", desc)
		if err != nil {
			t.Fatal(err)
		}

		// Rows carrying only one dependent advance only that tree.
		rows := []Row{
			{"voltage": 0.0, "current": 1e-6},
			{"voltage": 0.0, "phase": complex(1, 0)},
			{"note": "ramping up"},
		}
		if err := s.Append(ctx, runID, rows); err != nil {
			t.Fatal(err)
		}

		data, read, err := s.ReadNew(ctx, runID, desc, map[string]int{})
		if err != nil {
			t.Fatal(err)
		}
		if read["current"] != 1 || read["phase"] != 1 || read["note"] != 1 {
			t.Errorf("read cursors = %v, want 1 each", read)
		}
		if got := data["note"]["note"].Strings()[0]; got != "ramping up" {
			t.Errorf("note[0] = %q, want %q", got, "ramping up")
		}
		// The current tree's voltage column has one row, not three.
		if got := data["current"]["voltage"].Size(); got != 1 {
			t.Errorf("voltage size = %d, want 1", got)
		}
	})

	t.Run("null setpoint becomes NaN", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		desc := testDescriber()

		runID, err := s.CreateRun(ctx, "iv-sweep", desc)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Append(ctx, runID, []Row{{"current": 3e-6}}); err != nil {
			t.Fatal(err)
		}

		data, _, err := s.ReadNew(ctx, runID, desc, map[string]int{})
		if err != nil {
			t.Fatal(err)
		}
		if got := data["current"]["voltage"].Float64s()[0]; !math.IsNaN(got) {
			t.Errorf("missing setpoint = %v, want NaN", got)
		}
	})

	t.Run("completion", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		runID, err := s.CreateRun(ctx, "iv-sweep", testDescriber())
		if err != nil {
			t.Fatal(err)
		}

		done, err := s.Completed(ctx, runID)
		if err != nil {
			t.Fatal(err)
		}
		if done {
			t.Error("new run reported completed")
		}

		if err := s.MarkCompleted(ctx, runID); err != nil {
			t.Fatal(err)
		}
		done, err = s.Completed(ctx, runID)
		if err != nil {
			t.Fatal(err)
		}
		if !done {
			t.Error("run not reported completed after MarkCompleted")
		}

		if err := s.Append(ctx, runID, []Row{{"voltage": 1.0}}); err == nil {
			t.Error("Append() expected error on completed run")
		}
	})

	t.Run("listing", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		id1, err := s.CreateRun(ctx, "first", testDescriber())
		if err != nil {
			t.Fatal(err)
		}
		id2, err := s.CreateRun(ctx, "second", testDescriber())
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Append(ctx, id2, []Row{{"voltage": 0.0, "current": 1e-6}}); err != nil {
			t.Fatal(err)
		}

		infos, err := s.Runs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(infos) != 2 {
			t.Fatalf("Runs() = %d entries, want 2", len(infos))
		}
		if infos[0].ID != id1 || infos[1].ID != id2 {
			t.Errorf("Runs() order = %d, %d, want %d, %d", infos[0].ID, infos[1].ID, id1, id2)
		}
		if infos[1].Rows != 1 {
			t.Errorf("Runs()[1].Rows = %d, want 1", infos[1].Rows)
		}

		info, err := s.GetRun(ctx, id2)
		if err != nil {
			t.Fatal(err)
		}
		if info.Name != "second" || info.Rows != 1 {
			t.Errorf("GetRun() = %+v, want name second with 1 row", info)
		}
	})

	t.Run("unknown parameter in row", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		runID, err := s.CreateRun(ctx, "iv-sweep", testDescriber())
		if err != nil {
			t.Fatal(err)
		}
		err = s.Append(ctx, runID, []Row{{"mystery": 1.0}})
		if err == nil {
			t.Error("Append() expected error for unknown parameter")
		}
	})

	t.Run("unknown tree reads empty", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		runID, err := s.CreateRun(ctx, "iv-sweep", testDescriber())
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Append(ctx, runID, []Row{{"voltage": 0.0, "current": 1e-6}}); err != nil {
			t.Fatal(err)
		}

		// A caller-side description naming a tree the run never stored.
		other := &descriptions.RunDescriber{
			Params: []descriptions.ParamSpec{
				{Name: "temperature", Type: descriptions.Numeric},
			},
			Interdeps: descriptions.InterDependencies{
				Standalones: []string{"temperature"},
			},
		}
		data, read, err := s.ReadNew(ctx, runID, other, map[string]int{})
		if err != nil {
			t.Fatalf("ReadNew() error = %v, want graceful empty result", err)
		}
		if len(data) != 0 {
			t.Errorf("ReadNew() = %d trees, want 0", len(data))
		}
		if _, ok := read["temperature"]; ok {
			t.Error("cursor created for unknown tree")
		}
	})
}

package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func archiveInfos(times ...time.Time) []Info {
	infos := make([]Info, len(times))
	for i, ts := range times {
		infos[i] = Info{
			Path:      filepath.Join("/tmp", FileName(ts)),
			CreatedAt: ts,
		}
	}
	return infos
}

func TestCountPolicy(t *testing.T) {
	now := time.Now()
	infos := archiveInfos(now, now.Add(-time.Hour), now.Add(-2*time.Hour))

	tests := []struct {
		max  int
		want int
	}{
		{0, 0},
		{2, 2},
		{3, 3},
		{10, 3},
	}
	for _, tt := range tests {
		p := &CountPolicy{MaxCount: tt.max}
		if got := len(p.Apply(infos)); got != tt.want {
			t.Errorf("CountPolicy(%d) kept %d, want %d", tt.max, got, tt.want)
		}
	}
}

func TestAgePolicy(t *testing.T) {
	now := time.Now()
	infos := archiveInfos(now.Add(-time.Hour), now.Add(-25*time.Hour), now.Add(-8*24*time.Hour))

	p := &AgePolicy{MaxAge: 24 * time.Hour}
	keep := p.Apply(infos)
	if len(keep) != 1 {
		t.Fatalf("AgePolicy kept %d, want 1", len(keep))
	}
	if keep[0].Path != infos[0].Path {
		t.Errorf("AgePolicy kept %s, want newest", keep[0].Path)
	}
}

func TestCompositePolicyUnion(t *testing.T) {
	now := time.Now()
	// Newest two pass the count policy; the old one passes neither.
	infos := archiveInfos(now, now.Add(-time.Hour), now.Add(-30*24*time.Hour))

	p := &CompositePolicy{Policies: []RetentionPolicy{
		&CountPolicy{MaxCount: 1},
		&AgePolicy{MaxAge: 24 * time.Hour},
	}}
	keep := p.Apply(infos)
	if len(keep) != 2 {
		t.Fatalf("CompositePolicy kept %d, want 2", len(keep))
	}
}

func TestApplyRetention(t *testing.T) {
	ctx := context.Background()
	store, runID := seedStore(t)
	a, err := Snapshot(ctx, store, runID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	dir := t.TempDir()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := Write(filepath.Join(dir, FileName(base.Add(time.Duration(i)*time.Hour))), a); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	deleted, err := ApplyRetention(dir, &CountPolicy{MaxCount: 1})
	if err != nil {
		t.Fatalf("ApplyRetention: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted %d archives, want 2", len(deleted))
	}

	remaining, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("%d archives remain, want 1", len(remaining))
	}
	// Newest-first ordering means the kept file is the latest timestamp.
	want := FileName(base.Add(2 * time.Hour))
	if filepath.Base(remaining[0].Path) != want {
		t.Errorf("kept %s, want %s", filepath.Base(remaining[0].Path), want)
	}
}

func TestListIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	archives, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(archives) != 0 {
		t.Errorf("List found %d archives in a dir with none", len(archives))
	}
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"720h", 720 * time.Hour, false},
		{"", 0, true},
		{"30x", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAge(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAge(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseAge(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

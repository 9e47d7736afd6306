package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryListNewestFirstWithCursor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		cid := "a"
		if i%2 == 1 {
			cid = "b"
		}
		rec, err := m.SaveSolveRecord(ctx, SolveRecord{CorrelationID: cid, Generations: i, CreatedAt: base.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if rec.ID == "" {
			t.Fatal("id not assigned")
		}
		ids = append(ids, rec.ID)
	}

	page, next, err := m.ListSolveRecords(ctx, "", "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[4] || page[1].ID != ids[3] || next != ids[3] {
		t.Fatalf("page 1 = %+v next %q", page, next)
	}
	page, next, err = m.ListSolveRecords(ctx, "", next, 10)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page) != 3 || page[0].ID != ids[2] || next != "" {
		t.Fatalf("page 2 = %+v next %q", page, next)
	}

	only, _, _ := m.ListSolveRecords(ctx, "a", "", 10)
	if len(only) != 3 {
		t.Fatalf("filtered = %d", len(only))
	}
	for _, r := range only {
		if r.CorrelationID != "a" {
			t.Fatalf("filter leaked %+v", r)
		}
	}

	if _, _, err := m.ListSolveRecords(ctx, "", "missing", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown cursor: %v", err)
	}
}

func TestMemoryDropsOldestPastLimit(t *testing.T) {
	m := NewMemorySize(3)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := m.SaveSolveRecord(ctx, SolveRecord{CorrelationID: "a", Generations: i})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	page, next, err := m.ListSolveRecords(ctx, "", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 3 || next != "" {
		t.Fatalf("kept %d records, next %q", len(page), next)
	}
	for i, want := range []string{ids[4], ids[3], ids[2]} {
		if page[i].ID != want {
			t.Fatalf("record %d = %s, want %s", i, page[i].ID, want)
		}
	}
	if _, _, err := m.ListSolveRecords(ctx, "", ids[0], 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cursor on dropped record: %v", err)
	}
}

func TestMemoryCreatedAtDefaults(t *testing.T) {
	m := NewMemory()
	rec, _ := m.SaveSolveRecord(context.Background(), SolveRecord{})
	if rec.CreatedAt.IsZero() {
		t.Fatal("created at not set")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("no embedded migrations")
	}
	body, err := migrationFS.ReadFile(names[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "solve_metrics") {
		t.Fatal("first migration does not create solve_metrics")
	}
}

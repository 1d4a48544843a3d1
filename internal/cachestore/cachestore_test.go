package cachestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_WriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	w := store.Writer("abc123", RequestSummary{Model: "gpt-4", Messages: []any{}})
	w.Append(`data: {"a":1}`)
	w.Append(`data: {"a":2}`)
	if err := w.Save(200); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !store.Exists("abc123") {
		t.Fatal("expected Exists to report true after Save")
	}

	rec, ok := store.Load("abc123")
	if !ok {
		t.Fatal("expected Load to succeed after Save")
	}
	if rec.Hash != "abc123" || rec.Request.Model != "gpt-4" {
		t.Errorf("rec = %+v, unexpected fields", rec)
	}
	if len(rec.Response.Chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(rec.Response.Chunks))
	}
	if rec.Response.Chunks[0].Delay != 0 {
		t.Errorf("first chunk delay = %d, want 0", rec.Response.Chunks[0].Delay)
	}
	if rec.Response.Status != 200 {
		t.Errorf("status = %d, want 200", rec.Response.Status)
	}
}

func TestStore_LoadMissingIsAbsent(t *testing.T) {
	store := New(t.TempDir())
	if store.Exists("nope") {
		t.Error("expected Exists false for missing fingerprint")
	}
	if _, ok := store.Load("nope"); ok {
		t.Error("expected Load ok=false for missing fingerprint")
	}
}

func TestStore_CorruptFileIsAbsent(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Load("bad"); ok {
		t.Error("expected corrupt file to be treated as a cache miss")
	}
}

func TestStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	w := store.Writer("fp", RequestSummary{Model: "gpt-4"})
	w.Append("x")
	if err := w.Save(200); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file after Save: %s", e.Name())
		}
	}
}

func TestReplay_YieldsChunksInOrder(t *testing.T) {
	rec := CachedResponse{
		Response: ResponseRecord{
			Chunks: []Chunk{
				{Data: "a", Delay: 0},
				{Data: "b", Delay: 1},
				{Data: "c", Delay: 1},
			},
		},
	}

	var got []string
	err := Replay(context.Background(), rec, true, func(data string) error {
		got = append(got, data)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReplay_HonoursCancellation(t *testing.T) {
	rec := CachedResponse{
		Response: ResponseRecord{
			Chunks: []Chunk{
				{Data: "a", Delay: 0},
				{Data: "b", Delay: 10_000},
				{Data: "c", Delay: 0},
			},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	err := Replay(ctx, rec, false, func(data string) error {
		got = append(got, data)
		if data == "a" {
			cancel()
		}
		return nil
	})
	if err != ErrAborted {
		t.Fatalf("Replay error = %v, want ErrAborted", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d chunks before abort, want 1", len(got))
	}
}

func TestReplay_FastModeSkipsSleeping(t *testing.T) {
	rec := CachedResponse{
		Response: ResponseRecord{
			Chunks: []Chunk{
				{Data: "a", Delay: 5_000},
				{Data: "b", Delay: 5_000},
			},
		},
	}

	start := time.Now()
	err := Replay(context.Background(), rec, true, func(string) error { return nil })
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fast replay took %v, want near-instant", elapsed)
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestBuildWhereEquality(t *testing.T) {
	where, args, err := buildWhere([]Filter{Eq("sectionId", "sec_1")})
	if err != nil {
		t.Fatalf("buildWhere failed: %v", err)
	}
	if where != ` WHERE doc->>'sectionId' = $1` {
		t.Errorf("unexpected clause: %q", where)
	}
	if len(args) != 1 || args[0] != "sec_1" {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestBuildWhereNullEquality(t *testing.T) {
	where, args, err := buildWhere([]Filter{Eq("endTime", nil)})
	if err != nil {
		t.Fatalf("buildWhere failed: %v", err)
	}
	if where != ` WHERE doc->>'endTime' IS NULL` {
		t.Errorf("unexpected clause: %q", where)
	}
	if len(args) != 0 {
		t.Errorf("expected no args, got %v", args)
	}
}

func TestBuildWhereTypedCasts(t *testing.T) {
	where, args, err := buildWhere([]Filter{
		Eq("plannerId", "pln_1"),
		Lt("dueDate", time.Now()),
		Gte("order", 3),
		Eq("isPublic", true),
	})
	if err != nil {
		t.Fatalf("buildWhere failed: %v", err)
	}
	for _, fragment := range []string{
		`doc->>'plannerId' = $1`,
		`(doc->>'dueDate')::timestamptz < $2`,
		`(doc->>'order')::numeric >= $3`,
		`(doc->>'isPublic')::boolean = $4`,
	} {
		if !strings.Contains(where, fragment) {
			t.Errorf("clause %q missing fragment %q", where, fragment)
		}
	}
	if len(args) != 4 {
		t.Errorf("expected 4 args, got %d", len(args))
	}
}

func TestBuildWhereArrayContains(t *testing.T) {
	where, args, err := buildWhere([]Filter{Contains("tags", "urgent")})
	if err != nil {
		t.Fatalf("buildWhere failed: %v", err)
	}
	if !strings.Contains(where, `doc->'tags' @> $1::jsonb`) {
		t.Errorf("unexpected clause: %q", where)
	}
	if len(args) != 1 || args[0] != `["urgent"]` {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestBuildWhereRejectsBadField(t *testing.T) {
	_, _, err := buildWhere([]Filter{Eq("doc'; DROP TABLE planners;--", "x")})
	if err == nil {
		t.Fatal("expected error for invalid field name")
	}
}

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping store integration test")
	}
	return url
}

func openTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewDocumentStore(db)
}

func TestSetGetRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	docs := openTestStore(t)
	ctx := context.Background()

	id := "act_store_test_roundtrip"
	defer docs.Delete(ctx, Activities, id)

	in := map[string]any{"id": id, "title": "Review draft", "order": 2, "version": 1}
	if err := docs.Set(ctx, Activities, id, in); err != nil {
		t.Fatalf("set: %v", err)
	}

	raw, err := docs.Get(ctx, Activities, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["title"] != "Review draft" {
		t.Errorf("expected title round-trip, got %v", out["title"])
	}
}

func TestUpdateVersionedConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	docs := openTestStore(t)
	ctx := context.Background()

	id := "act_store_test_version"
	defer docs.Delete(ctx, Activities, id)

	if err := docs.Set(ctx, Activities, id, map[string]any{"id": id, "version": 3}); err != nil {
		t.Fatalf("set: %v", err)
	}

	err := docs.UpdateVersioned(ctx, Activities, id, map[string]any{"version": 3}, 2)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	if err := docs.UpdateVersioned(ctx, Activities, id, map[string]any{"version": 4}, 3); err != nil {
		t.Errorf("expected CAS at version 3 to succeed, got %v", err)
	}
}

func TestAtomicBatchRollsBack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	docs := openTestStore(t)
	ctx := context.Background()

	id := "act_store_test_batch"
	defer docs.Delete(ctx, Activities, id)

	err := docs.AtomicBatch(ctx, []BatchOp{
		{Type: BatchSet, Collection: Activities, ID: id, Doc: map[string]any{"id": id}},
		{Type: BatchUpdate, Collection: Activities, ID: "act_does_not_exist", Partial: map[string]any{"order": 1}},
	})
	if err == nil {
		t.Fatal("expected batch to fail on missing document")
	}

	if _, err := docs.Get(ctx, Activities, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected rollback to discard the set, got %v", err)
	}
}

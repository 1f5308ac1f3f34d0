package storage

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"twitch-chat-bot/model"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "bot.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	if _, found, err := store.LoadUser(ctx, "alice"); err != nil || found {
		t.Fatalf("empty store: found=%v err=%v", found, err)
	}

	seen := time.Unix(1_700_000_000, 0).UTC()
	err := store.SaveAll(ctx, []model.UserRecord{
		{Username: "alice", DisplayName: "Alice", Points: 40, Experience: 120, LastMessage: seen},
		{Username: "bob", Points: 90},
	})
	if err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	rec, found, err := store.LoadUser(ctx, "ALICE")
	if err != nil || !found {
		t.Fatalf("LoadUser: found=%v err=%v", found, err)
	}
	if rec.DisplayName != "Alice" || rec.Points != 40 || rec.Experience != 120 || !rec.LastMessage.Equal(seen) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	top, err := store.TopUsers(ctx, model.FieldPoints, 1)
	if err != nil || len(top) != 1 || top[0].Username != "bob" {
		t.Fatalf("TopUsers: %+v err=%v", top, err)
	}
}

func TestSQLiteAdjustOfflineUserClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	if err := store.SaveAll(ctx, []model.UserRecord{{Username: "alice", Points: 10}}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	value, found, err := store.AdjustOfflineUser(ctx, "alice", model.FieldPoints, -9_999_999)
	if err != nil || !found || value != 0 {
		t.Fatalf("expected clamp to 0, got value=%d found=%v err=%v", value, found, err)
	}

	if _, found, err := store.AdjustOfflineUser(ctx, "ghost", model.FieldExperience, 5); err != nil || found {
		t.Fatalf("unknown user must report not found: found=%v err=%v", found, err)
	}
}

func TestSQLiteAdjustOfflineUserSaturates(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	if err := store.SaveAll(ctx, []model.UserRecord{{Username: "alice", Points: 10}}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	value, found, err := store.AdjustOfflineUser(ctx, "alice", model.FieldPoints, math.MaxInt64)
	if err != nil || !found || value != math.MaxInt64 {
		t.Fatalf("expected saturation at MaxInt64, got value=%d found=%v err=%v", value, found, err)
	}
	rec, _, err := store.LoadUser(ctx, "alice")
	if err != nil || rec.Points != math.MaxInt64 {
		t.Fatalf("stored points = %d err=%v", rec.Points, err)
	}
}

func TestCatalogFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	catalog := &Catalog{Path: filepath.Join(t.TempDir(), "missing.yml")}

	ranks, err := catalog.LoadRankTable(ctx)
	if err != nil || len(ranks) == 0 {
		t.Fatalf("expected default ranks, got %v err=%v", ranks, err)
	}
	defs, err := catalog.LoadCommandCatalog(ctx)
	if err != nil || len(defs) == 0 {
		t.Fatalf("expected default commands, got %d err=%v", len(defs), err)
	}
}

func TestCatalogParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yml")
	content := `
ranks:
  - {name: Silver, level: 2, threshold: 50}
  - {name: Bronze, level: 1, threshold: 0}
commands:
  - format: "!addmed {0} {1}"
    category: currency
    subtype: add
    permission: moderator
    cooldown: 15s
    success: "{0} +{1}"
  - format: "!dance"
    category: meta
    subtype: dance
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	catalog := &Catalog{Path: path}

	ranks, err := catalog.LoadRankTable(context.Background())
	if err != nil {
		t.Fatalf("LoadRankTable: %v", err)
	}
	if ranks[0].Name != "Bronze" || ranks[1].Name != "Silver" {
		t.Fatalf("ranks not sorted by level: %+v", ranks)
	}

	defs, err := catalog.LoadCommandCatalog(context.Background())
	if err != nil || len(defs) != 2 {
		t.Fatalf("LoadCommandCatalog: %d err=%v", len(defs), err)
	}
	add := defs[0]
	if add.Permission != model.PermissionModerator || add.Subtype != model.SubtypeAdd || add.Cooldown != 15*time.Second {
		t.Fatalf("unexpected definition: %+v", add)
	}
	if defs[1].Subtype != model.SubtypeUnknown {
		t.Fatalf("unrecognized subtype must parse as unknown")
	}
}

func TestMemoryAdjustOfflineUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	store.Put(model.UserRecord{Username: "alice", Experience: 5})

	if v, ok, _ := store.AdjustOfflineUser(ctx, "Alice", model.FieldExperience, -10); !ok || v != 0 {
		t.Fatalf("expected clamp, got %d %v", v, ok)
	}
	store.AdjustOfflineUser(ctx, "alice", model.FieldExperience, 7)
	if v, _, _ := store.AdjustOfflineUser(ctx, "alice", model.FieldExperience, math.MaxInt64); v != math.MaxInt64 {
		t.Fatalf("expected saturation, got %d", v)
	}
	if err := store.SaveAll(ctx, nil); err != nil || store.SaveCount() != 0 {
		t.Fatalf("empty SaveAll must be a no-op")
	}
}

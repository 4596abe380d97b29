package txlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, _ := store.Get(ctx, "missing"); rec != nil {
		t.Fatalf("expected nil for missing key")
	}

	record := Record{
		TxHash:    "0xabc",
		Method:    "Campaign.contribute",
		Status:    StatusMined,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := store.Save(ctx, "abc", record); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _ := store.Get(ctx, "abc")
	if got == nil || got.TxHash != "0xabc" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMemoryStoreDropsExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Save(ctx, "old", Record{Method: "old", CreatedAt: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(-time.Minute)})
	if rec, _ := store.Get(ctx, "old"); rec != nil {
		t.Fatalf("expected expired record to be hidden, got %+v", rec)
	}
	recent, _ := store.Recent(ctx, 10)
	if len(recent) != 0 {
		t.Fatalf("expected no recent records, got %d", len(recent))
	}
}

func TestRecentIsNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i, method := range []string{"first", "second", "third"} {
		rec := Record{Method: method, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.Save(ctx, method, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Method != "third" || recent[1].Method != "second" {
		t.Fatalf("unexpected order: %+v", recent)
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal", "tx.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	record := Record{
		TxHash:    "0xdef",
		Method:    "CampaignFactory.createCampaign",
		Status:    StatusMined,
		Block:     7,
		CreatedAt: time.Unix(0, 0),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.Save(ctx, "key", record); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Get(ctx, "key")
	if got == nil || got.TxHash != "0xdef" || got.Block != 7 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestFileStoreDropsExpiredOnRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	ctx := context.Background()
	now := time.Now()
	store.now = func() time.Time { return now }

	if err := store.Save(ctx, "old", Record{Method: "old", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := store.Save(ctx, "new", Record{Method: "new", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}
	if len(reopened.records) != 1 {
		t.Fatalf("expected only the live record on disk, got %d", len(reopened.records))
	}
	if rec, _ := reopened.Get(ctx, "new"); rec == nil || rec.Method != "new" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path); err == nil {
		t.Fatal("expected a decode error")
	}
}

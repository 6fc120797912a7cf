package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/linguakit/lessonsynth/internal/config"
)

func testStore(t *testing.T, mutate func(*config.CacheConfig)) *Store {
	t.Helper()
	cfg := config.CacheConfig{
		Enabled:       true,
		Path:          filepath.Join(t.TempDir(), "segments.db"),
		RetentionDays: 30,
		MaxEntries:    100,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKeyDistinguishesParameters(t *testing.T) {
	base := Key("voice", "es", "hola", 1.0, 0)
	if Key("voice", "es", "hola", 1.0, 0) != base {
		t.Fatal("key not deterministic")
	}
	variants := []string{
		Key("other", "es", "hola", 1.0, 0),
		Key("voice", "en", "hola", 1.0, 0),
		Key("voice", "es", "adiós", 1.0, 0),
		Key("voice", "es", "hola", 0.75, 0),
		Key("voice", "es", "hola", 1.0, 2.0),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collides with base key", i)
		}
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := testStore(t, nil)
	ctx := context.Background()
	key := Key("voice", "es", "hola", 1.0, 0)

	if _, ok, err := s.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	audio := []byte{1, 2, 3, 4}
	if err := s.Put(ctx, key, "voice", "es", audio); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != string(audio) {
		t.Fatalf("audio mismatch: %v", got)
	}
}

func TestPutOverwritesExisting(t *testing.T) {
	s := testStore(t, nil)
	ctx := context.Background()
	key := Key("voice", "es", "hola", 1.0, 0)

	if err := s.Put(ctx, key, "voice", "es", []byte{1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, key, "voice", "es", []byte{2}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	got, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected overwritten audio, got %v", got)
	}
}

func TestDisabledStoreIsNoOp(t *testing.T) {
	s := testStore(t, func(cfg *config.CacheConfig) { cfg.Enabled = false })
	ctx := context.Background()
	key := Key("voice", "es", "hola", 1.0, 0)

	if err := s.Put(ctx, key, "voice", "es", []byte{1}); err != nil {
		t.Fatalf("put on disabled store: %v", err)
	}
	if _, ok, err := s.Get(ctx, key); err != nil || ok {
		t.Fatalf("disabled store must always miss, got ok=%v err=%v", ok, err)
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune on disabled store: %v", err)
	}
}

func TestPruneExpiresOldEntries(t *testing.T) {
	s := testStore(t, func(cfg *config.CacheConfig) { cfg.RetentionDays = 7 })
	ctx := context.Background()

	now := time.Now()
	s.clock = func() time.Time { return now.Add(-10 * 24 * time.Hour) }
	oldKey := Key("voice", "es", "old", 1.0, 0)
	if err := s.Put(ctx, oldKey, "voice", "es", []byte{1}); err != nil {
		t.Fatalf("put old: %v", err)
	}

	s.clock = func() time.Time { return now }
	freshKey := Key("voice", "es", "fresh", 1.0, 0)
	if err := s.Put(ctx, freshKey, "voice", "es", []byte{2}); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, ok, _ := s.Get(ctx, oldKey); ok {
		t.Fatal("stale entry survived prune")
	}
	if _, ok, _ := s.Get(ctx, freshKey); !ok {
		t.Fatal("fresh entry pruned")
	}
}

func TestPruneEvictsLeastRecentlyUsed(t *testing.T) {
	s := testStore(t, func(cfg *config.CacheConfig) {
		cfg.RetentionDays = 0
		cfg.MaxEntries = 2
	})
	ctx := context.Background()

	now := time.Now()
	keys := make([]string, 3)
	for i := range keys {
		tick := now.Add(time.Duration(i) * time.Minute)
		s.clock = func() time.Time { return tick }
		keys[i] = Key("voice", "es", fmt.Sprintf("text-%d", i), 1.0, 0)
		if err := s.Put(ctx, keys[i], "voice", "es", []byte{byte(i)}); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	// Touch the oldest entry so eviction order follows usage, not insertion.
	s.clock = func() time.Time { return now.Add(time.Hour) }
	if _, ok, err := s.Get(ctx, keys[0]); err != nil || !ok {
		t.Fatalf("expected hit on keys[0], got ok=%v err=%v", ok, err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, ok, _ := s.Get(ctx, keys[1]); ok {
		t.Fatal("least-recently-used entry survived prune")
	}
	for _, k := range []string{keys[0], keys[2]} {
		if _, ok, _ := s.Get(ctx, k); !ok {
			t.Fatalf("recently used entry %s evicted", k)
		}
	}
}

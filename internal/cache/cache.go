package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/linguakit/lessonsynth/internal/config"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed cache of synthesized segments keyed by the exact
// synthesis parameters, so re-rendering a lesson skips paid vendor calls for
// unchanged units. A disabled store is a valid no-op: every Get misses.
type Store struct {
	db    *sql.DB
	cfg   config.CacheConfig
	log   *slog.Logger
	clock func() time.Time
}

// Key derives the cache identity of one synthesis result.
func Key(voice, language, text string, speed, pitch float64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.3f|%.2f|%s", voice, language, speed, pitch, text)))
	return hex.EncodeToString(sum[:])
}

// Open initializes the segment cache according to config.
func Open(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("segment cache vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("segment cache prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS segments (
    key TEXT PRIMARY KEY,
    voice TEXT NOT NULL,
    language TEXT,
    audio BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL,
    last_used_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segments_last_used ON segments(last_used_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached audio for a key, or ok=false on a miss. Hits bump
// the entry's last-used time so retention favors live lessons.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, nil
	}
	var audio []byte
	err := s.db.QueryRowContext(ctx, `SELECT audio FROM segments WHERE key = ?`, key).Scan(&audio)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE segments SET last_used_at = ? WHERE key = ?`, s.clock().UTC(), key); err != nil {
		s.log.Warn("segment cache touch failed", slog.String("error", err.Error()))
	}
	return audio, true, nil
}

// Put stores one synthesized segment.
func (s *Store) Put(ctx context.Context, key, voice, language string, audio []byte) error {
	if s.db == nil {
		return nil
	}
	now := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments(key, voice, language, audio, created_at, last_used_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET audio=excluded.audio, last_used_at=excluded.last_used_at`,
		key, voice, language, audio, now, now)
	return err
}

// Prune applies configured retention: age-based expiry plus a cap on total
// entries, evicting least-recently-used first.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM segments WHERE last_used_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM segments WHERE key IN (
			SELECT key FROM segments ORDER BY last_used_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "gamebot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveSession(ctx context.Context, k Key, rec SessionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(scope, channel, data, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(scope, channel) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		k.Scope, k.Channel, string(b), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadSession(ctx context.Context, k Key) (SessionRecord, bool, error) {
	b, ok, err := s.loadBlob(ctx, "sessions", k)
	if err != nil || !ok {
		return SessionRecord{}, false, err
	}
	rec, ok := decodeSession(b)
	if !ok {
		s.log.Warn("malformed session record ignored", logx.String("key", k.String()))
	}
	return rec, ok, nil
}

func (s *sqliteStore) DeleteSession(ctx context.Context, k Key) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE scope = ? AND channel = ?`, k.Scope, k.Channel)
	return err
}

func (s *sqliteStore) SaveRotation(ctx context.Context, k Key, rec RotationRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rotations(scope, channel, data, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(scope, channel) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		k.Scope, k.Channel, string(b), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadRotation(ctx context.Context, k Key) (RotationRecord, bool, error) {
	b, ok, err := s.loadBlob(ctx, "rotations", k)
	if err != nil || !ok {
		return RotationRecord{}, false, err
	}
	rec, ok := decodeRotation(b)
	return rec, ok, nil
}

// loadBlob reads the data column of a (scope, channel) keyed table. table is never user input.
func (s *sqliteStore) loadBlob(ctx context.Context, table string, k Key) ([]byte, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM `+table+` WHERE scope = ? AND channel = ?`, k.Scope, k.Channel,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(data), true, nil
}

func (s *sqliteStore) IncrementScore(ctx context.Context, scope string, userID int64, delta int64) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO scores(scope, user_id, total) VALUES(?,?,?)
		 ON CONFLICT(scope, user_id) DO UPDATE SET total = total + excluded.total
		 RETURNING total`,
		scope, userID, delta,
	).Scan(&total)
	return total, err
}

func (s *sqliteStore) Score(ctx context.Context, scope string, userID int64) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT total FROM scores WHERE scope = ? AND user_id = ?`, scope, userID,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return total, err
}

func (s *sqliteStore) HasGrant(ctx context.Context, scope string, userID int64, grantID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM grants WHERE scope = ? AND user_id = ? AND grant_id = ?`, scope, userID, grantID,
	).Scan(&n)
	return n > 0, err
}

func (s *sqliteStore) PutGrant(ctx context.Context, scope string, userID int64, grantID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grants(scope, user_id, grant_id, granted_at) VALUES(?,?,?,?)
		 ON CONFLICT(scope, user_id, grant_id) DO NOTHING`,
		scope, userID, grantID, at.UnixMilli(),
	)
	return err
}

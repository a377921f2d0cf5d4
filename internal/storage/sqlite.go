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
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "sessionbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
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

func (s *sqliteStore) SavePoll(ctx context.Context, p PollRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("poll id is required")
	}
	cand, err := json.Marshal(p.Candidates)
	if err != nil {
		return err
	}
	votes := p.Votes
	if votes == nil {
		votes = map[string][]string{}
	}
	vb, err := json.Marshal(votes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO polls(id, status, opened_at, closes_at, candidates, votes, winning_date, event_id, message_ref, tag_everyone, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status,
		   closes_at=excluded.closes_at,
		   candidates=excluded.candidates,
		   votes=excluded.votes,
		   winning_date=excluded.winning_date,
		   event_id=excluded.event_id,
		   message_ref=excluded.message_ref,
		   tag_everyone=excluded.tag_everyone,
		   updated_at=excluded.updated_at`,
		p.ID, p.Status,
		p.OpenedAt.UTC().Format(time.RFC3339Nano), p.ClosesAt.UTC().Format(time.RFC3339Nano),
		string(cand), string(vb),
		nullStr(p.WinningDate), nullStr(p.EventID), nullStr(p.MessageRef),
		boolInt(p.TagEveryone),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ActivePoll(ctx context.Context) (PollRecord, bool, error) {
	if s == nil || s.db == nil {
		return PollRecord{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, opened_at, closes_at, candidates, votes, winning_date, event_id, message_ref, tag_everyone
		 FROM polls WHERE status != ? ORDER BY opened_at DESC LIMIT 1`,
		PollStatusClosed,
	)
	return scanPoll(row)
}

func (s *sqliteStore) Poll(ctx context.Context, id string) (PollRecord, bool, error) {
	if s == nil || s.db == nil {
		return PollRecord{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, opened_at, closes_at, candidates, votes, winning_date, event_id, message_ref, tag_everyone
		 FROM polls WHERE id = ?`, id,
	)
	return scanPoll(row)
}

func scanPoll(row *sql.Row) (PollRecord, bool, error) {
	var (
		p            PollRecord
		opened       string
		closes       string
		cand         string
		votes        string
		winning      sql.NullString
		eventID      sql.NullString
		msgRef       sql.NullString
		tagEveryone  int
	)
	err := row.Scan(&p.ID, &p.Status, &opened, &closes, &cand, &votes, &winning, &eventID, &msgRef, &tagEveryone)
	if errors.Is(err, sql.ErrNoRows) {
		return PollRecord{}, false, nil
	}
	if err != nil {
		return PollRecord{}, false, err
	}
	if p.OpenedAt, err = time.Parse(time.RFC3339Nano, opened); err != nil {
		return PollRecord{}, false, fmt.Errorf("poll %s: bad opened_at: %w", p.ID, err)
	}
	if p.ClosesAt, err = time.Parse(time.RFC3339Nano, closes); err != nil {
		return PollRecord{}, false, fmt.Errorf("poll %s: bad closes_at: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(cand), &p.Candidates); err != nil {
		return PollRecord{}, false, fmt.Errorf("poll %s: bad candidates: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(votes), &p.Votes); err != nil {
		return PollRecord{}, false, fmt.Errorf("poll %s: bad votes: %w", p.ID, err)
	}
	p.WinningDate = winning.String
	p.EventID = eventID.String
	p.MessageRef = msgRef.String
	p.TagEveryone = tagEveryone != 0
	return p, true, nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrDisabled
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("setting key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AllSettings(ctx context.Context) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

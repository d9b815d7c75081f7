package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/okian/soccer-tracker/internal/domain/model"
)

const backendSQLite = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS players (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT    NOT NULL UNIQUE,
	name        TEXT    NOT NULL,
	age         INTEGER NOT NULL,
	position    TEXT    NOT NULL DEFAULT '',
	nationality TEXT    NOT NULL DEFAULT '',
	team        TEXT    NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS stats (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT    NOT NULL UNIQUE,
	player_id      TEXT    NOT NULL REFERENCES players(id) ON DELETE CASCADE,
	match_date     TEXT,
	goals          INTEGER NOT NULL DEFAULT 0,
	assists        INTEGER NOT NULL DEFAULT 0,
	minutes_played INTEGER NOT NULL DEFAULT 0,
	touches        INTEGER NOT NULL DEFAULT 0,
	tackles_won    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_stats_player ON stats(player_id, seq);
`

const statColumns = `id, player_id, match_date, goals, assists, minutes_played, touches, tackles_won`

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// SQLiteStore persists players and stats in a single SQLite file.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	opts    options
	updater *metricsUpdater
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent mutations.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, opts: defaultOptions()}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.updater = startMetricsUpdater(ctx, backendSQLite, s.opts.metricsUpdateInterval, s.Counts)
	return s, nil
}

// Close stops the metrics updater and closes the database.
func (s *SQLiteStore) Close() error {
	s.updater.Close()
	return s.db.Close()
}

// Counts reports the number of stored players and stats.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM players), (SELECT COUNT(*) FROM stats)`).Scan(&c.Players, &c.Stats)
	if err != nil {
		return Counts{}, fmt.Errorf("count rows: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	defer observe(backendSQLite, "list_players", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, age, position, nationality, team FROM players ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	out := []model.Player{}
	for rows.Next() {
		var p model.Player
		if err := rows.Scan(&p.ID, &p.Name, &p.Age, &p.Position, &p.Nationality, &p.Team); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetPlayer(ctx context.Context, id string) (model.Player, error) {
	defer observe(backendSQLite, "get_player", time.Now())
	var p model.Player
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, age, position, nationality, team FROM players WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Age, &p.Position, &p.Nationality, &p.Team)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Player{}, fmt.Errorf("get player %s: %w", id, ErrPlayerNotFound)
	}
	if err != nil {
		return model.Player{}, fmt.Errorf("get player %s: %w", id, err)
	}
	return p, nil
}

func (s *SQLiteStore) CreatePlayer(ctx context.Context, f model.PlayerFields) (model.Player, error) {
	defer observe(backendSQLite, "create_player", time.Now())
	if err := ValidatePlayer(f); err != nil {
		return model.Player{}, err
	}
	p := f.WithID(s.opts.newID())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players (id, name, age, position, nationality, team) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Age, p.Position, p.Nationality, p.Team)
	if err != nil {
		return model.Player{}, fmt.Errorf("create player: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) UpdatePlayer(ctx context.Context, id string, f model.PlayerFields) (model.Player, error) {
	defer observe(backendSQLite, "update_player", time.Now())
	if err := ValidatePlayer(f); err != nil {
		return model.Player{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET name = ?, age = ?, position = ?, nationality = ?, team = ? WHERE id = ?`,
		f.Name, f.Age, f.Position, f.Nationality, f.Team, id)
	if err := affectedOne(res, err, ErrPlayerNotFound); err != nil {
		return model.Player{}, fmt.Errorf("update player %s: %w", id, err)
	}
	return f.WithID(id), nil
}

func (s *SQLiteStore) DeletePlayer(ctx context.Context, id string) error {
	defer observe(backendSQLite, "delete_player", time.Now())
	res, err := s.db.ExecContext(ctx, `DELETE FROM players WHERE id = ?`, id)
	if err := affectedOne(res, err, ErrPlayerNotFound); err != nil {
		return fmt.Errorf("delete player %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListStats(ctx context.Context, playerID string) ([]model.StatRecord, error) {
	defer observe(backendSQLite, "list_stats", time.Now())
	if err := s.playerExists(ctx, playerID); err != nil {
		return nil, fmt.Errorf("list stats %s: %w", playerID, err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+statColumns+` FROM stats WHERE player_id = ? ORDER BY seq`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list stats %s: %w", playerID, err)
	}
	defer rows.Close()

	out := []model.StatRecord{}
	for rows.Next() {
		rec, err := scanStat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetStat(ctx context.Context, playerID, statID string) (model.StatRecord, error) {
	defer observe(backendSQLite, "get_stat", time.Now())
	rec, err := scanStat(s.db.QueryRowContext(ctx,
		`SELECT `+statColumns+` FROM stats WHERE id = ? AND player_id = ?`, statID, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.StatRecord{}, fmt.Errorf("get stat %s: %w", statID, ErrStatNotFound)
	}
	return rec, err
}

func (s *SQLiteStore) CreateStat(ctx context.Context, playerID string, rec model.StatRecord) (model.StatRecord, error) {
	defer observe(backendSQLite, "create_stat", time.Now())
	if err := ValidateStat(rec); err != nil {
		return model.StatRecord{}, err
	}
	if err := s.playerExists(ctx, playerID); err != nil {
		return model.StatRecord{}, fmt.Errorf("create stat: %w", err)
	}
	rec.ID = s.opts.newID()
	rec.PlayerID = playerID
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stats (`+statColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PlayerID, dateValue(rec.MatchDate),
		rec.Goals, rec.Assists, rec.MinutesPlayed, rec.Touches, rec.TacklesWon)
	if err != nil {
		return model.StatRecord{}, fmt.Errorf("create stat: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) UpdateStat(ctx context.Context, playerID, statID string, rec model.StatRecord) (model.StatRecord, error) {
	defer observe(backendSQLite, "update_stat", time.Now())
	if err := ValidateStat(rec); err != nil {
		return model.StatRecord{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE stats SET match_date = ?, goals = ?, assists = ?, minutes_played = ?, touches = ?, tackles_won = ?
		 WHERE id = ? AND player_id = ?`,
		dateValue(rec.MatchDate), rec.Goals, rec.Assists, rec.MinutesPlayed, rec.Touches, rec.TacklesWon,
		statID, playerID)
	if err := affectedOne(res, err, ErrStatNotFound); err != nil {
		return model.StatRecord{}, fmt.Errorf("update stat %s: %w", statID, err)
	}
	rec.ID = statID
	rec.PlayerID = playerID
	return rec, nil
}

func (s *SQLiteStore) DeleteStat(ctx context.Context, playerID, statID string) error {
	defer observe(backendSQLite, "delete_stat", time.Now())
	res, err := s.db.ExecContext(ctx, `DELETE FROM stats WHERE id = ? AND player_id = ?`, statID, playerID)
	if err := affectedOne(res, err, ErrStatNotFound); err != nil {
		return fmt.Errorf("delete stat %s: %w", statID, err)
	}
	return nil
}

func (s *SQLiteStore) playerExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM players WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPlayerNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStat(row rowScanner) (model.StatRecord, error) {
	var (
		rec  model.StatRecord
		date sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.PlayerID, &date,
		&rec.Goals, &rec.Assists, &rec.MinutesPlayed, &rec.Touches, &rec.TacklesWon)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.StatRecord{}, err
		}
		return model.StatRecord{}, fmt.Errorf("scan stat: %w", err)
	}
	if date.Valid {
		rec.MatchDate, _ = model.ParseDate(date.String)
	}
	return rec, nil
}

func dateValue(d model.Date) any {
	if d.IsNull() {
		return nil
	}
	return d.String()
}

// affectedOne maps a zero-row write to notFound.
func affectedOne(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

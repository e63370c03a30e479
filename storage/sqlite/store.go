// Package sqlite provides a SQLite-backed Store implementation over
// modernc.org/sqlite (pure Go, no cgo). It is the reference persistent
// backend: two tables matching the engine's data model plus a tag link
// table, with the (series_id, instance_date) uniqueness constraint and the
// exception/tag cascade handled by the database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kmikulski/libseries/series"
	"github.com/kmikulski/libseries/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS series (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	anchor_start        TEXT NOT NULL,
	anchor_end          TEXT,
	recurrence_type     TEXT NOT NULL,
	recurrence_rule     TEXT NOT NULL DEFAULT '',
	recurrence_interval INTEGER NOT NULL DEFAULT 0,
	recurrence_count    INTEGER NOT NULL DEFAULT 0,
	recurrence_end_date TEXT,
	reminder_minutes    TEXT NOT NULL DEFAULT '[]',
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_series_owner ON series(owner_id);

CREATE TABLE IF NOT EXISTS series_tags (
	series_id TEXT NOT NULL REFERENCES series(id) ON DELETE CASCADE,
	tag_id    TEXT NOT NULL,
	tag_name  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (series_id, tag_id)
);

CREATE TABLE IF NOT EXISTS exceptions (
	series_id      TEXT NOT NULL REFERENCES series(id) ON DELETE CASCADE,
	instance_date  TEXT NOT NULL,
	exception_type TEXT NOT NULL,
	title          TEXT,
	description    TEXT,
	instance_start TEXT,
	instance_end   TEXT,
	original_date  TEXT,
	PRIMARY KEY (series_id, instance_date)
);
`

// Store implements storage.Store on a SQLite database.
type Store struct {
	db *sql.DB

	// Clock can be replaced in tests for deterministic timestamps.
	Clock func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dsn and migrates the schema.
// Plain file paths work as DSNs; ":memory:" gives a throwaway database.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", series.ErrInternal, err)
	}
	// A single writer keeps SQLite happy and makes :memory: databases
	// behave, since each pooled connection would otherwise get its own.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate schema: %v", series.ErrInternal, err)
	}
	return &Store{db: db, Clock: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

const seriesColumns = `id, owner_id, title, description, anchor_start, anchor_end,
	recurrence_type, recurrence_rule, recurrence_interval, recurrence_count,
	recurrence_end_date, reminder_minutes, created_at, updated_at`

func (s *Store) GetSeries(ctx context.Context, ownerID, seriesID string) (*series.Series, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+seriesColumns+` FROM series WHERE id = ? AND owner_id = ?`,
		seriesID, ownerID)

	sr, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: series %s", series.ErrNotFound, seriesID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load series %s: %v", series.ErrInternal, seriesID, err)
	}

	if sr.Tags, err = s.loadTags(ctx, seriesID); err != nil {
		return nil, err
	}
	return sr, nil
}

func (s *Store) ListSeries(ctx context.Context, ownerID string) ([]*series.Series, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+seriesColumns+` FROM series WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list series: %v", series.ErrInternal, err)
	}
	defer rows.Close()

	var out []*series.Series
	for rows.Next() {
		sr, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan series: %v", series.ErrInternal, err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list series: %v", series.ErrInternal, err)
	}

	for _, sr := range out {
		if sr.Tags, err = s.loadTags(ctx, sr.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) CreateSeries(ctx context.Context, sr *series.Series) error {
	now := s.now()
	sr.CreatedAt = now
	sr.UpdatedAt = now

	reminders, err := json.Marshal(sr.ReminderMinutes)
	if err != nil {
		return fmt.Errorf("%w: encode reminders: %v", series.ErrInternal, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO series (`+seriesColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.OwnerID, sr.Title, sr.Description,
		formatTime(sr.AnchorStart), formatTimePtr(sr.AnchorEnd),
		string(sr.Recurrence.Type), sr.Recurrence.Rule,
		sr.Recurrence.Interval, sr.Recurrence.Count,
		formatTimePtr(sr.Recurrence.EndDate),
		string(reminders), formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: series %s already exists", series.ErrConflict, sr.ID)
		}
		return fmt.Errorf("%w: create series: %v", series.ErrInternal, err)
	}
	return nil
}

func (s *Store) UpdateSeries(ctx context.Context, sr *series.Series, expectedUpdatedAt time.Time) error {
	now := s.now()
	reminders, err := json.Marshal(sr.ReminderMinutes)
	if err != nil {
		return fmt.Errorf("%w: encode reminders: %v", series.ErrInternal, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE series SET
			title = ?, description = ?, anchor_start = ?, anchor_end = ?,
			recurrence_type = ?, recurrence_rule = ?, recurrence_interval = ?,
			recurrence_count = ?, recurrence_end_date = ?, reminder_minutes = ?,
			updated_at = ?
		WHERE id = ? AND owner_id = ? AND updated_at = ?`,
		sr.Title, sr.Description,
		formatTime(sr.AnchorStart), formatTimePtr(sr.AnchorEnd),
		string(sr.Recurrence.Type), sr.Recurrence.Rule,
		sr.Recurrence.Interval, sr.Recurrence.Count,
		formatTimePtr(sr.Recurrence.EndDate), string(reminders),
		formatTime(now),
		sr.ID, sr.OwnerID, formatTime(expectedUpdatedAt))
	if err != nil {
		return fmt.Errorf("%w: update series: %v", series.ErrInternal, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update series: %v", series.ErrInternal, err)
	}
	if affected == 0 {
		// Row gone or row moved on: NotFound vs Conflict.
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM series WHERE id = ? AND owner_id = ?`,
			sr.ID, sr.OwnerID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: update series: %v", series.ErrInternal, err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: series %s", series.ErrNotFound, sr.ID)
		}
		return fmt.Errorf("%w: series %s was modified concurrently", series.ErrConflict, sr.ID)
	}

	sr.UpdatedAt = now
	return nil
}

func (s *Store) RestoreSeries(ctx context.Context, sr *series.Series) error {
	reminders, err := json.Marshal(sr.ReminderMinutes)
	if err != nil {
		return fmt.Errorf("%w: encode reminders: %v", series.ErrInternal, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE series SET
			title = ?, description = ?, anchor_start = ?, anchor_end = ?,
			recurrence_type = ?, recurrence_rule = ?, recurrence_interval = ?,
			recurrence_count = ?, recurrence_end_date = ?, reminder_minutes = ?,
			created_at = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		sr.Title, sr.Description,
		formatTime(sr.AnchorStart), formatTimePtr(sr.AnchorEnd),
		string(sr.Recurrence.Type), sr.Recurrence.Rule,
		sr.Recurrence.Interval, sr.Recurrence.Count,
		formatTimePtr(sr.Recurrence.EndDate), string(reminders),
		formatTime(sr.CreatedAt), formatTime(sr.UpdatedAt),
		sr.ID, sr.OwnerID)
	if err != nil {
		return fmt.Errorf("%w: restore series: %v", series.ErrInternal, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: restore series: %v", series.ErrInternal, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: series %s", series.ErrNotFound, sr.ID)
	}
	return nil
}

func (s *Store) DeleteSeries(ctx context.Context, ownerID, seriesID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM series WHERE id = ? AND owner_id = ?`, seriesID, ownerID)
	if err != nil {
		return fmt.Errorf("%w: delete series: %v", series.ErrInternal, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete series: %v", series.ErrInternal, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: series %s", series.ErrNotFound, seriesID)
	}
	return nil
}

func (s *Store) ReplaceTags(ctx context.Context, ownerID, seriesID string, tags []series.Tag) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM series WHERE id = ? AND owner_id = ?`,
		seriesID, ownerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: replace tags: %v", series.ErrInternal, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: series %s", series.ErrNotFound, seriesID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: replace tags: %v", series.ErrInternal, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM series_tags WHERE series_id = ?`, seriesID); err != nil {
		return fmt.Errorf("%w: replace tags: %v", series.ErrInternal, err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO series_tags (series_id, tag_id, tag_name) VALUES (?, ?, ?)`,
			seriesID, tag.ID, tag.Name); err != nil {
			return fmt.Errorf("%w: replace tags: %v", series.ErrInternal, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: replace tags: %v", series.ErrInternal, err)
	}
	return nil
}

func (s *Store) GetExceptions(ctx context.Context, seriesID string, from, to time.Time) (map[string]*series.Exception, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT series_id, instance_date, exception_type, title, description,
			instance_start, instance_end, original_date
		FROM exceptions
		WHERE series_id = ? AND instance_date >= ? AND instance_date <= ?`,
		seriesID, series.DateKey(from), series.DateKey(to))
	if err != nil {
		return nil, fmt.Errorf("%w: load exceptions: %v", series.ErrInternal, err)
	}
	defer rows.Close()

	out := make(map[string]*series.Exception)
	for rows.Next() {
		ex, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan exception: %v", series.ErrInternal, err)
		}
		out[series.DateKey(ex.Date)] = ex
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load exceptions: %v", series.ErrInternal, err)
	}
	return out, nil
}

func (s *Store) UpsertException(ctx context.Context, ex *series.Exception) (*series.Exception, error) {
	stored := ex.Clone()
	stored.Date = series.DateOf(ex.Date)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exceptions (series_id, instance_date, exception_type,
			title, description, instance_start, instance_end, original_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (series_id, instance_date) DO UPDATE SET
			exception_type = excluded.exception_type,
			title = excluded.title,
			description = excluded.description,
			instance_start = excluded.instance_start,
			instance_end = excluded.instance_end,
			original_date = excluded.original_date`,
		stored.SeriesID, series.DateKey(stored.Date), string(stored.Type),
		nullString(stored.Title), nullString(stored.Description),
		formatTimePtr(stored.InstanceStart), formatTimePtr(stored.InstanceEnd),
		formatTimePtr(stored.OriginalDate))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: series %s", series.ErrNotFound, stored.SeriesID)
		}
		return nil, fmt.Errorf("%w: upsert exception: %v", series.ErrInternal, err)
	}
	return stored, nil
}

func (s *Store) DeleteException(ctx context.Context, seriesID string, date time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM exceptions WHERE series_id = ? AND instance_date = ?`,
		seriesID, series.DateKey(date))
	if err != nil {
		return fmt.Errorf("%w: delete exception: %v", series.ErrInternal, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete exception: %v", series.ErrInternal, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: no exception for %s on %s",
			series.ErrNotFound, seriesID, series.DateKey(date))
	}
	return nil
}

func (s *Store) loadTags(ctx context.Context, seriesID string) ([]series.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag_id, tag_name FROM series_tags WHERE series_id = ? ORDER BY tag_id`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("%w: load tags: %v", series.ErrInternal, err)
	}
	defer rows.Close()

	var tags []series.Tag
	for rows.Next() {
		var tag series.Tag
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return nil, fmt.Errorf("%w: scan tag: %v", series.ErrInternal, err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load tags: %v", series.ErrInternal, err)
	}
	return tags, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSeries(row scanner) (*series.Series, error) {
	var (
		sr                 series.Series
		anchorStart        string
		anchorEnd          sql.NullString
		recType            string
		recEndDate         sql.NullString
		reminders          string
		createdAt, updated string
	)
	err := row.Scan(&sr.ID, &sr.OwnerID, &sr.Title, &sr.Description,
		&anchorStart, &anchorEnd,
		&recType, &sr.Recurrence.Rule, &sr.Recurrence.Interval,
		&sr.Recurrence.Count, &recEndDate, &reminders, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	sr.Recurrence.Type = series.RecurrenceType(recType)
	if sr.AnchorStart, err = parseTime(anchorStart); err != nil {
		return nil, err
	}
	if sr.AnchorEnd, err = parseTimePtr(anchorEnd); err != nil {
		return nil, err
	}
	if sr.Recurrence.EndDate, err = parseTimePtr(recEndDate); err != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(reminders), &sr.ReminderMinutes); err != nil {
		return nil, err
	}
	if sr.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sr.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &sr, nil
}

func scanException(row scanner) (*series.Exception, error) {
	var (
		ex           series.Exception
		instanceDate string
		exType       string
		title, desc  sql.NullString
		start, end   sql.NullString
		original     sql.NullString
	)
	err := row.Scan(&ex.SeriesID, &instanceDate, &exType, &title, &desc,
		&start, &end, &original)
	if err != nil {
		return nil, err
	}

	ex.Type = series.ExceptionType(exType)
	ex.Title = stringPtr(title)
	ex.Description = stringPtr(desc)
	if ex.Date, err = time.Parse("2006-01-02", instanceDate); err != nil {
		return nil, err
	}
	if ex.InstanceStart, err = parseTimePtr(start); err != nil {
		return nil, err
	}
	if ex.InstanceEnd, err = parseTimePtr(end); err != nil {
		return nil, err
	}
	if ex.OriginalDate, err = parseTimePtr(original); err != nil {
		return nil, err
	}
	return &ex, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

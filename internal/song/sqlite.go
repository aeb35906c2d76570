package song

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository is a SQLite-backed implementation of Repository.
// One row per song; CompleteIfProcessing relies on a conditional UPDATE
// (WHERE status = 'PROCESSING') so concurrent completion signals resolve
// to exactly one terminal write inside the database.
type SQLiteRepository struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS songs (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	style             TEXT NOT NULL DEFAULT '',
	brand_name        TEXT NOT NULL DEFAULT '',
	brand_description TEXT NOT NULL DEFAULT '',
	lyrics            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	task_id           TEXT,
	audio_url         TEXT NOT NULL DEFAULT '',
	image_url         TEXT NOT NULL DEFAULT '',
	archive_url       TEXT NOT NULL DEFAULT '',
	duration_seconds  REAL NOT NULL DEFAULT 0,
	error_message     TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_songs_task_id ON songs(task_id) WHERE task_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_songs_status ON songs(status);
`

// NewSQLiteRepository opens (and initializes) a SQLite-backed repository.
// The database file is created if it does not exist.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Save inserts or replaces the song row.
func (r *SQLiteRepository) Save(ctx context.Context, s *Song) error {
	c := s.Clone()
	var taskID any
	if c.TaskID != "" {
		taskID = c.TaskID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO songs (
			id, title, style, brand_name, brand_description, lyrics,
			status, task_id, audio_url, image_url, archive_url,
			duration_seconds, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			style = excluded.style,
			brand_name = excluded.brand_name,
			brand_description = excluded.brand_description,
			lyrics = excluded.lyrics,
			status = excluded.status,
			task_id = excluded.task_id,
			audio_url = excluded.audio_url,
			image_url = excluded.image_url,
			archive_url = excluded.archive_url,
			duration_seconds = excluded.duration_seconds,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		c.ID, c.Title, c.Style, c.BrandName, c.BrandDescription, c.Lyrics,
		string(c.Status), taskID, c.AudioURL, c.ImageURL, c.ArchiveURL,
		c.DurationSeconds, c.ErrorMessage, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save song: %w", err)
	}
	return nil
}

// FindByID retrieves a song by its ID.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Song, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByTaskID retrieves a song by its provider task handle.
func (r *SQLiteRepository) FindByTaskID(ctx context.Context, taskID string) (*Song, error) {
	return r.findOne(ctx, "task_id = ?", taskID)
}

// List returns all songs, newest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Song, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" FROM songs ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAll(rows)
}

// MarkProcessing sets the task handle and moves PENDING to PROCESSING.
func (r *SQLiteRepository) MarkProcessing(ctx context.Context, id, taskID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE songs SET status = ?, task_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusProcessing), taskID, time.Now().UnixMilli(), id, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return r.affectedOrState(ctx, res, id)
}

// MarkFailed moves a non-terminal song to FAILED with a message.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id, message string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE songs SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(StatusFailed), message, time.Now().UnixMilli(),
		id, string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return r.affectedOrState(ctx, res, id)
}

// CompleteIfProcessing applies a terminal outcome via a conditional UPDATE.
func (r *SQLiteRepository) CompleteIfProcessing(ctx context.Context, taskID string, c Completion) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE songs SET
			status = ?, audio_url = ?, image_url = ?,
			duration_seconds = ?, error_message = ?, updated_at = ?
		WHERE task_id = ? AND status = ?`,
		string(c.Status), c.AudioURL, c.ImageURL,
		c.DurationSeconds, c.ErrorMessage, time.Now().UnixMilli(),
		taskID, string(StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("complete song: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete song: %w", err)
	}
	return n == 1, nil
}

// FailProcessingOlderThan force-fails stale PROCESSING songs in one transaction.
func (r *SQLiteRepository) FailProcessingOlderThan(ctx context.Context, cutoff time.Time, message string) ([]*Song, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sweep: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		selectColumns+" FROM songs WHERE status = ? AND updated_at < ?",
		string(StatusProcessing), cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("select stale songs: %w", err)
	}
	expired, err := scanAll(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now()
	for _, s := range expired {
		if _, err := tx.ExecContext(ctx, `
			UPDATE songs SET status = ?, error_message = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(StatusFailed), message, now.UnixMilli(), s.ID, string(StatusProcessing),
		); err != nil {
			return nil, fmt.Errorf("fail stale song %s: %w", s.ID, err)
		}
		s.Status = StatusFailed
		s.ErrorMessage = message
		s.UpdatedAt = now
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sweep: %w", err)
	}
	return expired, nil
}

// SetArchiveURL records the mirrored artifact location for a song.
func (r *SQLiteRepository) SetArchiveURL(ctx context.Context, id, url string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE songs SET archive_url = ?, updated_at = ? WHERE id = ?`,
		url, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("set archive url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set archive url: %w", err)
	}
	if n == 0 {
		return ErrSongNotFound
	}
	return nil
}

const selectColumns = `SELECT
	id, title, style, brand_name, brand_description, lyrics,
	status, task_id, audio_url, image_url, archive_url,
	duration_seconds, error_message, created_at, updated_at`

func (r *SQLiteRepository) findOne(ctx context.Context, where string, arg any) (*Song, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" FROM songs WHERE "+where, arg)
	s, err := scanSong(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSongNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find song: %w", err)
	}
	return s, nil
}

// affectedOrState distinguishes "no such song" from "wrong state" after a
// guarded UPDATE touched zero rows.
func (r *SQLiteRepository) affectedOrState(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSong(row scanner) (*Song, error) {
	var (
		s                    Song
		taskID               sql.NullString
		createdAt, updatedAt int64
		status               string
	)
	err := row.Scan(
		&s.ID, &s.Title, &s.Style, &s.BrandName, &s.BrandDescription, &s.Lyrics,
		&status, &taskID, &s.AudioURL, &s.ImageURL, &s.ArchiveURL,
		&s.DurationSeconds, &s.ErrorMessage, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.TaskID = taskID.String
	s.CreatedAt = time.UnixMilli(createdAt)
	s.UpdatedAt = time.UnixMilli(updatedAt)
	return &s, nil
}

func scanAll(rows *sql.Rows) ([]*Song, error) {
	var result []*Song
	for rows.Next() {
		s, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("scan song: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate songs: %w", err)
	}
	return result, nil
}

//go:build sqlite

package store

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inovacc/patchrun/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pull_request_records (
	campaign   TEXT NOT NULL,
	repository TEXT NOT NULL,
	number     INTEGER,
	url        TEXT,
	branch     TEXT,
	state      TEXT NOT NULL,
	error      TEXT,
	rejected   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (campaign, repository)
);`

// SQLite is the sqlite-backed record store.
type SQLite struct {
	storage *sql.DB
}

// Open opens the sqlite store backend at path.
func Open(path string) (Store, error) {
	return NewSQLite(path)
}

// NewSQLite creates or opens a sqlite record store at the specified path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &SQLite{storage: db}, nil
}

func (s *SQLite) Close() error {
	return s.storage.Close()
}

func (s *SQLite) Get(campaign, repository string) (*model.PullRequestRecord, error) {
	row := s.storage.QueryRow(`
		SELECT campaign, repository, number, url, branch, state, error, rejected, created_at, updated_at
		FROM pull_request_records WHERE campaign = ? AND repository = ?`,
		campaign, repository)

	record, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (s *SQLite) Put(record *model.PullRequestRecord) error {
	_, err := s.storage.Exec(`
		INSERT INTO pull_request_records
			(campaign, repository, number, url, branch, state, error, rejected, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (campaign, repository) DO UPDATE SET
			number = excluded.number,
			url = excluded.url,
			branch = excluded.branch,
			state = excluded.state,
			error = excluded.error,
			rejected = excluded.rejected,
			updated_at = excluded.updated_at`,
		record.Campaign, record.Repository, record.Number, record.URL, record.Branch,
		string(record.State), record.Error, record.Rejected, record.CreatedAt, record.UpdatedAt)

	return err
}

func (s *SQLite) List(campaign string) ([]model.PullRequestRecord, error) {
	rows, err := s.storage.Query(`
		SELECT campaign, repository, number, url, branch, state, error, rejected, created_at, updated_at
		FROM pull_request_records WHERE campaign = ? ORDER BY repository`,
		campaign)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []model.PullRequestRecord

	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}

		records = append(records, *record)
	}

	return records, rows.Err()
}

func scanRecord(scan func(...any) error) (*model.PullRequestRecord, error) {
	var (
		record    model.PullRequestRecord
		state     string
		createdAt time.Time
		updatedAt time.Time
	)

	if err := scan(&record.Campaign, &record.Repository, &record.Number, &record.URL,
		&record.Branch, &state, &record.Error, &record.Rejected, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	record.State = model.PRState(state)
	record.CreatedAt = createdAt
	record.UpdatedAt = updatedAt

	return &record, nil
}

package dictionary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS dictionary_entries (
	id BIGINT PRIMARY KEY,
	image LONGTEXT NOT NULL,
	x DOUBLE NOT NULL,
	y DOUBLE NOT NULL,
	result TEXT NOT NULL,
	language VARCHAR(255) NOT NULL,
	created_at VARCHAR(64) NOT NULL
)`

const (
	listSQL   = `SELECT id, image, x, y, result, language, created_at FROM dictionary_entries ORDER BY id DESC`
	insertSQL = `INSERT INTO dictionary_entries (id, image, x, y, result, language, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	deleteSQL = `DELETE FROM dictionary_entries WHERE id = ?`
)

// ER_DUP_ENTRY
const errDupEntry = 1062

// MySQLStore keeps entries in a MySQL table ordered by id, which is the creation time
type MySQLStore struct {
	db *sql.DB
}

// OpenMySQL connects with dsn, checks the connection and creates the table
func OpenMySQL(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	s := NewMySQLStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewMySQLStore wraps an open database handle
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// EnsureSchema creates the entries table if missing
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	list := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			dataURL string
			x, y    float64
		)
		if err := rows.Scan(&e.ID, &dataURL, &x, &y, &e.Text, &e.LanguagePair, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		img, err := imagesource.FromDataURL(dataURL)
		if err != nil {
			return nil, fmt.Errorf("entry %d has a broken image: %w", e.ID, err)
		}
		e.Image = img
		e.Point = types.NewPoint(x, y)
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return list, nil
}

func (s *MySQLStore) Append(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, insertSQL,
		entry.ID, entry.Image.DataURL(), float64(entry.Point.X), float64(entry.Point.Y),
		entry.Text, entry.LanguagePair, entry.CreatedAt)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == errDupEntry {
		return duplicateID(entry.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (s *MySQLStore) Remove(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, deleteSQL, id); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

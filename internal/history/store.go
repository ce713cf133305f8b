// Package history persists detection results to SQLite for later review.
// The store is optional; the server only opens it when a database path is
// configured.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/peerlens/peerlens/internal/detect"
)

const schema = `
CREATE TABLE IF NOT EXISTS detections (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room       TEXT NOT NULL,
	model      TEXT NOT NULL,
	label      TEXT NOT NULL,
	score      REAL NOT NULL,
	x1         REAL NOT NULL,
	y1         REAL NOT NULL,
	x2         REAL NOT NULL,
	y2         REAL NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_detections_created_at ON detections(created_at);
`

// Store is a SQLite-backed detection log.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the database at path and ensures the schema
// exists.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open detection history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init detection history schema: %w", err)
	}

	return &Store{db: db, log: log.With(slog.String("component", "history"))}, nil
}

// Record appends all detections from one frame.
func (s *Store) Record(room, model string, detections []detect.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("record detections: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO detections (room, model, label, score, x1, y1, x2, y2, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("record detections: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, d := range detections {
		if _, err := stmt.Exec(room, model, d.Label, d.Score, d.Box[0], d.Box[1], d.Box[2], d.Box[3], now); err != nil {
			return fmt.Errorf("record detections: %w", err)
		}
	}
	return tx.Commit()
}

// Entry is one stored detection row.
type Entry struct {
	ID        int64      `json:"id"`
	Room      string     `json:"room"`
	Model     string     `json:"model"`
	Label     string     `json:"class"`
	Score     float64    `json:"score"`
	Box       [4]float64 `json:"bbox"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Recent returns up to limit rows, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(`SELECT id, room, model, label, score, x1, y1, x2, y2, created_at
		FROM detections ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent detections: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Room, &e.Model, &e.Label, &e.Score,
			&e.Box[0], &e.Box[1], &e.Box[2], &e.Box[3], &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan detection row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

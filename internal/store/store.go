package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DetectionRecord is the durable record of one qualifying detection.
// Created with NotificationSent=false, Finalized=false; only the
// reconciliation loop flips those flags. Finalized=true means no
// further delivery attempts will be made.
type DetectionRecord struct {
	ID               string
	SourceID         string
	SourceLabel      string
	OccurredAt       time.Time
	VideoURL         string
	Confidence       float64
	Category         string
	NotificationSent bool
	Finalized        bool
	Metadata         Metadata
}

// Metadata carries verdict detail folded into the record.
type Metadata struct {
	WeaponType string   `json:"weapon_type,omitempty"`
	Plate      string   `json:"plate,omitempty"`
	Suspicious []string `json:"suspicious,omitempty"`
	ClipBytes  int64    `json:"clip_bytes,omitempty"`
	ThumbID    string   `json:"thumb_id,omitempty"`
}

// Store handles SQLite persistence for detection records.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent reconciler reads against ingest-path writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			source_label TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			video_url TEXT,
			confidence REAL,
			category TEXT,
			notification_sent INTEGER DEFAULT 0,
			finalized INTEGER DEFAULT 0,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_source ON detections(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_time ON detections(occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_pending ON detections(finalized, notification_sent)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Insert persists a new detection record.
func (s *Store) Insert(rec *DetectionRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO detections
		(id, source_id, source_label, occurred_at, video_url, confidence, category,
		 notification_sent, finalized, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, rec.ID, rec.SourceID, rec.SourceLabel, rec.OccurredAt,
		rec.VideoURL, rec.Confidence, rec.Category,
		boolToInt(rec.NotificationSent), boolToInt(rec.Finalized), string(metaJSON))
	if err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}
	return nil
}

// Get retrieves a detection record by ID. Returns nil if not found.
func (s *Store) Get(id string) (*DetectionRecord, error) {
	row := s.db.QueryRow(selectColumns+` FROM detections WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection: %w", err)
	}
	return rec, nil
}

// ListUnfinalized returns all records still awaiting reconciliation,
// oldest first so stale alerts are not starved by new ones.
func (s *Store) ListUnfinalized() ([]*DetectionRecord, error) {
	rows, err := s.db.Query(selectColumns + ` FROM detections WHERE finalized = 0 ORDER BY occurred_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinalized detections: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListRecent returns the most recent records, newest first.
func (s *Store) ListRecent(sourceID string, limit int) ([]*DetectionRecord, error) {
	query := selectColumns + ` FROM detections WHERE 1=1`
	args := []any{}

	if sourceID != "" {
		query += " AND source_id = ?"
		args = append(args, sourceID)
	}
	query += " ORDER BY occurred_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MarkNotified sets notification_sent on a record.
func (s *Store) MarkNotified(id string) error {
	_, err := s.db.Exec("UPDATE detections SET notification_sent = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark detection notified: %w", err)
	}
	return nil
}

// MarkFinalized sets finalized on a record, ending reconciliation for it.
func (s *Store) MarkFinalized(id string) error {
	_, err := s.db.Exec("UPDATE detections SET finalized = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark detection finalized: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, source_id, source_label, occurred_at, video_url,
	confidence, category, notification_sent, finalized, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*DetectionRecord, error) {
	var rec DetectionRecord
	var metaJSON string
	var notified, finalized int

	err := row.Scan(&rec.ID, &rec.SourceID, &rec.SourceLabel, &rec.OccurredAt,
		&rec.VideoURL, &rec.Confidence, &rec.Category, &notified, &finalized, &metaJSON)
	if err != nil {
		return nil, err
	}

	rec.NotificationSent = notified == 1
	rec.Finalized = finalized == 1
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*DetectionRecord, error) {
	var records []*DetectionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

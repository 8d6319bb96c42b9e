package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/HimanshuParihar99/Inboxly/internal/config"
	"github.com/HimanshuParihar99/Inboxly/internal/mailsync"
	"github.com/HimanshuParihar99/Inboxly/pkg/types"
)

// Store persists connection records, sync-run summaries, and classification
// records. It satisfies mailsync.Recorder.
type Store struct {
	db     *DB
	logger *logrus.Logger
}

var _ mailsync.Recorder = (*Store)(nil)

// NewStore creates a store over an open database.
func NewStore(db *DB, logger *logrus.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// RunRecord is one persisted sync-run summary.
type RunRecord struct {
	TaskID              string    `json:"task_id"`
	Source              string    `json:"source"`
	Destination         string    `json:"destination"`
	State               string    `json:"state"`
	FoldersTotal        int       `json:"folders_total"`
	FoldersDone         int       `json:"folders_done"`
	MessagesTransferred int       `json:"messages_transferred"`
	MessageErrors       int       `json:"message_errors"`
	LastError           string    `json:"last_error,omitempty"`
	RecordedAt          time.Time `json:"recorded_at"`
}

// UpsertConnection upserts a connection config. Passwords are never stored.
func (s *Store) UpsertConnection(cfg *config.ConnectionConfig) (int64, error) {
	query := `
		INSERT INTO connections (name, user, host, port, tls, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			user = excluded.user,
			host = excluded.host,
			port = excluded.port,
			tls = excluded.tls,
			updated_at = CURRENT_TIMESTAMP
	`
	result, err := s.db.db.Exec(query, cfg.Name, cfg.User, cfg.Host, cfg.Port, cfg.TLS)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert connection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		var connID int64
		if err := s.db.db.QueryRow("SELECT id FROM connections WHERE name = ?", cfg.Name).Scan(&connID); err != nil {
			return 0, fmt.Errorf("failed to get connection ID: %w", err)
		}
		return connID, nil
	}
	return id, nil
}

// RecordSyncRun stores the terminal summary of one sync task.
func (s *Store) RecordSyncRun(status mailsync.TaskStatus) error {
	query := `
		INSERT INTO sync_runs
			(task_id, source, destination, state, folders_total, folders_done,
			 messages_transferred, message_errors, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var lastErr interface{}
	if status.Progress.LastError != "" {
		lastErr = status.Progress.LastError
	}

	_, err := s.db.db.Exec(query,
		status.TaskID,
		status.SourceKey,
		status.DestKey,
		string(status.State),
		status.Progress.FoldersTotal,
		status.Progress.FoldersDone,
		status.Progress.MessagesTransferred,
		status.Progress.MessageErrors,
		lastErr,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// RecordClassification stores a per-message classification result.
func (s *Store) RecordClassification(taskID string, msg *types.Message, c types.SecurityClassification) error {
	query := `
		INSERT INTO classifications
			(task_id, message_uid, sender_domain, esp, time_delta_ms,
			 open_relay, tls_support, valid_certificate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.db.Exec(query,
		taskID,
		msg.UID,
		c.SenderDomain,
		c.ESP,
		c.TimeDeltaMs,
		c.OpenRelay,
		c.TLSSupport,
		c.ValidCertificate,
	)
	if err != nil {
		return fmt.Errorf("failed to record classification: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit run summaries, newest first.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT task_id, source, destination, state, folders_total, folders_done,
		       messages_transferred, message_errors, last_error, recorded_at
		FROM sync_runs
		ORDER BY recorded_at DESC
		LIMIT ?
	`
	rows, err := s.db.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var lastErr sql.NullString
		if err := rows.Scan(
			&run.TaskID, &run.Source, &run.Destination, &run.State,
			&run.FoldersTotal, &run.FoldersDone,
			&run.MessagesTransferred, &run.MessageErrors,
			&lastErr, &run.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.LastError = lastErr.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

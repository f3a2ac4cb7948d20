package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sentinel/core"
)

const timestampLayout = time.RFC3339Nano

// LoadAlerts returns the alerts collection in stored order
func (s *SQLite) LoadAlerts(ctx context.Context) ([]core.Alert, error) {
	rows, err := s.ReadDB.QueryContext(ctx, `
		SELECT id, timestamp, hostname, severity, rule_triggered, confidence,
		       command_line, process_id, parent_process_id, process_name, status, event_id
		FROM alerts ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]core.Alert, 0)
	for rows.Next() {
		var (
			a  core.Alert
			ts string
		)
		if err := rows.Scan(&a.ID, &ts, &a.Hostname, &a.Severity, &a.RuleTriggered, &a.Confidence,
			&a.CommandLine, &a.ProcessID, &a.ParentProcessID, &a.ProcessName, &a.Status, &a.EventID); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if a.Timestamp, err = time.Parse(timestampLayout, ts); err != nil {
			return nil, fmt.Errorf("alert %s has invalid timestamp %q: %w", a.ID, ts, err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

// SaveAlerts replaces the alerts collection
func (s *SQLite) SaveAlerts(ctx context.Context, alerts []core.Alert) error {
	return s.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM alerts`); err != nil {
			return fmt.Errorf("failed to clear alerts: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO alerts (position, id, timestamp, hostname, severity, rule_triggered, confidence,
			                    command_line, process_id, parent_process_id, process_name, status, event_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare alert insert: %w", err)
		}
		defer stmt.Close()

		for i, a := range alerts {
			if _, err := stmt.ExecContext(ctx, i, a.ID, a.Timestamp.UTC().Format(timestampLayout), a.Hostname,
				string(a.Severity), a.RuleTriggered, a.Confidence, a.CommandLine, a.ProcessID,
				a.ParentProcessID, a.ProcessName, string(a.Status), a.EventID); err != nil {
				return fmt.Errorf("failed to insert alert %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

// LoadNotes returns the case notes in stored order
func (s *SQLite) LoadNotes(ctx context.Context) ([]core.CaseNote, error) {
	rows, err := s.ReadDB.QueryContext(ctx, `SELECT id, timestamp, author, text FROM case_notes ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query case notes: %w", err)
	}
	defer rows.Close()

	notes := make([]core.CaseNote, 0)
	for rows.Next() {
		var (
			n  core.CaseNote
			ts string
		)
		if err := rows.Scan(&n.ID, &ts, &n.Author, &n.Text); err != nil {
			return nil, fmt.Errorf("failed to scan case note: %w", err)
		}
		if n.Timestamp, err = time.Parse(timestampLayout, ts); err != nil {
			return nil, fmt.Errorf("case note %s has invalid timestamp %q: %w", n.ID, ts, err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate case notes: %w", err)
	}
	return notes, nil
}

// SaveNotes replaces the case notes collection
func (s *SQLite) SaveNotes(ctx context.Context, notes []core.CaseNote) error {
	return s.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM case_notes`); err != nil {
			return fmt.Errorf("failed to clear case notes: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO case_notes (position, id, timestamp, author, text) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare case note insert: %w", err)
		}
		defer stmt.Close()

		for i, n := range notes {
			if _, err := stmt.ExecContext(ctx, i, n.ID, n.Timestamp.UTC().Format(timestampLayout), n.Author, n.Text); err != nil {
				return fmt.Errorf("failed to insert case note %s: %w", n.ID, err)
			}
		}
		return nil
	})
}

// LoadArtifacts returns the artifacts in stored order
func (s *SQLite) LoadArtifacts(ctx context.Context) ([]core.Artifact, error) {
	rows, err := s.ReadDB.QueryContext(ctx, `SELECT id, timestamp, name, type FROM artifacts ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := make([]core.Artifact, 0)
	for rows.Next() {
		var (
			a  core.Artifact
			ts string
		)
		if err := rows.Scan(&a.ID, &ts, &a.Name, &a.Type); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		if a.Timestamp, err = time.Parse(timestampLayout, ts); err != nil {
			return nil, fmt.Errorf("artifact %s has invalid timestamp %q: %w", a.ID, ts, err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate artifacts: %w", err)
	}
	return artifacts, nil
}

// SaveArtifacts replaces the artifacts collection
func (s *SQLite) SaveArtifacts(ctx context.Context, artifacts []core.Artifact) error {
	return s.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts`); err != nil {
			return fmt.Errorf("failed to clear artifacts: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO artifacts (position, id, timestamp, name, type) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare artifact insert: %w", err)
		}
		defer stmt.Close()

		for i, a := range artifacts {
			if _, err := stmt.ExecContext(ctx, i, a.ID, a.Timestamp.UTC().Format(timestampLayout), a.Name, a.Type); err != nil {
				return fmt.Errorf("failed to insert artifact %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

var _ CaseRepository = (*SQLite)(nil)

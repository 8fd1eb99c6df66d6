package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

// SQLiteConversationStore stores timestamps as unix nanoseconds.
type SQLiteConversationStore struct {
	db *sql.DB
}

func NewSQLiteConversationStore(db *sql.DB) *SQLiteConversationStore {
	return &SQLiteConversationStore{db: db}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func (r *SQLiteConversationStore) Append(ctx context.Context, userID string, entry entities.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var last sql.NullInt64
	err = tx.QueryRowContext(ctx,
		"SELECT MAX(created_at) FROM chat_messages WHERE id_user = ?",
		userID).Scan(&last)
	if err != nil {
		return err
	}
	lastAt := time.Time{}
	if last.Valid {
		lastAt = time.Unix(0, last.Int64).UTC()
	}
	entry = clampAfter(entry, lastAt)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, id_user, external_id, direction, type, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, userID, nullable(entry.ExternalID), string(entry.Direction), string(entry.Type),
		entry.Status, string(payload), entry.Timestamp.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return tx.Commit()
}

func (r *SQLiteConversationStore) HasSeen(ctx context.Context, userID, externalID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM chat_messages WHERE id_user = ? AND external_id = ?)",
		userID, externalID).Scan(&exists)
	return exists, err
}

func (r *SQLiteConversationStore) UpsertReport(ctx context.Context, userID string, report entities.DebtReport) error {
	payload, err := json.Marshal(report.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reports (id_user, report, date)
		VALUES (?, ?, ?)
		ON CONFLICT (id_user)
		DO UPDATE SET report = excluded.report, date = excluded.date
	`, userID, string(payload), report.Date.UnixNano())
	return err
}

func (r *SQLiteConversationStore) LatestReport(ctx context.Context, userID string) (*entities.DebtReport, error) {
	var (
		raw  string
		date int64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT report, date FROM reports WHERE id_user = ?",
		userID).Scan(&raw, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	report := &entities.DebtReport{UserID: userID, Date: time.Unix(0, date).UTC()}
	if err := json.Unmarshal([]byte(raw), &report.Report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

func (r *SQLiteConversationStore) Conversation(ctx context.Context, userID string) (*entities.ConversationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, COALESCE(external_id, ''), direction, type, COALESCE(status, ''), payload, created_at
		FROM chat_messages
		WHERE id_user = ?
		ORDER BY seq
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	record := &entities.ConversationRecord{UserID: userID, Entries: []entities.Entry{}}
	for rows.Next() {
		var (
			e         entities.Entry
			direction string
			typ       string
			raw       string
			created   int64
		)
		if err := rows.Scan(&e.ID, &e.ExternalID, &direction, &typ, &e.Status, &raw, &created); err != nil {
			return nil, err
		}
		e.Direction = entities.Direction(direction)
		e.Type = entities.EntryType(typ)
		e.Timestamp = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		record.Entries = append(record.Entries, e)
		record.LastActivity = e.Timestamp
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(record.Entries) == 0 {
		return nil, nil
	}
	return record, nil
}

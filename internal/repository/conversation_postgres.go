package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

const pgUniqueViolation = "23505"

type PostgresConversationStore struct {
	db *pgxpool.Pool
}

func NewPostgresConversationStore(db *pgxpool.Pool) *PostgresConversationStore {
	return &PostgresConversationStore{db: db}
}

func (r *PostgresConversationStore) Append(ctx context.Context, userID string, entry entities.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var last *time.Time
	err = tx.QueryRow(ctx,
		"SELECT MAX(created_at) FROM chat_messages WHERE id_user = $1",
		userID).Scan(&last)
	if err != nil {
		return err
	}
	if last != nil {
		entry = clampAfter(entry, *last)
	} else {
		entry = clampAfter(entry, time.Time{})
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_messages (id, id_user, external_id, direction, type, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, userID, nullable(entry.ExternalID), string(entry.Direction), string(entry.Type),
		entry.Status, payload, entry.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresConversationStore) HasSeen(ctx context.Context, userID, externalID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM chat_messages WHERE id_user = $1 AND external_id = $2)",
		userID, externalID).Scan(&exists)
	return exists, err
}

func (r *PostgresConversationStore) UpsertReport(ctx context.Context, userID string, report entities.DebtReport) error {
	payload, err := json.Marshal(report.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO reports (id_user, report, date)
		VALUES ($1, $2, $3)
		ON CONFLICT (id_user)
		DO UPDATE SET report = EXCLUDED.report, date = EXCLUDED.date
	`, userID, payload, report.Date)
	return err
}

func (r *PostgresConversationStore) LatestReport(ctx context.Context, userID string) (*entities.DebtReport, error) {
	var (
		raw  []byte
		date time.Time
	)
	err := r.db.QueryRow(ctx,
		"SELECT report, date FROM reports WHERE id_user = $1",
		userID).Scan(&raw, &date)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	report := &entities.DebtReport{UserID: userID, Date: date}
	if err := json.Unmarshal(raw, &report.Report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

func (r *PostgresConversationStore) Conversation(ctx context.Context, userID string) (*entities.ConversationRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, COALESCE(external_id, ''), direction, type, COALESCE(status, ''), payload, created_at
		FROM chat_messages
		WHERE id_user = $1
		ORDER BY seq
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	record := &entities.ConversationRecord{UserID: userID, Entries: []entities.Entry{}}
	for rows.Next() {
		var (
			e         entities.Entry
			direction string
			typ       string
			raw       []byte
		)
		if err := rows.Scan(&e.ID, &e.ExternalID, &direction, &typ, &e.Status, &raw, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Direction = entities.Direction(direction)
		e.Type = entities.EntryType(typ)
		if err := json.Unmarshal(raw, &e.Payload); err != nil {
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

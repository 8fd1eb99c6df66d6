package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/juanvgus/prueba-syc/internal/entities"
	"github.com/juanvgus/prueba-syc/internal/infrastructure"
)

func newSQLiteStore(t *testing.T) *SQLiteConversationStore {
	t.Helper()
	db, err := infrastructure.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteConversationStore(db)
}

func inbound(id, wamid string, at time.Time) entities.Entry {
	return entities.Entry{
		ID:         id,
		ExternalID: wamid,
		Direction:  entities.Inbound,
		Type:       entities.EntryText,
		Status:     entities.StatusReceived,
		Payload:    map[string]interface{}{"body": "HHO137"},
		Timestamp:  at,
	}
}

func TestSQLiteStore_AppendAndConversation(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, "573001234561", inbound("e1", "wamid.1", base)))
	require.NoError(t, store.Append(ctx, "573001234561", entities.Entry{
		ID:        "e2",
		Direction: entities.Outbound,
		Type:      entities.EntryInteractive,
		Status:    entities.StatusSent,
		Payload:   map[string]interface{}{"wamid": "wamid.out"},
		// clock went backwards
		Timestamp: base.Add(-time.Minute),
	}))

	rec, err := store.Conversation(ctx, "573001234561")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Entries, 2)

	require.Equal(t, "e1", rec.Entries[0].ID)
	require.Equal(t, "wamid.1", rec.Entries[0].ExternalID)
	require.Equal(t, entities.Inbound, rec.Entries[0].Direction)
	require.Equal(t, "HHO137", rec.Entries[0].Payload["body"])

	require.Equal(t, "e2", rec.Entries[1].ID)
	require.Empty(t, rec.Entries[1].ExternalID)
	require.Equal(t, entities.EntryInteractive, rec.Entries[1].Type)
	require.False(t, rec.Entries[1].Timestamp.Before(rec.Entries[0].Timestamp))
	require.Equal(t, rec.Entries[1].Timestamp, rec.LastActivity)
}

func TestSQLiteStore_DuplicateExternalID(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, "57300", inbound("e1", "wamid.dup", now)))
	err := store.Append(ctx, "57300", inbound("e2", "wamid.dup", now))
	require.ErrorIs(t, err, ErrDuplicate)

	// same wamid under another user is a different message
	require.NoError(t, store.Append(ctx, "57311", inbound("e3", "wamid.dup", now)))

	rec, err := store.Conversation(ctx, "57300")
	require.NoError(t, err)
	require.Len(t, rec.Entries, 1)
}

func TestSQLiteStore_OutboundEntriesNeverCollide(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	for _, id := range []string{"o1", "o2", "o3"} {
		require.NoError(t, store.Append(ctx, "57300", entities.Entry{
			ID:        id,
			Direction: entities.Outbound,
			Type:      entities.EntryText,
			Status:    entities.StatusSent,
			Payload:   map[string]interface{}{},
		}))
	}
	rec, err := store.Conversation(ctx, "57300")
	require.NoError(t, err)
	require.Len(t, rec.Entries, 3)
	for _, e := range rec.Entries {
		require.False(t, e.Timestamp.IsZero())
	}
}

func TestSQLiteStore_HasSeen(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	seen, err := store.HasSeen(ctx, "57300", "wamid.1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, store.Append(ctx, "57300", inbound("e1", "wamid.1", time.Now())))

	seen, err = store.HasSeen(ctx, "57300", "wamid.1")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = store.HasSeen(ctx, "57311", "wamid.1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestSQLiteStore_Reports(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	got, err := store.LatestReport(ctx, "57300")
	require.NoError(t, err)
	require.Nil(t, got)

	first := entities.NewDebtReport("57300", entities.TransactionResult{
		TransactionID: "40036",
		PaymentURL:    "https://pay.example/40036",
		Debt:          entities.DebtItem{Plate: "HHO137", Total: 377000, Vigencia: "2024"},
	}, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, store.UpsertReport(ctx, "57300", first))

	second := entities.NewDebtReport("57300", entities.TransactionResult{
		TransactionID:    "40037",
		PaymentReference: "REF-9",
		PaymentURL:       "https://pay.example/40037",
		Debt:             entities.DebtItem{Plate: "HHO137", Total: 377000, Vigencia: "2025"},
	}, time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC))
	require.NoError(t, store.UpsertReport(ctx, "57300", second))

	got, err = store.LatestReport(ctx, "57300")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "57300", got.UserID)
	require.Equal(t, "40037", got.Report.TransactionID)
	require.Equal(t, "REF-9", got.Report.PaymentReference)
	require.Equal(t, "https://pay.example/40037", got.Report.PaymentURL)
	require.Equal(t, "HHO137", got.Report.Plate)
	require.Equal(t, entities.FlexString("2025"), got.Report.Vigencia)
	require.Equal(t, entities.Amount(377000), got.Report.Total)
	require.True(t, second.Date.Equal(got.Date))
}

func TestSQLiteStore_ConversationMissing(t *testing.T) {
	store := newSQLiteStore(t)
	rec, err := store.Conversation(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, rec)
}

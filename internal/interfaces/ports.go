package interfaces

import (
	"context"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

// Messenger delivers outbound messages to an end user and returns the
// provider message id.
type Messenger interface {
	Send(ctx context.Context, msg entities.OutboundMessage) (string, error)
}

// TransactionProvider looks up the debt of a plate and creates the payment
// transaction for it.
type TransactionProvider interface {
	CreateTransaction(ctx context.Context, q entities.PlateQuery) (entities.TransactionResult, error)
}

// ConversationStore persists conversation logs and the latest report per user.
// Appends for one user must be serialized by the caller.
type ConversationStore interface {
	Append(ctx context.Context, userID string, entry entities.Entry) error
	HasSeen(ctx context.Context, userID, externalID string) (bool, error)
	UpsertReport(ctx context.Context, userID string, report entities.DebtReport) error
	LatestReport(ctx context.Context, userID string) (*entities.DebtReport, error)
	Conversation(ctx context.Context, userID string) (*entities.ConversationRecord, error)
}

// Alerter notifies operators about failures that need a human.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

const (
	chatMessagesCollection = "ChatMessages"
	reportCollection       = "Report"
)

// MongoConversationStore keeps one ChatMessages document per user holding
// the whole log, and one Report document per user.
type MongoConversationStore struct {
	chats   *mongo.Collection
	reports *mongo.Collection
}

func NewMongoConversationStore(db *mongo.Database) *MongoConversationStore {
	return &MongoConversationStore{
		chats:   db.Collection(chatMessagesCollection),
		reports: db.Collection(reportCollection),
	}
}

func (r *MongoConversationStore) EnsureIndexes(ctx context.Context) error {
	_, err := r.chats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "idUser", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "messages.externalId", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("chat indexes: %w", err)
	}
	_, err = r.reports.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "idUser", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("report indexes: %w", err)
	}
	return nil
}

func (r *MongoConversationStore) lastActivity(ctx context.Context, userID string) (time.Time, error) {
	var doc struct {
		Date time.Time `bson:"date"`
	}
	err := r.chats.FindOne(ctx,
		bson.M{"idUser": userID},
		options.FindOne().SetProjection(bson.M{"date": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	return doc.Date, err
}

func (r *MongoConversationStore) Append(ctx context.Context, userID string, entry entities.Entry) error {
	last, err := r.lastActivity(ctx, userID)
	if err != nil {
		return err
	}
	entry = clampAfter(entry, last)

	filter := bson.M{"idUser": userID}
	if entry.ExternalID != "" {
		// a matching external id misses the filter and the upsert then
		// collides with the unique idUser index
		filter["messages.externalId"] = bson.M{"$ne": entry.ExternalID}
	}
	update := bson.M{
		"$push":        bson.M{"messages": entry},
		"$max":         bson.M{"date": entry.Timestamp},
		"$setOnInsert": bson.M{"idUser": userID},
	}
	_, err = r.chats.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *MongoConversationStore) HasSeen(ctx context.Context, userID, externalID string) (bool, error) {
	n, err := r.chats.CountDocuments(ctx, bson.M{
		"idUser":              userID,
		"messages.externalId": externalID,
	}, options.Count().SetLimit(1))
	return n > 0, err
}

func (r *MongoConversationStore) UpsertReport(ctx context.Context, userID string, report entities.DebtReport) error {
	report.UserID = userID
	_, err := r.reports.ReplaceOne(ctx,
		bson.M{"idUser": userID},
		report,
		options.Replace().SetUpsert(true))
	return err
}

func (r *MongoConversationStore) LatestReport(ctx context.Context, userID string) (*entities.DebtReport, error) {
	var report entities.DebtReport
	err := r.reports.FindOne(ctx, bson.M{"idUser": userID}).Decode(&report)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *MongoConversationStore) Conversation(ctx context.Context, userID string) (*entities.ConversationRecord, error) {
	var record entities.ConversationRecord
	err := r.chats.FindOne(ctx, bson.M{"idUser": userID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

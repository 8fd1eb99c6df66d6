package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const chatsNS = "chatbot.ChatMessages"

func TestMongoStore_Append(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("first message upserts the log", func(mt *mtest.T) {
		store := NewMongoConversationStore(mt.DB)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, chatsNS, mtest.FirstBatch),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
		)
		err := store.Append(context.Background(), "57300", inbound("e1", "wamid.1", time.Now().UTC()))
		require.NoError(mt, err)
	})

	mt.Run("repeated external id is a duplicate", func(mt *mtest.T) {
		store := NewMongoConversationStore(mt.DB)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, chatsNS, mtest.FirstBatch,
				bson.D{{Key: "date", Value: time.Now().UTC()}}),
			mtest.CreateWriteErrorsResponse(mtest.WriteError{
				Index:   0,
				Code:    11000,
				Message: "E11000 duplicate key error collection: chatbot.ChatMessages index: idUser_1",
			}),
		)
		err := store.Append(context.Background(), "57300", inbound("e2", "wamid.1", time.Now().UTC()))
		require.ErrorIs(mt, err, ErrDuplicate)
	})

	mt.Run("other write errors pass through", func(mt *mtest.T) {
		store := NewMongoConversationStore(mt.DB)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, chatsNS, mtest.FirstBatch),
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Message: "bad value", Name: "BadValue"}),
		)
		err := store.Append(context.Background(), "57300", inbound("e3", "wamid.3", time.Now().UTC()))
		require.Error(mt, err)
		require.NotErrorIs(mt, err, ErrDuplicate)
	})
}

func TestMongoStore_HasSeen(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("seen", func(mt *mtest.T) {
		store := NewMongoConversationStore(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, chatsNS, mtest.FirstBatch, bson.D{{Key: "n", Value: 1}}))
		seen, err := store.HasSeen(context.Background(), "57300", "wamid.1")
		require.NoError(mt, err)
		require.True(mt, seen)
	})

	mt.Run("not seen", func(mt *mtest.T) {
		store := NewMongoConversationStore(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, chatsNS, mtest.FirstBatch))
		seen, err := store.HasSeen(context.Background(), "57300", "wamid.2")
		require.NoError(mt, err)
		require.False(mt, seen)
	})
}

func TestMongoStore_LatestReportMissing(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("no report", func(mt *mtest.T) {
		store := NewMongoConversationStore(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "chatbot.Report", mtest.FirstBatch))
		report, err := store.LatestReport(context.Background(), "57300")
		require.NoError(mt, err)
		require.Nil(mt, report)
	})

	mt.Run("stored report", func(mt *mtest.T) {
		store := NewMongoConversationStore(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "chatbot.Report", mtest.FirstBatch, bson.D{
			{Key: "idUser", Value: "57300"},
			{Key: "report", Value: bson.D{
				{Key: "placa", Value: "HHO137"},
				{Key: "transactionId", Value: "40037"},
				{Key: "url", Value: "https://pay.example/40037"},
			}},
			{Key: "date", Value: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		}))
		report, err := store.LatestReport(context.Background(), "57300")
		require.NoError(mt, err)
		require.NotNil(mt, report)
		require.Equal(mt, "HHO137", report.Report.Plate)
		require.Equal(mt, "40037", report.Report.TransactionID)
		require.Equal(mt, "57300", report.UserID)
	})
}

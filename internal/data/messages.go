package data

import (
	"context"
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is reference to "messages" collection in MongoDB
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// betweenFilter matches messages exchanged by a and b in both directions.
func betweenFilter(a, b string) bson.M {
	a = normalize.Phone(a)
	b = normalize.Phone(b)
	return bson.M{
		"$or": bson.A{
			bson.M{"sender": a, "recipient": b},
			bson.M{"sender": b, "recipient": a},
		},
	}
}

// Create inserts a message with status sent and returns the saved record.
func (m *MessagesStore) Create(ctx context.Context, sender, recipient, text string, sentAt time.Time) (*Message, error) {
	msg := &Message{
		Sender:    normalize.Phone(sender),
		Recipient: normalize.Phone(recipient),
		Text:      text,
		Time:      FormatSendTime(sentAt), // display time snapshot, e.g. "9:05 pm"
		Status:    MessageSent,
		CreatedAt: sentAt,
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}

	// MongoDB generates the _id; the client receives it as the message id
	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// ListByPair returns the messages between a and b ordered oldest first.
// A limit of zero returns the full history.
func (m *MessagesStore) ListByPair(ctx context.Context, a, b string, limit int64) ([]*Message, error) {
	// Sort newest first so the limit keeps the most recent messages
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := m.coll.Find(ctx, betweenFilter(a, b), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	// Reverse into chronological order: oldest message first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkReadBulk advances every unread message sent by sender to recipient
// to read and returns how many were updated. Calling it again with
// nothing left to advance updates zero documents.
func (m *MessagesStore) MarkReadBulk(ctx context.Context, sender, recipient string) (int64, error) {
	filter := bson.M{
		"sender":    normalize.Phone(sender),
		"recipient": normalize.Phone(recipient),
		"status":    bson.M{"$ne": MessageRead},
	}
	res, err := m.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"status": MessageRead}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// MarkDelivered advances a single message from sent to delivered. It
// reports false when the message is missing or already past sent.
func (m *MessagesStore) MarkDelivered(ctx context.Context, id bson.ObjectID) (bool, error) {
	res, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": MessageSent},
		bson.M{"$set": bson.M{"status": MessageDelivered}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// DeleteBetween removes every message between a and b.
func (m *MessagesStore) DeleteBetween(ctx context.Context, a, b string) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, betweenFilter(a, b))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// GetRecentChats aggregates recent partners and last message info.
func (m *MessagesStore) GetRecentChats(ctx context.Context, phone string, limit int64) ([]*ChatPartner, error) {
	phone = normalize.Phone(phone)

	pipeline := mongo.Pipeline{
		// messages where phone is either side
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "sender", Value: phone}},
				bson.D{{Key: "recipient", Value: phone}},
			}},
		}}},
		// chronological so $last picks the newest message of each group
		bson.D{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: 1}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "partner", Value: bson.D{
					{Key: "$cond", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{"$sender", phone}}},
						"$recipient",
						"$sender",
					}},
				}},
			}},
			{Key: "last_message", Value: bson.D{{Key: "$last", Value: "$message"}}},
			{Key: "last_message_at", Value: bson.D{{Key: "$last", Value: "$created_at"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "last_message_at", Value: -1}}}},
		bson.D{{Key: "$limit", Value: limit}},
	}

	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []struct {
		ID struct {
			Partner string `bson:"partner"`
		} `bson:"_id"`
		LastMessage   string    `bson:"last_message"`
		LastMessageAt time.Time `bson:"last_message_at"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	partners := make([]*ChatPartner, 0, len(results))
	for _, r := range results {
		partners = append(partners, &ChatPartner{
			Phone:           r.ID.Partner,
			LastMessage:     r.LastMessage,
			LastMessageTime: r.LastMessageAt,
		})
	}
	return partners, nil
}

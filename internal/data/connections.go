package data

import (
	"context"
	"errors"
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConnectionsStore persists the consent record between two phones.
type ConnectionsStore struct {
	coll *mongo.Collection
}

// NewConnectionsStore returns a ConnectionsStore using the given collection.
func NewConnectionsStore(coll *mongo.Collection) *ConnectionsStore {
	return &ConnectionsStore{coll: coll}
}

func pairFilter(a, b string) bson.M {
	return bson.M{"pair": PairKey(normalize.Phone(a), normalize.Phone(b))}
}

// FindByPair returns the connection for {a, b} in either orientation.
func (c *ConnectionsStore) FindByPair(ctx context.Context, a, b string) (*Connection, error) {
	var conn Connection
	if err := c.coll.FindOne(ctx, pairFilter(a, b)).Decode(&conn); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// CreatePending inserts a pending connection. The unique index on pair
// makes this create-if-absent: a concurrent creator for the same pair
// gets ErrDuplicate and should re-read with FindByPair.
func (c *ConnectionsStore) CreatePending(ctx context.Context, requester, recipient string) (*Connection, error) {
	requester = normalize.Phone(requester)
	recipient = normalize.Phone(recipient)
	now := time.Now()
	conn := &Connection{
		Pair:      PairKey(requester, recipient),
		Requester: requester,
		Recipient: recipient,
		Status:    ConnectionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := c.coll.InsertOne(ctx, conn)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	conn.ID = result.InsertedID.(bson.ObjectID)
	return conn, nil
}

// SetStatus resolves the pending connection created by requester towards
// recipient. Only a pending record in that exact orientation matches, so
// the transition happens at most once; otherwise ErrNotFound.
func (c *ConnectionsStore) SetStatus(ctx context.Context, requester, recipient string, status ConnectionStatus) (*Connection, error) {
	filter := bson.M{
		"requester": normalize.Phone(requester),
		"recipient": normalize.Phone(recipient),
		"status":    ConnectionPending,
	}
	update := bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var conn Connection
	if err := c.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conn); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// SetBlocked records blocker as the party suspending the pair. An empty
// blocker clears the block.
func (c *ConnectionsStore) SetBlocked(ctx context.Context, a, b, blocker string) (*Connection, error) {
	var update bson.M
	if blocker == "" {
		update = bson.M{
			"$unset": bson.M{"blocked_by": ""},
			"$set":   bson.M{"updated_at": time.Now()},
		}
	} else {
		update = bson.M{"$set": bson.M{"blocked_by": normalize.Phone(blocker), "updated_at": time.Now()}}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var conn Connection
	if err := c.coll.FindOneAndUpdate(ctx, pairFilter(a, b), update, opts).Decode(&conn); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// DeleteByPair removes the connection for {a, b}. It reports how many
// documents were removed (0 or 1).
func (c *ConnectionsStore) DeleteByPair(ctx context.Context, a, b string) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, pairFilter(a, b))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

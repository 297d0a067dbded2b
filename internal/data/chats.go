package data

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// PairDeletion reports what a chat removal deleted.
type PairDeletion struct {
	Connections int64
	Messages    int64
}

// ChatsStore removes a conversation (its connection plus every message)
// as one unit.
type ChatsStore struct {
	client *mongo.Client
	conns  *ConnectionsStore
	msgs   *MessagesStore
}

// NewChatsStore returns a ChatsStore. client may be nil, in which case
// deletions run without a transaction.
func NewChatsStore(client *mongo.Client, conns *ConnectionsStore, msgs *MessagesStore) *ChatsStore {
	return &ChatsStore{client: client, conns: conns, msgs: msgs}
}

// DeletePair removes the connection and all messages of {a, b}. On a
// replica set both deletes commit in one transaction. A standalone server
// has no transactions, so the connection is deleted first and the
// messages second: a crash in between leaves only orphaned messages,
// which are never served without a connection and are swept when the
// pair starts a new request or by the next DeletePair.
func (c *ChatsStore) DeletePair(ctx context.Context, a, b string) (PairDeletion, error) {
	if c.client != nil {
		res, err := c.deleteInTransaction(ctx, a, b)
		if err == nil || !transactionsUnsupported(err) {
			return res, err
		}
	}
	return c.deleteSequential(ctx, a, b)
}

func (c *ChatsStore) deleteInTransaction(ctx context.Context, a, b string) (PairDeletion, error) {
	sess, err := c.client.StartSession()
	if err != nil {
		return PairDeletion{}, fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	var res PairDeletion
	_, err = sess.WithTransaction(ctx, func(txCtx context.Context) (interface{}, error) {
		res = PairDeletion{}
		n, err := c.conns.DeleteByPair(txCtx, a, b)
		if err != nil {
			return nil, err
		}
		res.Connections = n
		m, err := c.msgs.DeleteBetween(txCtx, a, b)
		if err != nil {
			return nil, err
		}
		res.Messages = m
		return nil, nil
	})
	if err != nil {
		return PairDeletion{}, err
	}
	return res, nil
}

func (c *ChatsStore) deleteSequential(ctx context.Context, a, b string) (PairDeletion, error) {
	var res PairDeletion
	n, err := c.conns.DeleteByPair(ctx, a, b)
	if err != nil {
		return res, fmt.Errorf("delete connection: %w", err)
	}
	res.Connections = n
	m, err := c.msgs.DeleteBetween(ctx, a, b)
	if err != nil {
		return res, fmt.Errorf("delete messages: %w", err)
	}
	res.Messages = m
	return res, nil
}

// transactionsUnsupported detects the IllegalOperation error a
// standalone mongod returns for transaction commands.
func transactionsUnsupported(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 20
	}
	return false
}

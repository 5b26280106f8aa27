package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/internal/infrastructure/realtime"
	"classifieds/pkg/logger"
)

const messageInsertChannel = "message_inserted"

// PostgresMessageFeed holds one LISTEN connection for the process and routes
// every notification through the broker, so subscriptions cost no connections.
type PostgresMessageFeed struct {
	pool   *pgxpool.Pool
	broker *realtime.Broker
	retry  time.Duration
}

func NewPostgresMessageFeed(pool *pgxpool.Pool, broker *realtime.Broker) *PostgresMessageFeed {
	return &PostgresMessageFeed{
		pool:   pool,
		broker: broker,
		retry:  2 * time.Second,
	}
}

var _ repository.MessageFeed = (*PostgresMessageFeed)(nil)

func (f *PostgresMessageFeed) SubscribeInserts(ctx context.Context, conversationID string) (repository.InsertSubscription, error) {
	return f.broker.SubscribeInserts(ctx, conversationID)
}

// Run listens until ctx is done, reconnecting after connection failures.
func (f *PostgresMessageFeed) Run(ctx context.Context) {
	for reconnect := false; ; reconnect = true {
		err := f.listen(ctx, reconnect)
		if ctx.Err() != nil {
			return
		}
		logger.Error("Message feed: listener stopped, retrying in %s: %v", f.retry, err)

		select {
		case <-time.After(f.retry):
		case <-ctx.Done():
			return
		}
	}
}

// listen holds the LISTEN connection. After a reconnect, notifications sent
// while it was down are gone, so current subscribers are told to resync.
func (f *PostgresMessageFeed) listen(ctx context.Context, reconnect bool) error {
	pooled, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	// The connection stays in LISTEN mode, so it never goes back to the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{messageInsertChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("Message feed: listening on %s", messageInsertChannel)
	if reconnect {
		if n := f.broker.Resync(); n > 0 {
			logger.Warn("Message feed: reconnected, %d subscriptions resyncing", n)
		}
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		event, err := parseMessageInsert(notification)
		if err != nil {
			logger.Warn("Message feed: ignoring notification %q: %v", notification.Payload, err)
			continue
		}
		f.broker.Publish(event)
	}
}

func parseMessageInsert(notification *pgconn.Notification) (entity.MessageInsert, error) {
	var event entity.MessageInsert
	if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
		return event, err
	}
	if event.ID == "" || event.ConversationID == "" {
		return event, fmt.Errorf("missing id or conversation_id")
	}
	return event, nil
}

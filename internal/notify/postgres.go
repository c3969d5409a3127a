package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PgBroker publishes through pg_notify so every instance sharing the
// database sees the event.
type PgBroker struct {
	pool *pgxpool.Pool
}

func NewPgBroker(pool *pgxpool.Pool) *PgBroker {
	return &PgBroker{pool: pool}
}

func (b *PgBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, payload); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Listener holds a dedicated connection (LISTEN pins the session, so it never
// comes from the pool) and forwards notifications into the hub. It reconnects
// with backoff until the context is cancelled.
type Listener struct {
	connURL string
	hub     *Hub
}

func NewListener(connURL string, hub *Hub) *Listener {
	return &Listener{connURL: connURL, hub: hub}
}

// Run blocks until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.listen(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Notification listener dropped; reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connURL)
	if err != nil {
		return fmt.Errorf("listener connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, `LISTEN `+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info().Str("channel", Channel).Msg("Notification listener attached")

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := decodeEvent(notification.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("Undecodable notification payload")
			continue
		}
		l.hub.Dispatch(ev)
	}
}

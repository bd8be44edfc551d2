package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	notifyChannel = "document_changes"
	dbTimeout     = 5 * time.Second
)

// PostgresStore keeps documents in the documents table. Every write
// notifies document_changes with the document path; subscribers hold a
// dedicated LISTEN connection and re-read the row on notification.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed document store. The schema
// is expected to be migrated already (see database.Migrate).
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Write(ctx context.Context, path string, doc []byte) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO documents (path, body, updated_at)
			 VALUES ($1, $2::jsonb, NOW())
			 ON CONFLICT (path) DO UPDATE
			 SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
			path,
			string(doc),
		); err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write document %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, path string, onSnapshot func([]byte), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := pooled.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		pooled.Release()
		cancel()
		return nil, fmt.Errorf("listen: %w", err)
	}
	// The connection stays in LISTEN mode, so it must not go back to the pool.
	conn := pooled.Hijack()

	doc, err := s.read(ctx, path)
	if err != nil {
		conn.Close(context.Background())
		cancel()
		return nil, err
	}
	onSnapshot(doc)

	go func() {
		defer conn.Close(context.Background())
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					onError(fmt.Errorf("wait for notification: %w", err))
				}
				return
			}
			if n.Payload != path {
				continue
			}
			doc, err := s.read(ctx, path)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				onError(err)
				continue
			}
			onSnapshot(doc)
		}
	}()

	return cancel, nil
}

func (s *PostgresStore) read(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var body string
	err := s.pool.QueryRow(ctx,
		`SELECT body::text FROM documents WHERE path = $1`,
		path,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read document %s: %w", path, err)
	}
	slog.Debug("document read", "path", path, "bytes", len(body))
	return []byte(body), nil
}

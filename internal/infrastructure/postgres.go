package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}

	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (p *PostgresClient) Migrate(ctx context.Context) error {
	// Conversation log, one row per message
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_messages (
			seq BIGSERIAL PRIMARY KEY,
			id VARCHAR(64) NOT NULL,
			id_user VARCHAR(32) NOT NULL,
			external_id VARCHAR(255),
			direction VARCHAR(10) NOT NULL,
			type VARCHAR(20) NOT NULL,
			status VARCHAR(20),
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create chat_messages table: %w", err)
	}

	// NULL external ids (outbound entries) never collide
	_, err = p.Pool.Exec(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS chat_messages_user_external_idx
		ON chat_messages (id_user, external_id);
	`)
	if err != nil {
		return fmt.Errorf("create chat_messages external index: %w", err)
	}

	_, err = p.Pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS chat_messages_user_seq_idx
		ON chat_messages (id_user, seq);
	`)
	if err != nil {
		return fmt.Errorf("create chat_messages user index: %w", err)
	}

	// Latest report per user
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reports (
			id_user VARCHAR(32) PRIMARY KEY,
			report JSONB NOT NULL,
			date TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create reports table: %w", err)
	}

	log.Info().Msg("postgres schema ready")
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}

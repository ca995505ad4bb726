package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Connect opens a pool against Postgres and verifies it is reachable.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	log.Info("connected to postgres")
	return pool, nil
}

// EnsureSchema creates the ledger tables and patches older deployments in place.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	if err := ensureLedgerTables(ctx, pool); err != nil {
		return err
	}
	ensureUserColumns(ctx, pool, log)
	ensureTransactionsSchema(ctx, pool, log)
	return nil
}

func ensureLedgerTables(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS users (
            phone TEXT PRIMARY KEY,
            balance NUMERIC(14,2) NOT NULL DEFAULT 0,
            held NUMERIC(14,2) NOT NULL DEFAULT 0,
            has_paid_fee BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS transactions (
            id UUID PRIMARY KEY,
            reference TEXT NOT NULL UNIQUE,
            user_phone TEXT NOT NULL,
            type TEXT NOT NULL,
            amount NUMERIC(14,2) NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            description TEXT NOT NULL DEFAULT '',
            metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS idx_transactions_phone_created ON transactions(user_phone, created_at DESC);
        CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
        CREATE INDEX IF NOT EXISTS idx_transactions_gateway_ref ON transactions((metadata->>'gateway_reference'));
    `)
	if err != nil {
		return fmt.Errorf("create ledger tables: %w", err)
	}
	return nil
}

// ensureUserColumns adds users.held for databases created before withdrawal holds
func ensureUserColumns(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) {
	var exists bool
	err := pool.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM information_schema.columns
            WHERE table_schema = 'public' AND table_name = 'users' AND column_name = 'held'
        )`).Scan(&exists)
	if err != nil {
		log.Warn("schema check failed", zap.Error(err))
		return
	}
	if exists {
		return
	}
	if _, err := pool.Exec(ctx, `ALTER TABLE users ADD COLUMN IF NOT EXISTS held NUMERIC(14,2) NOT NULL DEFAULT 0`); err != nil {
		log.Warn("failed to add users.held", zap.Error(err))
		return
	}
	log.Info("users.held column ensured")
}

// ensureTransactionsSchema keeps the type/status CHECK constraints in line with the ledger package
func ensureTransactionsSchema(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) {
	_, _ = pool.Exec(ctx, `ALTER TABLE transactions DROP CONSTRAINT IF EXISTS transactions_status_check`)
	_, err := pool.Exec(ctx, `
        ALTER TABLE transactions
        ADD CONSTRAINT transactions_status_check
        CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'cancelled', 'error', 'timed_out'))`)
	if err != nil {
		log.Warn("failed to update transactions status constraint", zap.Error(err))
	}

	_, _ = pool.Exec(ctx, `ALTER TABLE transactions DROP CONSTRAINT IF EXISTS transactions_type_check`)
	_, err = pool.Exec(ctx, `
        ALTER TABLE transactions
        ADD CONSTRAINT transactions_type_check
        CHECK (type IN ('service_fee', 'withdrawal', 'loan_disbursement'))`)
	if err != nil {
		log.Warn("failed to update transactions type constraint", zap.Error(err))
	}
}

package ledger

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/settlement"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type txKey struct{}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore journals payments in the invoice_payments table. Sections
// run in a transaction holding a transaction-scoped advisory lock.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// WithInvoice implements Serializer. fn's error rolls the section back.
func (s PostgresStore) WithInvoice(ctx context.Context, invoiceID string, fn func(ctx context.Context) error) (err error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, invoiceID); err != nil {
		return fmt.Errorf("ledger: advisory lock: %w", err)
	}
	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

func (s PostgresStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.Pool
}

// Payments implements Journal.
func (s PostgresStore) Payments(ctx context.Context, invoiceID string) ([]settlement.Payment, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT payment_id, amount_minor, mode, reversal, reference, recorded_at
FROM invoice_payments
WHERE invoice_id = $1
ORDER BY seq`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("ledger: read journal: %w", err)
	}
	defer rows.Close()

	var out []settlement.Payment
	for rows.Next() {
		var (
			p     settlement.Payment
			minor int64
			mode  string
		)
		if err := rows.Scan(&p.ID, &minor, &mode, &p.Reversal, &p.Reference, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("ledger: scan journal: %w", err)
		}
		p.Amount = money.FromMinor(minor)
		p.Mode = settlement.Mode(mode)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Append implements Journal. It only runs inside WithInvoice.
func (s PostgresStore) Append(ctx context.Context, invoiceID string, p settlement.Payment) error {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return ErrNotSerialized
	}
	_, err := tx.Exec(ctx, `INSERT INTO invoice_payments
(invoice_id, payment_id, amount_minor, mode, reversal, reference, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		invoiceID, p.ID, p.Amount.Minor(), string(p.Mode), p.Reversal, p.Reference, p.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema to databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ledger: migrate up: %w", err)
	}
	return nil
}

// migrateURL rewrites a libpq URL to the scheme the pgx/v5 driver registers.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}

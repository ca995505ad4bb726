package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/mkopo/internal/ledger"
)

// Store implements ledger.Store on Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ ledger.Store = (*Store)(nil)

const userCols = `phone, balance::text, held::text, has_paid_fee, created_at, updated_at`

const txCols = `id::text, reference, user_phone, type, amount::text, status, description, metadata::text, created_at, updated_at`

func scanUser(row pgx.Row) (*ledger.User, error) {
	var u ledger.User
	var balance, held string
	if err := row.Scan(&u.Phone, &balance, &held, &u.HasPaidFee, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	var err error
	if u.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	if u.Held, err = decimal.NewFromString(held); err != nil {
		return nil, fmt.Errorf("parse held: %w", err)
	}
	return &u, nil
}

func scanTx(row pgx.Row) (*ledger.Transaction, error) {
	var t ledger.Transaction
	var txType, status, amount, meta string
	err := row.Scan(&t.ID, &t.Reference, &t.UserPhone, &txType, &amount, &status, &t.Description, &meta, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	t.Type = ledger.TxType(txType)
	t.Status = ledger.Status(status)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	t.Metadata = ledger.Metadata{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	return &t, nil
}

func collectTxs(rows pgx.Rows) ([]ledger.Transaction, error) {
	defer rows.Close()
	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func metaJSON(m ledger.Metadata) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) GetOrCreateUser(ctx context.Context, phone string) (*ledger.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
        INSERT INTO users (phone) VALUES ($1)
        ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
        RETURNING `+userCols, phone))
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, phone string) (*ledger.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE phone = $1`, phone))
}

func (s *Store) ListUsers(ctx context.Context, limit int) ([]ledger.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userCols+` FROM users ORDER BY created_at DESC LIMIT $1`, ledger.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []ledger.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *Store) AdjustBalance(ctx context.Context, phone string, delta decimal.Decimal) (*ledger.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
        INSERT INTO users (phone, balance) VALUES ($1, $2::numeric)
        ON CONFLICT (phone) DO UPDATE
        SET balance = users.balance + EXCLUDED.balance, updated_at = NOW()
        RETURNING `+userCols, phone, delta.String()))
	if err != nil {
		return nil, fmt.Errorf("adjust balance: %w", err)
	}
	return u, nil
}

func (s *Store) MarkFeePaid(ctx context.Context, phone string) (*ledger.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
        INSERT INTO users (phone, has_paid_fee) VALUES ($1, TRUE)
        ON CONFLICT (phone) DO UPDATE SET has_paid_fee = TRUE, updated_at = NOW()
        RETURNING `+userCols, phone))
	if err != nil {
		return nil, fmt.Errorf("mark fee paid: %w", err)
	}
	return u, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertTx(ctx context.Context, q querier, t *ledger.Transaction) (*ledger.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	out, err := scanTx(q.QueryRow(ctx, `
        INSERT INTO transactions (id, reference, user_phone, type, amount, status, description, metadata)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8::jsonb)
        RETURNING `+txCols,
		t.ID, t.Reference, t.UserPhone, string(t.Type), t.Amount.String(), string(t.Status), t.Description, metaJSON(t.Metadata),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrDuplicateReference, t.Reference)
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return out, nil
}

func (s *Store) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	out, err := insertTx(ctx, s.pool, t)
	if err != nil {
		return err
	}
	*t = *out
	return nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, reference string, patch ledger.StatusPatch) (*ledger.Transaction, error) {
	return scanTx(s.pool.QueryRow(ctx, `
        UPDATE transactions
        SET status = COALESCE(NULLIF($2, ''), status),
            description = COALESCE(NULLIF($3, ''), description),
            metadata = metadata || $4::jsonb,
            updated_at = NOW()
        WHERE reference = $1
        RETURNING `+txCols,
		reference, string(patch.Status), patch.Description, metaJSON(patch.Metadata),
	))
}

func (s *Store) GetTransaction(ctx context.Context, reference string) (*ledger.Transaction, error) {
	return scanTx(s.pool.QueryRow(ctx, `SELECT `+txCols+` FROM transactions WHERE reference = $1`, reference))
}

func (s *Store) FindByGatewayReference(ctx context.Context, gatewayRef string) (*ledger.Transaction, error) {
	return scanTx(s.pool.QueryRow(ctx, `
        SELECT `+txCols+` FROM transactions
        WHERE metadata->>'gateway_reference' = $1
        ORDER BY created_at DESC LIMIT 1`, gatewayRef))
}

func (s *Store) ListTransactions(ctx context.Context, phone string, limit int) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+txCols+` FROM transactions
        WHERE user_phone = $1
        ORDER BY created_at DESC
        LIMIT $2`, phone, ledger.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTxs(rows)
}

func (s *Store) ListTransactionsByStatus(ctx context.Context, types []ledger.TxType, statuses []ledger.Status, limit int) ([]ledger.Transaction, error) {
	ts := make([]string, 0, len(types))
	for _, t := range types {
		ts = append(ts, string(t))
	}
	ss := make([]string, 0, len(statuses))
	for _, st := range statuses {
		ss = append(ss, string(st))
	}
	rows, err := s.pool.Query(ctx, `
        SELECT `+txCols+` FROM transactions
        WHERE (cardinality($1::text[]) = 0 OR type = ANY($1::text[]))
          AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
        ORDER BY created_at DESC
        LIMIT $3`, ts, ss, ledger.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions by status: %w", err)
	}
	return collectTxs(rows)
}

func (s *Store) Settle(ctx context.Context, req ledger.SettleRequest) (ledger.SettleResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.SettleResult{}, fmt.Errorf("begin settle: %w", err)
	}
	defer tx.Rollback(ctx)

	fee, err := scanTx(tx.QueryRow(ctx, `SELECT `+txCols+` FROM transactions WHERE reference = $1 FOR UPDATE`, req.Reference))
	if err != nil {
		return ledger.SettleResult{}, err
	}
	if fee.Type != ledger.TypeServiceFee {
		return ledger.SettleResult{}, fmt.Errorf("settle %s: %w", req.Reference, ledger.ErrNotServiceFee)
	}
	if !fee.Status.Open() {
		return ledger.SettleResult{Transaction: fee}, nil
	}

	fee, err = scanTx(tx.QueryRow(ctx, `
        UPDATE transactions
        SET status = 'completed', metadata = metadata || $2::jsonb, updated_at = NOW()
        WHERE reference = $1
        RETURNING `+txCols, req.Reference, metaJSON(req.Metadata)))
	if err != nil {
		return ledger.SettleResult{}, fmt.Errorf("complete fee: %w", err)
	}

	user, err := scanUser(tx.QueryRow(ctx, `
        INSERT INTO users (phone, balance, has_paid_fee) VALUES ($1, $2::numeric, TRUE)
        ON CONFLICT (phone) DO UPDATE
        SET balance = users.balance + EXCLUDED.balance, has_paid_fee = TRUE, updated_at = NOW()
        RETURNING `+userCols, fee.UserPhone, req.LoanAmount.String()))
	if err != nil {
		return ledger.SettleResult{}, fmt.Errorf("credit loan: %w", err)
	}

	disb, err := insertTx(ctx, tx, &ledger.Transaction{
		Reference:   ledger.DisbursementReference(fee.Reference),
		UserPhone:   fee.UserPhone,
		Type:        ledger.TypeLoanDisbursement,
		Amount:      req.LoanAmount,
		Status:      ledger.StatusCompleted,
		Description: "Loan disbursement",
		Metadata:    ledger.Metadata{ledger.MetaRelatedReference: fee.Reference},
	})
	if err != nil {
		return ledger.SettleResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.SettleResult{}, fmt.Errorf("commit settle: %w", err)
	}
	return ledger.SettleResult{Applied: true, Transaction: fee, Disbursement: disb, User: user}, nil
}

func (s *Store) Fail(ctx context.Context, reference string, status ledger.Status, reason string) (bool, error) {
	patch := ledger.Metadata{}
	if reason != "" {
		patch[ledger.MetaFailureReason] = reason
	}
	ct, err := s.pool.Exec(ctx, `
        UPDATE transactions
        SET status = $2, metadata = metadata || $3::jsonb, updated_at = NOW()
        WHERE reference = $1 AND type = 'service_fee' AND status IN ('pending', 'processing')`,
		reference, string(status), metaJSON(patch))
	if err != nil {
		return false, fmt.Errorf("fail transaction: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	var txType string
	err = s.pool.QueryRow(ctx, `SELECT type FROM transactions WHERE reference = $1`, reference).Scan(&txType)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ledger.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if ledger.TxType(txType) != ledger.TypeServiceFee {
		return false, fmt.Errorf("fail %s: %w", reference, ledger.ErrNotServiceFee)
	}
	return false, nil
}

func (s *Store) Withdraw(ctx context.Context, req ledger.WithdrawRequest) (*ledger.Transaction, *ledger.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin withdrawal: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO users (phone) VALUES ($1) ON CONFLICT (phone) DO NOTHING`, req.Phone); err != nil {
		return nil, nil, fmt.Errorf("ensure user: %w", err)
	}
	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE phone = $1 FOR UPDATE`, req.Phone))
	if err != nil {
		return nil, nil, err
	}
	if !user.HasPaidFee {
		return nil, nil, ledger.ErrFeeNotPaid
	}
	if user.Balance.LessThan(req.Amount) {
		return nil, nil, ledger.ErrInsufficientBalance
	}

	user, err = scanUser(tx.QueryRow(ctx, `
        UPDATE users SET balance = balance - $2::numeric, held = held + $2::numeric, updated_at = NOW()
        WHERE phone = $1
        RETURNING `+userCols, req.Phone, req.Amount.String()))
	if err != nil {
		return nil, nil, fmt.Errorf("hold funds: %w", err)
	}

	wd, err := insertTx(ctx, tx, &ledger.Transaction{
		Reference:   req.Reference,
		UserPhone:   req.Phone,
		Type:        ledger.TypeWithdrawal,
		Amount:      req.Amount,
		Status:      ledger.StatusProcessing,
		Description: req.Description,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit withdrawal: %w", err)
	}
	return wd, user, nil
}

func (s *Store) ResolveWithdrawal(ctx context.Context, reference string, success bool, reason string) (*ledger.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	wd, err := scanTx(tx.QueryRow(ctx, `
        SELECT `+txCols+` FROM transactions
        WHERE reference = $1 AND type = 'withdrawal'
        FOR UPDATE`, reference))
	if err != nil {
		return nil, err
	}
	if wd.Status != ledger.StatusProcessing {
		return wd, nil
	}

	status := ledger.StatusCompleted
	refund := decimal.Zero
	patch := ledger.Metadata{}
	if !success {
		status = ledger.StatusFailed
		refund = wd.Amount
		if reason != "" {
			patch[ledger.MetaFailureReason] = reason
		}
	}

	if _, err := tx.Exec(ctx, `
        UPDATE users SET held = held - $2::numeric, balance = balance + $3::numeric, updated_at = NOW()
        WHERE phone = $1`, wd.UserPhone, wd.Amount.String(), refund.String()); err != nil {
		return nil, fmt.Errorf("release hold: %w", err)
	}

	wd, err = scanTx(tx.QueryRow(ctx, `
        UPDATE transactions SET status = $2, metadata = metadata || $3::jsonb, updated_at = NOW()
        WHERE reference = $1
        RETURNING `+txCols, reference, string(status), metaJSON(patch)))
	if err != nil {
		return nil, fmt.Errorf("resolve withdrawal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit resolve: %w", err)
	}
	return wd, nil
}

func (s *Store) Stats(ctx context.Context) (*ledger.Stats, error) {
	st := &ledger.Stats{TransactionsByStatus: map[ledger.Status]int64{}}
	var balance, held string
	err := s.pool.QueryRow(ctx, `
        SELECT COUNT(*), COUNT(*) FILTER (WHERE has_paid_fee),
               COALESCE(SUM(balance), 0)::text, COALESCE(SUM(held), 0)::text
        FROM users`).Scan(&st.Users, &st.FeePaidUsers, &balance, &held)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	st.TotalBalance, _ = decimal.NewFromString(balance)
	st.TotalHeld, _ = decimal.NewFromString(held)

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("transaction stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.TransactionsByStatus[ledger.Status(status)] = n
	}
	return st, rows.Err()
}

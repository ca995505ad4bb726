package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateReference  = errors.New("duplicate transaction reference")
	ErrFeeNotPaid          = errors.New("service fee not paid")
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNotServiceFee is returned when gateway settlement is attempted on a
	// transaction the gateway does not own, such as a withdrawal.
	ErrNotServiceFee = errors.New("not a service fee")
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ClampLimit bounds a page size to [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// StatusPatch is a partial transaction update. Empty fields are left alone and
// Metadata is merged key by key.
type StatusPatch struct {
	Status      Status
	Description string
	Metadata    Metadata
}

type SettleRequest struct {
	Reference  string
	LoanAmount decimal.Decimal
	Metadata   Metadata
}

type SettleResult struct {
	// Applied is false when the transaction had already left the open states.
	Applied      bool
	Transaction  *Transaction
	Disbursement *Transaction
	User         *User
}

type WithdrawRequest struct {
	Reference   string
	Phone       string
	Amount      decimal.Decimal
	Description string
}

// Store is the durable ledger of users and transactions.
type Store interface {
	GetOrCreateUser(ctx context.Context, phone string) (*User, error)
	GetUser(ctx context.Context, phone string) (*User, error)
	ListUsers(ctx context.Context, limit int) ([]User, error)
	AdjustBalance(ctx context.Context, phone string, delta decimal.Decimal) (*User, error)
	MarkFeePaid(ctx context.Context, phone string) (*User, error)

	CreateTransaction(ctx context.Context, tx *Transaction) error
	UpdateTransactionStatus(ctx context.Context, reference string, patch StatusPatch) (*Transaction, error)
	GetTransaction(ctx context.Context, reference string) (*Transaction, error)
	FindByGatewayReference(ctx context.Context, gatewayRef string) (*Transaction, error)
	ListTransactions(ctx context.Context, phone string, limit int) ([]Transaction, error)
	ListTransactionsByStatus(ctx context.Context, types []TxType, statuses []Status, limit int) ([]Transaction, error)

	// Settle moves an open service fee to completed and applies its ledger
	// effects in one unit. Only the first caller gets Applied=true.
	Settle(ctx context.Context, req SettleRequest) (SettleResult, error)
	// Fail moves an open service fee to a terminal status without balance effects.
	Fail(ctx context.Context, reference string, status Status, reason string) (bool, error)
	// Withdraw checks eligibility and moves the amount from balance to held.
	Withdraw(ctx context.Context, req WithdrawRequest) (*Transaction, *User, error)
	// ResolveWithdrawal commits (success) or refunds a held withdrawal.
	ResolveWithdrawal(ctx context.Context, reference string, success bool, reason string) (*Transaction, error)

	Stats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
}

// DisbursementReference derives the unique disbursement reference of a settled fee.
func DisbursementReference(feeReference string) string {
	return "LOAN-" + feeReference
}

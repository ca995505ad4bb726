package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is a thread-safe in-memory Store used for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
	txs   map[string]*memTx
	seq   int64
	now   func() time.Time
}

type memTx struct {
	Transaction
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*User),
		txs:   make(map[string]*memTx),
		now:   time.Now,
	}
}

func copyUser(u *User) *User {
	c := *u
	return &c
}

func copyTx(t *Transaction) *Transaction {
	c := *t
	c.Metadata = Metadata{}.merge(t.Metadata)
	return &c
}

// userLocked must be called with mu held for writing.
func (s *MemoryStore) userLocked(phone string) *User {
	u, ok := s.users[phone]
	if !ok {
		now := s.now()
		u = &User{Phone: phone, Balance: decimal.Zero, Held: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		s.users[phone] = u
	}
	return u
}

func (s *MemoryStore) GetOrCreateUser(_ context.Context, phone string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.userLocked(phone)), nil
}

func (s *MemoryStore) GetUser(_ context.Context, phone string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[phone]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) ListUsers(_ context.Context, limit int) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AdjustBalance(_ context.Context, phone string, delta decimal.Decimal) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(phone)
	u.Balance = u.Balance.Add(delta)
	u.UpdatedAt = s.now()
	return copyUser(u), nil
}

func (s *MemoryStore) MarkFeePaid(_ context.Context, phone string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(phone)
	if !u.HasPaidFee {
		u.HasPaidFee = true
		u.UpdatedAt = s.now()
	}
	return copyUser(u), nil
}

func (s *MemoryStore) insertLocked(tx *Transaction) error {
	if _, exists := s.txs[tx.Reference]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateReference, tx.Reference)
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	now := s.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	if tx.Metadata == nil {
		tx.Metadata = Metadata{}
	}
	s.seq++
	s.txs[tx.Reference] = &memTx{Transaction: *copyTx(tx), seq: s.seq}
	return nil
}

func (s *MemoryStore) CreateTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(tx)
}

func (s *MemoryStore) UpdateTransactionStatus(_ context.Context, reference string, patch StatusPatch) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[reference]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Status != "" {
		t.Status = patch.Status
	}
	if patch.Description != "" {
		t.Description = patch.Description
	}
	if len(patch.Metadata) > 0 {
		t.Metadata = t.Metadata.merge(patch.Metadata)
	}
	t.UpdatedAt = s.now()
	return copyTx(&t.Transaction), nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, reference string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTx(&t.Transaction), nil
}

func (s *MemoryStore) FindByGatewayReference(_ context.Context, gatewayRef string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.txs {
		if gatewayRef != "" && t.Metadata.String(MetaGatewayReference) == gatewayRef {
			return copyTx(&t.Transaction), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) sorted(keep func(*memTx) bool) []*memTx {
	var out []*memTx
	for _, t := range s.txs {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func page(in []*memTx, limit int) []Transaction {
	if limit = ClampLimit(limit); len(in) > limit {
		in = in[:limit]
	}
	out := make([]Transaction, 0, len(in))
	for _, t := range in {
		out = append(out, *copyTx(&t.Transaction))
	}
	return out
}

func (s *MemoryStore) ListTransactions(_ context.Context, phone string, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.sorted(func(t *memTx) bool { return t.UserPhone == phone }), limit), nil
}

func (s *MemoryStore) ListTransactionsByStatus(_ context.Context, types []TxType, statuses []Status, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.sorted(func(t *memTx) bool {
		return containsType(types, t.Type) && containsStatus(statuses, t.Status)
	}), limit), nil
}

func containsType(types []TxType, t TxType) bool {
	if len(types) == 0 {
		return true
	}
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func containsStatus(statuses []Status, st Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, v := range statuses {
		if v == st {
			return true
		}
	}
	return false
}

func (s *MemoryStore) Settle(_ context.Context, req SettleRequest) (SettleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txs[req.Reference]
	if !ok {
		return SettleResult{}, ErrNotFound
	}
	if t.Type != TypeServiceFee {
		return SettleResult{}, fmt.Errorf("settle %s: %w", req.Reference, ErrNotServiceFee)
	}
	if !t.Status.Open() {
		return SettleResult{Transaction: copyTx(&t.Transaction)}, nil
	}

	disb := &Transaction{
		Reference:   DisbursementReference(t.Reference),
		UserPhone:   t.UserPhone,
		Type:        TypeLoanDisbursement,
		Amount:      req.LoanAmount,
		Status:      StatusCompleted,
		Description: "Loan disbursement",
		Metadata:    Metadata{MetaRelatedReference: t.Reference},
	}
	if err := s.insertLocked(disb); err != nil {
		return SettleResult{}, err
	}

	now := s.now()
	t.Status = StatusCompleted
	t.Metadata = t.Metadata.merge(req.Metadata)
	t.UpdatedAt = now

	u := s.userLocked(t.UserPhone)
	u.HasPaidFee = true
	u.Balance = u.Balance.Add(req.LoanAmount)
	u.UpdatedAt = now

	return SettleResult{
		Applied:      true,
		Transaction:  copyTx(&t.Transaction),
		Disbursement: copyTx(&s.txs[disb.Reference].Transaction),
		User:         copyUser(u),
	}, nil
}

func (s *MemoryStore) Fail(_ context.Context, reference string, status Status, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[reference]
	if !ok {
		return false, ErrNotFound
	}
	if t.Type != TypeServiceFee {
		return false, fmt.Errorf("fail %s: %w", reference, ErrNotServiceFee)
	}
	if !t.Status.Open() {
		return false, nil
	}
	t.Status = status
	if reason != "" {
		t.Metadata = t.Metadata.merge(Metadata{MetaFailureReason: reason})
	}
	t.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) Withdraw(_ context.Context, req WithdrawRequest) (*Transaction, *User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(req.Phone)
	if !u.HasPaidFee {
		return nil, nil, ErrFeeNotPaid
	}
	if u.Balance.LessThan(req.Amount) {
		return nil, nil, ErrInsufficientBalance
	}
	tx := &Transaction{
		Reference:   req.Reference,
		UserPhone:   req.Phone,
		Type:        TypeWithdrawal,
		Amount:      req.Amount,
		Status:      StatusProcessing,
		Description: req.Description,
	}
	if err := s.insertLocked(tx); err != nil {
		return nil, nil, err
	}
	u.Balance = u.Balance.Sub(req.Amount)
	u.Held = u.Held.Add(req.Amount)
	u.UpdatedAt = s.now()
	return copyTx(&s.txs[tx.Reference].Transaction), copyUser(u), nil
}

func (s *MemoryStore) ResolveWithdrawal(_ context.Context, reference string, success bool, reason string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txs[reference]
	if !ok || t.Type != TypeWithdrawal {
		return nil, ErrNotFound
	}
	if t.Status != StatusProcessing {
		return copyTx(&t.Transaction), nil
	}
	now := s.now()
	u := s.userLocked(t.UserPhone)
	u.Held = u.Held.Sub(t.Amount)
	if success {
		t.Status = StatusCompleted
	} else {
		t.Status = StatusFailed
		u.Balance = u.Balance.Add(t.Amount)
		if reason != "" {
			t.Metadata = t.Metadata.merge(Metadata{MetaFailureReason: reason})
		}
	}
	u.UpdatedAt = now
	t.UpdatedAt = now
	return copyTx(&t.Transaction), nil
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &Stats{TotalBalance: decimal.Zero, TotalHeld: decimal.Zero, TransactionsByStatus: map[Status]int64{}}
	for _, u := range s.users {
		st.Users++
		if u.HasPaidFee {
			st.FeePaidUsers++
		}
		st.TotalBalance = st.TotalBalance.Add(u.Balance)
		st.TotalHeld = st.TotalHeld.Add(u.Held)
	}
	for _, t := range s.txs {
		st.TransactionsByStatus[t.Status]++
	}
	return st, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

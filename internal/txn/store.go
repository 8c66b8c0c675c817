package txn

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SuccessUpdate carries the fields persisted when a confirmation succeeds.
type SuccessUpdate struct {
	PaymentMethod string
	PaymentID     string
	CompletedAt   time.Time
	StockAfter    []StockChange
	Response      *ResponseSnapshot
}

// StatusStats aggregates transactions sharing a payment status.
type StatusStats struct {
	Count     int     `json:"count"`
	TotalCost float64 `json:"total_cost"`
}

// Statistics is the aggregate view over all recorded transactions.
type Statistics struct {
	Total    int                           `json:"total"`
	ByStatus map[PaymentStatus]StatusStats `json:"by_status"`
}

// TransactionStore persists purchase attempts.
//
// MarkSucceeded and MarkFailed are conditional transitions: they only apply
// while the prior status is not SUCCESS, so a confirmation that lost a race
// observes ErrAlreadyProcessed instead of overwriting a terminal record.
type TransactionStore interface {
	Create(ctx context.Context, txn *Transaction) error
	FindByTransactionID(ctx context.Context, id string) (*Transaction, error)
	MarkSucceeded(ctx context.Context, id string, upd SuccessUpdate) error
	MarkFailed(ctx context.Context, id string, errDetails string) error
	List(ctx context.Context, limit, offset int) ([]*Transaction, error)
	Statistics(ctx context.Context) (Statistics, error)
}

// InMemoryTransactionStore keeps transactions in a map. Used when no
// database is configured and in tests.
type InMemoryTransactionStore struct {
	mu   sync.Mutex
	txns map[string]*Transaction
	now  func() time.Time
}

// NewInMemoryTransactionStore constructs an empty in-memory store.
func NewInMemoryTransactionStore() *InMemoryTransactionStore {
	return &InMemoryTransactionStore{
		txns: make(map[string]*Transaction),
		now:  time.Now,
	}
}

func (s *InMemoryTransactionStore) Create(ctx context.Context, txn *Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txns[txn.TransactionID]; ok {
		return fmt.Errorf("transaction id %s already recorded", txn.TransactionID)
	}
	copied := *txn
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = s.now()
	}
	copied.UpdatedAt = copied.CreatedAt
	s.txns[txn.TransactionID] = &copied
	return nil
}

func (s *InMemoryTransactionStore) FindByTransactionID(ctx context.Context, id string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *txn
	return &copied, nil
}

func (s *InMemoryTransactionStore) MarkSucceeded(ctx context.Context, id string, upd SuccessUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[id]
	if !ok {
		return ErrNotFound
	}
	if txn.PaymentStatus == PaymentSuccess {
		return ErrAlreadyProcessed
	}
	txn.PaymentStatus = PaymentSuccess
	txn.PaymentMethod = upd.PaymentMethod
	if upd.PaymentID != "" {
		txn.PaymentID = upd.PaymentID
	}
	txn.PaymentCompletedAt = upd.CompletedAt
	txn.StockAfter = upd.StockAfter
	txn.ResponsePayload = upd.Response
	txn.ErrorDetails = ""
	txn.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryTransactionStore) MarkFailed(ctx context.Context, id string, errDetails string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[id]
	if !ok {
		return ErrNotFound
	}
	if txn.PaymentStatus == PaymentSuccess {
		return ErrAlreadyProcessed
	}
	txn.PaymentStatus = PaymentFailed
	txn.ErrorDetails = errDetails
	txn.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryTransactionStore) List(ctx context.Context, limit, offset int) ([]*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*Transaction, 0, len(s.txns))
	for _, txn := range s.txns {
		copied := *txn
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *InMemoryTransactionStore) Statistics(ctx context.Context) (Statistics, error) {
	if err := ctx.Err(); err != nil {
		return Statistics{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{ByStatus: make(map[PaymentStatus]StatusStats)}
	for _, txn := range s.txns {
		entry := stats.ByStatus[txn.PaymentStatus]
		entry.Count++
		entry.TotalCost += txn.TotalCost
		stats.ByStatus[txn.PaymentStatus] = entry
		stats.Total++
	}
	return stats, nil
}

package credits

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	balance   int
	creditErr error
}

func (s *fakeStore) Debit(ctx context.Context, userID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balance < amount {
		return domain.ErrInsufficientCredits
	}
	s.balance -= amount
	return nil
}

func (s *fakeStore) Credit(ctx context.Context, userID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creditErr != nil {
		return s.creditErr
	}
	s.balance += amount
	return nil
}

func (s *fakeStore) current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

func newTestLedger(store Store) *Ledger {
	return NewLedger(store, zerolog.New(io.Discard))
}

func TestReserveDebitsImmediately(t *testing.T) {
	store := &fakeStore{balance: 10}
	ledger := newTestLedger(store)

	res, err := ledger.Reserve(context.Background(), "user-1", 5)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := store.current(); got != 5 {
		t.Errorf("balance = %d, want 5 (funds held while reserved)", got)
	}
	if res.Amount != 5 || res.UserID != "user-1" {
		t.Errorf("reservation = %+v", res)
	}
}

func TestReserveInsufficient(t *testing.T) {
	store := &fakeStore{balance: 3}
	ledger := newTestLedger(store)

	_, err := ledger.Reserve(context.Background(), "user-1", 5)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if got := store.current(); got != 3 {
		t.Errorf("balance = %d, want 3 (failed reserve leaves no state)", got)
	}
}

func TestReserveInvalidAmount(t *testing.T) {
	ledger := newTestLedger(&fakeStore{balance: 10})
	for _, amount := range []int{0, -1} {
		if _, err := ledger.Reserve(context.Background(), "user-1", amount); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("Reserve(%d) err = %v, want ErrValidation", amount, err)
		}
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	store := &fakeStore{balance: 10}
	ledger := newTestLedger(store)

	res, _ := ledger.Reserve(context.Background(), "user-1", 5)
	for i := 0; i < 3; i++ {
		if err := res.Commit(context.Background()); err != nil {
			t.Fatalf("Commit #%d: %v", i+1, err)
		}
	}
	if got := store.current(); got != 5 {
		t.Errorf("balance = %d, want 5 (commit moves no money)", got)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	store := &fakeStore{balance: 10}
	ledger := newTestLedger(store)

	res, _ := ledger.Reserve(context.Background(), "user-1", 5)
	for i := 0; i < 3; i++ {
		if err := res.Release(context.Background()); err != nil {
			t.Fatalf("Release #%d: %v", i+1, err)
		}
	}
	if got := store.current(); got != 10 {
		t.Errorf("balance = %d, want 10 (single refund only)", got)
	}
}

func TestReleaseAfterCommitIsNoop(t *testing.T) {
	store := &fakeStore{balance: 10}
	ledger := newTestLedger(store)

	res, _ := ledger.Reserve(context.Background(), "user-1", 5)
	if err := res.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := res.Release(context.Background()); err != nil {
		t.Fatalf("Release after commit: %v", err)
	}
	if got := store.current(); got != 5 {
		t.Errorf("balance = %d, want 5 (committed funds stay gone)", got)
	}
}

func TestCommitAfterReleaseIsNoop(t *testing.T) {
	store := &fakeStore{balance: 10}
	ledger := newTestLedger(store)

	res, _ := ledger.Reserve(context.Background(), "user-1", 5)
	if err := res.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := res.Commit(context.Background()); err != nil {
		t.Fatalf("Commit after release: %v", err)
	}
	if got := store.current(); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}

func TestReleaseFailureStaysReserved(t *testing.T) {
	store := &fakeStore{balance: 10}
	ledger := newTestLedger(store)

	res, _ := ledger.Reserve(context.Background(), "user-1", 5)
	store.creditErr = errors.New("store down")
	if err := res.Release(context.Background()); err == nil {
		t.Fatal("expected release error")
	}

	// The failed release left the reservation open, so a retry still refunds.
	store.creditErr = nil
	if err := res.Release(context.Background()); err != nil {
		t.Fatalf("retry Release: %v", err)
	}
	if got := store.current(); got != 10 {
		t.Errorf("balance = %d, want 10 after retried refund", got)
	}
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	store := &fakeStore{balance: 25}
	ledger := newTestLedger(store)

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(context.Background(), "user-1", 5)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientCredits):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 5 {
		t.Errorf("successful reserves = %d, want 5", ok)
	}
	if got := store.current(); got != 0 {
		t.Errorf("balance = %d, want 0, never negative", got)
	}
}
